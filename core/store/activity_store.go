package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type ActivityEntry struct {
	ID           int64     `json:"id"`
	OrgID        int64     `json:"org_id"`
	UserID       int64     `json:"user_id"`
	ActionType   string    `json:"action_type"`
	EntityID     *int64    `json:"entity_id,omitempty"`
	Description  string    `json:"description,omitempty"`
	OldValueJSON *string   `json:"old_value_json,omitempty"`
	NewValueJSON *string   `json:"new_value_json,omitempty"`
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type ActivityFilter struct {
	UserID     int64
	ActionType string
	EntityID   int64
	Limit      int
	Offset     int
}

type ActivityStore interface {
	Log(ctx context.Context, entry *ActivityEntry) error
	List(ctx context.Context, orgID int64, filter ActivityFilter) ([]ActivityEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type activityStore struct {
	db *sql.DB
}

func NewActivityStore(db *sql.DB) ActivityStore {
	return &activityStore{db: db}
}

func (s *activityStore) Log(ctx context.Context, entry *ActivityEntry) error {
	now := time.Now().UTC()
	var oldVal, newVal any
	if entry.OldValueJSON != nil {
		oldVal = *entry.OldValueJSON
	}
	if entry.NewValueJSON != nil {
		newVal = *entry.NewValueJSON
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log(org_id, user_id, action_type, entity_id, description, old_value_json, new_value_json, ip, user_agent, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		entry.OrgID, entry.UserID, strings.TrimSpace(entry.ActionType), nullableID(entry.EntityID),
		strings.TrimSpace(entry.Description), oldVal, newVal, entry.IP, entry.UserAgent, now)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	entry.ID = id
	entry.CreatedAt = now
	return nil
}

func (s *activityStore) List(ctx context.Context, orgID int64, filter ActivityFilter) ([]ActivityEntry, error) {
	clauses := []string{"org_id=?"}
	args := []any{orgID}
	if filter.UserID > 0 {
		clauses = append(clauses, "user_id=?")
		args = append(args, filter.UserID)
	}
	if strings.TrimSpace(filter.ActionType) != "" {
		clauses = append(clauses, "action_type=?")
		args = append(args, strings.TrimSpace(filter.ActionType))
	}
	if filter.EntityID > 0 {
		clauses = append(clauses, "entity_id=?")
		args = append(args, filter.EntityID)
	}
	query := `SELECT id, org_id, user_id, action_type, entity_id, description, old_value_json, new_value_json, ip, user_agent, created_at
		FROM activity_log WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var entityID sql.NullInt64
		var oldVal, newVal sql.NullString
		if err := rows.Scan(&e.ID, &e.OrgID, &e.UserID, &e.ActionType, &entityID, &e.Description, &oldVal, &newVal, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = &entityID.Int64
		}
		if oldVal.Valid {
			e.OldValueJSON = &oldVal.String
		}
		if newVal.Valid {
			e.NewValueJSON = &newVal.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *activityStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activity_log WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
