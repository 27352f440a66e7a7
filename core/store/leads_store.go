package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Lead struct {
	ID          int64          `json:"id"`
	OrgID       int64          `json:"org_id"`
	Name        string         `json:"name"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Company     string         `json:"company,omitempty"`
	Stage       string         `json:"stage"`
	Status      string         `json:"status"`
	Source      string         `json:"source,omitempty"`
	Value       float64        `json:"value"`
	AssignedTo  *int64         `json:"assigned_to,omitempty"`
	OwnerUserID *int64         `json:"owner_user_id,omitempty"`
	Custom      map[string]any `json:"custom,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type LeadNote struct {
	ID        int64     `json:"id"`
	LeadID    int64     `json:"lead_id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type LeadFilter struct {
	Search string
	Stage  string
	Status string
	// Predicate is an extra WHERE clause with its args, typically the
	// caller's visibility scope.
	Predicate     string
	PredicateArgs []any
	Limit         int
	Offset        int
}

// Columns an automation or API caller may write directly on a lead.
var leadWritableColumns = map[string]bool{
	"value":  true,
	"source": true,
	"stage":  true,
	"status": true,
}

func LeadColumnWritable(column string) bool {
	return leadWritableColumns[strings.ToLower(strings.TrimSpace(column))]
}

type LeadsStore interface {
	CreateLead(ctx context.Context, lead *Lead) (int64, error)
	GetLead(ctx context.Context, orgID, id int64) (*Lead, error)
	UpdateLead(ctx context.Context, lead *Lead) error
	UpdateLeadColumn(ctx context.Context, orgID, leadID int64, column string, value any) error
	SetLeadStage(ctx context.Context, orgID, leadID int64, stage string) error
	AssignLead(ctx context.Context, orgID, leadID int64, userID *int64) error
	DeleteLead(ctx context.Context, orgID, id int64) error
	ListLeads(ctx context.Context, orgID int64, filter LeadFilter) ([]Lead, error)

	AddNote(ctx context.Context, note *LeadNote) (int64, error)
	ListNotes(ctx context.Context, leadID int64) ([]LeadNote, error)
}

type leadsStore struct {
	db *sql.DB
}

func NewLeadsStore(db *sql.DB) LeadsStore {
	return &leadsStore{db: db}
}

const leadColumns = `id, org_id, name, email, phone, company, stage, status, source, value, assigned_to, owner_user_id, custom_json, created_at, updated_at`

func (s *leadsStore) CreateLead(ctx context.Context, lead *Lead) (int64, error) {
	now := time.Now().UTC()
	if strings.TrimSpace(lead.Stage) == "" {
		lead.Stage = "new"
	}
	if strings.TrimSpace(lead.Status) == "" {
		lead.Status = "open"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leads(org_id, name, email, phone, company, stage, status, source, value, assigned_to, owner_user_id, custom_json, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		lead.OrgID, strings.TrimSpace(lead.Name), strings.TrimSpace(lead.Email), strings.TrimSpace(lead.Phone), strings.TrimSpace(lead.Company),
		lead.Stage, lead.Status, strings.TrimSpace(lead.Source), lead.Value, nullableID(lead.AssignedTo), nullableID(lead.OwnerUserID),
		mapToJSON(lead.Custom), now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	lead.ID = id
	lead.CreatedAt = now
	lead.UpdatedAt = now
	return id, nil
}

func (s *leadsStore) GetLead(ctx context.Context, orgID, id int64) (*Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=? AND org_id=?`, id, orgID)
	return scanLead(row)
}

func (s *leadsStore) UpdateLead(ctx context.Context, lead *Lead) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET name=?, email=?, phone=?, company=?, stage=?, status=?, source=?, value=?, assigned_to=?, owner_user_id=?, custom_json=?, updated_at=?
		WHERE id=? AND org_id=?`,
		strings.TrimSpace(lead.Name), strings.TrimSpace(lead.Email), strings.TrimSpace(lead.Phone), strings.TrimSpace(lead.Company),
		lead.Stage, lead.Status, strings.TrimSpace(lead.Source), lead.Value, nullableID(lead.AssignedTo), nullableID(lead.OwnerUserID),
		mapToJSON(lead.Custom), now, lead.ID, lead.OrgID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	lead.UpdatedAt = now
	return nil
}

func (s *leadsStore) UpdateLeadColumn(ctx context.Context, orgID, leadID int64, column string, value any) error {
	column = strings.ToLower(strings.TrimSpace(column))
	if !leadWritableColumns[column] {
		return fmt.Errorf("column %q is not writable", column)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE leads SET %s=?, updated_at=? WHERE id=? AND org_id=?`, column),
		value, time.Now().UTC(), leadID, orgID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *leadsStore) SetLeadStage(ctx context.Context, orgID, leadID int64, stage string) error {
	return s.UpdateLeadColumn(ctx, orgID, leadID, "stage", strings.TrimSpace(stage))
}

func (s *leadsStore) AssignLead(ctx context.Context, orgID, leadID int64, userID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE leads SET assigned_to=?, updated_at=? WHERE id=? AND org_id=?`,
		nullableID(userID), time.Now().UTC(), leadID, orgID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *leadsStore) DeleteLead(ctx context.Context, orgID, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id=? AND org_id=?`, id, orgID)
	return err
}

func (s *leadsStore) ListLeads(ctx context.Context, orgID int64, filter LeadFilter) ([]Lead, error) {
	clauses := []string{"org_id=?"}
	args := []any{orgID}
	if strings.TrimSpace(filter.Predicate) != "" {
		clauses = append(clauses, "("+filter.Predicate+")")
		args = append(args, filter.PredicateArgs...)
	}
	if filter.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, filter.Stage)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		clauses = append(clauses, "(name LIKE ? OR email LIKE ? OR company LIKE ?)")
		q := "%" + filter.Search + "%"
		args = append(args, q, q, q)
	}
	query := `SELECT ` + leadColumns + ` FROM leads WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY updated_at DESC, id DESC`
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
	var res []Lead
	for rows.Next() {
		lead, err := scanLeadRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, lead)
	}
	return res, rows.Err()
}

func (s *leadsStore) AddNote(ctx context.Context, note *LeadNote) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lead_notes(lead_id, author_id, body, created_at) VALUES(?,?,?,?)`,
		note.LeadID, note.AuthorID, note.Body, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	note.ID = id
	note.CreatedAt = now
	return id, nil
}

func (s *leadsStore) ListNotes(ctx context.Context, leadID int64) ([]LeadNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, author_id, body, created_at FROM lead_notes WHERE lead_id=? ORDER BY created_at DESC, id DESC`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []LeadNote
	for rows.Next() {
		var n LeadNote
		if err := rows.Scan(&n.ID, &n.LeadID, &n.AuthorID, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func scanLead(row *sql.Row) (*Lead, error) {
	var l Lead
	var assigned, owner sql.NullInt64
	var customRaw string
	if err := row.Scan(&l.ID, &l.OrgID, &l.Name, &l.Email, &l.Phone, &l.Company, &l.Stage, &l.Status, &l.Source, &l.Value, &assigned, &owner, &customRaw, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if assigned.Valid {
		l.AssignedTo = &assigned.Int64
	}
	if owner.Valid {
		l.OwnerUserID = &owner.Int64
	}
	l.Custom = parseJSONMap(customRaw)
	return &l, nil
}

func scanLeadRow(rows *sql.Rows) (Lead, error) {
	var l Lead
	var assigned, owner sql.NullInt64
	var customRaw string
	if err := rows.Scan(&l.ID, &l.OrgID, &l.Name, &l.Email, &l.Phone, &l.Company, &l.Stage, &l.Status, &l.Source, &l.Value, &assigned, &owner, &customRaw, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return l, err
	}
	if assigned.Valid {
		l.AssignedTo = &assigned.Int64
	}
	if owner.Valid {
		l.OwnerUserID = &owner.Int64
	}
	l.Custom = parseJSONMap(customRaw)
	return l, nil
}
