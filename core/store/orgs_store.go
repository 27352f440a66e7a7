package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Organization struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	CurrentPlanID *int64    `json:"current_plan_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type OrgsStore interface {
	CreateOrganization(ctx context.Context, org *Organization) (int64, error)
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	SetCurrentPlan(ctx context.Context, orgID, planID int64) error
}

type orgsStore struct {
	db *sql.DB
}

func NewOrgsStore(db *sql.DB) OrgsStore {
	return &orgsStore{db: db}
}

func (s *orgsStore) CreateOrganization(ctx context.Context, org *Organization) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations(name, current_plan_id, created_at, updated_at)
		VALUES(?,?,?,?)`,
		strings.TrimSpace(org.Name), nullableID(org.CurrentPlanID), now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	org.ID = id
	org.CreatedAt = now
	org.UpdatedAt = now
	return id, nil
}

func (s *orgsStore) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, current_plan_id, created_at, updated_at FROM organizations WHERE id=?`, id)
	var org Organization
	var planID sql.NullInt64
	if err := row.Scan(&org.ID, &org.Name, &planID, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if planID.Valid {
		org.CurrentPlanID = &planID.Int64
	}
	return &org, nil
}

func (s *orgsStore) SetCurrentPlan(ctx context.Context, orgID, planID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE organizations SET current_plan_id=?, updated_at=? WHERE id=?`,
		planID, time.Now().UTC(), orgID)
	return err
}
