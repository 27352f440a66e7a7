package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Plan struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	PriceCents    int64  `json:"price_cents"`
	BillingPeriod string `json:"billing_period"`
	IsActive      bool   `json:"is_active"`
}

type Subscription struct {
	ID        int64      `json:"id"`
	OrgID     int64      `json:"org_id"`
	PlanID    int64      `json:"plan_id"`
	Status    string     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type BillingStore interface {
	CreatePlan(ctx context.Context, plan *Plan) (int64, error)
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)

	SetPlanFeatures(ctx context.Context, planID int64, knobKeys []string) error
	ListPlanFeatures(ctx context.Context, planID int64) ([]string, error)

	CreateSubscription(ctx context.Context, sub *Subscription) (int64, error)
	CurrentSubscription(ctx context.Context, orgID int64) (*Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, subID int64, status string) error
}

type billingStore struct {
	db *sql.DB
}

func NewBillingStore(db *sql.DB) BillingStore {
	return &billingStore{db: db}
}

func (s *billingStore) CreatePlan(ctx context.Context, plan *Plan) (int64, error) {
	if strings.TrimSpace(plan.BillingPeriod) == "" {
		plan.BillingPeriod = "monthly"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO plans(name, price_cents, billing_period, is_active) VALUES(?,?,?,?)`,
		strings.TrimSpace(plan.Name), plan.PriceCents, plan.BillingPeriod, boolToInt(plan.IsActive))
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	plan.ID = id
	return id, nil
}

func (s *billingStore) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, price_cents, billing_period, is_active FROM plans WHERE id=?`, id)
	var p Plan
	var active int
	if err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.BillingPeriod, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.IsActive = active == 1
	return &p, nil
}

func (s *billingStore) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, price_cents, billing_period, is_active FROM plans ORDER BY price_cents ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Plan
	for rows.Next() {
		var p Plan
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.BillingPeriod, &active); err != nil {
			return nil, err
		}
		p.IsActive = active == 1
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *billingStore) SetPlanFeatures(ctx context.Context, planID int64, knobKeys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_features WHERE plan_id=?`, planID); err != nil {
		tx.Rollback()
		return err
	}
	for _, key := range knobKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO plan_features(plan_id, knob_key) VALUES(?,?)`, planID, key); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *billingStore) ListPlanFeatures(ctx context.Context, planID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT knob_key FROM plan_features WHERE plan_id=? ORDER BY knob_key ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		res = append(res, key)
	}
	return res, rows.Err()
}

func (s *billingStore) CreateSubscription(ctx context.Context, sub *Subscription) (int64, error) {
	now := time.Now().UTC()
	if strings.TrimSpace(sub.Status) == "" {
		sub.Status = "active"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions(org_id, plan_id, status, started_at, ends_at, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?)`,
		sub.OrgID, sub.PlanID, strings.ToLower(sub.Status), nullableTime(sub.StartedAt), nullableTime(sub.EndsAt), now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	sub.ID = id
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return id, nil
}

// CurrentSubscription returns the most recent subscription row for the org,
// regardless of status. The caller decides what counts as entitled.
func (s *billingStore) CurrentSubscription(ctx context.Context, orgID int64) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, plan_id, status, started_at, ends_at, created_at, updated_at
		FROM subscriptions WHERE org_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, orgID)
	var sub Subscription
	var started, ends sql.NullTime
	if err := row.Scan(&sub.ID, &sub.OrgID, &sub.PlanID, &sub.Status, &started, &ends, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if started.Valid {
		sub.StartedAt = &started.Time
	}
	if ends.Valid {
		sub.EndsAt = &ends.Time
	}
	return &sub, nil
}

func (s *billingStore) UpdateSubscriptionStatus(ctx context.Context, subID int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET status=?, updated_at=? WHERE id=?`,
		strings.ToLower(strings.TrimSpace(status)), time.Now().UTC(), subID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}
