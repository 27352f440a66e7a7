package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type FeatureKnob struct {
	ID          int64  `json:"id"`
	KnobKey     string `json:"knob_key"`
	DisplayName string `json:"display_name,omitempty"`
	Category    string `json:"category,omitempty"`
	IsSystem    bool   `json:"is_system"`
}

// RolePermission is a role default. OrgID nil means the global default,
// non-nil means an org-scoped override of it.
type RolePermission struct {
	ID      int64  `json:"id"`
	OrgID   *int64 `json:"org_id,omitempty"`
	Role    string `json:"role"`
	KnobKey string `json:"knob_key"`
	Enabled bool   `json:"enabled"`
}

type UserPermission struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	KnobKey   string    `json:"knob_key"`
	Enabled   bool      `json:"enabled"`
	GrantedBy *int64    `json:"granted_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PermissionsStore interface {
	ListKnobs(ctx context.Context) ([]FeatureKnob, error)
	UpsertKnob(ctx context.Context, knob *FeatureKnob) error

	ListRoleDefaults(ctx context.Context, orgID int64, role string) ([]RolePermission, error)
	SetRoleDefault(ctx context.Context, orgID *int64, role, knobKey string, enabled bool) error

	ListUserOverrides(ctx context.Context, userID int64) ([]UserPermission, error)
	SetUserOverride(ctx context.Context, userID int64, knobKey string, enabled bool, grantedBy int64) error
	ClearUserOverride(ctx context.Context, userID int64, knobKey string) error
}

type permissionsStore struct {
	db *sql.DB
}

func NewPermissionsStore(db *sql.DB) PermissionsStore {
	return &permissionsStore{db: db}
}

func (s *permissionsStore) ListKnobs(ctx context.Context) ([]FeatureKnob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, knob_key, display_name, category, is_system FROM feature_knobs ORDER BY category ASC, knob_key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []FeatureKnob
	for rows.Next() {
		var k FeatureKnob
		var system int
		if err := rows.Scan(&k.ID, &k.KnobKey, &k.DisplayName, &k.Category, &system); err != nil {
			return nil, err
		}
		k.IsSystem = system == 1
		res = append(res, k)
	}
	return res, rows.Err()
}

func (s *permissionsStore) UpsertKnob(ctx context.Context, knob *FeatureKnob) error {
	key := strings.TrimSpace(knob.KnobKey)
	if key == "" {
		return errors.New("empty knob key")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_knobs(knob_key, display_name, category, is_system)
		VALUES(?,?,?,?)
		ON CONFLICT(knob_key) DO UPDATE SET display_name=excluded.display_name, category=excluded.category, is_system=excluded.is_system`,
		key, strings.TrimSpace(knob.DisplayName), strings.TrimSpace(knob.Category), boolToInt(knob.IsSystem))
	return err
}

// ListRoleDefaults returns both the global rows (org_id IS NULL) and the
// org-scoped rows for the role. Precedence between them is the caller's job.
func (s *permissionsStore) ListRoleDefaults(ctx context.Context, orgID int64, role string) ([]RolePermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, role, knob_key, enabled FROM role_permissions
		WHERE role=? AND (org_id IS NULL OR org_id=?)`,
		strings.ToLower(strings.TrimSpace(role)), orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RolePermission
	for rows.Next() {
		var p RolePermission
		var org sql.NullInt64
		var enabled int
		if err := rows.Scan(&p.ID, &org, &p.Role, &p.KnobKey, &enabled); err != nil {
			return nil, err
		}
		if org.Valid {
			p.OrgID = &org.Int64
		}
		p.Enabled = enabled == 1
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *permissionsStore) SetRoleDefault(ctx context.Context, orgID *int64, role, knobKey string, enabled bool) error {
	role = strings.ToLower(strings.TrimSpace(role))
	knobKey = strings.TrimSpace(knobKey)
	if role == "" || knobKey == "" {
		return errors.New("empty role or knob key")
	}
	// NULL org_id never matches the unique constraint, so global rows
	// need an explicit update-then-insert.
	if orgID == nil {
		res, err := s.db.ExecContext(ctx, `
			UPDATE role_permissions SET enabled=? WHERE org_id IS NULL AND role=? AND knob_key=?`,
			boolToInt(enabled), role, knobKey)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			return nil
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO role_permissions(org_id, role, knob_key, enabled) VALUES(NULL,?,?,?)`,
			role, knobKey, boolToInt(enabled))
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_permissions(org_id, role, knob_key, enabled)
		VALUES(?,?,?,?)
		ON CONFLICT(org_id, role, knob_key) DO UPDATE SET enabled=excluded.enabled`,
		*orgID, role, knobKey, boolToInt(enabled))
	return err
}

func (s *permissionsStore) ListUserOverrides(ctx context.Context, userID int64) ([]UserPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, knob_key, enabled, granted_by, created_at FROM user_permissions WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []UserPermission
	for rows.Next() {
		var p UserPermission
		var grantedBy sql.NullInt64
		var enabled int
		if err := rows.Scan(&p.ID, &p.UserID, &p.KnobKey, &enabled, &grantedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		if grantedBy.Valid {
			p.GrantedBy = &grantedBy.Int64
		}
		p.Enabled = enabled == 1
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *permissionsStore) SetUserOverride(ctx context.Context, userID int64, knobKey string, enabled bool, grantedBy int64) error {
	knobKey = strings.TrimSpace(knobKey)
	if knobKey == "" {
		return errors.New("empty knob key")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_permissions(user_id, knob_key, enabled, granted_by, created_at)
		VALUES(?,?,?,?,?)
		ON CONFLICT(user_id, knob_key) DO UPDATE SET enabled=excluded.enabled, granted_by=excluded.granted_by`,
		userID, knobKey, boolToInt(enabled), grantedBy, time.Now().UTC())
	return err
}

func (s *permissionsStore) ClearUserOverride(ctx context.Context, userID int64, knobKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_permissions WHERE user_id=? AND knob_key=?`,
		userID, strings.TrimSpace(knobKey))
	return err
}
