package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrConflict = errors.New("conflict")

type User struct {
	ID           int64     `json:"id"`
	OrgID        int64     `json:"org_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UsersStore interface {
	CreateUser(ctx context.Context, user *User) (int64, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context, orgID int64) ([]User, error)
	ListActiveByRoles(ctx context.Context, orgID int64, roles []string) ([]User, error)
	UpdateUser(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, userID int64, hash, salt string) error
	SetActive(ctx context.Context, userID int64, active bool) error
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

const userColumns = `id, org_id, username, email, full_name, role, password_hash, salt, active, created_at, updated_at`

func (s *usersStore) CreateUser(ctx context.Context, user *User) (int64, error) {
	now := time.Now().UTC()
	if strings.TrimSpace(user.Role) == "" {
		user.Role = "staff"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users(org_id, username, email, full_name, role, password_hash, salt, active, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		user.OrgID, strings.ToLower(strings.TrimSpace(user.Username)), strings.TrimSpace(user.Email), strings.TrimSpace(user.FullName),
		strings.ToLower(user.Role), user.PasswordHash, user.Salt, boolToInt(user.Active), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, err
	}
	id, _ := res.LastInsertId()
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return id, nil
}

func (s *usersStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row)
}

func (s *usersStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`,
		strings.ToLower(strings.TrimSpace(username)))
	return scanUser(row)
}

func (s *usersStore) ListUsers(ctx context.Context, orgID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE org_id=? ORDER BY username ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *usersStore) ListActiveByRoles(ctx context.Context, orgID int64, roles []string) ([]User, error) {
	var in []string
	var args []any
	args = append(args, orgID)
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			in = append(in, "?")
			args = append(args, r)
		}
	}
	if len(in) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT `+userColumns+` FROM users WHERE org_id=? AND active=1 AND role IN (%s) ORDER BY id ASC`,
		strings.Join(in, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *usersStore) UpdateUser(ctx context.Context, user *User) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email=?, full_name=?, role=?, updated_at=? WHERE id=?`,
		strings.TrimSpace(user.Email), strings.TrimSpace(user.FullName), strings.ToLower(user.Role), now, user.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	user.UpdatedAt = now
	return nil
}

func (s *usersStore) UpdatePassword(ctx context.Context, userID int64, hash, salt string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=?, salt=?, updated_at=? WHERE id=?`,
		hash, salt, time.Now().UTC(), userID)
	return err
}

func (s *usersStore) SetActive(ctx context.Context, userID int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET active=?, updated_at=? WHERE id=?`,
		boolToInt(active), time.Now().UTC(), userID)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var active int
	if err := row.Scan(&u.ID, &u.OrgID, &u.Username, &u.Email, &u.FullName, &u.Role, &u.PasswordHash, &u.Salt, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Active = active == 1
	return &u, nil
}

func collectUsers(rows *sql.Rows) ([]User, error) {
	var res []User
	for rows.Next() {
		var u User
		var active int
		if err := rows.Scan(&u.ID, &u.OrgID, &u.Username, &u.Email, &u.FullName, &u.Role, &u.PasswordHash, &u.Salt, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Active = active == 1
		res = append(res, u)
	}
	return res, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
