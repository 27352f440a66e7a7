package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Session struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	OrgID      int64     `json:"org_id"`
	Role       string    `json:"role"`
	CSRFToken  string    `json:"-"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type SessionsStore interface {
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string, lastSeen, expires time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID int64) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

type sessionsStore struct {
	db *sql.DB
}

func NewSessionsStore(db *sql.DB) SessionsStore {
	return &sessionsStore{db: db}
}

func (s *sessionsStore) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastSeenAt.IsZero() {
		sess.LastSeenAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, user_id, username, org_id, role, csrf_token, ip, user_agent, created_at, last_seen_at, expires_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.UserID, sess.Username, sess.OrgID, sess.Role, sess.CSRFToken, sess.IP, sess.UserAgent,
		sess.CreatedAt, sess.LastSeenAt, sess.ExpiresAt.UTC())
	return err
}

func (s *sessionsStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, username, org_id, role, csrf_token, ip, user_agent, created_at, last_seen_at, expires_at
		FROM sessions WHERE id=?`, id)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Username, &sess.OrgID, &sess.Role, &sess.CSRFToken, &sess.IP, &sess.UserAgent, &sess.CreatedAt, &sess.LastSeenAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

func (s *sessionsStore) TouchSession(ctx context.Context, id string, lastSeen, expires time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at=?, expires_at=? WHERE id=?`,
		lastSeen.UTC(), expires.UTC(), id)
	return err
}

func (s *sessionsStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

func (s *sessionsStore) DeleteUserSessions(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=?`, userID)
	return err
}

func (s *sessionsStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
