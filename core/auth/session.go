package auth

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"fathom-crm/config"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type contextKey string

// SessionContextKey carries the *store.Session of the authenticated request.
const SessionContextKey contextKey = "session"

// UserContextKey carries the *store.User the session belongs to.
const UserContextKey contextKey = "user"

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func SessionFromContext(ctx context.Context) *store.Session {
	if v := ctx.Value(SessionContextKey); v != nil {
		if sess, ok := v.(*store.Session); ok {
			return sess
		}
	}
	return nil
}

func UserFromContext(ctx context.Context) *store.User {
	if v := ctx.Value(UserContextKey); v != nil {
		if user, ok := v.(*store.User); ok {
			return user
		}
	}
	return nil
}

type SessionManager struct {
	store  store.SessionsStore
	cfg    *config.AppConfig
	logger *utils.Logger
}

func NewSessionManager(sessions store.SessionsStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	return &SessionManager{store: sessions, cfg: cfg, logger: logger}
}

func (m *SessionManager) Create(ctx context.Context, user *store.User, ip, userAgent string) (*store.Session, error) {
	id := uuid.Must(uuid.NewV4()).String()
	var csrf string
	var err error
	if m.cfg.CSRFKey != "" {
		csrf, err = GenerateCSRF(m.cfg.CSRFKey, id)
	} else {
		csrf, err = utils.RandString(32)
	}
	if err != nil {
		return nil, err
	}
	now := utils.NowUTC()
	sess := &store.Session{
		ID:         id,
		UserID:     user.ID,
		Username:   user.Username,
		OrgID:      user.OrgID,
		Role:       user.Role,
		CSRFToken:  csrf,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.cfg.EffectiveSessionTTL()),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (m *SessionManager) Refresh(ctx context.Context, sessID string) error {
	now := utils.NowUTC()
	return m.store.TouchSession(ctx, sessID, now, now.Add(m.cfg.EffectiveSessionTTL()))
}

func (m *SessionManager) Delete(ctx context.Context, sessID string) error {
	return m.store.DeleteSession(ctx, sessID)
}
