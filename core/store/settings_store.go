package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type MessagingSettings struct {
	OrgID     int64     `json:"org_id"`
	APIKey    string    `json:"-"`
	Endpoint  string    `json:"endpoint,omitempty"`
	FlowID    string    `json:"flow_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SettingsStore interface {
	GetMessagingSettings(ctx context.Context, orgID int64) (*MessagingSettings, error)
	UpsertMessagingSettings(ctx context.Context, settings *MessagingSettings) error
}

type settingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) SettingsStore {
	return &settingsStore{db: db}
}

func (s *settingsStore) GetMessagingSettings(ctx context.Context, orgID int64) (*MessagingSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT org_id, api_key, endpoint, flow_id, is_active, updated_at FROM org_messaging_settings WHERE org_id=?`, orgID)
	var ms MessagingSettings
	var active int
	if err := row.Scan(&ms.OrgID, &ms.APIKey, &ms.Endpoint, &ms.FlowID, &active, &ms.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ms.IsActive = active == 1
	return &ms, nil
}

func (s *settingsStore) UpsertMessagingSettings(ctx context.Context, settings *MessagingSettings) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_messaging_settings(org_id, api_key, endpoint, flow_id, is_active, updated_at)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(org_id) DO UPDATE SET api_key=excluded.api_key, endpoint=excluded.endpoint, flow_id=excluded.flow_id, is_active=excluded.is_active, updated_at=excluded.updated_at`,
		settings.OrgID, strings.TrimSpace(settings.APIKey), strings.TrimSpace(settings.Endpoint), strings.TrimSpace(settings.FlowID),
		boolToInt(settings.IsActive), now)
	if err != nil {
		return err
	}
	settings.UpdatedAt = now
	return nil
}
