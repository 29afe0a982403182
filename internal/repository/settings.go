package repository

import (
	"context"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/syncbridge/replica-server-go/internal/database"
)

// Recognized settings keys. Missing keys fall back to the defaults below.
const (
	SettingIncomingEnabled     = "replication.incoming_enabled"
	SettingOutgoingEnabled     = "replication.outgoing_enabled"
	SettingDefaultPageSize     = "replication.default_page_size"
	SettingDefaultRateLimit    = "replication.default_rate_limit_per_min"
	SettingApprovalWindowHours = "replication.approval_window_hours"
)

// SettingsStore is the persistent key-value store injected into the
// connection registry and transfer orchestrator.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	GetBool(ctx context.Context, key string, fallback bool) bool
	GetInt(ctx context.Context, key string, fallback int) int
}

type settingsStore struct {
	db database.DBTX
}

func NewSettingsStore(db *sqlx.DB) SettingsStore {
	return &settingsStore{db: db}
}

func (s *settingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `
		SELECT value FROM settings WHERE key = $1
	`, key)
	result, err := HandleNotFound(&value, err)
	if err != nil {
		return "", false, err
	}
	if result == nil {
		return "", false, nil
	}
	return *result, true, nil
}

func (s *settingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	return err
}

func (s *settingsStore) GetBool(ctx context.Context, key string, fallback bool) bool {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s *settingsStore) GetInt(ctx context.Context, key string, fallback int) int {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
