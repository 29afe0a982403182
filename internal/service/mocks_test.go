package service

import (
	"context"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/repository"
)

// Mock repositories

type mockConnectionRepo struct {
	mock.Mock
}

func (m *mockConnectionRepo) FindByID(ctx context.Context, id string) (*model.Connection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Connection, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) FindByRemoteSite(ctx context.Context, remoteSiteURL string, direction model.Direction) (*model.Connection, error) {
	args := m.Called(ctx, remoteSiteURL, direction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) List(ctx context.Context) ([]model.Connection, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) Create(ctx context.Context, params model.CreateConnectionParams) (*model.Connection, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Connection), args.Error(1)
}

func (m *mockConnectionRepo) SetStatus(ctx context.Context, id string, from []model.ConnectionStatus, to model.ConnectionStatus, update repository.StatusUpdate) (bool, error) {
	args := m.Called(ctx, id, from, to, update)
	return args.Bool(0), args.Error(1)
}

func (m *mockConnectionRepo) ConsumeQuota(ctx context.Context, id string, downloads int, records, bytes int64) (bool, error) {
	args := m.Called(ctx, id, downloads, records, bytes)
	return args.Bool(0), args.Error(1)
}

func (m *mockConnectionRepo) ExpireOverdue(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockConnectionRepo) WithTx(tx *sqlx.Tx) repository.ConnectionRepository {
	return m
}

type mockTransferRepo struct {
	mock.Mock
}

func (m *mockTransferRepo) FindByID(ctx context.Context, id string) (*model.Transfer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transfer), args.Error(1)
}

func (m *mockTransferRepo) ListByStatus(ctx context.Context, status model.TransferStatus) ([]model.Transfer, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Transfer), args.Error(1)
}

func (m *mockTransferRepo) ListByConnection(ctx context.Context, connectionID string, limit int) ([]model.Transfer, error) {
	args := m.Called(ctx, connectionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Transfer), args.Error(1)
}

func (m *mockTransferRepo) Create(ctx context.Context, params model.CreateTransferParams) (*model.Transfer, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transfer), args.Error(1)
}

func (m *mockTransferRepo) RequestApproval(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	args := m.Called(ctx, id, expiresAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransferRepo) Approve(ctx context.Context, id, adminID string) (bool, error) {
	args := m.Called(ctx, id, adminID)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransferRepo) Deny(ctx context.Context, id, adminID string, reason *string) (bool, error) {
	args := m.Called(ctx, id, adminID, reason)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransferRepo) Start(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransferRepo) AddProgress(ctx context.Context, id string, delta model.ProgressDelta) (bool, error) {
	args := m.Called(ctx, id, delta)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransferRepo) Complete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransferRepo) Fail(ctx context.Context, id string, message string) (bool, error) {
	args := m.Called(ctx, id, message)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransferRepo) Cancel(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockTransferRepo) ExpireOverdueApprovals(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTransferRepo) WithTx(tx *sqlx.Tx) repository.TransferRepository {
	return m
}

// mockSettingsStore returns canned values and falls back to the caller's
// defaults for everything else.
type mockSettingsStore struct {
	values map[string]string
}

func newMockSettings() *mockSettingsStore {
	return &mockSettingsStore{values: map[string]string{}}
}

func (s *mockSettingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *mockSettingsStore) Set(ctx context.Context, key, value string) error {
	s.values[key] = value
	return nil
}

func (s *mockSettingsStore) GetBool(ctx context.Context, key string, fallback bool) bool {
	if value, ok := s.values[key]; ok {
		return value == "true"
	}
	return fallback
}

func (s *mockSettingsStore) GetInt(ctx context.Context, key string, fallback int) int {
	if value, ok := s.values[key]; ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
