package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/repository"
)

// RequestTransferInput describes one requested table movement. Exactly one
// of ConnectionID or SessionCode identifies the channel.
type RequestTransferInput struct {
	ConnectionID       *string
	SessionCode        *string
	Direction          model.TransferDirection
	TableName          string
	Strategy           model.ConflictStrategy
	RecordsRequested   int64
	RequesterIP        *string
	RequesterUserAgent *string
}

type TransferService struct {
	repo          repository.TransferRepository
	connRepo      repository.ConnectionRepository
	settings      repository.SettingsStore
	approvalHours int
}

func NewTransferService(
	repo repository.TransferRepository,
	connRepo repository.ConnectionRepository,
	settings repository.SettingsStore,
	approvalHours int,
) *TransferService {
	return &TransferService{
		repo:          repo,
		connRepo:      connRepo,
		settings:      settings,
		approvalHours: approvalHours,
	}
}

// Request records a new transfer. The requires_approval flag is computed
// here, once, from connection policy; later policy edits do not reach
// transfers already requested.
func (s *TransferService) Request(ctx context.Context, input RequestTransferInput) (*model.Transfer, error) {
	if input.TableName == "" {
		return nil, apperrors.MissingRequired("tableName")
	}
	if !input.Direction.Valid() {
		return nil, apperrors.InvalidInput("direction", string(input.Direction))
	}
	if (input.ConnectionID == nil) == (input.SessionCode == nil) {
		return nil, apperrors.ValidationError("exactly one of connectionId or sessionCode is required")
	}

	strategy := input.Strategy
	requiresApproval := false

	if input.ConnectionID != nil {
		conn, err := s.connRepo.FindByID(ctx, *input.ConnectionID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if conn == nil {
			return nil, apperrors.NotFound("Connection")
		}
		if strategy == "" {
			strategy = conn.DefaultStrategy
		}
		requiresApproval = conn.RequiresApproval(input.TableName)
	}
	if strategy == "" {
		strategy = model.StrategySkip
	}
	if !strategy.Valid() {
		return nil, apperrors.InvalidInput("strategy", string(strategy))
	}

	transfer, err := s.repo.Create(ctx, model.CreateTransferParams{
		ConnectionID:       input.ConnectionID,
		SessionCode:        input.SessionCode,
		Direction:          input.Direction,
		TableName:          input.TableName,
		Strategy:           strategy,
		RequiresApproval:   requiresApproval,
		RecordsRequested:   input.RecordsRequested,
		RequesterIP:        input.RequesterIP,
		RequesterUserAgent: input.RequesterUserAgent,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	if requiresApproval {
		hours := s.settings.GetInt(ctx, repository.SettingApprovalWindowHours, s.approvalHours)
		transfer, err = s.requestApproval(ctx, transfer.ID, hours)
		if err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("transferId", transfer.ID).
		Str("table", transfer.TableName).
		Str("strategy", string(transfer.Strategy)).
		Bool("requiresApproval", requiresApproval).
		Msg("transfer requested")

	return transfer, nil
}

func (s *TransferService) requestApproval(ctx context.Context, id string, hours int) (*model.Transfer, error) {
	expiresAt := time.Now().Add(time.Duration(hours) * time.Hour)
	moved, err := s.repo.RequestApproval(ctx, id, expiresAt)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !moved {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "Transfer is not awaiting an approval request")
	}
	return s.Get(ctx, id)
}

func (s *TransferService) Get(ctx context.Context, id string) (*model.Transfer, error) {
	transfer, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if transfer == nil {
		return nil, apperrors.NotFound("Transfer")
	}
	return transfer, nil
}

func (s *TransferService) ListByStatus(ctx context.Context, status model.TransferStatus) ([]model.Transfer, error) {
	if !status.Valid() {
		return nil, apperrors.InvalidInput("status", string(status))
	}
	transfers, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return transfers, nil
}

func (s *TransferService) ListByConnection(ctx context.Context, connectionID string, limit int) ([]model.Transfer, error) {
	transfers, err := s.repo.ListByConnection(ctx, connectionID, limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return transfers, nil
}

// Approve moves pending_approval -> approved while the window is open.
func (s *TransferService) Approve(ctx context.Context, id, adminID string) (*model.Transfer, error) {
	moved, err := s.repo.Approve(ctx, id, adminID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !moved {
		transfer, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if transfer.Status == model.TransferPendingApproval {
			return nil, apperrors.ApprovalExpired()
		}
		return nil, apperrors.New(apperrors.ErrCodeConflict, "Transfer is not awaiting approval")
	}

	log.Info().Str("transferId", id).Str("adminId", adminID).Msg("transfer approved")
	return s.Get(ctx, id)
}

// Deny is terminal and distinct from expiry: somebody said no.
func (s *TransferService) Deny(ctx context.Context, id, adminID string, reason *string) (*model.Transfer, error) {
	moved, err := s.repo.Deny(ctx, id, adminID, reason)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !moved {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "Transfer is not awaiting approval")
	}

	log.Info().Str("transferId", id).Str("adminId", adminID).Msg("transfer denied")
	return s.Get(ctx, id)
}

// Start transitions to in_progress; an illegal start is a typed error,
// never a silent no-op.
func (s *TransferService) Start(ctx context.Context, id string) (*model.Transfer, error) {
	if !s.settings.GetBool(ctx, repository.SettingIncomingEnabled, true) {
		return nil, apperrors.PolicyDenied("Incoming replication is disabled on this node")
	}

	moved, err := s.repo.Start(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !moved {
		transfer, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.CannotStart(string(transfer.Status))
	}

	log.Info().Str("transferId", id).Msg("transfer started")
	return s.Get(ctx, id)
}

// UpdateProgress adds one page's counters. Counters only grow.
func (s *TransferService) UpdateProgress(ctx context.Context, id string, delta model.ProgressDelta) error {
	moved, err := s.repo.AddProgress(ctx, id, delta)
	if err != nil {
		return apperrors.Database(err)
	}
	if !moved {
		return apperrors.New(apperrors.ErrCodeConflict, "Transfer is not in progress")
	}
	return nil
}

// terminalTransition applies one of the terminal moves idempotently:
// re-applying the same terminal outcome is a no-op, a different terminal
// outcome is an explicit error.
func (s *TransferService) terminalTransition(ctx context.Context, id string, target model.TransferStatus, apply func() (bool, error)) error {
	moved, err := apply()
	if err != nil {
		return apperrors.Database(err)
	}
	if moved {
		log.Info().Str("transferId", id).Str("status", string(target)).Msg("transfer finished")
		return nil
	}

	transfer, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if transfer.Status == target {
		return nil
	}
	if transfer.IsTerminal() {
		return apperrors.TerminalState(string(transfer.Status))
	}
	return apperrors.New(apperrors.ErrCodeConflict, "Transfer is not in a completable state")
}

func (s *TransferService) Complete(ctx context.Context, id string) error {
	return s.terminalTransition(ctx, id, model.TransferCompleted, func() (bool, error) {
		return s.repo.Complete(ctx, id)
	})
}

func (s *TransferService) Fail(ctx context.Context, id string, message string) error {
	return s.terminalTransition(ctx, id, model.TransferFailed, func() (bool, error) {
		return s.repo.Fail(ctx, id, message)
	})
}

// Cancel is cooperative: it only changes the recorded state. An in-flight
// page fetch finishes or times out on its own before the loop notices.
func (s *TransferService) Cancel(ctx context.Context, id string) error {
	return s.terminalTransition(ctx, id, model.TransferCancelled, func() (bool, error) {
		return s.repo.Cancel(ctx, id)
	})
}

// ExpirePendingApprovals sweeps overdue approval requests to expired. Safe
// to run repeatedly and concurrently; the repository's conditional update
// transitions each row at most once.
func (s *TransferService) ExpirePendingApprovals(ctx context.Context) (int64, error) {
	count, err := s.repo.ExpireOverdueApprovals(ctx)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("expired overdue approval requests")
	}
	return count, nil
}
