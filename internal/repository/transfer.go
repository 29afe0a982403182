package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/syncbridge/replica-server-go/internal/database"
	"github.com/syncbridge/replica-server-go/internal/model"
)

type TransferRepository interface {
	FindByID(ctx context.Context, id string) (*model.Transfer, error)
	ListByStatus(ctx context.Context, status model.TransferStatus) ([]model.Transfer, error)
	ListByConnection(ctx context.Context, connectionID string, limit int) ([]model.Transfer, error)
	Create(ctx context.Context, params model.CreateTransferParams) (*model.Transfer, error)
	RequestApproval(ctx context.Context, id string, expiresAt time.Time) (bool, error)
	Approve(ctx context.Context, id, adminID string) (bool, error)
	Deny(ctx context.Context, id, adminID string, reason *string) (bool, error)
	Start(ctx context.Context, id string) (bool, error)
	AddProgress(ctx context.Context, id string, delta model.ProgressDelta) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	Fail(ctx context.Context, id string, message string) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	ExpireOverdueApprovals(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) TransferRepository
}

type transferRepo struct {
	db database.DBTX
}

func NewTransferRepository(db *sqlx.DB) TransferRepository {
	return &transferRepo{db: db}
}

func (r *transferRepo) WithTx(tx *sqlx.Tx) TransferRepository {
	return &transferRepo{db: tx}
}

func (r *transferRepo) FindByID(ctx context.Context, id string) (*model.Transfer, error) {
	var transfer model.Transfer
	err := r.db.GetContext(ctx, &transfer, `
		SELECT * FROM transfers WHERE id = $1
	`, id)
	return HandleNotFound(&transfer, err)
}

func (r *transferRepo) ListByStatus(ctx context.Context, status model.TransferStatus) ([]model.Transfer, error) {
	var transfers []model.Transfer
	err := r.db.SelectContext(ctx, &transfers, `
		SELECT * FROM transfers WHERE status = $1 ORDER BY requested_at DESC
	`, status)
	return transfers, err
}

func (r *transferRepo) ListByConnection(ctx context.Context, connectionID string, limit int) ([]model.Transfer, error) {
	var transfers []model.Transfer
	err := r.db.SelectContext(ctx, &transfers, `
		SELECT * FROM transfers
		WHERE connection_id = $1
		ORDER BY requested_at DESC
		LIMIT $2
	`, connectionID, limit)
	return transfers, err
}

func (r *transferRepo) Create(ctx context.Context, params model.CreateTransferParams) (*model.Transfer, error) {
	var transfer model.Transfer
	err := r.db.GetContext(ctx, &transfer, `
		INSERT INTO transfers (
			connection_id, session_code, direction, table_name, strategy,
			status, requires_approval, records_requested,
			requester_ip, requester_user_agent, requested_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9, NOW())
		RETURNING *
	`,
		params.ConnectionID, params.SessionCode, params.Direction,
		params.TableName, params.Strategy, params.RequiresApproval,
		params.RecordsRequested, params.RequesterIP, params.RequesterUserAgent,
	)
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *transferRepo) conditional(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *transferRepo) RequestApproval(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	return r.conditional(ctx, `
		UPDATE transfers SET
			status = 'pending_approval',
			approval_expires_at = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND requires_approval
	`, id, expiresAt)
}

func (r *transferRepo) Approve(ctx context.Context, id, adminID string) (bool, error) {
	return r.conditional(ctx, `
		UPDATE transfers SET
			status = 'approved',
			approved_by = $2,
			approved_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending_approval'
		AND (approval_expires_at IS NULL OR approval_expires_at > NOW())
	`, id, adminID)
}

func (r *transferRepo) Deny(ctx context.Context, id, adminID string, reason *string) (bool, error) {
	return r.conditional(ctx, `
		UPDATE transfers SET
			status = 'denied',
			denied_by = $2,
			deny_reason = $3,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending_approval'
	`, id, adminID, reason)
}

// Start is legal only from pending (when no approval is required) or
// approved; the condition lives in the statement so an illegal start can
// never race past a concurrent transition.
func (r *transferRepo) Start(ctx context.Context, id string) (bool, error) {
	return r.conditional(ctx, `
		UPDATE transfers SET
			status = 'in_progress',
			started_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		AND ((status = 'pending' AND NOT requires_approval) OR status = 'approved')
	`, id)
}

// AddProgress only ever increases the monotonic counters and only while the
// transfer is in progress.
func (r *transferRepo) AddProgress(ctx context.Context, id string, delta model.ProgressDelta) (bool, error) {
	return r.conditional(ctx, `
		UPDATE transfers SET
			records_transferred = records_transferred + $2,
			records_created = records_created + $3,
			records_updated = records_updated + $4,
			records_skipped = records_skipped + $5,
			records_failed = records_failed + $6,
			bytes_transferred = bytes_transferred + $7,
			updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'
	`, id, delta.Transferred, delta.Created, delta.Updated, delta.Skipped, delta.Failed, delta.Bytes)
}

func (r *transferRepo) Complete(ctx context.Context, id string) (bool, error) {
	return r.conditional(ctx, `
		UPDATE transfers SET
			status = 'completed',
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'
	`, id)
}

func (r *transferRepo) Fail(ctx context.Context, id string, message string) (bool, error) {
	return r.conditional(ctx, `
		UPDATE transfers SET
			status = 'failed',
			error_message = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('denied', 'completed', 'failed', 'cancelled', 'expired')
	`, id, message)
}

func (r *transferRepo) Cancel(ctx context.Context, id string) (bool, error) {
	return r.conditional(ctx, `
		UPDATE transfers SET
			status = 'cancelled',
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('denied', 'completed', 'failed', 'cancelled', 'expired')
	`, id)
}

// ExpireOverdueApprovals bulk-expires approval requests whose window has
// passed. The WHERE clause is the guard: re-running it, or racing another
// sweeper, transitions each row at most once.
func (r *transferRepo) ExpireOverdueApprovals(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE transfers SET
			status = 'expired',
			completed_at = NOW(),
			updated_at = NOW()
		WHERE status = 'pending_approval'
		AND approval_expires_at IS NOT NULL AND approval_expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
