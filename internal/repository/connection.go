package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/syncbridge/replica-server-go/internal/database"
	"github.com/syncbridge/replica-server-go/internal/model"
)

type ConnectionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Connection, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Connection, error)
	FindByRemoteSite(ctx context.Context, remoteSiteURL string, direction model.Direction) (*model.Connection, error)
	List(ctx context.Context) ([]model.Connection, error)
	Create(ctx context.Context, params model.CreateConnectionParams) (*model.Connection, error)
	SetStatus(ctx context.Context, id string, from []model.ConnectionStatus, to model.ConnectionStatus, update StatusUpdate) (bool, error)
	ConsumeQuota(ctx context.Context, id string, downloads int, records, bytes int64) (bool, error)
	ExpireOverdue(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ConnectionRepository
}

// StatusUpdate carries the audit fields stamped alongside a status change.
type StatusUpdate struct {
	ActorID *string
	Reason  *string
}

type connectionRepo struct {
	db database.DBTX
}

func NewConnectionRepository(db *sqlx.DB) ConnectionRepository {
	return &connectionRepo{db: db}
}

func (r *connectionRepo) WithTx(tx *sqlx.Tx) ConnectionRepository {
	return &connectionRepo{db: tx}
}

func (r *connectionRepo) FindByID(ctx context.Context, id string) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		SELECT * FROM connections WHERE id = $1
	`, id)
	return HandleNotFound(&conn, err)
}

func (r *connectionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		SELECT * FROM connections WHERE token_hash = $1
	`, tokenHash)
	return HandleNotFound(&conn, err)
}

func (r *connectionRepo) FindByRemoteSite(ctx context.Context, remoteSiteURL string, direction model.Direction) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		SELECT * FROM connections WHERE remote_site_url = $1 AND direction = $2
	`, remoteSiteURL, direction)
	return HandleNotFound(&conn, err)
}

func (r *connectionRepo) List(ctx context.Context) ([]model.Connection, error) {
	var conns []model.Connection
	err := r.db.SelectContext(ctx, &conns, `
		SELECT * FROM connections ORDER BY created_at DESC
	`)
	return conns, err
}

func (r *connectionRepo) Create(ctx context.Context, params model.CreateConnectionParams) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		INSERT INTO connections (
			name, remote_site_url, direction, status,
			token_hash, download_password_hash,
			approval_mode, auto_approve_tables, allowed_tables, excluded_tables,
			default_strategy,
			max_downloads, max_records_total, max_records_per_request,
			rate_limit_per_min, sync_interval_minutes,
			expires_at, allowed_hour_start, allowed_hour_end, allowed_ips
		) VALUES (
			$1, $2, $3, 'pending',
			$4, $5,
			$6, $7, $8, $9,
			$10,
			$11, $12, $13,
			$14, $15,
			$16, $17, $18, $19
		)
		RETURNING *
	`,
		params.Name, params.RemoteSiteURL, params.Direction,
		params.TokenHash, params.DownloadPasswordHash,
		params.ApprovalMode, pq.Array(params.AutoApproveTables),
		pq.Array(params.AllowedTables), pq.Array(params.ExcludedTables),
		params.DefaultStrategy,
		params.MaxDownloads, params.MaxRecordsTotal, params.MaxRecordsPerRequest,
		params.RateLimitPerMin, params.SyncIntervalMinutes,
		params.ExpiresAt, params.AllowedHourStart, params.AllowedHourEnd,
		pq.Array(params.AllowedIPs),
	)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// SetStatus performs a conditional status transition, stamping the audit
// fields that belong to the target status. It reports whether a row actually
// moved, so callers can distinguish "wrong current status" from success.
func (r *connectionRepo) SetStatus(ctx context.Context, id string, from []model.ConnectionStatus, to model.ConnectionStatus, update StatusUpdate) (bool, error) {
	fromList := make([]string, 0, len(from))
	for _, s := range from {
		fromList = append(fromList, string(s))
	}

	now := time.Now()
	var result sql.Result
	var err error

	switch to {
	case model.ConnectionActive:
		result, err = r.db.ExecContext(ctx, `
			UPDATE connections SET
				status = 'active',
				approved_by = COALESCE($3, approved_by),
				approved_at = CASE WHEN $3::text IS NOT NULL THEN $4 ELSE approved_at END,
				suspended_by = NULL, suspended_at = NULL, suspend_reason = NULL,
				updated_at = $4
			WHERE id = $1 AND status = ANY($2)
		`, id, pq.Array(fromList), update.ActorID, now)
	case model.ConnectionSuspended:
		result, err = r.db.ExecContext(ctx, `
			UPDATE connections SET
				status = 'suspended',
				suspended_by = $3,
				suspended_at = $4,
				suspend_reason = $5,
				updated_at = $4
			WHERE id = $1 AND status = ANY($2)
		`, id, pq.Array(fromList), update.ActorID, now, update.Reason)
	case model.ConnectionRevoked:
		result, err = r.db.ExecContext(ctx, `
			UPDATE connections SET
				status = 'revoked',
				revoked_by = $3,
				revoked_at = $4,
				revoke_reason = $5,
				updated_at = $4
			WHERE id = $1 AND status = ANY($2)
		`, id, pq.Array(fromList), update.ActorID, now, update.Reason)
	default:
		result, err = r.db.ExecContext(ctx, `
			UPDATE connections SET
				status = $3,
				updated_at = $4
			WHERE id = $1 AND status = ANY($2)
		`, id, pq.Array(fromList), to, now)
	}
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ConsumeQuota atomically checks and increments the usage counters in one
// conditional statement so that two concurrent requests against the same
// connection can never both slip under a nearly-exhausted limit.
func (r *connectionRepo) ConsumeQuota(ctx context.Context, id string, downloads int, records, bytes int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE connections SET
			downloads_used = downloads_used + $2,
			records_downloaded = records_downloaded + $3,
			bytes_transferred = bytes_transferred + $4,
			updated_at = NOW()
		WHERE id = $1
		AND status = 'active'
		AND (expires_at IS NULL OR expires_at > NOW())
		AND (max_downloads IS NULL OR downloads_used + $2 <= max_downloads)
		AND (max_records_total IS NULL OR records_downloaded + $3 <= max_records_total)
	`, id, downloads, records, bytes)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ExpireOverdue sweeps connections whose expiry instant has passed into the
// terminal expired status. Conditional, so repeated and concurrent sweeps
// are harmless.
func (r *connectionRepo) ExpireOverdue(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE connections SET
			status = 'expired',
			updated_at = NOW()
		WHERE status IN ('pending', 'active', 'suspended')
		AND expires_at IS NOT NULL AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
