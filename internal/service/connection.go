package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/repository"
	"github.com/syncbridge/replica-server-go/internal/util"
)

// CreateConnectionInput is the admin-facing payload for a new trust
// relationship. Secrets are accepted in the clear here and persisted only
// as hashes.
type CreateConnectionInput struct {
	Name                 string
	RemoteSiteURL        string
	Direction            model.Direction
	DownloadPassword     string
	ApprovalMode         model.ApprovalMode
	AutoApproveTables    []string
	AllowedTables        []string
	ExcludedTables       []string
	DefaultStrategy      model.ConflictStrategy
	MaxDownloads         *int
	MaxRecordsTotal      *int64
	MaxRecordsPerRequest *int
	RateLimitPerMin      *int
	SyncIntervalMinutes  *int
	ExpiresAt            *time.Time
	AllowedHourStart     *int
	AllowedHourEnd       *int
	AllowedIPs           []string
}

type ConnectionService struct {
	repo     repository.ConnectionRepository
	settings repository.SettingsStore
	limiter  *RateLimiter
}

func NewConnectionService(repo repository.ConnectionRepository, settings repository.SettingsStore) *ConnectionService {
	return &ConnectionService{
		repo:     repo,
		settings: settings,
		limiter:  NewRateLimiter(),
	}
}

func (s *ConnectionService) validate(input CreateConnectionInput) error {
	if input.Name == "" {
		return apperrors.MissingRequired("name")
	}
	if input.RemoteSiteURL == "" {
		return apperrors.MissingRequired("remoteSiteUrl")
	}
	if !input.Direction.Valid() {
		return apperrors.InvalidInput("direction", string(input.Direction))
	}
	if !input.ApprovalMode.Valid() {
		return apperrors.InvalidInput("approvalMode", string(input.ApprovalMode))
	}
	if !input.DefaultStrategy.Valid() {
		return apperrors.InvalidInput("defaultStrategy", string(input.DefaultStrategy))
	}
	if input.RateLimitPerMin != nil && *input.RateLimitPerMin <= 0 {
		return apperrors.InvalidInput("rateLimitPerMin", "must be positive")
	}
	if input.MaxRecordsPerRequest != nil && *input.MaxRecordsPerRequest <= 0 {
		return apperrors.InvalidInput("maxRecordsPerRequest", "must be positive")
	}
	if input.SyncIntervalMinutes != nil && *input.SyncIntervalMinutes <= 0 {
		return apperrors.InvalidInput("syncIntervalMinutes", "must be positive")
	}
	for _, hour := range []*int{input.AllowedHourStart, input.AllowedHourEnd} {
		if hour != nil && (*hour < 0 || *hour > 23) {
			return apperrors.InvalidInput("allowedHours", "hour must be in 0..23")
		}
	}
	return nil
}

// Create registers a new pending connection and returns the one-time bearer
// secret for the remote peer. The secret is never stored or logged.
func (s *ConnectionService) Create(ctx context.Context, input CreateConnectionInput) (*model.Connection, string, error) {
	if err := s.validate(input); err != nil {
		return nil, "", err
	}

	existing, err := s.repo.FindByRemoteSite(ctx, input.RemoteSiteURL, input.Direction)
	if err != nil {
		return nil, "", apperrors.Database(err)
	}
	if existing != nil {
		return nil, "", apperrors.AlreadyExists("Connection for this remote site and direction")
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, "", apperrors.Internal("failed to generate connection token").WithCause(err)
	}

	var passwordHash *string
	if input.DownloadPassword != "" {
		hash, err := util.HashPassword(input.DownloadPassword)
		if err != nil {
			return nil, "", apperrors.Internal("failed to hash download password").WithCause(err)
		}
		passwordHash = &hash
	}

	conn, err := s.repo.Create(ctx, model.CreateConnectionParams{
		Name:                 input.Name,
		RemoteSiteURL:        input.RemoteSiteURL,
		Direction:            input.Direction,
		TokenHash:            util.HashToken(token),
		DownloadPasswordHash: passwordHash,
		ApprovalMode:         input.ApprovalMode,
		AutoApproveTables:    input.AutoApproveTables,
		AllowedTables:        input.AllowedTables,
		ExcludedTables:       input.ExcludedTables,
		DefaultStrategy:      input.DefaultStrategy,
		MaxDownloads:         input.MaxDownloads,
		MaxRecordsTotal:      input.MaxRecordsTotal,
		MaxRecordsPerRequest: input.MaxRecordsPerRequest,
		RateLimitPerMin:      input.RateLimitPerMin,
		SyncIntervalMinutes:  input.SyncIntervalMinutes,
		ExpiresAt:            input.ExpiresAt,
		AllowedHourStart:     input.AllowedHourStart,
		AllowedHourEnd:       input.AllowedHourEnd,
		AllowedIPs:           input.AllowedIPs,
	})
	if err != nil {
		// The unique (remote_site_url, direction) index is the arbiter when
		// two creates race past the pre-check.
		if repository.IsUniqueViolation(err) {
			return nil, "", apperrors.AlreadyExists("Connection for this remote site and direction")
		}
		return nil, "", apperrors.Database(err)
	}

	log.Info().
		Str("connectionId", conn.ID).
		Str("remoteSite", conn.RemoteSiteURL).
		Str("direction", string(conn.Direction)).
		Msg("connection created")

	return conn, token, nil
}

func (s *ConnectionService) Get(ctx context.Context, id string) (*model.Connection, error) {
	conn, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if conn == nil {
		return nil, apperrors.NotFound("Connection")
	}
	return conn, nil
}

func (s *ConnectionService) List(ctx context.Context) ([]model.Connection, error) {
	conns, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return conns, nil
}

// Approve promotes a pending connection to active.
func (s *ConnectionService) Approve(ctx context.Context, id, adminID string) error {
	moved, err := s.repo.SetStatus(ctx, id,
		[]model.ConnectionStatus{model.ConnectionPending},
		model.ConnectionActive,
		repository.StatusUpdate{ActorID: &adminID})
	if err != nil {
		return apperrors.Database(err)
	}
	if !moved {
		return apperrors.New(apperrors.ErrCodeConflict, "Connection is not pending")
	}

	log.Info().Str("connectionId", id).Str("adminId", adminID).Msg("connection approved")
	return nil
}

// Suspend pauses an active connection; Reactivate reverses it.
func (s *ConnectionService) Suspend(ctx context.Context, id, adminID string, reason *string) error {
	moved, err := s.repo.SetStatus(ctx, id,
		[]model.ConnectionStatus{model.ConnectionActive},
		model.ConnectionSuspended,
		repository.StatusUpdate{ActorID: &adminID, Reason: reason})
	if err != nil {
		return apperrors.Database(err)
	}
	if !moved {
		return apperrors.New(apperrors.ErrCodeConflict, "Connection is not active")
	}

	log.Info().Str("connectionId", id).Str("adminId", adminID).Msg("connection suspended")
	return nil
}

func (s *ConnectionService) Reactivate(ctx context.Context, id string) error {
	moved, err := s.repo.SetStatus(ctx, id,
		[]model.ConnectionStatus{model.ConnectionSuspended},
		model.ConnectionActive,
		repository.StatusUpdate{})
	if err != nil {
		return apperrors.Database(err)
	}
	if !moved {
		return apperrors.New(apperrors.ErrCodeConflict, "Connection is not suspended")
	}

	log.Info().Str("connectionId", id).Msg("connection reactivated")
	return nil
}

// Revoke is terminal: no status leads out of it.
func (s *ConnectionService) Revoke(ctx context.Context, id, adminID string, reason *string) error {
	moved, err := s.repo.SetStatus(ctx, id,
		[]model.ConnectionStatus{model.ConnectionPending, model.ConnectionActive, model.ConnectionSuspended},
		model.ConnectionRevoked,
		repository.StatusUpdate{ActorID: &adminID, Reason: reason})
	if err != nil {
		return apperrors.Database(err)
	}
	if !moved {
		return apperrors.New(apperrors.ErrCodeConflict, "Connection is already terminal")
	}

	log.Info().Str("connectionId", id).Str("adminId", adminID).Msg("connection revoked")
	return nil
}

// VerifyToken resolves a presented bearer secret to its connection. Lookup
// is by SHA-256 hash; the final comparison is constant-time.
func (s *ConnectionService) VerifyToken(ctx context.Context, token string) (*model.Connection, error) {
	tokenHash := util.HashToken(token)

	conn, err := s.repo.FindByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if conn == nil || !util.ConstantTimeEqual(conn.TokenHash, tokenHash) {
		return nil, apperrors.InvalidToken("Unknown connection token")
	}
	return conn, nil
}

// VerifyDownloadPassword is true when the connection has no download
// password configured; otherwise the presented password must match.
func (s *ConnectionService) VerifyDownloadPassword(conn *model.Connection, password string) bool {
	if conn.DownloadPasswordHash == nil || *conn.DownloadPasswordHash == "" {
		return true
	}
	return util.CheckPasswordHash(password, *conn.DownloadPasswordHash)
}

// AuthorizeRequest runs every policy gate that must pass before this node
// answers a channel request. Denials are explicit, never an empty result.
func (s *ConnectionService) AuthorizeRequest(ctx context.Context, conn *model.Connection, table, clientIP string) error {
	now := time.Now()

	if !s.settings.GetBool(ctx, repository.SettingOutgoingEnabled, true) {
		return apperrors.PolicyDenied("Outgoing replication is disabled on this node")
	}
	if !conn.IsActive(now) {
		if conn.Status != model.ConnectionActive || conn.IsExpired(now) {
			return apperrors.PolicyDenied("Connection is not active")
		}
		return apperrors.QuotaExceeded("connection limits")
	}
	if !conn.WithinAllowedHours(now) {
		return apperrors.PolicyDenied("Outside the connection's allowed hours")
	}
	if !conn.IPAllowed(clientIP) {
		return apperrors.PolicyDenied("Requester IP is not whitelisted")
	}
	if table != "" && !conn.TableAllowed(table) {
		return apperrors.PolicyDenied("Table is not allowed for this connection")
	}

	limit := 0
	if conn.RateLimitPerMin != nil {
		limit = *conn.RateLimitPerMin
	} else {
		limit = s.settings.GetInt(ctx, repository.SettingDefaultRateLimit, 60)
	}
	if !s.limiter.Allow(conn.ID, limit) {
		return apperrors.RateLimitExceeded()
	}

	return nil
}

// ConsumeQuota performs the atomic check-and-increment for one granted page.
// A false return means another request drained the remaining quota first.
func (s *ConnectionService) ConsumeQuota(ctx context.Context, id string, records, bytes int64) error {
	granted, err := s.repo.ConsumeQuota(ctx, id, 1, records, bytes)
	if err != nil {
		return apperrors.Database(err)
	}
	if !granted {
		return apperrors.QuotaExceeded("max_downloads or max_records_total")
	}
	return nil
}
