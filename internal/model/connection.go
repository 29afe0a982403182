package model

import (
	"time"

	"github.com/lib/pq"
)

// Connection is a durable, named trust relationship between this node and a
// remote site. The remote node only ever presents a bearer secret; it never
// reads this record directly.
type Connection struct {
	ID            string           `db:"id" json:"id"`
	Name          string           `db:"name" json:"name"`
	RemoteSiteURL string           `db:"remote_site_url" json:"remoteSiteUrl"`
	Direction     Direction        `db:"direction" json:"direction"`
	Status        ConnectionStatus `db:"status" json:"status"`

	// Secrets are stored only as one-way hashes.
	TokenHash            string  `db:"token_hash" json:"-"`
	DownloadPasswordHash *string `db:"download_password_hash" json:"-"`

	ApprovalMode      ApprovalMode   `db:"approval_mode" json:"approvalMode"`
	AutoApproveTables pq.StringArray `db:"auto_approve_tables" json:"autoApproveTables"`
	AllowedTables     pq.StringArray `db:"allowed_tables" json:"allowedTables"`
	ExcludedTables    pq.StringArray `db:"excluded_tables" json:"excludedTables"`

	DefaultStrategy ConflictStrategy `db:"default_strategy" json:"defaultStrategy"`

	MaxDownloads         *int   `db:"max_downloads" json:"maxDownloads,omitempty"`
	MaxRecordsTotal      *int64 `db:"max_records_total" json:"maxRecordsTotal,omitempty"`
	MaxRecordsPerRequest *int   `db:"max_records_per_request" json:"maxRecordsPerRequest,omitempty"`
	RateLimitPerMin      *int   `db:"rate_limit_per_min" json:"rateLimitPerMin,omitempty"`
	SyncIntervalMinutes  *int   `db:"sync_interval_minutes" json:"syncIntervalMinutes,omitempty"`

	ExpiresAt        *time.Time     `db:"expires_at" json:"expiresAt,omitempty"`
	AllowedHourStart *int           `db:"allowed_hour_start" json:"allowedHourStart,omitempty"`
	AllowedHourEnd   *int           `db:"allowed_hour_end" json:"allowedHourEnd,omitempty"`
	AllowedIPs       pq.StringArray `db:"allowed_ips" json:"allowedIps"`

	DownloadsUsed     int   `db:"downloads_used" json:"downloadsUsed"`
	RecordsDownloaded int64 `db:"records_downloaded" json:"recordsDownloaded"`
	BytesTransferred  int64 `db:"bytes_transferred" json:"bytesTransferred"`

	ApprovedBy    *string    `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt    *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	SuspendedBy   *string    `db:"suspended_by" json:"suspendedBy,omitempty"`
	SuspendedAt   *time.Time `db:"suspended_at" json:"suspendedAt,omitempty"`
	SuspendReason *string    `db:"suspend_reason" json:"suspendReason,omitempty"`
	RevokedBy     *string    `db:"revoked_by" json:"revokedBy,omitempty"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	RevokeReason  *string    `db:"revoke_reason" json:"revokeReason,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateConnectionParams struct {
	Name                 string
	RemoteSiteURL        string
	Direction            Direction
	TokenHash            string
	DownloadPasswordHash *string
	ApprovalMode         ApprovalMode
	AutoApproveTables    []string
	AllowedTables        []string
	ExcludedTables       []string
	DefaultStrategy      ConflictStrategy
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

// IsExpired reports whether the connection's expiry instant has passed.
func (c *Connection) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// IsActive is the gate the transfer path checks before granting any work:
// status active, not past expiry, and remaining quota on both the download
// and total-record counters where those limits are set.
func (c *Connection) IsActive(now time.Time) bool {
	if c.Status != ConnectionActive {
		return false
	}
	if c.IsExpired(now) {
		return false
	}
	if c.MaxDownloads != nil && c.DownloadsUsed >= *c.MaxDownloads {
		return false
	}
	if c.MaxRecordsTotal != nil && c.RecordsDownloaded >= *c.MaxRecordsTotal {
		return false
	}
	return true
}

// WithinAllowedHours checks the hour-of-day window. A start greater than the
// end means the window wraps midnight (22 -> 6 allows 23:00 and 03:00).
func (c *Connection) WithinAllowedHours(now time.Time) bool {
	if c.AllowedHourStart == nil || c.AllowedHourEnd == nil {
		return true
	}
	hour := now.Hour()
	start, end := *c.AllowedHourStart, *c.AllowedHourEnd
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

// IPAllowed is permissive when the allow-list is empty: no list means no
// restriction, not deny-all.
func (c *Connection) IPAllowed(ip string) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range c.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

// TableAllowed requires the table not be excluded, and if an allow-list is
// set, the table must appear on it.
func (c *Connection) TableAllowed(table string) bool {
	for _, excluded := range c.ExcludedTables {
		if excluded == table {
			return false
		}
	}
	if len(c.AllowedTables) == 0 {
		return true
	}
	for _, allowed := range c.AllowedTables {
		if allowed == table {
			return true
		}
	}
	return false
}

// RequiresApproval decides whether a transfer for the given table needs a
// human decision before it can start.
func (c *Connection) RequiresApproval(table string) bool {
	switch c.ApprovalMode {
	case ApprovalAuto:
		return false
	case ApprovalRequired:
		return true
	case ApprovalPerTable:
		for _, auto := range c.AutoApproveTables {
			if auto == table {
				return false
			}
		}
		return true
	}
	return true
}
