package model

import "time"

// Transfer is one table-scoped data-movement attempt and its state machine
// bookkeeping. A terminal transfer is immutable; all mutation goes through
// the orchestrator's conditional updates.
type Transfer struct {
	ID           string            `db:"id" json:"id"`
	ConnectionID *string           `db:"connection_id" json:"connectionId,omitempty"`
	SessionCode  *string           `db:"session_code" json:"sessionCode,omitempty"`
	Direction    TransferDirection `db:"direction" json:"direction"`
	TableName    string            `db:"table_name" json:"tableName"`
	Strategy     ConflictStrategy  `db:"strategy" json:"strategy"`
	Status       TransferStatus    `db:"status" json:"status"`

	// Fixed at creation from connection policy; never re-evaluated.
	RequiresApproval bool `db:"requires_approval" json:"requiresApproval"`

	RecordsRequested   int64 `db:"records_requested" json:"recordsRequested"`
	RecordsTransferred int64 `db:"records_transferred" json:"recordsTransferred"`
	RecordsCreated     int64 `db:"records_created" json:"recordsCreated"`
	RecordsUpdated     int64 `db:"records_updated" json:"recordsUpdated"`
	RecordsSkipped     int64 `db:"records_skipped" json:"recordsSkipped"`
	RecordsFailed      int64 `db:"records_failed" json:"recordsFailed"`
	BytesTransferred   int64 `db:"bytes_transferred" json:"bytesTransferred"`

	ApprovalExpiresAt *time.Time `db:"approval_expires_at" json:"approvalExpiresAt,omitempty"`
	ApprovedBy        *string    `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt        *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	DeniedBy          *string    `db:"denied_by" json:"deniedBy,omitempty"`
	DenyReason        *string    `db:"deny_reason" json:"denyReason,omitempty"`

	RequestedAt time.Time  `db:"requested_at" json:"requestedAt"`
	StartedAt   *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`

	RequesterIP        *string `db:"requester_ip" json:"requesterIp,omitempty"`
	RequesterUserAgent *string `db:"requester_user_agent" json:"requesterUserAgent,omitempty"`
	ErrorMessage       *string `db:"error_message" json:"errorMessage,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateTransferParams struct {
	ConnectionID       *string
	SessionCode        *string
	Direction          TransferDirection
	TableName          string
	Strategy           ConflictStrategy
	RequiresApproval   bool
	RecordsRequested   int64
	RequesterIP        *string
	RequesterUserAgent *string
}

// ProgressDelta carries monotonic counter increments for one imported page.
type ProgressDelta struct {
	Transferred int64
	Created     int64
	Updated     int64
	Skipped     int64
	Failed      int64
	Bytes       int64
}

func (t *Transfer) IsTerminal() bool {
	return t.Status.Terminal()
}

// CanStart is true only from pending (when no approval is required) or
// approved.
func (t *Transfer) CanStart() bool {
	if t.Status == TransferPending && !t.RequiresApproval {
		return true
	}
	return t.Status == TransferApproved
}

// SuccessRate is (created+updated)/transferred, 0.0 when nothing moved.
func (t *Transfer) SuccessRate() float64 {
	if t.RecordsTransferred == 0 {
		return 0.0
	}
	return float64(t.RecordsCreated+t.RecordsUpdated) / float64(t.RecordsTransferred)
}

// DurationSeconds is nil until both start and completion timestamps are set.
func (t *Transfer) DurationSeconds() *float64 {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return nil
	}
	d := t.CompletedAt.Sub(*t.StartedAt).Seconds()
	return &d
}
