package model

// Direction says which role the remote peer plays in a connection:
// a "sender" connection is one we pull data from, a "receiver" is one
// that pulls data from us.
type Direction string

const (
	DirectionSender   Direction = "sender"
	DirectionReceiver Direction = "receiver"
)

func (d Direction) Valid() bool {
	return d == DirectionSender || d == DirectionReceiver
}

type ConnectionStatus string

const (
	ConnectionPending   ConnectionStatus = "pending"
	ConnectionActive    ConnectionStatus = "active"
	ConnectionSuspended ConnectionStatus = "suspended"
	ConnectionRevoked   ConnectionStatus = "revoked"
	ConnectionExpired   ConnectionStatus = "expired"
)

func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionPending, ConnectionActive, ConnectionSuspended, ConnectionRevoked, ConnectionExpired:
		return true
	}
	return false
}

// Terminal connection statuses permit no further transfers, ever.
func (s ConnectionStatus) Terminal() bool {
	return s == ConnectionRevoked || s == ConnectionExpired
}

type ApprovalMode string

const (
	ApprovalAuto     ApprovalMode = "auto_approve"
	ApprovalRequired ApprovalMode = "require_approval"
	ApprovalPerTable ApprovalMode = "per_table"
)

func (m ApprovalMode) Valid() bool {
	switch m {
	case ApprovalAuto, ApprovalRequired, ApprovalPerTable:
		return true
	}
	return false
}

// ConflictStrategy is the rule for resolving a primary-key collision
// during import.
type ConflictStrategy string

const (
	StrategySkip      ConflictStrategy = "skip"
	StrategyOverwrite ConflictStrategy = "overwrite"
	StrategyMerge     ConflictStrategy = "merge"
	StrategyAppend    ConflictStrategy = "append"
)

func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategySkip, StrategyOverwrite, StrategyMerge, StrategyAppend:
		return true
	}
	return false
}

type TransferDirection string

const (
	TransferSend    TransferDirection = "send"
	TransferReceive TransferDirection = "receive"
)

func (d TransferDirection) Valid() bool {
	return d == TransferSend || d == TransferReceive
}

type TransferStatus string

const (
	TransferPending         TransferStatus = "pending"
	TransferPendingApproval TransferStatus = "pending_approval"
	TransferApproved        TransferStatus = "approved"
	TransferDenied          TransferStatus = "denied"
	TransferInProgress      TransferStatus = "in_progress"
	TransferCompleted       TransferStatus = "completed"
	TransferFailed          TransferStatus = "failed"
	TransferCancelled       TransferStatus = "cancelled"
	TransferExpired         TransferStatus = "expired"
)

func (s TransferStatus) Valid() bool {
	switch s {
	case TransferPending, TransferPendingApproval, TransferApproved, TransferDenied,
		TransferInProgress, TransferCompleted, TransferFailed, TransferCancelled, TransferExpired:
		return true
	}
	return false
}

func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferDenied, TransferCompleted, TransferFailed, TransferCancelled, TransferExpired:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionConnected SessionStatus = "connected"
)
