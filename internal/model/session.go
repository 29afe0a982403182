package model

import (
	"encoding/json"
	"time"
)

// Session is an ephemeral pairing-code record. It lives only in the broker's
// in-memory table and dies with the owning process; there is no persistence.
type Session struct {
	Code         string            `json:"code"`
	Direction    TransferDirection `json:"direction"`
	Status       SessionStatus     `json:"status"`
	SenderInfo   json.RawMessage   `json:"senderInfo,omitempty"`
	ReceiverInfo json.RawMessage   `json:"receiverInfo,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	ConnectedAt  *time.Time        `json:"connectedAt,omitempty"`
}
