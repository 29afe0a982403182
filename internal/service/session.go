package service

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/syncbridge/replica-server-go/internal/config"
	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/util"
)

type sessionEntry struct {
	session model.Session
	// owner is closed when the creating process goes away; the entry
	// becomes unusable at that instant and is removed.
	owner <-chan struct{}
}

// SessionBroker holds the ephemeral pairing codes for ad-hoc transfers.
// Sessions live only in this process: a code's lifetime is bounded by the
// owner that requested it, and nothing survives a restart.
type SessionBroker struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

func NewSessionBroker() *SessionBroker {
	return &SessionBroker{
		sessions: make(map[string]*sessionEntry),
	}
}

// CreateSession mints a fresh pairing code tied to the owner channel. When
// the owner channel closes, the code is torn down and any later validation
// reports invalid_code.
func (b *SessionBroker) CreateSession(direction model.TransferDirection, owner <-chan struct{}) (*model.Session, error) {
	if !direction.Valid() {
		return nil, apperrors.InvalidInput("direction", string(direction))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var code string
	for attempts := 0; attempts < 10; attempts++ {
		code = generatePairingCode()
		if _, taken := b.sessions[code]; !taken {
			break
		}
	}
	if _, taken := b.sessions[code]; taken {
		return nil, apperrors.Internal("failed to allocate a unique pairing code")
	}

	entry := &sessionEntry{
		session: model.Session{
			Code:      code,
			Direction: direction,
			Status:    model.SessionPending,
			CreatedAt: time.Now(),
		},
		owner: owner,
	}
	b.sessions[code] = entry

	if owner != nil {
		go func() {
			<-owner
			b.Delete(code)
		}()
	}

	log.Info().
		Str("code", util.MaskCode(code)).
		Str("direction", string(direction)).
		Msg("pairing session created")

	session := entry.session
	return &session, nil
}

func ownerDead(owner <-chan struct{}) bool {
	if owner == nil {
		return false
	}
	select {
	case <-owner:
		return true
	default:
		return false
	}
}

// ValidateCode consumes a pairing code: the pending -> connected transition
// happens exactly once. A dead owner or unknown code is invalid_code; a
// second validation of the same code is already_used.
func (b *SessionBroker) ValidateCode(code string) (*model.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.sessions[code]
	if !ok || ownerDead(entry.owner) {
		return nil, apperrors.InvalidCode()
	}
	if entry.session.Status == model.SessionConnected {
		return nil, apperrors.AlreadyUsed()
	}

	now := time.Now()
	entry.session.Status = model.SessionConnected
	entry.session.ConnectedAt = &now

	log.Info().Str("code", util.MaskCode(code)).Msg("pairing code connected")

	session := entry.session
	return &session, nil
}

// Get returns a snapshot of the session, or nil if the code is unknown.
func (b *SessionBroker) Get(code string) *model.Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.sessions[code]
	if !ok || ownerDead(entry.owner) {
		return nil
	}
	session := entry.session
	return &session
}

// Update sets the opaque peer descriptors. Only the owning process calls
// this; the broker does not arbitrate concurrent owners for one code.
func (b *SessionBroker) Update(code string, senderInfo, receiverInfo json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.sessions[code]
	if !ok {
		return apperrors.InvalidCode()
	}
	if senderInfo != nil {
		entry.session.SenderInfo = senderInfo
	}
	if receiverInfo != nil {
		entry.session.ReceiverInfo = receiverInfo
	}
	return nil
}

func (b *SessionBroker) Delete(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, code)
}

// PurgeStale drops sessions whose owner is gone or whose code has outlived
// maxAge. Returns how many were removed.
func (b *SessionBroker) PurgeStale(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for code, entry := range b.sessions {
		if ownerDead(entry.owner) || entry.session.CreatedAt.Before(cutoff) {
			delete(b.sessions, code)
			removed++
		}
	}
	return removed
}

func (b *SessionBroker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func generatePairingCode() string {
	chars := []byte(config.PairingCodeAlphabet)
	code := make([]byte, config.PairingCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		code[i] = chars[n.Int64()]
	}
	return string(code)
}
