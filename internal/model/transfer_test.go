package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransferCanStart(t *testing.T) {
	t.Run("pending without approval requirement", func(t *testing.T) {
		tr := Transfer{Status: TransferPending, RequiresApproval: false}
		assert.True(t, tr.CanStart())
	})

	t.Run("pending that requires approval cannot start", func(t *testing.T) {
		tr := Transfer{Status: TransferPending, RequiresApproval: true}
		assert.False(t, tr.CanStart())
	})

	t.Run("approved can start", func(t *testing.T) {
		tr := Transfer{Status: TransferApproved, RequiresApproval: true}
		assert.True(t, tr.CanStart())
	})

	t.Run("no other status can start", func(t *testing.T) {
		for _, s := range []TransferStatus{
			TransferPendingApproval, TransferDenied, TransferInProgress,
			TransferCompleted, TransferFailed, TransferCancelled, TransferExpired,
		} {
			tr := Transfer{Status: s}
			assert.False(t, tr.CanStart(), "status %s", s)
		}
	})
}

func TestTransferTerminal(t *testing.T) {
	terminal := []TransferStatus{
		TransferDenied, TransferCompleted, TransferFailed, TransferCancelled, TransferExpired,
	}
	for _, s := range terminal {
		assert.True(t, (&Transfer{Status: s}).IsTerminal(), "status %s", s)
	}

	active := []TransferStatus{
		TransferPending, TransferPendingApproval, TransferApproved, TransferInProgress,
	}
	for _, s := range active {
		assert.False(t, (&Transfer{Status: s}).IsTerminal(), "status %s", s)
	}
}

func TestTransferSuccessRate(t *testing.T) {
	t.Run("zero when nothing transferred", func(t *testing.T) {
		tr := Transfer{}
		assert.Equal(t, 0.0, tr.SuccessRate())
	})

	t.Run("created and updated count as success", func(t *testing.T) {
		tr := Transfer{RecordsTransferred: 10, RecordsCreated: 6, RecordsUpdated: 2}
		assert.InDelta(t, 0.8, tr.SuccessRate(), 1e-9)
	})
}

func TestTransferDurationSeconds(t *testing.T) {
	t.Run("nil until both timestamps set", func(t *testing.T) {
		tr := Transfer{}
		assert.Nil(t, tr.DurationSeconds())

		started := time.Now()
		tr.StartedAt = &started
		assert.Nil(t, tr.DurationSeconds())
	})

	t.Run("difference in seconds", func(t *testing.T) {
		started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		completed := started.Add(90 * time.Second)
		tr := Transfer{StartedAt: &started, CompletedAt: &completed}
		d := tr.DurationSeconds()
		assert.NotNil(t, d)
		assert.InDelta(t, 90.0, *d, 1e-9)
	})
}
