package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/syncbridge/replica-server-go/internal/config"
)

// Sweeper is any store that can transition its overdue rows. Both sweeps
// are conditional updates, so concurrent runs are harmless.
type approvalSweeper interface {
	ExpirePendingApprovals(ctx context.Context) (int64, error)
}

type connectionSweeper interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

type sessionSweeper interface {
	PurgeStale(maxAge time.Duration) int
}

// SweepJob periodically expires overdue approval requests, past-expiry
// connections, and stale pairing sessions.
type SweepJob struct {
	transfers   approvalSweeper
	connections connectionSweeper
	sessions    sessionSweeper
	interval    time.Duration
	done        chan struct{}
}

func NewSweepJob(transfers approvalSweeper, connections connectionSweeper, sessions sessionSweeper, interval time.Duration) *SweepJob {
	return &SweepJob{
		transfers:   transfers,
		connections: connections,
		sessions:    sessions,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("sweep job started")
}

func (j *SweepJob) Stop() {
	close(j.done)
	log.Info().Msg("sweep job stopped")
}

func (j *SweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *SweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runSweep(ctx, "pending approvals", j.transfers.ExpirePendingApprovals)
	j.runSweep(ctx, "connections", j.connections.ExpireOverdue)
	j.runSweep(ctx, "pairing sessions", func(context.Context) (int64, error) {
		return int64(j.sessions.PurgeStale(config.PairingSessionMaxAge)), nil
	})
}

func (j *SweepJob) runSweep(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to sweep %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("expired overdue %s", name)
	}
}
