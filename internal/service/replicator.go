package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/importer"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/schema"
)

const (
	pageRetries    = 3
	pageRetryDelay = 2 * time.Second
)

// Peer identifies the remote node a transfer pulls from. Token carries a
// connection secret; SessionCode a pairing code for session-paired pulls.
type Peer struct {
	NodeName    string
	Token       string
	SessionCode string
}

func (p Peer) credential() Credential {
	return Credential{Token: p.Token, Code: p.SessionCode}
}

// RemoteReader is the slice of the channel protocol the pull loop needs.
// *ChannelClient satisfies it.
type RemoteReader interface {
	RequestSchema(ctx context.Context, peer string, cred Credential, table string) (*model.TableSchema, error)
	RequestCount(ctx context.Context, peer string, cred Credential, table string) (int64, error)
	RequestRecords(ctx context.Context, peer string, cred Credential, table string, offset int64, limit int) (*RecordsPage, error)
}

// Replicator drives receive transfers: fetch a page from the sender, import
// it, record progress, repeat. One goroutine per transfer; pages within a
// transfer are strictly sequential so memory stays bounded at one page.
type Replicator struct {
	transfers  *TransferService
	client     RemoteReader
	inspector  *schema.Inspector
	importer   *importer.Engine
	pageSize   int
	retryDelay time.Duration
}

func NewReplicator(
	transfers *TransferService,
	client RemoteReader,
	inspector *schema.Inspector,
	engine *importer.Engine,
	pageSize int,
) *Replicator {
	return &Replicator{
		transfers:  transfers,
		client:     client,
		inspector:  inspector,
		importer:   engine,
		pageSize:   pageSize,
		retryDelay: pageRetryDelay,
	}
}

// Run executes one transfer end to end and records its terminal outcome.
// Cancellation is cooperative: the in-flight page finishes, then the loop
// stops.
func (r *Replicator) Run(ctx context.Context, transferID string, peer Peer) error {
	transfer, err := r.transfers.Start(ctx, transferID)
	if err != nil {
		return err
	}

	if err := r.pull(ctx, transfer, peer); err != nil {
		// A cancelled transfer is already terminal; only real failures
		// are recorded as failed.
		if apperrors.GetCode(err) != apperrors.ErrCodeTerminalState {
			if failErr := r.transfers.Fail(ctx, transferID, err.Error()); failErr != nil {
				log.Error().Err(failErr).Str("transferId", transferID).Msg("failed to record transfer failure")
			}
		}
		return err
	}

	return r.transfers.Complete(ctx, transferID)
}

func (r *Replicator) pull(ctx context.Context, transfer *model.Transfer, peer Peer) error {
	table := transfer.TableName

	if err := r.ensureTable(ctx, peer, table); err != nil {
		return err
	}

	remoteCount, err := r.client.RequestCount(ctx, peer.NodeName, peer.credential(), table)
	if err != nil {
		return err
	}

	var offset int64
	for {
		if err := r.checkCancelled(ctx, transfer.ID); err != nil {
			return err
		}

		page, err := r.fetchPageWithRetry(ctx, peer, table, offset)
		if err != nil {
			return err
		}
		if len(page.Records) == 0 {
			break
		}

		result, err := r.importer.ImportRecords(ctx, table, page.Records, transfer.Strategy)
		if err != nil {
			return err
		}

		if err := r.transfers.UpdateProgress(ctx, transfer.ID, model.ProgressDelta{
			Transferred: int64(len(page.Records)),
			Created:     int64(result.Created),
			Updated:     int64(result.Updated),
			Skipped:     int64(result.Skipped),
			Failed:      int64(len(result.Errors)),
			Bytes:       pageBytes(page.Records),
		}); err != nil {
			return err
		}

		offset += int64(len(page.Records))
		if !page.HasMore {
			break
		}
	}

	r.reconcile(ctx, transfer.ID, table, remoteCount)
	return nil
}

// ensureTable creates the local table from the sender's schema description
// when it does not exist yet.
func (r *Replicator) ensureTable(ctx context.Context, peer Peer, table string) error {
	exists, err := r.inspector.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	remoteSchema, err := r.client.RequestSchema(ctx, peer.NodeName, peer.credential(), table)
	if err != nil {
		return err
	}
	return r.inspector.CreateTable(ctx, remoteSchema)
}

// fetchPageWithRetry retries transient transport failures; anything else
// fails the transfer immediately.
func (r *Replicator) fetchPageWithRetry(ctx context.Context, peer Peer, table string, offset int64) (*RecordsPage, error) {
	var lastErr error
	for attempt := 0; attempt < pageRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}

		page, err := r.client.RequestRecords(ctx, peer.NodeName, peer.credential(), table, offset, r.pageSize)
		if err == nil {
			return page, nil
		}
		if !apperrors.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		log.Warn().
			Err(err).
			Str("table", table).
			Int64("offset", offset).
			Int("attempt", attempt+1).
			Msg("page fetch failed, retrying")
	}
	return nil, lastErr
}

// checkCancelled stops the loop between pages when the transfer was
// cancelled out from under it.
func (r *Replicator) checkCancelled(ctx context.Context, transferID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	transfer, err := r.transfers.Get(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Status == model.TransferCancelled {
		return apperrors.TerminalState(string(transfer.Status))
	}
	return nil
}

// reconcile compares the local row count against the count the sender
// reported at the start. A mismatch is logged, not fatal: skip strategies
// legitimately leave the counts apart.
func (r *Replicator) reconcile(ctx context.Context, transferID, table string, remoteCount int64) {
	localCount, err := r.inspector.LocalCount(ctx, table)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("count reconciliation failed")
		return
	}

	event := log.Info()
	if localCount != remoteCount {
		event = log.Warn()
	}
	event.
		Str("transferId", transferID).
		Str("table", table).
		Int64("localCount", localCount).
		Int64("remoteCount", remoteCount).
		Msg("transfer count reconciliation")
}

func pageBytes(records []map[string]any) int64 {
	var total int64
	for _, record := range records {
		if data, err := json.Marshal(record); err == nil {
			total += int64(len(data))
		}
	}
	return total
}
