package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/schema"
	"github.com/syncbridge/replica-server-go/internal/sqlutil"
)

// Channel request types. Every exchange is one request and exactly one
// reply, correlated by ref.
type RequestType string

const (
	RequestTables  RequestType = "tables"
	RequestSchema  RequestType = "schema"
	RequestCount   RequestType = "count"
	RequestRecords RequestType = "records"
)

// Request is the envelope a requester publishes on the peer's request
// channel. Token carries a connection bearer secret, Code a validated
// pairing code; exactly one is set. ReplyTo names the node the reply is
// routed back to, and Origin is the requester's address for the
// responder's IP policy.
type Request struct {
	Ref     string      `json:"ref"`
	Type    RequestType `json:"request_type"`
	Token   string      `json:"token,omitempty"`
	Code    string      `json:"code,omitempty"`
	ReplyTo string      `json:"reply_to"`
	Origin  string      `json:"origin,omitempty"`
	Table   string      `json:"table,omitempty"`
	Offset  int64       `json:"offset,omitempty"`
	Limit   int         `json:"limit,omitempty"`
}

// Credential authenticates a channel exchange. Connection-backed peers set
// Token; session-paired peers set Code.
type Credential struct {
	Token string
	Code  string
}

// Response carries either a payload or an explicit refusal. A denial is
// never an empty payload.
type Response struct {
	Ref         string          `json:"ref"`
	OK          bool            `json:"ok"`
	ErrorCode   string          `json:"error_code,omitempty"`
	ErrorReason string          `json:"error_reason,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// RecordsPage is one page of wire-encoded records plus the continuation
// hint.
type RecordsPage struct {
	Records []map[string]any `json:"records"`
	HasMore bool             `json:"hasMore"`
}

// Transport moves opaque envelopes between this node and a named peer.
// The Redis implementation is the production one; tests use an in-memory
// pair.
type Transport interface {
	SendRequest(ctx context.Context, peer string, data []byte) error
	SendReply(ctx context.Context, peer string, data []byte) error
	Requests(ctx context.Context) (<-chan []byte, error)
	Replies(ctx context.Context) (<-chan []byte, error)
}

// ChannelClient is the requester side: it publishes envelopes and blocks
// each caller on a per-ref rendezvous until the reply arrives or the
// timeout fires.
type ChannelClient struct {
	transport Transport
	nodeName  string
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan Response
}

func NewChannelClient(transport Transport, nodeName string, timeout time.Duration) *ChannelClient {
	return &ChannelClient{
		transport: transport,
		nodeName:  nodeName,
		timeout:   timeout,
		pending:   make(map[string]chan Response),
	}
}

// Run consumes the reply stream and wakes the caller waiting on each ref.
// Replies with no waiter are dropped; the waiter already timed out.
func (c *ChannelClient) Run(ctx context.Context) error {
	replies, err := c.transport.Replies(ctx)
	if err != nil {
		return apperrors.Transport("failed to subscribe to reply channel", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-replies:
			if !ok {
				return nil
			}
			var resp Response
			if err := json.Unmarshal(raw, &resp); err != nil {
				log.Error().Err(err).Msg("malformed channel reply")
				continue
			}
			c.mu.Lock()
			waiter, ok := c.pending[resp.Ref]
			delete(c.pending, resp.Ref)
			c.mu.Unlock()
			if ok {
				waiter <- resp
			}
		}
	}
}

func (c *ChannelClient) call(ctx context.Context, peer string, req Request) (json.RawMessage, error) {
	req.Ref = uuid.NewString()
	req.ReplyTo = c.nodeName

	waiter := make(chan Response, 1)
	c.mu.Lock()
	c.pending[req.Ref] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.Ref)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Internal("failed to marshal channel request").WithCause(err)
	}
	if err := c.transport.SendRequest(ctx, peer, data); err != nil {
		return nil, apperrors.Transport("failed to publish channel request", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, apperrors.Timeout(fmt.Sprintf("%s reply from %s", req.Type, peer))
	case resp := <-waiter:
		if !resp.OK {
			return nil, remoteError(resp)
		}
		return resp.Payload, nil
	}
}

// remoteError rebuilds the responder's refusal as a typed error so the
// caller's retry logic sees the same taxonomy on both nodes.
func remoteError(resp Response) error {
	code := apperrors.ErrorCode(resp.ErrorCode)
	if code == "" {
		code = apperrors.ErrCodeTransport
	}
	reason := resp.ErrorReason
	if reason == "" {
		reason = "remote peer refused the request"
	}
	return apperrors.New(code, reason)
}

func (c *ChannelClient) RequestTables(ctx context.Context, peer string, cred Credential) ([]model.TableInfo, error) {
	payload, err := c.call(ctx, peer, Request{Type: RequestTables, Token: cred.Token, Code: cred.Code})
	if err != nil {
		return nil, err
	}
	var tables []model.TableInfo
	if err := json.Unmarshal(payload, &tables); err != nil {
		return nil, apperrors.Transport("malformed tables payload", err)
	}
	return tables, nil
}

func (c *ChannelClient) RequestSchema(ctx context.Context, peer string, cred Credential, table string) (*model.TableSchema, error) {
	payload, err := c.call(ctx, peer, Request{Type: RequestSchema, Token: cred.Token, Code: cred.Code, Table: table})
	if err != nil {
		return nil, err
	}
	var ts model.TableSchema
	if err := json.Unmarshal(payload, &ts); err != nil {
		return nil, apperrors.Transport("malformed schema payload", err)
	}
	return &ts, nil
}

func (c *ChannelClient) RequestCount(ctx context.Context, peer string, cred Credential, table string) (int64, error) {
	payload, err := c.call(ctx, peer, Request{Type: RequestCount, Token: cred.Token, Code: cred.Code, Table: table})
	if err != nil {
		return 0, err
	}
	var count struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(payload, &count); err != nil {
		return 0, apperrors.Transport("malformed count payload", err)
	}
	return count.Count, nil
}

func (c *ChannelClient) RequestRecords(ctx context.Context, peer string, cred Credential, table string, offset int64, limit int) (*RecordsPage, error) {
	payload, err := c.call(ctx, peer, Request{
		Type:   RequestRecords,
		Token:  cred.Token,
		Code:   cred.Code,
		Table:  table,
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	var page RecordsPage
	if err := json.Unmarshal(payload, &page); err != nil {
		return nil, apperrors.Transport("malformed records payload", err)
	}
	return &page, nil
}

// rowQuerier is satisfied by *sqlx.DB and *sqlx.Tx.
type rowQuerier interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

// Responder is the sender side: it answers channel requests for this node,
// running every request through the connection policy gate first.
type Responder struct {
	transport   Transport
	db          rowQuerier
	inspector   *schema.Inspector
	connections *ConnectionService
	sessions    *SessionBroker
	pageSize    int
}

func NewResponder(transport Transport, db rowQuerier, inspector *schema.Inspector, connections *ConnectionService, sessions *SessionBroker, pageSize int) *Responder {
	return &Responder{
		transport:   transport,
		db:          db,
		inspector:   inspector,
		connections: connections,
		sessions:    sessions,
		pageSize:    pageSize,
	}
}

// Run consumes the request stream until the context is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	requests, err := r.transport.Requests(ctx)
	if err != nil {
		return apperrors.Transport("failed to subscribe to request channel", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-requests:
			if !ok {
				return nil
			}
			r.handle(ctx, raw)
		}
	}
}

func (r *Responder) handle(ctx context.Context, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Error().Err(err).Msg("malformed channel request")
		return
	}

	payload, err := r.answer(ctx, req)

	resp := Response{Ref: req.Ref, OK: err == nil, Payload: payload}
	if err != nil {
		resp.ErrorCode = string(apperrors.GetCode(err))
		resp.ErrorReason = errorMessage(err)
		log.Warn().
			Str("ref", req.Ref).
			Str("requestType", string(req.Type)).
			Str("table", req.Table).
			Str("errorCode", resp.ErrorCode).
			Msg("channel request refused")
	}

	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal channel reply")
		return
	}
	if err := r.transport.SendReply(ctx, req.ReplyTo, data); err != nil {
		log.Error().Err(err).Str("ref", req.Ref).Msg("failed to publish channel reply")
	}
}

func errorMessage(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}

func (r *Responder) answer(ctx context.Context, req Request) (json.RawMessage, error) {
	// Session-paired requests carry a pairing code instead of a connection
	// secret; they skip connection policy but die with the owning session.
	var conn *model.Connection
	if req.Code != "" {
		if err := r.authorizeSession(req.Code); err != nil {
			return nil, err
		}
	} else {
		var err error
		conn, err = r.connections.VerifyToken(ctx, req.Token)
		if err != nil {
			return nil, err
		}
		if err := r.connections.AuthorizeRequest(ctx, conn, req.Table, req.Origin); err != nil {
			return nil, err
		}
	}

	switch req.Type {
	case RequestTables:
		tables, err := r.Tables(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(tables)

	case RequestSchema:
		ts, err := r.Schema(ctx, req.Table)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ts)

	case RequestCount:
		count, err := r.Count(ctx, req.Table)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]int64{"count": count})

	case RequestRecords:
		page, err := r.Page(ctx, conn, req.Table, req.Offset, req.Limit)
		if err != nil {
			return nil, err
		}
		return json.Marshal(page)
	}

	return nil, apperrors.InvalidInput("request_type", string(req.Type))
}

// authorizeSession admits a pairing-code request. A dead or unknown code
// fails fast; a code that never completed validation is refused outright.
func (r *Responder) authorizeSession(code string) error {
	if r.sessions == nil {
		return apperrors.InvalidCode()
	}
	session := r.sessions.Get(code)
	if session == nil {
		return apperrors.InvalidCode()
	}
	if session.Status != model.SessionConnected {
		return apperrors.PolicyDenied("Pairing session has not been validated")
	}
	return nil
}

// Tables lists the replicable tables this node exposes.
func (r *Responder) Tables(ctx context.Context) ([]model.TableInfo, error) {
	tables, err := r.inspector.ListTables(ctx, schema.ListOptions{})
	if err != nil {
		return nil, err
	}
	return tables, nil
}

func (r *Responder) Schema(ctx context.Context, table string) (*model.TableSchema, error) {
	return r.inspector.GetSchema(ctx, table)
}

func (r *Responder) Count(ctx context.Context, table string) (int64, error) {
	return r.inspector.LocalCount(ctx, table)
}

// Page reads one page, wire-encodes it, and charges the connection's quota
// atomically before the records leave this node. A nil conn is a
// session-paired request: no per-connection cap and no quota to charge.
func (r *Responder) Page(ctx context.Context, conn *model.Connection, table string, offset int64, reqLimit int) (*RecordsPage, error) {
	limit := reqLimit
	if limit <= 0 || limit > r.pageSize {
		limit = r.pageSize
	}
	if conn != nil && conn.MaxRecordsPerRequest != nil && limit > *conn.MaxRecordsPerRequest {
		limit = *conn.MaxRecordsPerRequest
	}

	query, err := r.pageQuery(ctx, table)
	if err != nil {
		return nil, err
	}

	// Fetch one extra row to learn whether another page follows.
	rows, err := r.db.QueryxContext(ctx, query, limit+1, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	defer rows.Close()

	records := make([]map[string]any, 0, limit)
	var bytes int64
	for rows.Next() {
		record := map[string]any{}
		if err := rows.MapScan(record); err != nil {
			return nil, apperrors.Database(err)
		}
		records = append(records, sqlutil.EncodeWireRecord(record))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database(err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	for _, record := range records {
		if data, err := json.Marshal(record); err == nil {
			bytes += int64(len(data))
		}
	}

	if conn != nil {
		if err := r.connections.ConsumeQuota(ctx, conn.ID, int64(len(records)), bytes); err != nil {
			return nil, err
		}
	}

	return &RecordsPage{Records: records, HasMore: hasMore}, nil
}

// pageQuery builds the stable-ordered page SELECT. Ordering by the primary
// key keeps offset pagination deterministic.
func (r *Responder) pageQuery(ctx context.Context, table string) (string, error) {
	ident, err := sqlutil.EscapeIdentifier(table)
	if err != nil {
		return "", err
	}

	pkCols, err := r.inspector.GetPrimaryKey(ctx, table)
	if err != nil {
		return "", err
	}

	orderBy := ""
	if len(pkCols) > 0 {
		escaped := make([]string, 0, len(pkCols))
		for _, col := range pkCols {
			id, err := sqlutil.EscapeIdentifier(col)
			if err != nil {
				return "", err
			}
			escaped = append(escaped, id)
		}
		orderBy = " ORDER BY " + strings.Join(escaped, ", ")
	}

	return fmt.Sprintf("SELECT * FROM %s%s LIMIT $1 OFFSET $2", ident, orderBy), nil
}
