package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/schema"
	"github.com/syncbridge/replica-server-go/internal/util"
)

// memoryNetwork wires transports together in-process so protocol tests run
// without Redis.
type memoryNetwork struct {
	mu    sync.Mutex
	nodes map[string]*memoryTransport
}

func newMemoryNetwork() *memoryNetwork {
	return &memoryNetwork{nodes: map[string]*memoryTransport{}}
}

func (n *memoryNetwork) node(name string) *memoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.nodes[name]; ok {
		return t
	}
	t := &memoryTransport{
		net:      n,
		requests: make(chan []byte, 16),
		replies:  make(chan []byte, 16),
	}
	n.nodes[name] = t
	return t
}

type memoryTransport struct {
	net      *memoryNetwork
	requests chan []byte
	replies  chan []byte
}

func (t *memoryTransport) SendRequest(ctx context.Context, peer string, data []byte) error {
	t.net.node(peer).requests <- data
	return nil
}

func (t *memoryTransport) SendReply(ctx context.Context, peer string, data []byte) error {
	t.net.node(peer).replies <- data
	return nil
}

func (t *memoryTransport) Requests(ctx context.Context) (<-chan []byte, error) {
	return t.requests, nil
}

func (t *memoryTransport) Replies(ctx context.Context) (<-chan []byte, error) {
	return t.replies, nil
}

// channelFixture runs a requester on "alpha" and a full responder on "beta"
// backed by sqlmock.
type channelFixture struct {
	client   *ChannelClient
	mock     sqlmock.Sqlmock
	token    string
	sessions *SessionBroker
}

func newChannelFixture(t *testing.T) *channelFixture {
	t.Helper()

	db, dbMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	token, err := util.GenerateToken()
	require.NoError(t, err)
	conn := &model.Connection{
		ID:           "conn-1",
		Status:       model.ConnectionActive,
		TokenHash:    util.HashToken(token),
		ApprovalMode: model.ApprovalAuto,
	}

	connRepo := new(mockConnectionRepo)
	connRepo.On("FindByTokenHash", mock.Anything, conn.TokenHash).Return(conn, nil)
	connRepo.On("FindByTokenHash", mock.Anything, mock.Anything).Return(nil, nil)
	connRepo.On("ConsumeQuota", mock.Anything, "conn-1", 1, mock.Anything, mock.Anything).
		Return(true, nil)

	net := newMemoryNetwork()
	sessions := NewSessionBroker()
	client := NewChannelClient(net.node("alpha"), "alpha", time.Second)
	responder := NewResponder(
		net.node("beta"),
		sqlxDB,
		schema.NewInspector(sqlxDB),
		NewConnectionService(connRepo, newMockSettings()),
		sessions,
		100,
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Run(ctx)
	go responder.Run(ctx)

	return &channelFixture{client: client, mock: dbMock, token: token, sessions: sessions}
}

func tokenCred(token string) Credential {
	return Credential{Token: token}
}

func TestChannelRequestCount(t *testing.T) {
	f := newChannelFixture(t)

	f.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM products`).WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(42),
	)

	count, err := f.client.RequestCount(context.Background(), "beta", tokenCred(f.token), "products")
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestChannelRequestRecords(t *testing.T) {
	f := newChannelFixture(t)

	f.mock.ExpectQuery(`SELECT a\.attname`).WillReturnRows(
		sqlmock.NewRows([]string{"attname"}).AddRow("id"),
	)
	// Two rows requested; a third row signals another page.
	f.mock.ExpectQuery(`SELECT \* FROM products ORDER BY id LIMIT \$1 OFFSET \$2`).
		WithArgs(3, int64(0)).
		WillReturnRows(
			sqlmock.NewRows([]string{"id", "name"}).
				AddRow(1, "widget").
				AddRow(2, "gadget").
				AddRow(3, "gizmo"),
		)

	page, err := f.client.RequestRecords(context.Background(), "beta", tokenCred(f.token), "products", 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "widget", page.Records[0]["name"])
}

func TestChannelSessionCodeCount(t *testing.T) {
	f := newChannelFixture(t)

	owner := make(chan struct{})
	t.Cleanup(func() { close(owner) })
	session, err := f.sessions.CreateSession(model.TransferSend, owner)
	require.NoError(t, err)
	_, err = f.sessions.ValidateCode(session.Code)
	require.NoError(t, err)

	f.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM products`).WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(7),
	)

	count, err := f.client.RequestCount(context.Background(), "beta", Credential{Code: session.Code}, "products")
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

func TestChannelSessionCodeUnvalidated(t *testing.T) {
	f := newChannelFixture(t)

	owner := make(chan struct{})
	t.Cleanup(func() { close(owner) })
	session, err := f.sessions.CreateSession(model.TransferSend, owner)
	require.NoError(t, err)

	// Nobody entered the code yet, so the responder must refuse it.
	_, err = f.client.RequestCount(context.Background(), "beta", Credential{Code: session.Code}, "products")
	assert.Equal(t, apperrors.ErrCodePolicyDenied, apperrors.GetCode(err))
}

func TestChannelSessionCodeDeadOwner(t *testing.T) {
	f := newChannelFixture(t)

	owner := make(chan struct{})
	session, err := f.sessions.CreateSession(model.TransferSend, owner)
	require.NoError(t, err)
	_, err = f.sessions.ValidateCode(session.Code)
	require.NoError(t, err)

	// The owning pairing exchange went away; its code dies with it.
	close(owner)

	_, err = f.client.RequestCount(context.Background(), "beta", Credential{Code: session.Code}, "products")
	assert.Equal(t, apperrors.ErrCodeInvalidCode, apperrors.GetCode(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestChannelInvalidToken(t *testing.T) {
	f := newChannelFixture(t)

	_, err := f.client.RequestCount(context.Background(), "beta", tokenCred("wrong-token"), "products")
	assert.Equal(t, apperrors.ErrCodeInvalidToken, apperrors.GetCode(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestChannelTimeout(t *testing.T) {
	net := newMemoryNetwork()
	client := NewChannelClient(net.node("alpha"), "alpha", 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	// Nobody is listening on "ghost", so the call must time out.
	_, err := client.RequestTables(ctx, "ghost", tokenCred("token"))
	assert.Equal(t, apperrors.ErrCodeTimeout, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestChannelRemoteRefusalIsTyped(t *testing.T) {
	net := newMemoryNetwork()
	client := NewChannelClient(net.node("alpha"), "alpha", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	// A hand-rolled peer that refuses everything with a policy denial.
	go func() {
		requests, _ := net.node("beta").Requests(ctx)
		for raw := range requests {
			var req Request
			if json.Unmarshal(raw, &req) != nil {
				continue
			}
			resp := Response{
				Ref:         req.Ref,
				OK:          false,
				ErrorCode:   string(apperrors.ErrCodePolicyDenied),
				ErrorReason: "Table is not allowed for this connection",
			}
			data, _ := json.Marshal(resp)
			net.node("beta").SendReply(ctx, req.ReplyTo, data)
		}
	}()

	_, err := client.RequestSchema(ctx, "beta", tokenCred("token"), "secrets")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePolicyDenied, apperrors.GetCode(err))
	assert.Contains(t, err.Error(), "not allowed")
}
