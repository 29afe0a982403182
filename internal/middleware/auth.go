package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/service"
)

type contextKey string

const ConnectionContextKey contextKey = "connection"

// GetConnection returns the authenticated peer connection, or nil outside
// the peer API.
func GetConnection(ctx context.Context) *model.Connection {
	if conn, ok := ctx.Value(ConnectionContextKey).(*model.Connection); ok {
		return conn
	}
	return nil
}

// PeerAuthMiddleware resolves the bearer secret a remote peer presents to
// its connection record and rejects everything else.
type PeerAuthMiddleware struct {
	connections *service.ConnectionService
}

func NewPeerAuthMiddleware(connections *service.ConnectionService) *PeerAuthMiddleware {
	return &PeerAuthMiddleware{connections: connections}
}

func (m *PeerAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing connection token"))
			return
		}

		conn, err := m.connections.VerifyToken(r.Context(), token)
		if err != nil {
			if apperrors.GetCode(err) != apperrors.ErrCodeInvalidToken {
				log.Error().Err(err).Msg("peer auth: token lookup failed")
			} else {
				log.Warn().Msg("peer auth: invalid token attempt")
			}
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), ConnectionContextKey, conn)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
