package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/service"
)

func TestStartTransferValidation(t *testing.T) {
	handler := NewTransferRunHandler(nil, nil)
	router := handler.Routes()

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "missing peer node", body: `{"peerToken": "secret"}`, wantCode: "MISSING_REQUIRED"},
		{name: "invalid JSON", body: `{broken`, wantCode: "VALIDATION_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/t-1/start", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.wantCode)
		})
	}
}

func TestResolvePeer(t *testing.T) {
	code := "ABCD2345"

	t.Run("connection transfer uses bearer token", func(t *testing.T) {
		peer, err := resolvePeer(&model.Transfer{}, startTransferRequest{
			PeerNode: "alpha", PeerToken: "secret",
		})
		require.NoError(t, err)
		assert.Equal(t, service.Peer{NodeName: "alpha", Token: "secret"}, peer)
	})

	t.Run("connection transfer without token is refused", func(t *testing.T) {
		_, err := resolvePeer(&model.Transfer{}, startTransferRequest{PeerNode: "alpha"})
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
	})

	t.Run("session transfer authenticates with its pairing code", func(t *testing.T) {
		peer, err := resolvePeer(
			&model.Transfer{SessionCode: &code},
			startTransferRequest{PeerNode: "alpha"},
		)
		require.NoError(t, err)
		assert.Equal(t, service.Peer{NodeName: "alpha", SessionCode: code}, peer)
	})
}
