package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/service"
)

func newSessionOnlyHandler() *AdminHandler {
	// Session routes never touch the database; the other services can
	// stay nil for these tests.
	return NewAdminHandler(nil, nil, service.NewSessionBroker())
}

func TestSessionEndpoints(t *testing.T) {
	handler := newSessionOnlyHandler()
	router := handler.Routes()

	t.Run("create returns a session with a code", func(t *testing.T) {
		body := strings.NewReader(`{"direction": "send"}`)
		req := httptest.NewRequest(http.MethodPost, "/sessions", body)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var session model.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
		assert.Len(t, session.Code, 8)
		assert.Equal(t, model.TransferSend, session.Direction)
	})

	t.Run("create rejects invalid direction", func(t *testing.T) {
		body := strings.NewReader(`{"direction": "sideways"}`)
		req := httptest.NewRequest(http.MethodPost, "/sessions", body)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validate consumes the code exactly once", func(t *testing.T) {
		createReq := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"direction": "receive"}`))
		createRec := httptest.NewRecorder()
		router.ServeHTTP(createRec, createReq)
		require.Equal(t, http.StatusCreated, createRec.Code)

		var session model.Session
		require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &session))

		validate := func() *httptest.ResponseRecorder {
			body := strings.NewReader(`{"code": "` + session.Code + `"}`)
			req := httptest.NewRequest(http.MethodPost, "/sessions/validate", body)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			return rec
		}

		first := validate()
		assert.Equal(t, http.StatusOK, first.Code)

		second := validate()
		assert.Equal(t, http.StatusConflict, second.Code)
		assert.Contains(t, second.Body.String(), "ALREADY_USED")
	})

	t.Run("validate rejects unknown code", func(t *testing.T) {
		body := strings.NewReader(`{"code": "ZZZZZZZZ"}`)
		req := httptest.NewRequest(http.MethodPost, "/sessions/validate", body)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_CODE")
	})

	t.Run("validate requires a code", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sessions/validate", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "MISSING_REQUIRED")
	})

	t.Run("get unknown session returns 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sessions/NOPE1234", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/sessions/NOPE1234", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCreateConnectionRejectsInvalidJSON(t *testing.T) {
	handler := newSessionOnlyHandler()
	req := httptest.NewRequest(http.MethodPost, "/connections", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestRequestTransferRejectsInvalidJSON(t *testing.T) {
	handler := newSessionOnlyHandler()
	req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(``))
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryHelpers(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected int64
	}{
		{name: "present", url: "/?limit=25", expected: 25},
		{name: "missing falls back", url: "/", expected: 50},
		{name: "garbage falls back", url: "/?limit=abc", expected: 50},
		{name: "negative falls back", url: "/?limit=-3", expected: 50},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			assert.Equal(t, tc.expected, queryInt64(req, "limit", 50))
		})
	}
}
