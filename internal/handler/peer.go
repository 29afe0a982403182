package handler

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/middleware"
	"github.com/syncbridge/replica-server-go/internal/service"
)

// PeerHandler is the HTTP face of the channel operations: the same reads
// the pub/sub responder serves, behind bearer auth and the same policy
// gate.
type PeerHandler struct {
	connections *service.ConnectionService
	responder   *service.Responder
	auth        func(http.Handler) http.Handler
	rateLimit   func(http.Handler) http.Handler
}

func NewPeerHandler(
	connections *service.ConnectionService,
	responder *service.Responder,
	auth func(http.Handler) http.Handler,
	rateLimit func(http.Handler) http.Handler,
) *PeerHandler {
	return &PeerHandler{
		connections: connections,
		responder:   responder,
		auth:        auth,
		rateLimit:   rateLimit,
	}
}

func (h *PeerHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(h.auth)
	r.Use(h.rateLimit)

	r.Get("/tables", h.Tables)
	r.Get("/schema/{table}", h.Schema)
	r.Get("/count/{table}", h.Count)
	r.Get("/records/{table}", h.Records)

	return r
}

// authorize runs the connection policy gate for the authenticated peer.
func (h *PeerHandler) authorize(w http.ResponseWriter, r *http.Request, table string) bool {
	conn := middleware.GetConnection(r.Context())
	if conn == nil {
		writeError(w, apperrors.Unauthorized("Missing connection"))
		return false
	}
	if err := h.connections.AuthorizeRequest(r.Context(), conn, table, clientIP(r)); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *PeerHandler) Tables(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, "") {
		return
	}

	tables, err := h.responder.Tables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (h *PeerHandler) Schema(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !h.authorize(w, r, table) {
		return
	}

	ts, err := h.responder.Schema(r.Context(), table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *PeerHandler) Count(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !h.authorize(w, r, table) {
		return
	}

	count, err := h.responder.Count(r.Context(), table)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (h *PeerHandler) Records(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !h.authorize(w, r, table) {
		return
	}

	conn := middleware.GetConnection(r.Context())
	offset := queryInt64(r, "offset", 0)
	limit := queryInt(r, "limit", 0)

	page, err := h.responder.Page(r.Context(), conn, table, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
