package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/service"
)

// AdminHandler is the operator-facing API: managing connections, approving
// transfers, and minting pairing sessions.
type AdminHandler struct {
	connections *service.ConnectionService
	transfers   *service.TransferService
	sessions    *service.SessionBroker
}

func NewAdminHandler(
	connections *service.ConnectionService,
	transfers *service.TransferService,
	sessions *service.SessionBroker,
) *AdminHandler {
	return &AdminHandler{
		connections: connections,
		transfers:   transfers,
		sessions:    sessions,
	}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/connections", h.ListConnections)
	r.Post("/connections", h.CreateConnection)
	r.Get("/connections/{id}", h.GetConnection)
	r.Get("/connections/{id}/transfers", h.ListConnectionTransfers)
	r.Post("/connections/{id}/approve", h.ApproveConnection)
	r.Post("/connections/{id}/suspend", h.SuspendConnection)
	r.Post("/connections/{id}/reactivate", h.ReactivateConnection)
	r.Post("/connections/{id}/revoke", h.RevokeConnection)

	r.Get("/transfers", h.ListTransfers)
	r.Post("/transfers", h.RequestTransfer)
	r.Get("/transfers/{id}", h.GetTransfer)
	r.Post("/transfers/{id}/approve", h.ApproveTransfer)
	r.Post("/transfers/{id}/deny", h.DenyTransfer)
	r.Post("/transfers/{id}/cancel", h.CancelTransfer)

	r.Post("/sessions", h.CreateSession)
	r.Post("/sessions/validate", h.ValidateSession)
	r.Get("/sessions/{code}", h.GetSession)
	r.Put("/sessions/{code}", h.UpdateSession)
	r.Delete("/sessions/{code}", h.DeleteSession)

	return r
}

type createConnectionRequest struct {
	Name                 string                 `json:"name"`
	RemoteSiteURL        string                 `json:"remoteSiteUrl"`
	Direction            model.Direction        `json:"direction"`
	DownloadPassword     string                 `json:"downloadPassword,omitempty"`
	ApprovalMode         model.ApprovalMode     `json:"approvalMode"`
	AutoApproveTables    []string               `json:"autoApproveTables,omitempty"`
	AllowedTables        []string               `json:"allowedTables,omitempty"`
	ExcludedTables       []string               `json:"excludedTables,omitempty"`
	DefaultStrategy      model.ConflictStrategy `json:"defaultStrategy"`
	MaxDownloads         *int                   `json:"maxDownloads,omitempty"`
	MaxRecordsTotal      *int64                 `json:"maxRecordsTotal,omitempty"`
	MaxRecordsPerRequest *int                   `json:"maxRecordsPerRequest,omitempty"`
	RateLimitPerMin      *int                   `json:"rateLimitPerMin,omitempty"`
	SyncIntervalMinutes  *int                   `json:"syncIntervalMinutes,omitempty"`
	ExpiresAt            *time.Time             `json:"expiresAt,omitempty"`
	AllowedHourStart     *int                   `json:"allowedHourStart,omitempty"`
	AllowedHourEnd       *int                   `json:"allowedHourEnd,omitempty"`
	AllowedIPs           []string               `json:"allowedIps,omitempty"`
}

func (h *AdminHandler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}

	conn, token, err := h.connections.Create(r.Context(), service.CreateConnectionInput{
		Name:                 req.Name,
		RemoteSiteURL:        req.RemoteSiteURL,
		Direction:            req.Direction,
		DownloadPassword:     req.DownloadPassword,
		ApprovalMode:         req.ApprovalMode,
		AutoApproveTables:    req.AutoApproveTables,
		AllowedTables:        req.AllowedTables,
		ExcludedTables:       req.ExcludedTables,
		DefaultStrategy:      req.DefaultStrategy,
		MaxDownloads:         req.MaxDownloads,
		MaxRecordsTotal:      req.MaxRecordsTotal,
		MaxRecordsPerRequest: req.MaxRecordsPerRequest,
		RateLimitPerMin:      req.RateLimitPerMin,
		SyncIntervalMinutes:  req.SyncIntervalMinutes,
		ExpiresAt:            req.ExpiresAt,
		AllowedHourStart:     req.AllowedHourStart,
		AllowedHourEnd:       req.AllowedHourEnd,
		AllowedIPs:           req.AllowedIPs,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// The secret appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, map[string]any{
		"connection": conn,
		"token":      token,
	})
}

func (h *AdminHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connections.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

func (h *AdminHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.connections.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *AdminHandler) ListConnectionTransfers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	transfers, err := h.transfers.ListByConnection(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

type actorRequest struct {
	AdminID string  `json:"adminId"`
	Reason  *string `json:"reason,omitempty"`
}

func decodeActor(r *http.Request) actorRequest {
	var req actorRequest
	json.NewDecoder(r.Body).Decode(&req)
	if req.AdminID == "" {
		req.AdminID = "admin"
	}
	return req
}

func (h *AdminHandler) ApproveConnection(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	if err := h.connections.Approve(r.Context(), chi.URLParam(r, "id"), req.AdminID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) SuspendConnection(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	if err := h.connections.Suspend(r.Context(), chi.URLParam(r, "id"), req.AdminID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) ReactivateConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.connections.Reactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) RevokeConnection(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	if err := h.connections.Revoke(r.Context(), chi.URLParam(r, "id"), req.AdminID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type requestTransferRequest struct {
	ConnectionID     *string                 `json:"connectionId,omitempty"`
	SessionCode      *string                 `json:"sessionCode,omitempty"`
	Direction        model.TransferDirection `json:"direction"`
	TableName        string                  `json:"tableName"`
	Strategy         model.ConflictStrategy  `json:"strategy,omitempty"`
	RecordsRequested int64                   `json:"recordsRequested,omitempty"`
}

func (h *AdminHandler) RequestTransfer(w http.ResponseWriter, r *http.Request) {
	var req requestTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}

	ip := r.RemoteAddr
	ua := r.UserAgent()
	transfer, err := h.transfers.Request(r.Context(), service.RequestTransferInput{
		ConnectionID:       req.ConnectionID,
		SessionCode:        req.SessionCode,
		Direction:          req.Direction,
		TableName:          req.TableName,
		Strategy:           req.Strategy,
		RecordsRequested:   req.RecordsRequested,
		RequesterIP:        &ip,
		RequesterUserAgent: &ua,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transfer)
}

func (h *AdminHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	status := model.TransferStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.TransferPendingApproval
	}

	transfers, err := h.transfers.ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (h *AdminHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.transfers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (h *AdminHandler) ApproveTransfer(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	transfer, err := h.transfers.Approve(r.Context(), chi.URLParam(r, "id"), req.AdminID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (h *AdminHandler) DenyTransfer(w http.ResponseWriter, r *http.Request) {
	req := decodeActor(r)
	transfer, err := h.transfers.Deny(r.Context(), chi.URLParam(r, "id"), req.AdminID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (h *AdminHandler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	if err := h.transfers.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction model.TransferDirection `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}

	session, err := h.sessions.CreateSession(req.Direction, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *AdminHandler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, apperrors.MissingRequired("code"))
		return
	}

	session, err := h.sessions.ValidateCode(req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.Get(chi.URLParam(r, "code"))
	if session == nil {
		writeError(w, apperrors.NotFound("Session"))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *AdminHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderInfo   json.RawMessage `json:"senderInfo,omitempty"`
		ReceiverInfo json.RawMessage `json:"receiverInfo,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}

	if err := h.sessions.Update(chi.URLParam(r, "code"), req.SenderInfo, req.ReceiverInfo); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AdminHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.Delete(chi.URLParam(r, "code"))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
