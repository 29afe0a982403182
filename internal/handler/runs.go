package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/service"
)

// TransferRunHandler launches approved receive transfers. The pull loop runs
// in its own goroutine; the request returns as soon as the transfer is marked
// in progress. Cancellation goes through the admin cancel endpoint and takes
// effect between pages.
type TransferRunHandler struct {
	transfers  *service.TransferService
	replicator *service.Replicator
}

func NewTransferRunHandler(transfers *service.TransferService, replicator *service.Replicator) *TransferRunHandler {
	return &TransferRunHandler{
		transfers:  transfers,
		replicator: replicator,
	}
}

func (h *TransferRunHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{id}/start", h.StartTransfer)
	return r
}

type startTransferRequest struct {
	// PeerNode is the remote node's channel name. PeerToken is the bearer
	// secret that node issued to us; session-paired transfers authenticate
	// with their pairing code instead. We never persist outbound secrets.
	PeerNode  string `json:"peerNode"`
	PeerToken string `json:"peerToken"`
}

func (h *TransferRunHandler) StartTransfer(w http.ResponseWriter, r *http.Request) {
	var req startTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.PeerNode == "" {
		writeError(w, apperrors.MissingRequired("peerNode"))
		return
	}
	id := chi.URLParam(r, "id")
	transfer, err := h.transfers.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	peer, err := resolvePeer(transfer, req)
	if err != nil {
		writeError(w, err)
		return
	}
	go func() {
		// Detached from the request context: the pull outlives the
		// HTTP exchange that started it.
		if err := h.replicator.Run(context.Background(), id, peer); err != nil {
			log.Error().Err(err).Str("transferId", id).Msg("transfer run finished with error")
		}
	}()

	writeJSON(w, http.StatusAccepted, transfer)
}

// resolvePeer builds the pull credential. A session-paired transfer
// authenticates with its pairing code; everything else needs the bearer
// token the remote connection issued.
func resolvePeer(transfer *model.Transfer, req startTransferRequest) (service.Peer, error) {
	peer := service.Peer{NodeName: req.PeerNode}
	if transfer.SessionCode != nil && *transfer.SessionCode != "" {
		peer.SessionCode = *transfer.SessionCode
		return peer, nil
	}
	if req.PeerToken == "" {
		return service.Peer{}, apperrors.MissingRequired("peerToken")
	}
	peer.Token = req.PeerToken
	return peer, nil
}
