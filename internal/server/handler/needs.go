package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
)

// NeedsHandler exposes the administrative operations that drive the engine:
// opening a need for dispatch, editing its quantity, closing it, and reading
// its current state.
type NeedsHandler struct {
	orchestrator core.Orchestrator
	store        storage.Store
	logger       *slog.Logger
}

// NewNeedsHandler creates the administrative needs handler.
func NewNeedsHandler(orchestrator core.Orchestrator, store storage.Store, logger *slog.Logger) *NeedsHandler {
	return &NeedsHandler{orchestrator: orchestrator, store: store, logger: logger}
}

type errorReply struct {
	Error string `json:"error"`
}

// Dispatch handles POST /needs/{id}/dispatch.
func (h *NeedsHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := needID(w, r)
	if !ok {
		return
	}
	if err := h.orchestrator.OpenDispatch(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "dispatching"})
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateQuantity handles PUT /needs/{id}/quantity.
func (h *NeedsHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := needID(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "malformed request body"})
		return
	}
	if req.Quantity < 1 {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "quantity must be at least 1"})
		return
	}
	if err := h.orchestrator.UpdateQuantity(r.Context(), id, req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Close handles POST /needs/{id}/close.
func (h *NeedsHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := needID(w, r)
	if !ok {
		return
	}
	if err := h.orchestrator.CloseNeed(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type needReply struct {
	ID            uuid.UUID             `json:"id"`
	Status        core.NeedStatus       `json:"status"`
	Strategy      core.DispatchStrategy `json:"strategy"`
	Quantity      int                   `json:"quantity"`
	AcceptedCount int                   `json:"acceptedCount"`
	Offers        []offerSummary        `json:"offers"`
}

type offerSummary struct {
	ID          uuid.UUID        `json:"id"`
	CandidateID uuid.UUID        `json:"candidateId"`
	Status      core.OfferStatus `json:"status"`
}

// Get handles GET /needs/{id}.
func (h *NeedsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := needID(w, r)
	if !ok {
		return
	}
	need, err := h.store.GetNeed(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	offers, err := h.store.ListOffersByNeed(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	reply := needReply{
		ID:            need.ID,
		Status:        need.Status,
		Strategy:      need.Strategy,
		Quantity:      need.Quantity,
		AcceptedCount: need.AcceptedCount,
		Offers:        make([]offerSummary, 0, len(offers)),
	}
	for _, o := range offers {
		reply.Offers = append(reply.Offers, offerSummary{ID: o.ID, CandidateID: o.CandidateID, Status: o.Status})
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *NeedsHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorReply{Error: "need not found"})
	case errors.Is(err, core.ErrQuantityBelowAccepted):
		writeJSON(w, http.StatusConflict, errorReply{Error: err.Error()})
	case errors.Is(err, core.ErrNeedNotActive):
		writeJSON(w, http.StatusConflict, errorReply{Error: err.Error()})
	default:
		h.logger.Error("needs operation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorReply{Error: "internal error"})
	}
}

func needID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "invalid need id"})
		return uuid.Nil, false
	}
	return id, true
}
