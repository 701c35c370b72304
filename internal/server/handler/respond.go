// Package handler provides the HTTP handlers for the dispatch engine.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
)

// RespondHandler serves the candidate-facing response link: viewing an offer
// and answering it. Dead links get a clear, non-alarming explanation, never
// a raw error.
type RespondHandler struct {
	orchestrator core.Orchestrator
	logger       *slog.Logger
}

// NewRespondHandler creates the response endpoint handler.
func NewRespondHandler(orchestrator core.Orchestrator, logger *slog.Logger) *RespondHandler {
	return &RespondHandler{orchestrator: orchestrator, logger: logger}
}

type offerView struct {
	CandidateName string    `json:"candidateName"`
	PositionName  string    `json:"positionName"`
	Tier          string    `json:"tier"`
	SentAt        time.Time `json:"sentAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type respondReply struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Offer   *offerView `json:"offer,omitempty"`
}

// View handles GET /respond?token=...
func (h *RespondHandler) View(w http.ResponseWriter, r *http.Request) {
	tokenValue := r.URL.Query().Get("token")
	if tokenValue == "" {
		writeJSON(w, http.StatusBadRequest, respondReply{Status: "invalid", Message: "Missing token."})
		return
	}

	octx, err := h.orchestrator.ViewOffer(r.Context(), tokenValue)
	if err != nil {
		status, reply := deadTokenReply(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("view offer failed", "error", err)
		}
		writeJSON(w, status, reply)
		return
	}

	writeJSON(w, http.StatusOK, respondReply{
		Status:  "ok",
		Message: "Please respond before the offer expires.",
		Offer: &offerView{
			CandidateName: octx.CandidateName,
			PositionName:  octx.PositionName,
			Tier:          octx.Tier,
			SentAt:        octx.SentAt,
			ExpiresAt:     octx.ExpiresAt,
		},
	})
}

type respondRequest struct {
	Token    string `json:"token"`
	Response string `json:"response"`
}

// Respond handles POST /respond. Replaying an already-consumed token returns
// an "already responded" message rather than an error.
func (h *RespondHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, respondReply{Status: "invalid", Message: "Malformed request body."})
		return
	}

	response := core.OfferResponse(req.Response)
	if response != core.ResponseAccepted && response != core.ResponseDeclined {
		writeJSON(w, http.StatusBadRequest, respondReply{Status: "invalid", Message: "Response must be accepted or declined."})
		return
	}

	result, err := h.orchestrator.Respond(r.Context(), req.Token, response)
	if err != nil {
		h.logger.Error("consume token failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, respondReply{
			Status:  "error",
			Message: "Something went wrong on our side. Your response was not recorded; please try again.",
		})
		return
	}

	writeJSON(w, http.StatusOK, outcomeReply(result.Outcome))
}

func outcomeReply(outcome core.ConsumeOutcome) respondReply {
	switch outcome {
	case core.ConsumeAccepted:
		return respondReply{Status: string(outcome), Message: "Thank you! Your acceptance has been recorded."}
	case core.ConsumeDeclined:
		return respondReply{Status: string(outcome), Message: "Thank you for letting us know. The offer has been declined."}
	case core.ConsumeAlreadyUsed:
		return respondReply{Status: string(outcome), Message: "This offer has already been responded to."}
	case core.ConsumeExpired:
		return respondReply{Status: string(outcome), Message: "The response window for this offer has passed."}
	case core.ConsumeUnavailable:
		return respondReply{Status: string(outcome), Message: "This position has been filled in the meantime. Thank you for your interest."}
	default:
		return respondReply{Status: string(core.ConsumeInvalid), Message: "This link is not valid. Please check your latest message from us."}
	}
}

func deadTokenReply(err error) (int, respondReply) {
	switch {
	case errors.Is(err, core.ErrTokenInvalid):
		return http.StatusOK, respondReply{Status: "invalid", Message: "This link is not valid. Please check your latest message from us."}
	case errors.Is(err, core.ErrTokenExpired):
		return http.StatusOK, respondReply{Status: "expired", Message: "The response window for this offer has passed."}
	case errors.Is(err, core.ErrTokenAlreadyUsed):
		return http.StatusOK, respondReply{Status: "already_used", Message: "This offer has already been responded to."}
	default:
		return http.StatusInternalServerError, respondReply{Status: "error", Message: "Something went wrong on our side. Please try again."}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
