package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"receiptiq/backend/internal/chat"
	"receiptiq/backend/internal/middleware"
	"receiptiq/backend/internal/retrieval"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "X-User-ID header is required", http.StatusBadRequest)
		return
	}

	var req struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "message is required", http.StatusBadRequest)
		return
	}

	answer, err := h.service.Ask(r.Context(), userID, req.SessionID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrGenerationTimeout):
			h.writeError(r.Context(), w, "GENERATION_TIMEOUT", "The assistant took too long to answer. Try again.", http.StatusGatewayTimeout)
		case errors.Is(err, chat.ErrGenerationFailed):
			h.writeError(r.Context(), w, "GENERATION_FAILED", "The assistant could not answer. Try again.", http.StatusBadGateway)
		case errors.Is(err, retrieval.ErrScopeViolation):
			// Never expose the nature of the breach to the caller.
			slog.ErrorContext(r.Context(), "retrieval scope violation", "user_id", userID)
			h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		default:
			slog.ErrorContext(r.Context(), "chat request failed", "error", err)
			h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": answer}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	turns := h.service.History(r.PathValue("id"))
	if turns == nil {
		turns = []chat.Turn{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": turns,
		"meta": map[string]int{"count": len(turns)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.service.EndSession(r.PathValue("id"))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
