package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"receiptiq/backend/internal/engine"
	"receiptiq/backend/internal/middleware"
)

type ReceiptRepo interface {
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountFragments(ctx context.Context) (int, error)
}

type SessionCounter interface {
	Count() int
}

// EngineStater exposes the recognition engine's lifecycle state as a health
// signal.
type EngineStater interface {
	State() engine.State
	LastError() error
}

type Handler struct {
	receiptRepo ReceiptRepo
	vectorStore VectorStore
	sessions    SessionCounter
	engines     EngineStater
}

func NewHandler(r ReceiptRepo, v VectorStore, s SessionCounter, e EngineStater) *Handler {
	return &Handler{receiptRepo: r, vectorStore: v, sessions: s, engines: e}
}

type StatsResponse struct {
	Receipts     int    `json:"receipts"`
	Fragments    int    `json:"fragments"`
	ChatSessions int    `json:"chatSessions"`
	EngineState  string `json:"engineState"`
	EngineError  string `json:"engineError,omitempty"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rCount, err := h.receiptRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count receipts", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count receipts", http.StatusInternalServerError)
		return
	}

	fCount, err := h.vectorStore.CountFragments(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count fragments", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count fragments", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Receipts:     rCount,
		Fragments:    fCount,
		ChatSessions: h.sessions.Count(),
		EngineState:  string(h.engines.State()),
	}
	if err := h.engines.LastError(); err != nil {
		resp.EngineError = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
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
