package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"
	"receiptiq/backend/internal/middleware"
)

type IndexerConsumer struct {
	embedder Embedder
	store    FragmentStore
}

func NewIndexerConsumer(e Embedder, s FragmentStore) *IndexerConsumer {
	return &IndexerConsumer{
		embedder: e,
		store:    s,
	}
}

func (h *IndexerConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IndexPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.UserID == "" || payload.ReceiptID == "" {
		// Fragments without an owner can never be retrieved; retrying
		// won't fix the message.
		slog.Error("poison pill: missing owner or receipt id", "receipt_id", payload.ReceiptID)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	embedCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	vector, err := h.embedder.Embed(embedCtx, payload.Content)
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err, "receipt_id", payload.ReceiptID)
		return err // Retry
	}

	fragment := Fragment{
		Content:   payload.Content,
		Vector:    vector,
		UserID:    payload.UserID,
		ReceiptID: payload.ReceiptID,
		IssuedAt:  payload.IssuedAt,
	}

	if err := h.store.StoreFragment(embedCtx, fragment); err != nil {
		slog.ErrorContext(ctx, "store fragment failed", "error", err, "receipt_id", payload.ReceiptID)
		return err // Retry
	}

	slog.InfoContext(ctx, "fragment indexed", "receipt_id", payload.ReceiptID, "user_id", payload.UserID)
	return nil
}
