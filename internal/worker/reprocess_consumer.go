package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"
	"receiptiq/backend/internal/engine"
	"receiptiq/backend/internal/middleware"
)

// Reprocessor re-runs extraction for a stored receipt. Implemented by the
// receipt service.
type Reprocessor interface {
	Reprocess(ctx context.Context, receiptID, userID string) error
}

type ReprocessConsumer struct {
	receipts Reprocessor
}

func NewReprocessConsumer(r Reprocessor) *ReprocessConsumer {
	return &ReprocessConsumer{receipts: r}
}

func (h *ReprocessConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload ReprocessPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.ReceiptID == "" || payload.UserID == "" {
		slog.Error("poison pill: missing receipt or user id")
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	procCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if err := h.receipts.Reprocess(procCtx, payload.ReceiptID, payload.UserID); err != nil {
		if errors.Is(err, engine.ErrIncompatible) {
			// The engine can never come up on this host; retrying the
			// message only burns attempts.
			slog.ErrorContext(ctx, "reprocess abandoned, engine incompatible", "receipt_id", payload.ReceiptID)
			return nil
		}
		slog.ErrorContext(ctx, "reprocess failed", "error", err, "receipt_id", payload.ReceiptID)
		return err // Retry
	}

	slog.InfoContext(ctx, "receipt reprocessed", "receipt_id", payload.ReceiptID)
	return nil
}
