package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"receiptiq/backend/internal/config"
	"receiptiq/backend/internal/engine"
	"receiptiq/backend/internal/extract"
	"receiptiq/backend/internal/middleware"
	"receiptiq/backend/internal/worker"
)

const (
	StatusExtracted = "extracted"
	StatusDegraded  = "degraded"
	StatusManual    = "manual"
)

type Receipt struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	Status      string             `json:"status"`
	Merchant    string             `json:"merchant,omitempty"`
	IssuedAt    *time.Time         `json:"issuedAt,omitempty"`
	Total       *float64           `json:"total,omitempty"`
	LineItems   []extract.LineItem `json:"lineItems"`
	RawText     string             `json:"-"`
	ImagePath   string             `json:"-"`
	ContentHash string             `json:"-"`
	Confidence  float32            `json:"confidence"`
	NeedsReview bool               `json:"needsReview"`
}

type Repository interface {
	Save(ctx context.Context, rcpt *Receipt) error
	Get(ctx context.Context, id, userID string) (*Receipt, error)
	List(ctx context.Context, userID string) ([]Receipt, error)
	UpdateExtraction(ctx context.Context, rcpt *Receipt) error
	ExistsByHash(ctx context.Context, userID, hash string) (bool, error)
	SoftDelete(ctx context.Context, id, userID string) error
	Count(ctx context.Context) (int, error)
}

// Extractor is the slice of the extraction pipeline the service needs.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) extract.Result
}

type FragmentStore interface {
	DeleteFragmentsByReceiptID(ctx context.Context, receiptID string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo      Repository
	extractor Extractor
	pub       EventPublisher
	fragments FragmentStore
}

func NewService(repo Repository, extractor Extractor, pub EventPublisher, fragments FragmentStore) *Service {
	return &Service{repo: repo, extractor: extractor, pub: pub, fragments: fragments}
}

// ErrDuplicate marks an image the user already submitted.
var ErrDuplicate = errors.New("duplicate receipt")

// Extract runs OCR on the image and persists the outcome. A degraded
// extraction still produces a stored receipt so the image is not lost; the
// caller decides whether to retry or fall back to manual entry.
func (s *Service) Extract(ctx context.Context, userID, imagePath string, image []byte, hash string) (*Receipt, *extract.Classified, error) {
	exists, err := s.repo.ExistsByHash(ctx, userID, hash)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, ErrDuplicate
	}

	rcpt := &Receipt{
		UserID:      userID,
		ImagePath:   imagePath,
		ContentHash: hash,
	}

	// Each attempt gets its own id so pipeline logs correlate to one run.
	res := s.extractor.Extract(ctx, extract.Request{ID: uuid.New().String(), Image: image})
	if !res.Success {
		rcpt.Status = StatusDegraded
		if err := s.repo.Save(ctx, rcpt); err != nil {
			return nil, nil, err
		}
		if res.Failure.CanReprocessLater {
			s.publishReprocess(ctx, rcpt)
		}
		return rcpt, res.Failure, nil
	}

	s.applyResult(rcpt, res)
	rcpt.Status = StatusExtracted
	if err := s.repo.Save(ctx, rcpt); err != nil {
		return nil, nil, err
	}

	s.publishFragments(ctx, rcpt)
	return rcpt, nil, nil
}

// CreateManual stores a user-entered receipt, the fallback path when the
// engine cannot serve.
func (s *Service) CreateManual(ctx context.Context, rcpt *Receipt) error {
	rcpt.Status = StatusManual
	rcpt.Confidence = 1.0
	if err := s.repo.Save(ctx, rcpt); err != nil {
		return err
	}
	s.publishFragments(ctx, rcpt)
	return nil
}

// Reprocess re-runs extraction for a previously degraded receipt. An
// engine-unavailable outcome is returned as an error so the message queue
// retries later; incompatibility propagates so the consumer can abandon.
func (s *Service) Reprocess(ctx context.Context, receiptID, userID string) error {
	rcpt, err := s.repo.Get(ctx, receiptID, userID)
	if err != nil {
		return err
	}
	if rcpt.Status == StatusExtracted {
		return nil
	}
	if rcpt.ImagePath == "" {
		return fmt.Errorf("receipt %s has no stored image", receiptID)
	}

	image, err := os.ReadFile(rcpt.ImagePath)
	if err != nil {
		return fmt.Errorf("read stored image: %w", err)
	}

	res := s.extractor.Extract(ctx, extract.Request{ID: receiptID, Image: image})
	if !res.Success {
		if errors.Is(res.Failure, engine.ErrIncompatible) {
			return fmt.Errorf("reprocess %s: %w", receiptID, engine.ErrIncompatible)
		}
		return fmt.Errorf("reprocess %s: %w", receiptID, res.Failure)
	}

	s.applyResult(rcpt, res)
	rcpt.Status = StatusExtracted
	if err := s.repo.UpdateExtraction(ctx, rcpt); err != nil {
		return err
	}

	// Replace any fragments from an earlier partial pass.
	if err := s.fragments.DeleteFragmentsByReceiptID(ctx, rcpt.ID); err != nil {
		slog.WarnContext(ctx, "failed to clear stale fragments", "error", err, "receipt_id", rcpt.ID)
	}
	s.publishFragments(ctx, rcpt)
	return nil
}

func (s *Service) Get(ctx context.Context, id, userID string) (*Receipt, error) {
	return s.repo.Get(ctx, id, userID)
}

func (s *Service) List(ctx context.Context, userID string) ([]Receipt, error) {
	return s.repo.List(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, id, userID string) error {
	// Clean the vector store first so a half-failed delete never leaves
	// searchable fragments for a receipt the user removed.
	if err := s.fragments.DeleteFragmentsByReceiptID(ctx, id); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id, userID)
}

func (s *Service) applyResult(rcpt *Receipt, res extract.Result) {
	rcpt.Merchant = res.Merchant
	rcpt.IssuedAt = res.Date
	rcpt.Total = res.Total
	rcpt.LineItems = res.LineItems
	rcpt.RawText = res.RawText
	rcpt.Confidence = res.Confidence
	rcpt.NeedsReview = res.NeedsReview
}

// publishFragments emits one receipt.index message per fragment: a summary
// of the receipt header plus one per line item.
func (s *Service) publishFragments(ctx context.Context, rcpt *Receipt) {
	issuedAt := ""
	if rcpt.IssuedAt != nil {
		issuedAt = rcpt.IssuedAt.Format(time.RFC3339)
	}

	for _, content := range fragmentContents(rcpt) {
		payload, _ := json.Marshal(worker.IndexPayload{
			ReceiptID:     rcpt.ID,
			UserID:        rcpt.UserID,
			Content:       content,
			IssuedAt:      issuedAt,
			CorrelationID: middleware.GetCorrelationID(ctx),
		})
		if err := s.pub.Publish(config.TopicReceiptIndex, payload); err != nil {
			slog.ErrorContext(ctx, "failed to publish index event", "error", err, "receipt_id", rcpt.ID)
		}
	}
}

func (s *Service) publishReprocess(ctx context.Context, rcpt *Receipt) {
	payload, _ := json.Marshal(worker.ReprocessPayload{
		ReceiptID:     rcpt.ID,
		UserID:        rcpt.UserID,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicReceiptReprocess, payload); err != nil {
		slog.ErrorContext(ctx, "failed to publish reprocess event", "error", err, "receipt_id", rcpt.ID)
	} else {
		slog.InfoContext(ctx, "queued receipt for reprocessing", "receipt_id", rcpt.ID)
	}
}

func fragmentContents(rcpt *Receipt) []string {
	var header strings.Builder
	if rcpt.Merchant != "" {
		fmt.Fprintf(&header, "Merchant: %s\n", rcpt.Merchant)
	}
	if rcpt.IssuedAt != nil {
		fmt.Fprintf(&header, "Date: %s\n", rcpt.IssuedAt.Format("2006-01-02"))
	}
	if rcpt.Total != nil {
		fmt.Fprintf(&header, "Total: %.2f\n", *rcpt.Total)
	}

	var contents []string
	if header.Len() > 0 {
		contents = append(contents, strings.TrimRight(header.String(), "\n"))
	}
	for _, item := range rcpt.LineItems {
		contents = append(contents, fmt.Sprintf("%s purchased at %s for %.2f", item.Name, rcpt.Merchant, item.Amount))
	}
	return contents
}
