package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"receiptiq/backend/internal/engine"
)

// Request is a single extraction attempt, consumed by one Extract call.
type Request struct {
	ID    string
	Image []byte
}

// LineItem is one best-effort purchased item.
type LineItem struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Result is either a successful extraction or a classified failure.
// Normalization never fabricates values: an unparseable field is nil/empty,
// not defaulted.
type Result struct {
	RequestID  string
	Success    bool
	RawText    string
	Confidence float32

	Merchant  string
	Date      *time.Time
	Total     *float64
	LineItems []LineItem

	// FieldConfidence carries per-field recognition confidence, propagated
	// from the engine unmodified.
	FieldConfidence map[string]float32

	NeedsReview bool

	Failure *Classified
}

// EngineSource is the slice of the lifecycle manager the pipeline needs.
type EngineSource interface {
	Acquire(ctx context.Context) (*engine.Handle, error)
	RetryAfter() time.Duration
	MarkFailed(err error)
}

type Config struct {
	MinConfidence float32
}

// Pipeline validates an image, drives recognition through the lifecycle
// manager, and normalizes the raw text into receipt fields. It never
// persists anything and never returns a process-level error: every failure
// is folded into the Result.
type Pipeline struct {
	engines EngineSource
	cfg     Config
}

func NewPipeline(engines EngineSource, cfg Config) *Pipeline {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.6
	}
	return &Pipeline{engines: engines, cfg: cfg}
}

func (p *Pipeline) Extract(ctx context.Context, req Request) Result {
	if err := validateImage(req.Image); err != nil {
		return p.failure(req.ID, err)
	}

	handle, err := p.engines.Acquire(ctx)
	if err != nil {
		// OCR is optional relative to the rest of the system: degrade to a
		// structured fallback instead of propagating.
		slog.WarnContext(ctx, "extraction degraded, engine unavailable", "request_id", req.ID, "error", err)
		return p.failure(req.ID, err)
	}

	rec, err := handle.Recognize(ctx, req.Image)
	if err != nil {
		if ctx.Err() == nil {
			// The engine died on a previously ready handle.
			p.engines.MarkFailed(err)
		}
		slog.ErrorContext(ctx, "recognition failed", "request_id", req.ID, "error", err)
		return p.failure(req.ID, err)
	}

	return p.normalize(req.ID, rec)
}

func (p *Pipeline) normalize(requestID string, rec engine.Recognition) Result {
	lines := splitLines(rec.Text)

	res := Result{
		RequestID:       requestID,
		Success:         true,
		RawText:         rec.Text,
		Confidence:      rec.Confidence,
		FieldConfidence: make(map[string]float32),
	}

	res.Merchant = normalizeMerchant(lines)
	if res.Merchant != "" {
		res.FieldConfidence["merchant"] = fieldConfidence(res.Merchant, rec.Words, rec.Confidence)
	}

	res.Date = normalizeDate(rec.Text)
	if res.Date != nil {
		res.FieldConfidence["date"] = rec.Confidence
	}

	res.Total = normalizeTotal(lines)
	if res.Total != nil {
		res.FieldConfidence["total"] = fieldConfidence(fmt.Sprintf("%.2f", *res.Total), rec.Words, rec.Confidence)
	}

	res.LineItems = normalizeLineItems(lines)

	res.NeedsReview = res.Merchant == "" || res.Date == nil || res.Total == nil ||
		rec.Confidence < p.cfg.MinConfidence

	return res
}

func (p *Pipeline) failure(requestID string, err error) Result {
	c := Classify(err, p.engines.RetryAfter())
	return Result{
		RequestID: requestID,
		Success:   false,
		Failure:   &c,
	}
}

var imageMagics = [][]byte{
	{0x89, 'P', 'N', 'G'},
	{0xFF, 0xD8, 0xFF},             // JPEG
	{'I', 'I', 0x2A, 0x00},         // TIFF little-endian
	{'M', 'M', 0x00, 0x2A},         // TIFF big-endian
	{'B', 'M'},                     // BMP
}

func validateImage(img []byte) error {
	if len(img) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	for _, magic := range imageMagics {
		if bytes.HasPrefix(img, magic) {
			return nil
		}
	}
	// RIFF....WEBP
	if len(img) >= 12 && bytes.HasPrefix(img, []byte("RIFF")) && bytes.Equal(img[8:12], []byte("WEBP")) {
		return nil
	}
	return fmt.Errorf("%w: unrecognized image format", ErrInvalidInput)
}
