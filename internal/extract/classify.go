package extract

import (
	"context"
	"errors"
	"net/http"
	"time"

	"receiptiq/backend/internal/engine"
)

// Code is a stable, user-facing failure code for the extraction pipeline.
type Code string

const (
	CodeOCRInitFailed   Code = "OCR_INIT_FAILED"
	CodeOCRIncompatible Code = "OCR_SYSTEM_INCOMPATIBLE"
	CodeOCRUnavailable  Code = "OCR_SERVICE_UNAVAILABLE"
	CodeInputInvalid    Code = "EXTRACTION_INPUT_INVALID"
)

// ErrInvalidInput marks a malformed or unsupported image payload.
var ErrInvalidInput = errors.New("invalid extraction input")

// Classified maps a low-level failure into the closed taxonomy the rest of
// the system speaks. It always carries a remediation hint.
type Classified struct {
	Code              Code          `json:"code"`
	Status            int           `json:"-"`
	Message           string        `json:"message"`
	Remediation       string        `json:"remediation"`
	CanManualEntry    bool          `json:"canManualEntry"`
	CanReprocessLater bool          `json:"canReprocessLater"`
	RetryAfter        time.Duration `json:"-"`
	Cause             error         `json:"-"`
}

func (c Classified) Error() string {
	if c.Cause != nil {
		return string(c.Code) + ": " + c.Cause.Error()
	}
	return string(c.Code)
}

func (c Classified) Unwrap() error { return c.Cause }

// Classify is a total mapping: it yields a value for any error and never
// escalates. retryAfter overrides the default hint when positive (the
// lifecycle manager knows the real remaining cool-down).
func Classify(err error, retryAfter time.Duration) Classified {
	var c Classified

	switch {
	case errors.Is(err, engine.ErrIncompatible):
		c = Classified{
			Code:              CodeOCRIncompatible,
			Status:            http.StatusServiceUnavailable,
			Message:           "Text recognition is not supported on this system.",
			Remediation:       "Enter the receipt manually; automatic processing may become available after a deployment fix.",
			CanManualEntry:    true,
			CanReprocessLater: true,
			RetryAfter:        time.Hour,
		}
	case errors.Is(err, engine.ErrUnavailable) && isWaitFailure(err):
		c = Classified{
			Code:              CodeOCRUnavailable,
			Status:            http.StatusServiceUnavailable,
			Message:           "Text recognition is busy right now.",
			Remediation:       "Retry shortly, or enter the receipt manually.",
			CanManualEntry:    true,
			CanReprocessLater: true,
			RetryAfter:        10 * time.Second,
		}
	case errors.Is(err, engine.ErrUnavailable):
		c = Classified{
			Code:              CodeOCRInitFailed,
			Status:            http.StatusServiceUnavailable,
			Message:           "Text recognition failed to start.",
			Remediation:       "Retry after the cool-down, or enter the receipt manually.",
			CanManualEntry:    true,
			CanReprocessLater: true,
			RetryAfter:        30 * time.Second,
		}
	case errors.Is(err, ErrInvalidInput):
		c = Classified{
			Code:           CodeInputInvalid,
			Status:         http.StatusBadRequest,
			Message:        "The uploaded image could not be read.",
			Remediation:    "Upload a valid PNG, JPEG, TIFF, BMP or WebP image.",
			CanManualEntry: true,
			// Retrying the same payload cannot succeed.
			CanReprocessLater: false,
			RetryAfter:        0,
		}
	default:
		// Recognition died mid-flight or an unknown failure surfaced.
		c = Classified{
			Code:              CodeOCRUnavailable,
			Status:            http.StatusServiceUnavailable,
			Message:           "Text recognition failed.",
			Remediation:       "Retry shortly, or enter the receipt manually.",
			CanManualEntry:    true,
			CanReprocessLater: true,
			RetryAfter:        10 * time.Second,
		}
	}

	if retryAfter > 0 {
		c.RetryAfter = retryAfter
	}
	c.Cause = err
	return c
}

func isWaitFailure(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, engine.ErrWaitTimeout)
}
