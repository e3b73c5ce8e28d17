package engine

import (
	"context"
	"errors"
	"strings"
	"time"
)

// State is the lifecycle state of the OCR engine handle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

var (
	// ErrUnavailable is returned when the engine is not ready and a retry
	// is suppressed (cool-down window, init timeout, or caller cancellation).
	ErrUnavailable = errors.New("ocr engine unavailable")

	// ErrIncompatible is returned when engine construction failed with a
	// signature indicating the deployment can never host the engine.
	ErrIncompatible = errors.New("ocr engine incompatible with this system")

	// ErrWaitTimeout is returned to a waiter whose bounded wait for an
	// in-flight initialization elapsed. The initialization itself continues.
	ErrWaitTimeout = errors.New("timed out waiting for engine initialization")
)

// WordConfidence is a recognized token with the engine's own confidence,
// normalized to 0..1.
type WordConfidence struct {
	Word       string
	Confidence float32
}

// Recognition is the raw output of one OCR pass.
type Recognition struct {
	Text       string
	Words      []WordConfidence
	Confidence float32
}

// Recognizer is the black-box recognition capability behind the handle.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (Recognition, error)
	Close() error
}

// Factory constructs a Recognizer. Called at most once per initialization
// attempt, under the manager's Initializing gate.
type Factory func(ctx context.Context) (Recognizer, error)

// Handle is the live engine instance handed to extraction pipelines.
// Exactly one exists at a time, owned by the Manager.
type Handle struct {
	Recognizer
	CreatedAt  time.Time
	Generation uint64
}

// incompatSignatures are substrings of construction errors that indicate a
// persistent environment problem rather than a transient failure.
var incompatSignatures = []string{
	"libtesseract",
	"tessdata",
	"failed loading language",
	"could not initialize tesseract",
	"not installed",
}

// IsIncompatible reports whether a construction error carries a known
// incompatibility signature.
func IsIncompatible(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIncompatible) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range incompatSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
