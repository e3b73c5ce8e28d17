package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiptiq/backend/internal/engine"
)

type stubRecognizer struct {
	rec engine.Recognition
	err error
}

func (s *stubRecognizer) Recognize(ctx context.Context, image []byte) (engine.Recognition, error) {
	return s.rec, s.err
}

func (s *stubRecognizer) Close() error { return nil }

type stubEngineSource struct {
	handle     *engine.Handle
	acquireErr error
	retryAfter time.Duration
	markedErr  error
}

func (s *stubEngineSource) Acquire(ctx context.Context) (*engine.Handle, error) {
	return s.handle, s.acquireErr
}

func (s *stubEngineSource) RetryAfter() time.Duration { return s.retryAfter }

func (s *stubEngineSource) MarkFailed(err error) { s.markedErr = err }

// minimal PNG header, enough for format sniffing
var pngImage = append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 16)...)

func TestPipeline_RoundTrip(t *testing.T) {
	rec := engine.Recognition{
		Text: "CORNER DELI\n03/14/2024\nTurkey Sandwich 8.50\nTotal 14.58",
		Words: []engine.WordConfidence{
			{Word: "CORNER", Confidence: 0.92},
			{Word: "DELI", Confidence: 0.9},
			{Word: "14.58", Confidence: 0.88},
		},
		Confidence: 0.9,
	}
	src := &stubEngineSource{handle: &engine.Handle{Recognizer: &stubRecognizer{rec: rec}}}
	p := NewPipeline(src, Config{MinConfidence: 0.6})

	res := p.Extract(context.Background(), Request{ID: "req-1", Image: pngImage})

	require.True(t, res.Success)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, "CORNER DELI", res.Merchant)
	require.NotNil(t, res.Date)
	assert.Equal(t, time.Date(2024, time.March, 14, 0, 0, 0, 0, time.UTC), *res.Date)
	require.NotNil(t, res.Total)
	assert.InDelta(t, 14.58, *res.Total, 0.001)
	assert.False(t, res.NeedsReview)
	assert.Greater(t, res.FieldConfidence["total"], float32(0.6))
	assert.InDelta(t, 0.91, res.FieldConfidence["merchant"], 0.001)
}

func TestPipeline_AbsentFieldsNotFabricated(t *testing.T) {
	rec := engine.Recognition{Text: "barely legible scribbles", Confidence: 0.2}
	src := &stubEngineSource{handle: &engine.Handle{Recognizer: &stubRecognizer{rec: rec}}}
	p := NewPipeline(src, Config{MinConfidence: 0.6})

	res := p.Extract(context.Background(), Request{ID: "req-2", Image: pngImage})

	require.True(t, res.Success)
	assert.Nil(t, res.Date)
	assert.Nil(t, res.Total)
	assert.Empty(t, res.LineItems)
	assert.True(t, res.NeedsReview)
	_, hasDate := res.FieldConfidence["date"]
	assert.False(t, hasDate)
}

func TestPipeline_DegradedOnEngineUnavailable(t *testing.T) {
	src := &stubEngineSource{
		acquireErr: fmt.Errorf("%w: cooling down", engine.ErrUnavailable),
		retryAfter: 17 * time.Second,
	}
	p := NewPipeline(src, Config{})

	res := p.Extract(context.Background(), Request{ID: "req-3", Image: pngImage})

	require.False(t, res.Success)
	require.NotNil(t, res.Failure)
	assert.Equal(t, CodeOCRInitFailed, res.Failure.Code)
	assert.True(t, res.Failure.CanManualEntry)
	assert.Equal(t, 17*time.Second, res.Failure.RetryAfter)
}

func TestPipeline_DegradedOnIncompatibleSystem(t *testing.T) {
	src := &stubEngineSource{
		acquireErr: fmt.Errorf("%w: tessdata missing", engine.ErrIncompatible),
	}
	p := NewPipeline(src, Config{})

	res := p.Extract(context.Background(), Request{ID: "req-4", Image: pngImage})

	require.False(t, res.Success)
	assert.Equal(t, CodeOCRIncompatible, res.Failure.Code)
	assert.True(t, res.Failure.CanManualEntry)
}

func TestPipeline_InvalidInput(t *testing.T) {
	p := NewPipeline(&stubEngineSource{}, Config{})

	for name, img := range map[string][]byte{
		"empty":     {},
		"not image": []byte("definitely text"),
	} {
		t.Run(name, func(t *testing.T) {
			res := p.Extract(context.Background(), Request{ID: "req-5", Image: img})
			require.False(t, res.Success)
			assert.Equal(t, CodeInputInvalid, res.Failure.Code)
			assert.False(t, res.Failure.CanReprocessLater)
		})
	}
}

func TestPipeline_RecognitionCrashMarksEngineFailed(t *testing.T) {
	crash := errors.New("recognition aborted")
	src := &stubEngineSource{handle: &engine.Handle{Recognizer: &stubRecognizer{err: crash}}}
	p := NewPipeline(src, Config{})

	res := p.Extract(context.Background(), Request{ID: "req-6", Image: pngImage})

	require.False(t, res.Success)
	assert.Equal(t, CodeOCRUnavailable, res.Failure.Code)
	assert.ErrorIs(t, src.markedErr, crash)
}
