package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"receiptiq/backend/internal/engine"
)

func TestClassify_Taxonomy(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantCode       Code
		wantManual     bool
		wantReprocess  bool
		wantRetryAfter bool
	}{
		{
			name:           "incompatible system",
			err:            fmt.Errorf("%w: libtesseract not found", engine.ErrIncompatible),
			wantCode:       CodeOCRIncompatible,
			wantManual:     true,
			wantReprocess:  true,
			wantRetryAfter: true,
		},
		{
			name:           "cached init failure",
			err:            fmt.Errorf("%w: cooling down after: boom", engine.ErrUnavailable),
			wantCode:       CodeOCRInitFailed,
			wantManual:     true,
			wantReprocess:  true,
			wantRetryAfter: true,
		},
		{
			name:           "wait timeout",
			err:            fmt.Errorf("%w: %w", engine.ErrUnavailable, engine.ErrWaitTimeout),
			wantCode:       CodeOCRUnavailable,
			wantManual:     true,
			wantReprocess:  true,
			wantRetryAfter: true,
		},
		{
			name:           "caller cancellation",
			err:            fmt.Errorf("%w: %w", engine.ErrUnavailable, context.Canceled),
			wantCode:       CodeOCRUnavailable,
			wantManual:     true,
			wantReprocess:  true,
			wantRetryAfter: true,
		},
		{
			name:          "invalid input",
			err:           fmt.Errorf("%w: empty payload", ErrInvalidInput),
			wantCode:      CodeInputInvalid,
			wantManual:    true,
			wantReprocess: false,
		},
		{
			name:           "unknown failure still classified",
			err:            errors.New("segfault deep in recognition"),
			wantCode:       CodeOCRUnavailable,
			wantManual:     true,
			wantReprocess:  true,
			wantRetryAfter: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err, 0)
			assert.Equal(t, tt.wantCode, c.Code)
			assert.Equal(t, tt.wantManual, c.CanManualEntry)
			assert.Equal(t, tt.wantReprocess, c.CanReprocessLater)
			assert.NotEmpty(t, c.Message)
			assert.NotEmpty(t, c.Remediation)
			if tt.wantRetryAfter {
				assert.Greater(t, c.RetryAfter, time.Duration(0))
			} else {
				assert.Equal(t, time.Duration(0), c.RetryAfter)
			}
			assert.ErrorIs(t, c, tt.err)
		})
	}
}

func TestClassify_RetryAfterOverride(t *testing.T) {
	c := Classify(fmt.Errorf("%w: cooling down", engine.ErrUnavailable), 42*time.Second)
	assert.Equal(t, 42*time.Second, c.RetryAfter)
}

func TestClassify_Severity(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Classify(ErrInvalidInput, 0).Status)
	assert.Equal(t, http.StatusServiceUnavailable, Classify(engine.ErrUnavailable, 0).Status)
	assert.Equal(t, http.StatusServiceUnavailable, Classify(engine.ErrIncompatible, 0).Status)
}
