package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"receiptiq/backend/internal/settings"
)

const (
	embeddingModel  = "gemini-embedding-001"
	generationModel = "gemini-1.5-flash"
)

// dynamicClient lazily builds a genai client from the API key in runtime
// settings and swaps it when the key changes.
type dynamicClient struct {
	settingsSvc *settings.Service
	clientOpts  []option.ClientOption

	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
}

func newDynamicClient(svc *settings.Service, opts ...option.ClientOption) *dynamicClient {
	return &dynamicClient{settingsSvc: svc, clientOpts: opts}
}

func (d *dynamicClient) get(ctx context.Context) (*genai.Client, error) {
	s, err := d.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	return d.getForKey(ctx, s.GeminiAPIKey)
}

func (d *dynamicClient) getForKey(ctx context.Context, key string) (*genai.Client, error) {
	d.mu.RLock()
	if d.client != nil && d.currentKey == key {
		defer d.mu.RUnlock()
		return d.client, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double check
	if d.client != nil && d.currentKey == key {
		return d.client, nil
	}

	if d.client != nil {
		if err := d.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(d.clientOpts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	d.client = client
	d.currentKey = key
	return client, nil
}
