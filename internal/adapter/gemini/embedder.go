package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"receiptiq/backend/internal/settings"
)

// DynamicEmbedder turns text into vectors using the API key from runtime
// settings.
type DynamicEmbedder struct {
	*dynamicClient
}

func NewDynamicEmbedder(svc *settings.Service, opts ...option.ClientOption) *DynamicEmbedder {
	return &DynamicEmbedder{dynamicClient: newDynamicClient(svc, opts...)}
}

func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := e.get(ctx)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedding content", "model", embeddingModel, "length", len(text))
	model := client.EmbeddingModel(embeddingModel)
	res, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return res.Embedding.Values, nil
}
