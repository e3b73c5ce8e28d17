package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"receiptiq/backend/internal/settings"
)

// DynamicGenerator produces chat replies using the API key from runtime
// settings. Callers own the timeout: the context passed in bounds the call.
type DynamicGenerator struct {
	*dynamicClient
}

func NewDynamicGenerator(svc *settings.Service, opts ...option.ClientOption) *DynamicGenerator {
	return &DynamicGenerator{dynamicClient: newDynamicClient(svc, opts...)}
}

func (g *DynamicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	client, err := g.get(ctx)
	if err != nil {
		return "", err
	}

	slog.DebugContext(ctx, "generating reply", "model", generationModel, "prompt_chars", len(prompt))
	model := client.GenerativeModel(generationModel)
	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty generation response")
	}

	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("generation response carried no text")
	}
	return b.String(), nil
}
