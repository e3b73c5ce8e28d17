package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wstore "receiptiq/backend/internal/adapter/weaviate"
	"receiptiq/backend/internal/config"
	"receiptiq/backend/internal/testutils"
	"receiptiq/backend/internal/worker"
)

// fixedEmbedder avoids hitting real Gemini in integration runs.
type fixedEmbedder struct {
	vec []float32
}

func (e *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vec, nil
}

func TestIndexerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	appCfg := s.GetAppConfig()

	store := wstore.NewStore(s.Weaviate)
	embedder := &fixedEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	indexer := worker.NewIndexerConsumer(embedder, store)

	nsqConsumer, err := nsq.NewConsumer(config.TopicReceiptIndex, "integration-test", nsq.NewConfig())
	require.NoError(t, err)
	nsqConsumer.AddHandler(indexer)
	require.NoError(t, nsqConsumer.ConnectToNSQD(appCfg.NSQDHost))
	defer nsqConsumer.Stop()

	payload := worker.IndexPayload{
		ReceiptID:     "receipt-1",
		UserID:        "user-1",
		Content:       "Merchant: Corner Deli\nDate: 2026-03-14\nTotal: 42.50",
		IssuedAt:      time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
		CorrelationID: "corr-1",
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, s.NSQ.Publish(config.TopicReceiptIndex, body))

	require.Eventually(t, func() bool {
		frags, err := store.Search(ctx, "user-1", embedder.vec, 10)
		return err == nil && len(frags) > 0
	}, 10*time.Second, 200*time.Millisecond, "fragment should be indexed")

	frags, err := store.Search(ctx, "user-1", embedder.vec, 10)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "receipt-1", frags[0].ReceiptID)
	assert.Contains(t, frags[0].Content, "Corner Deli")

	// Another user must never see the fragment.
	other, err := store.Search(ctx, "user-2", embedder.vec, 10)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, store.DeleteFragmentsByReceiptID(ctx, "receipt-1"))
	require.Eventually(t, func() bool {
		count, err := store.CountFragments(ctx)
		return err == nil && count == 0
	}, 5*time.Second, 200*time.Millisecond)
}
