package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"receiptiq/backend/internal/config"
	"receiptiq/backend/internal/engine"
	"receiptiq/backend/internal/retrieval"
	"receiptiq/backend/internal/worker"
)

type stubVectorStore struct{}

func (s *stubVectorStore) StoreFragment(ctx context.Context, f worker.Fragment) error { return nil }
func (s *stubVectorStore) DeleteFragmentsByReceiptID(ctx context.Context, receiptID string) error {
	return nil
}
func (s *stubVectorStore) Search(ctx context.Context, userID string, vector []float32, limit int) ([]retrieval.Fragment, error) {
	return nil, nil
}
func (s *stubVectorStore) CountFragments(ctx context.Context) (int, error) { return 0, nil }

type stubPublisher struct{}

func (s *stubPublisher) Publish(topic string, body []byte) error { return nil }

func failingFactory(ctx context.Context) (engine.Recognizer, error) {
	return nil, errors.New("no engine in tests")
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	appCfg := &config.Config{
		MaxSessionTurns:  20,
		PromptCharBudget: 12000,
		RetrievalTopK:    5,
		ServerPort:       8081,
		QueryLogPath:     t.TempDir() + "/query.log",
	}

	engines := engine.NewManager(failingFactory, engine.ManagerConfig{})
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	app, err := New(appCfg, db, &stubVectorStore{}, &stubPublisher{}, engines, logger)
	assert.NoError(t, err)
	assert.NotNil(t, app)
	assert.NotNil(t, app.Handler)
	assert.NotNil(t, app.ReceiptService)
	assert.NotNil(t, app.IndexerConsumer)
	assert.NotNil(t, app.ReprocessConsumer)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	app.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"engine":"uninitialized"`)
}

func TestNew_RoutesRequireUser(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	appCfg := &config.Config{
		MaxSessionTurns:  20,
		PromptCharBudget: 12000,
		RetrievalTopK:    5,
		QueryLogPath:     t.TempDir() + "/query.log",
	}

	engines := engine.NewManager(failingFactory, engine.ManagerConfig{})
	app, err := New(appCfg, db, &stubVectorStore{}, &stubPublisher{}, engines, slog.Default())
	assert.NoError(t, err)

	req := httptest.NewRequest("GET", "/receipts", nil)
	w := httptest.NewRecorder()
	app.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "X-User-ID")
}
