package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"receiptiq/backend/features/assistant"
	"receiptiq/backend/features/receipt"
	"receiptiq/backend/features/stats"
	"receiptiq/backend/internal/adapter/gemini"
	"receiptiq/backend/internal/chat"
	"receiptiq/backend/internal/config"
	"receiptiq/backend/internal/engine"
	"receiptiq/backend/internal/extract"
	"receiptiq/backend/internal/middleware"
	"receiptiq/backend/internal/retrieval"
	"receiptiq/backend/internal/settings"
	"receiptiq/backend/internal/worker"
)

// VectorStore is the full fragment index surface the application wires:
// writes from the indexer, scoped reads for retrieval, counts for stats.
type VectorStore interface {
	StoreFragment(ctx context.Context, f worker.Fragment) error
	DeleteFragmentsByReceiptID(ctx context.Context, receiptID string) error
	Search(ctx context.Context, userID string, vector []float32, limit int) ([]retrieval.Fragment, error)
	CountFragments(ctx context.Context) (int, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler           http.Handler
	ReceiptService    *receipt.Service
	Engines           *engine.Manager
	IndexerConsumer   *worker.IndexerConsumer
	ReprocessConsumer *worker.ReprocessConsumer

	port int
}

func New(
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	taskPub TaskPublisher,
	engines *engine.Manager,
	logger *slog.Logger,
) (*App, error) {

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)

	// Seed Gemini API Key from Config
	if cfg.GeminiAPIKey != "" {
		ctx := context.Background()
		set, err := settingsService.Get(ctx)
		if err == nil {
			if set.GeminiAPIKey == "" {
				set.GeminiAPIKey = cfg.GeminiAPIKey
				if err := settingsService.Update(ctx, set); err != nil {
					logger.Warn("failed to seed gemini api key", "error", err)
				} else {
					logger.Info("seeded gemini api key from environment")
				}
			}
		} else {
			logger.Warn("failed to fetch settings for seeding", "error", err)
		}
	}

	settingsHandler := settings.NewHandler(settingsService)

	// Adapters: Dynamic
	geminiEmbedder := gemini.NewDynamicEmbedder(settingsService)
	geminiGenerator := gemini.NewDynamicGenerator(settingsService)

	// Extraction pipeline on top of the engine lifecycle manager.
	pipeline := extract.NewPipeline(engines, extract.Config{
		MinConfidence: cfg.ExtractionMinConfidence,
	})

	// Feature: Receipt
	receiptRepo := receipt.NewPostgresRepo(db)
	receiptService := receipt.NewService(receiptRepo, pipeline, taskPub, vecStore)
	receiptHandler := receipt.NewHandler(receiptService, cfg.MaxUploadSizeMB<<20)

	// Feature: Retrieval & Chat
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	retrievalService := retrieval.NewService(geminiEmbedder, vecStore, retrieval.Config{
		TopK:          cfg.RetrievalTopK,
		MinSimilarity: cfg.MinSimilarity,
	}, queryLogger)

	sessions := chat.NewManager(cfg.MaxSessionTurns)
	synthesizer := chat.NewSynthesizer(sessions, geminiGenerator, chat.SynthesizerConfig{
		CharBudget: cfg.PromptCharBudget,
		Timeout:    cfg.GenerationTimeout(),
	})

	assistantService := assistant.NewService(sessions, retrievalService, synthesizer)
	assistantHandler := assistant.NewHandler(assistantService)

	// Feature: Stats
	statsHandler := stats.NewHandler(receiptRepo, vecStore, sessions, engines)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /receipts/extract", middleware.CorrelationID(enableCORS(receiptHandler.Extract)))
	mux.Handle("POST /receipts", middleware.CorrelationID(enableCORS(receiptHandler.CreateManual)))
	mux.Handle("GET /receipts", middleware.CorrelationID(enableCORS(receiptHandler.List)))
	mux.Handle("GET /receipts/{id}", middleware.CorrelationID(enableCORS(receiptHandler.Get)))
	mux.Handle("DELETE /receipts/{id}", middleware.CorrelationID(enableCORS(receiptHandler.Delete)))

	mux.Handle("POST /chat", middleware.CorrelationID(enableCORS(assistantHandler.Ask)))
	mux.Handle("GET /chat/sessions/{id}/history", middleware.CorrelationID(enableCORS(assistantHandler.History)))
	mux.Handle("DELETE /chat/sessions/{id}", middleware.CorrelationID(enableCORS(assistantHandler.EndSession)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","engine":"%s"}`, engines.State())
	})

	// Workers
	indexerConsumer := worker.NewIndexerConsumer(geminiEmbedder, vecStore)
	reprocessConsumer := worker.NewReprocessConsumer(receiptService)

	return &App{
		Handler:           mux,
		ReceiptService:    receiptService,
		Engines:           engines,
		IndexerConsumer:   indexerConsumer,
		ReprocessConsumer: reprocessConsumer,
		port:              cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
		a.Engines.Shutdown()
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
