package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"receiptiq/backend/internal/app"
	"receiptiq/backend/internal/config"
	"receiptiq/backend/internal/logger"
)

func main() {
	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	log := slog.New(logger.NewContextHandler(baseHandler))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("application exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()

	application, err := app.New(cfg, deps.DB, deps.VectorStore, deps.NSQProducer, deps.Engines, log)
	if err != nil {
		return err
	}

	if cfg.EnableIndexerWorker {
		startConsumer(ctx, config.TopicReceiptIndex, "backend", cfg.NSQLookupd, application.IndexerConsumer)
		startConsumer(ctx, config.TopicReceiptReprocess, "backend", cfg.NSQLookupd, application.ReprocessConsumer)
	}

	if cfg.EnableAPI {
		return application.Run(ctx)
	}
	<-ctx.Done()
	return nil
}

func startConsumer(ctx context.Context, topic, channel, lookupd string, handler nsq.Handler) {
	consumer, err := nsq.NewConsumer(topic, channel, nsq.NewConfig())
	if err != nil {
		slog.Error("failed to create NSQ consumer", "topic", topic, "error", err)
		return
	}
	consumer.AddHandler(handler)
	if err := consumer.ConnectToNSQLookupd(lookupd); err != nil {
		slog.Error("failed to connect to NSQLookupd", "topic", topic, "error", err)
		return
	}
	slog.Info("NSQ consumer connected", "topic", topic)

	go func() {
		<-ctx.Done()
		consumer.Stop()
	}()
}
