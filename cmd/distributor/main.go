package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"distributor/internal/api"
	"distributor/internal/application/factories/infrastructure"
	"distributor/internal/config"
	"distributor/internal/intake"
	"distributor/internal/logging"
	"distributor/internal/registry"

	"golang.org/x/sync/errgroup"
)

func main() {
	bootLogger := logging.NewLogger("event-distributor", "info")

	cfg, err := config.New()
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.Name, cfg.Log.Level).With("version", cfg.App.Version)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	reg := registry.New(logger, registry.WithSendTimeout(cfg.WebSocket.WriteTimeout))

	var loopOpts []intake.Option
	dedup, err := infraFactory.Deduplicator(ctx)
	if err != nil {
		logger.Error("failed to init duplicate filter", "backend", cfg.Dedup.Backend, "error", err)
		os.Exit(1)
	}
	if dedup != nil {
		loopOpts = append(loopOpts, intake.WithDeduplicator(dedup))
	}
	if dlq := infraFactory.DeadLetter(); dlq != nil {
		loopOpts = append(loopOpts, intake.WithDeadLetter(dlq))
		logger.Info("dead-letter topic enabled", "topic", dlq.Topic())
	}

	g, gctx := errgroup.WithContext(ctx)

	// Sessions end with gctx, so a failing loop or server also drops clients.
	handlers := api.NewHandlers(gctx, reg, cfg.WebSocket, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: api.NewRouter(handlers, cfg.WebSocket.Path),
	}

	for _, consumer := range infraFactory.Consumers() {
		loop := intake.NewLoop(consumer.Topic(), consumer, reg, logger, loopOpts...)
		g.Go(func() error { return loop.Run(gctx) })
	}

	g.Go(func() error {
		logger.Info("Server starting", "port", cfg.HTTP.Port, "ws_path", cfg.WebSocket.Path,
			"kafka_topics", cfg.Kafka.Topics, "group_id", cfg.Kafka.GroupID, "dedup", cfg.Dedup.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("distributor stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
