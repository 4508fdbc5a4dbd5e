package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/chatterbox/internal/api"
	"github.com/MikeSquared-Agency/chatterbox/internal/broadcast"
	"github.com/MikeSquared-Agency/chatterbox/internal/config"
	"github.com/MikeSquared-Agency/chatterbox/internal/hermes"
	"github.com/MikeSquared-Agency/chatterbox/internal/inference"
	"github.com/MikeSquared-Agency/chatterbox/internal/store"
	"github.com/MikeSquared-Agency/chatterbox/internal/turn"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("chatterbox starting", "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Context store: postgres, then redis, then in-process LRU
	contexts, err := store.Open(ctx, store.Options{
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		CacheSize:   cfg.ContextCacheSize,
		TTL:         cfg.ContextTTL,
	}, slog.Default())
	if err != nil {
		slog.Error("failed to open context store", "error", err)
		os.Exit(1)
	}
	defer contexts.Close()
	slog.Info("context store ready", "backend", contexts.Name())

	llm := inference.NewClient(cfg.InferenceURL, cfg.Model, slog.Default(),
		inference.WithTemperature(cfg.Temperature),
		inference.WithPromptTemplate(cfg.PromptTemplate),
		inference.WithTimeout(cfg.InferenceTimeout),
	)
	slog.Info("inference client ready", "url", cfg.InferenceURL, "model", cfg.Model)

	hub := broadcast.NewHub(cfg.SubscriberBuffer, slog.Default())
	defer hub.Close()

	var (
		publisher broadcast.Publisher = hub
		chats     api.Submitter
		natsConn  *hermes.Client
	)

	// NATS is optional. Without it turns run in this process and events only
	// reach subscribers connected here.
	if cfg.NatsURL != "" {
		natsConn, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsConn.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
		publisher = hermes.NewBroadcaster(natsConn)
	}

	orch := turn.New(llm, contexts, publisher, slog.Default(), turn.WithTurnTimeout(cfg.InferenceTimeout))
	chats = orch
	var turnHandler *hermes.TurnHandler

	if natsConn != nil {
		if err := hermes.NewRelay(hub, slog.Default()).Start(natsConn); err != nil {
			slog.Error("failed to subscribe to conversation events", "error", err)
			os.Exit(1)
		}
		turnHandler = hermes.NewTurnHandler(orch, slog.Default())
		if err := turnHandler.Listen(natsConn); err != nil {
			slog.Error("failed to subscribe to turn requests", "error", err)
			os.Exit(1)
		}
		chats = hermes.NewDispatcher(natsConn)
	}

	srv := api.NewServer(cfg.Port, chats, hub, slog.Default())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		// Ends open event streams so Shutdown is not held up by them.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("chatterbox ready", "port", cfg.Port, "distributed", natsConn != nil)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "error", err)
	}

	// Let in-flight turns finish publishing before NATS and the store close.
	// Workers stop taking turn requests first.
	if turnHandler != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := turnHandler.Shutdown(drainCtx); err != nil {
			slog.Warn("turn requests not fully drained", "error", err)
		}
		cancel()
	} else {
		orch.Wait()
	}
	slog.Info("chatterbox stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
