package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tablekit/schemahub/internal/config"
	"github.com/tablekit/schemahub/internal/database"
	"github.com/tablekit/schemahub/internal/journal"
	"github.com/tablekit/schemahub/internal/notify"
	"github.com/tablekit/schemahub/internal/room"
	"github.com/tablekit/schemahub/internal/server"
	"github.com/tablekit/schemahub/internal/session"
	"github.com/tablekit/schemahub/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/hub.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting session hub",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"listen_addr", cfg.Server.ListenAddr,
		"journal_enabled", cfg.Journal.Enabled(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	registry := room.NewRegistry(logger)
	handler := session.NewHandler(registry, logger)

	sessionHub := session.NewHub(session.Config{
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		SendBufferSize:    cfg.Session.SendBufferSize,
		MaxMessageSize:    cfg.Session.MaxMessageSize,
		WriteTimeout:      cfg.Session.WriteTimeout,
	}, registry, handler, logger)

	notifyHub := notify.NewHub(notify.Config{
		HeartbeatInterval: cfg.Notify.HeartbeatInterval,
		SendBufferSize:    cfg.Notify.SendBufferSize,
		MaxMessageSize:    cfg.Notify.MaxMessageSize,
		WriteTimeout:      cfg.Notify.WriteTimeout,
	}, logger)

	// Optional session-event journal
	var jnl *journal.Journal
	if cfg.Journal.Enabled() {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Database.Host,
			"database", cfg.Journal.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			logger.Error("failed to connect to journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		jnl = journal.New(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, registry.Events(), pool, logger)
	}

	srv := server.New(server.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, registry, sessionHub, notifyHub, logger)

	if err := sessionHub.Start(ctx); err != nil {
		logger.Error("failed to start session hub", "error", err)
		os.Exit(1)
	}
	if err := notifyHub.Start(ctx); err != nil {
		logger.Error("failed to start notify hub", "error", err)
		os.Exit(1)
	}
	if jnl != nil {
		if err := jnl.Start(ctx); err != nil {
			logger.Error("failed to start journal", "error", err)
			os.Exit(1)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})

	logger.Info("session hub running", "instance_id", cfg.Instance.ID)

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down...")
	sessionHub.Stop(shutdownCtx)
	notifyHub.Stop(shutdownCtx)
	if jnl != nil {
		jnl.Stop(shutdownCtx)
	}

	logger.Info("session hub stopped")
}
