// funcd is the serverless function runtime.
// It loads handler files from a directory, binds their triggers (HTTP,
// cron, database notifications, events, run-once, webhooks), and reports
// every execution to the Backend control plane.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/funcd-io/funcd/internal/api"
	"github.com/funcd-io/funcd/internal/backend"
	"github.com/funcd-io/funcd/internal/bus"
	"github.com/funcd-io/funcd/internal/config"
	"github.com/funcd-io/funcd/internal/executor"
	"github.com/funcd-io/funcd/internal/handler"
	"github.com/funcd-io/funcd/internal/postgres"
	"github.com/funcd-io/funcd/internal/registry"
	"github.com/funcd-io/funcd/internal/scheduler"
	"github.com/funcd-io/funcd/internal/watcher"
)

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /funcd healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8001/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Local development convenience; absence of .env is fine.
	_ = godotenv.Load()

	// Context-aware slog handler so request_id lands in every log record
	// emitted under a request context.
	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(api.NewContextHandler(baseHandler)))

	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if configPath != "" {
		slog.Info("config loaded", "path", configPath)
	}

	if err := os.MkdirAll(cfg.FunctionsDir, 0o755); err != nil {
		slog.Error("failed to create functions directory", "dir", cfg.FunctionsDir, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Shutdown hooks, called in order during graceful shutdown.
	var (
		stopWatcher   func()
		stopScheduler func()
		stopBridge    func()
		closePool     func()
	)

	// Database bridge, present only when POSTGRES_HOST is set. Without it
	// database triggers are inert and /db-notify answers 503.
	var bridge *postgres.Bridge
	var pool *pgxpool.Pool
	if cfg.Postgres.Enabled() {
		pool, err = postgres.NewPool(ctx, postgres.ConnConfig{
			Host:     cfg.Postgres.Host,
			Port:     strconv.Itoa(cfg.Postgres.Port),
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
		})
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		closePool = func() { pool.Close() }

		bridge = postgres.NewBridge(pool)
		slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	} else {
		slog.Warn("POSTGRES_HOST not set, running without database triggers")
	}

	client := backend.New(cfg.BackendURL, cfg.APIKey)
	reg := registry.New()
	eventBus := bus.New()
	factory := handler.NewScriptFactory(cfg.Runner, cfg.BackendURL, cfg.APIKey)

	var binder registry.ChannelBinder
	if bridge != nil {
		binder = bridge
	}
	loader := registry.NewLoader(cfg.FunctionsDir, reg, eventBus, factory, binder)
	exec := executor.New(reg, client, cfg.Timeout)
	loader.SetDispatcher(exec)

	if bridge != nil {
		bridge.SetHandler(exec.HandleDatabaseNotification)
		if err := bridge.Start(ctx); err != nil {
			slog.Warn("database bridge failed to start, continuing without notifications", "error", err)
		} else {
			stopBridge = func() { bridge.Stop() }
		}
	}

	// Initial scan binds triggers and bootstraps pending run-once functions.
	count, err := loader.Rescan(ctx)
	if err != nil {
		slog.Error("initial function scan failed", "dir", cfg.FunctionsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("functions loaded", "count", count, "dir", cfg.FunctionsDir)

	sched := scheduler.New(reg, exec)
	sched.Start(ctx)
	stopScheduler = func() { sched.Stop() }

	watch := watcher.New(cfg.FunctionsDir, loader)
	if err := watch.Start(ctx); err != nil {
		slog.Warn("file watcher failed to start, hot reload disabled", "error", err)
	} else {
		stopWatcher = func() { watch.Stop() }
	}

	srv := &api.Server{
		Registry:    reg,
		Loader:      loader,
		Executor:    exec,
		Bus:         eventBus,
		CORSOrigins: cfg.CORSOrigins,
		APIKey:      cfg.AdminKey,
	}
	if cfg.AdminKey != "" {
		slog.Info("inbound API key authentication enabled")
	} else {
		slog.Warn("FUNCD_API_KEY not set, API is unauthenticated")
	}
	if bridge != nil {
		srv.Bridge = bridge
	}
	router := api.NewRouter(srv)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * cfg.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("starting funcd", "addr", cfg.ListenAddr, "version", api.Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	// Graceful shutdown: drain HTTP connections (15s timeout).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Ordered cleanup: watcher → scheduler → bridge → pool.
	if stopWatcher != nil {
		stopWatcher()
	}
	if stopScheduler != nil {
		stopScheduler()
		slog.Info("scheduler stopped")
	}
	if stopBridge != nil {
		stopBridge()
		slog.Info("database bridge stopped")
	}
	if closePool != nil {
		closePool()
		slog.Info("database pool closed")
	}

	slog.Info("funcd shutdown complete")
}
