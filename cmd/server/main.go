/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tuition billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then TUITION_* environment, then flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Pick the pair locker (Redis when configured, in-process otherwise)
  5. Create engine, metrics, handler and router
  6. Start the period scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -addr    HTTP listen address (overrides TUITION_ADDR)
  -db      SQLite database path (overrides TUITION_DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (TUITION_SHUTDOWN_TIMEOUT)
  4. Close Redis and database connections

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/tuition-engine/api"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/config"
	"github.com/warp/tuition-engine/logging"
	"github.com/warp/tuition-engine/metrics"
	"github.com/warp/tuition-engine/redislock"
	"github.com/warp/tuition-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Addr, cfg.DBPath = *addr, *dbPath

	logger, err := logging.New(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	// Initialize store
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	engine := billing.NewEngine(store)
	engine.Logger = logger.Named("billing")
	engine.Recorder = m

	if cfg.RedisAddr != "" {
		client, err := redislock.Connect(context.Background(), cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		engine.Locker = redislock.New(client,
			redislock.WithTTL(cfg.LockTTL),
			redislock.WithLogger(logger.Named("lock")),
		)
		logger.Info("using redis pair lock", zap.String("addr", cfg.RedisAddr))
	}

	handler := api.NewHandler(engine, store, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		Production:     cfg.IsProduction(),
		Logger:         logger.Named("http"),
		Metrics:        m,
	})

	scheduler := api.NewPeriodScheduler(engine, store, logger.Named("scheduler"))
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Concurrency = cfg.SchedulerConcurrency
	scheduler.Metrics = m
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
