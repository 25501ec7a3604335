// Command ident-server starts the identity HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/ident/internal/config"
	"github.com/and161185/ident/internal/migrate"
	"github.com/and161185/ident/internal/repository/postgres"
	httpserver "github.com/and161185/ident/internal/server/http"
	"github.com/and161185/ident/internal/service"
	"github.com/and161185/ident/internal/sweeper"
	"github.com/and161185/ident/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and starts the HTTP server.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		// Weak or missing signing keys die here, never at request time.
		logger.Fatal("configuration", zap.Error(err))
	}

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.Bool("rotateRefresh", cfg.RotateRefresh),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	refreshRepo := postgres.NewRefreshRepo(db)

	// Core
	codec := token.NewCodec(cfg.AccessKey, cfg.RefreshKey, cfg.AccessTTL, cfg.RefreshTTL)
	sessions := service.NewSessionService(userRepo, refreshRepo, codec, cfg.RotateRefresh, cfg.StoreTimeout)

	// Retention housekeeping
	if cfg.SweepInterval > 0 {
		sw := sweeper.New(db.Pool, cfg.SweepAfter, logger)
		go sw.Run(ctx, cfg.SweepInterval)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.New(sessions, codec, logger).Handler(cfg.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
