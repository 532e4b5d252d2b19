package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/mimitask/internal/auth"
	"github.com/dukerupert/mimitask/internal/config"
	"github.com/dukerupert/mimitask/internal/database"
	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/logging"
	"github.com/dukerupert/mimitask/internal/server"
)

func main() {
	cfg, err := config.LoadServer(os.Getenv("MIMISERVER_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	var backend docstore.Backend
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := docstore.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		backend = pg
	default:
		db, err := database.Open(cfg.Database.Path)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		backend = docstore.NewSQLite(db)
	}

	tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.TTL)
	srv := server.New(backend, tokens, logger)

	// No WriteTimeout: listen streams stay open for the life of a session.
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	go srv.RateLimiter().RunCleanup(cleanupCtx, time.Minute)

	go func() {
		logger.Info("mimiserver starting", "addr", cfg.Addr(), "driver", cfg.Database.Driver)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cleanupCancel()
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
