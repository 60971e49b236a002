package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PratikDhanave/salesview/internal/app"
	"github.com/PratikDhanave/salesview/internal/config"
	"github.com/PratikDhanave/salesview/internal/logging"
)

// main boots the service: config → storage → projections → HTTP server.
func main() {
	// Load runtime config from environment (DB_URL, API_KEYS, ADMIN_SUBJECTS, ...).
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New("salesview", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("build service", slog.Any("error", err))
		os.Exit(1)
	}
	defer a.Close()

	// Finish deliveries a previous process did not complete.
	if err := a.Recover(ctx); err != nil {
		logger.Warn("startup recovery incomplete", slog.Any("error", err))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
