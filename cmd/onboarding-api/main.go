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

	"github.com/Lllllllleong/merchantonboarding/internal/api"
	"github.com/Lllllllleong/merchantonboarding/internal/app"
	"github.com/Lllllllleong/merchantonboarding/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration.", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	onboarding, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize onboarding service.", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(onboarding.Service, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Onboarding API listening.", "addr", server.Addr, "dispatchMode", cfg.Dispatch.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed.", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed.", "error", err)
	}
	if err := onboarding.Shutdown(shutdownCtx); err != nil {
		slog.Error("Service shutdown incomplete.", "error", err)
	}
}
