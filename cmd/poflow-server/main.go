package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"poflow/internal/app"
	"poflow/internal/config"
	"poflow/internal/logging"
	"poflow/internal/maintenance"
	"poflow/internal/server"
)

func main() {
	cfg, err := config.Load()
	must(err)
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	must(err)
	defer a.Close()

	var syncer maintenance.Syncer
	if a.Syncer != nil {
		syncer = a.Syncer
	}
	upkeep := maintenance.NewService(a.Uploads, syncer, cfg.MaintenanceInterval, cfg.UploadRetention, logger.With("component", "maintenance"))
	go func() { _ = upkeep.Run(ctx) }()

	srv := server.New(server.Deps{
		Pipeline:   a.Pipeline,
		Uploads:    a.Uploads,
		Gateway:    a.Gateway,
		Matcher:    a.Matcher,
		Extractor:  a.Extractor,
		Converter:  a.Converter,
		Mailer:     a.Mailer,
		Profile:    cfg.Profile,
		Production: cfg.IsProduction(),
		Logger:     logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "env", cfg.AppEnv)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		must(err)
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	logger.Info("shutting down")
	must(httpServer.Shutdown(shutdownCtx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
