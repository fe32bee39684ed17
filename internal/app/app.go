// Package app wires the pipeline stages from configuration for the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"poflow/internal/blobstore"
	"poflow/internal/config"
	"poflow/internal/convert"
	"poflow/internal/extract"
	"poflow/internal/mailer"
	"poflow/internal/pipeline"
	"poflow/internal/registry"
	"poflow/internal/storage"
	"poflow/internal/uploads"
)

type App struct {
	Config    config.Config
	Gateway   storage.Gateway
	Matcher   *registry.Matcher
	Extractor *extract.Extractor
	Converter *convert.Converter
	Mailer    *mailer.Service
	Archiver  *blobstore.Archiver
	Uploads   *uploads.Store
	Pipeline  *pipeline.ProcessingService
	// Syncer is nil when no remote registry is configured.
	Syncer *registry.SyncService
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gateway, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Gateway: gateway}

	fail := func(err error) (*App, error) {
		_ = gateway.Close()
		return nil, err
	}

	a.Matcher = registry.NewMatcher(gateway, registry.Options{
		TopK:          cfg.MatchTopK,
		MinSimilarity: cfg.MatchMinSimilarity,
		Timeout:       cfg.RegistryLookup,
	}, logger)
	a.Extractor = extract.New(cfg.OutputDir)

	if a.Converter, err = convert.New(cfg.PDFFontFile, logger); err != nil {
		return fail(fmt.Errorf("pdf converter: %w", err))
	}

	transport, err := mailer.NewTransport(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("mail transport: %w", err))
	}
	settings := mailer.NewSettingsCache(gateway, mailer.Settings{FromAddress: cfg.SMTPFrom, FromName: cfg.SMTPFromName}, cfg.EmailSettingsTTL, time.Now)
	a.Mailer = mailer.NewService(transport, settings, cfg.SMTPTimeout, logger)

	blobs, err := blobstore.New(ctx, cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("blob store: %w", err))
	}
	a.Archiver = blobstore.NewArchiver(blobs, cfg.BlobPrefix, logger)

	if a.Uploads, err = uploads.NewStore(cfg.UploadDir); err != nil {
		return fail(err)
	}

	if cfg.RegistryAPIBaseURL != "" {
		a.Syncer = registry.NewSyncService(gateway, registry.NewClient(cfg), logger)
	}

	a.Pipeline = pipeline.NewProcessingService(pipeline.Deps{
		Gateway:    gateway,
		Matcher:    a.Matcher,
		Extractor:  a.Extractor,
		Converter:  a.Converter,
		Mailer:     a.Mailer,
		Archiver:   a.Archiver,
		Profile:    cfg.Profile,
		Production: cfg.IsProduction(),
		Logger:     logger,
	})

	logger.Info("pipeline ready",
		"backend", gateway.Backend(),
		"mail", a.Mailer.Mode(),
		"blobs", blobs.Name(),
		"registry_sync", a.Syncer != nil,
	)
	return a, nil
}

func (a *App) Close() error {
	return a.Gateway.Close()
}
