// Package blobstore archives generated artifacts (extracted workbooks, PDFs,
// validation reports) to local disk, Azure Blob Storage or Google Cloud Storage.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"poflow/internal/config"
)

// System is a key/value blob store.
type System interface {
	Name() string
	// Upload streams data to the blob at key.
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
	// Download returns a stream for the blob at key. The caller must close it.
	// Returns ErrNotFound if the blob does not exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the blob at key. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New builds the System named by BLOB_PROVIDER.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (System, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.BlobProvider {
	case "", "local":
		return NewLocal(cfg.BlobLocalDir)
	case "azure":
		if err := cfg.Require("BLOB_AZURE_CONNECTION_STRING", cfg.BlobAzureConnString); err != nil {
			return nil, err
		}
		return NewAzure(ctx, cfg.BlobAzureConnString, cfg.BlobAzureContainer, logger)
	case "gcs":
		if err := cfg.Require("BLOB_GCS_BUCKET", cfg.BlobGCSBucket); err != nil {
			return nil, err
		}
		return NewGCS(ctx, cfg.BlobGCSBucket)
	}
	return nil, fmt.Errorf("unknown BLOB_PROVIDER %q", cfg.BlobProvider)
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}

// Archiver copies local files into a System under a common prefix.
type Archiver struct {
	store  System
	prefix string
	limit  int
	logger *slog.Logger
}

func NewArchiver(store System, prefix string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/"), limit: 4, logger: logger}
}

// Archive uploads every file in parallel under <prefix>/<group>/<basename>
// and returns the keys in input order. Empty paths are skipped.
func (a *Archiver) Archive(ctx context.Context, group string, files ...string) ([]string, error) {
	keys := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)

	for i, file := range files {
		if file == "" {
			continue
		}
		key := path.Join(a.prefix, group, strings.TrimPrefix(filepath.Base(file), "."))
		keys[i] = key
		g.Go(func() error {
			if err := a.upload(gctx, file, key); err != nil {
				return fmt.Errorf("archive %s: %w", filepath.Base(file), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := keys[:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	a.logger.Info("artifacts archived", "store", a.store.Name(), "group", group, "count", len(out))
	return out, nil
}

func (a *Archiver) upload(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.store.Upload(ctx, key, f, contentType(file))
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
