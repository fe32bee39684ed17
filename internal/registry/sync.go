package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"poflow/internal"
)

const lastSyncKey = "registry.last_sync"

// Store receives synced registry entries.
type Store interface {
	UpsertVendors(ctx context.Context, vendors []internal.Vendor) (int, error)
	SetMetadata(ctx context.Context, key, value string) error
}

type Fetcher interface {
	FetchAll(ctx context.Context) ([]internal.Vendor, error)
}

type SyncService struct {
	store  Store
	client Fetcher
	logger *slog.Logger
	now    func() time.Time
}

func NewSyncService(store Store, client Fetcher, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{store: store, client: client, logger: logger.With("component", "registry-sync"), now: time.Now}
}

// Sync pulls the remote registry and upserts it by name. It returns the
// number of entries written.
func (s *SyncService) Sync(ctx context.Context) (int, error) {
	vendors, err := s.client.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch registry: %w", err)
	}
	n, err := s.store.UpsertVendors(ctx, vendors)
	if err != nil {
		return 0, fmt.Errorf("upsert registry: %w", err)
	}
	if err := s.store.SetMetadata(ctx, lastSyncKey, s.now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("record sync time failed", "error", err)
	}
	s.logger.Info("registry sync complete", "fetched", len(vendors), "written", n)
	return n, nil
}
