// Package maintenance runs the server's periodic housekeeping: stale uploads
// are purged and the vendor registry is refreshed.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"poflow/internal/logging"
)

type Purger interface {
	Purge(cutoff time.Time) (int, error)
}

type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

type Service struct {
	uploads   Purger
	syncer    Syncer
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds the loop. syncer may be nil when no registry is configured.
func NewService(uploads Purger, syncer Syncer, interval, retention time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Service{
		uploads:   uploads,
		syncer:    syncer,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.RunCycle(ctx); err != nil {
			s.logger.Warn("maintenance cycle error", "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.interval):
		}
	}
}

// RunCycle does one pass. A purge failure does not skip the registry sync;
// the first error is returned.
func (s *Service) RunCycle(ctx context.Context) error {
	var first error
	purged := 0
	if s.uploads != nil && s.retention > 0 {
		n, err := s.uploads.Purge(s.now().Add(-s.retention))
		purged = n
		if err != nil {
			first = err
		}
	}

	synced := 0
	if s.syncer != nil {
		n, err := s.syncer.Sync(ctx)
		synced = n
		if err != nil && first == nil {
			first = err
		}
	}

	s.logger.Info("maintenance cycle done", "purged", purged, "synced", synced)
	return first
}
