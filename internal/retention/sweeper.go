// Package retention permanently removes conversations that have been in the
// trash longer than the retention window.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/molarewaju77/ScanMed-sub001/internal/metrics"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

// DefaultInterval is how often Run sweeps when no interval is configured.
const DefaultInterval = time.Hour

// Purger is the part of the store a sweep needs.
type Purger interface {
	PurgeExpired(ctx context.Context, retention time.Duration) (int, error)
}

// Sweeper runs PurgeExpired on a schedule.
type Sweeper struct {
	store     Purger
	retention time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewSweeper creates a sweeper. Zero durations fall back to the defaults.
func NewSweeper(store Purger, retention, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	if retention <= 0 {
		retention = storage.DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		metrics:   m,
		logger:    logger,
	}
}

// RunOnce performs a single sweep and returns the number of purged
// conversations.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	removed, err := s.store.PurgeExpired(ctx, s.retention)
	s.metrics.RecordPurge(removed, err)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return 0, fmt.Errorf("failed to purge expired conversations: %w", err)
	}
	if removed > 0 {
		s.logger.Info("retention sweep purged conversations", "count", removed, "retention", s.retention)
	} else {
		s.logger.Debug("retention sweep found nothing to purge")
	}
	return removed, nil
}

// Run sweeps immediately and then every interval until ctx is done. Failed
// sweeps are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("retention sweeper started", "interval", s.interval, "retention", s.retention)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		_, _ = s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
