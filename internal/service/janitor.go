package service

import (
	"context"
	"log/slog"
	"time"

	cfotel "github.com/labtracksimple/labtrack/internal/adapter/otel"
	"github.com/labtracksimple/labtrack/internal/port/database"
)

// JanitorService soft-deletes draft reports left without an artifact, which
// happens when the artifact insert or the upload fails during intake.
type JanitorService struct {
	store   database.Store
	ttl     time.Duration
	metrics *cfotel.Metrics
	now     func() time.Time
}

// NewJanitorService creates a JanitorService sweeping drafts older than ttl.
func NewJanitorService(store database.Store, ttl time.Duration, metrics *cfotel.Metrics) *JanitorService {
	return &JanitorService{
		store:   store,
		ttl:     ttl,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one pass and returns the ids of the removed drafts.
func (s *JanitorService) Sweep(ctx context.Context) ([]string, error) {
	ids, err := s.store.SoftDeleteOrphanDrafts(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return nil, err
	}
	s.metrics.RecordOrphansSwept(ctx, len(ids))
	if len(ids) > 0 {
		slog.InfoContext(ctx, "orphan drafts swept", "count", len(ids))
	}
	return ids, nil
}

// Start runs Sweep every interval until ctx is cancelled.
func (s *JanitorService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					slog.Error("orphan sweep failed", "error", err)
				}
			}
		}
	}()
}
