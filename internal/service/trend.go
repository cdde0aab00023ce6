package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain/result"
	"github.com/labtracksimple/labtrack/internal/domain/user"
	"github.com/labtracksimple/labtrack/internal/port/cache"
	"github.com/labtracksimple/labtrack/internal/port/database"
	"github.com/labtracksimple/labtrack/internal/port/messagequeue"
)

const trendKeyPrefix = "trend."

// TrendService serves a person's confirmed values over time. Series are
// cached and dropped whenever a report of that person is confirmed.
type TrendService struct {
	store database.Store
	cache cache.Cache
	ttl   time.Duration

	mu    sync.Mutex
	epoch map[string]uint64 // per person, bumped by Invalidate
}

// NewTrendService creates a TrendService. A nil cache disables caching.
func NewTrendService(store database.Store, c cache.Cache, ttl time.Duration) *TrendService {
	return &TrendService{store: store, cache: c, ttl: ttl, epoch: map[string]uint64{}}
}

func (s *TrendService) epochOf(personID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch[personID]
}

// Series returns the active, final results of a person ordered by report date.
func (s *TrendService) Series(ctx context.Context, caller *user.Identity, personID string) ([]result.Point, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	person, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, notFound(err, msgPersonNotFound)
	}
	if _, err := memberRole(ctx, s.store, person.HouseholdID, caller); err != nil {
		return nil, err
	}

	key := trendKeyPrefix + person.ID
	if s.cache != nil {
		var points []result.Point
		hit, err := cache.GetJSON(ctx, s.cache, key, &points)
		if err != nil {
			slog.WarnContext(ctx, "trend cache read", "person_id", person.ID, "error", err)
		} else if hit {
			return points, nil
		}
	}

	epoch := s.epochOf(person.ID)
	points, err := s.store.ListFinalResults(ctx, person.ID)
	if err != nil {
		return nil, fmt.Errorf("trend series %s: %w", person.ID, err)
	}
	// An invalidation during the read means points may predate a confirm.
	if s.cache != nil && s.epochOf(person.ID) == epoch {
		if err := cache.SetJSON(ctx, s.cache, key, points, s.ttl); err != nil {
			slog.WarnContext(ctx, "trend cache write", "person_id", person.ID, "error", err)
		}
	}
	return points, nil
}

// Invalidate drops the cached series of a person. Reads already in flight
// will not cache what they loaded.
func (s *TrendService) Invalidate(ctx context.Context, personID string) error {
	if s.cache == nil || personID == "" {
		return nil
	}
	s.mu.Lock()
	s.epoch[personID]++
	s.mu.Unlock()
	return s.cache.Delete(ctx, trendKeyPrefix+personID)
}

// Subscribe invalidates cached series on every confirmed report. The returned
// function cancels the subscription.
func (s *TrendService) Subscribe(ctx context.Context, queue messagequeue.Queue) (func(), error) {
	return queue.Subscribe(ctx, messagequeue.SubjectReportConfirmed, s.handleConfirmed)
}

func (s *TrendService) handleConfirmed(ctx context.Context, _ string, data []byte) error {
	var ev messagequeue.ReportEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode report event: %w", err)
	}
	if err := s.Invalidate(ctx, ev.PersonID); err != nil {
		return fmt.Errorf("invalidate trend %s: %w", ev.PersonID, err)
	}
	slog.DebugContext(ctx, "trend cache invalidated", "person_id", ev.PersonID, "report_id", ev.LabReportID)
	return nil
}
