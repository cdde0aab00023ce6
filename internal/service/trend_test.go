package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/result"
)

func TestTrendSeries_CachesAndInvalidatesOnConfirm(t *testing.T) {
	store := newMockStore()
	seedHousehold(store)
	store.addReport(report.Report{ID: "r1", HouseholdID: "h1", PersonID: "p1", ReportDate: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Status: report.StatusReviewRequired, CurrentExtractionRunID: strPtr("run1")})
	store.addRun(extraction.Run{ID: "run1", LabReportID: "r1", Status: extraction.StatusReady})
	store.addResult(result.Result{ID: "x1", LabReportID: "r1", PersonID: "p1", ExtractionRunID: "run1", NameRaw: "LDL", ValueRaw: "100"})

	c := newMapCache()
	q := newFakeQueue()
	trends := NewTrendService(store, c, time.Hour)
	if _, err := trends.Subscribe(context.Background(), q); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	confirm := NewConfirmationService(store, NewEventPublisher(q, nil), nil)
	ctx := context.Background()

	points, err := trends.Series(ctx, member, "p1")
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("staged rows must not appear in trends, got %d", len(points))
	}
	if _, ok := c.data["trend.p1"]; !ok {
		t.Fatal("series not cached")
	}

	if _, err := confirm.Confirm(ctx, owner, extraction.ConfirmRequest{LabReportID: "r1"}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, ok := c.data["trend.p1"]; ok {
		t.Fatal("confirm should invalidate the cached series")
	}

	points, err = trends.Series(ctx, member, "p1")
	if err != nil {
		t.Fatalf("Series after confirm: %v", err)
	}
	if len(points) != 1 || points[0].NameRaw != "LDL" {
		t.Fatalf("points = %+v", points)
	}

	// Served from cache even when the store fails.
	store.errs["ListFinalResults"] = errBoom
	if _, err := trends.Series(ctx, member, "p1"); err != nil {
		t.Fatalf("cached Series: %v", err)
	}
}

func TestTrendSeries_Errors(t *testing.T) {
	store := newMockStore()
	seedHousehold(store)
	trends := NewTrendService(store, nil, time.Hour)
	ctx := context.Background()

	if _, err := trends.Series(ctx, nil, "p1"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("anonymous: %v", err)
	}
	if _, err := trends.Series(ctx, owner, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown person: %v", err)
	}
	if _, err := trends.Series(ctx, outsider, "p1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("outsider: %v", err)
	}
}

func TestTrendHandleConfirmed_BadPayload(t *testing.T) {
	trends := NewTrendService(newMockStore(), newMapCache(), time.Hour)
	if err := trends.handleConfirmed(context.Background(), "reports.confirmed", []byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestTrendSeries_FreshRightAfterConfirmWithoutSubscriber(t *testing.T) {
	store := newMockStore()
	seedHousehold(store)
	store.addReport(report.Report{ID: "r1", HouseholdID: "h1", PersonID: "p1", ReportDate: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Status: report.StatusReviewRequired, CurrentExtractionRunID: strPtr("run1")})
	store.addRun(extraction.Run{ID: "run1", LabReportID: "r1", Status: extraction.StatusReady})
	store.addResult(result.Result{ID: "x1", LabReportID: "r1", PersonID: "p1", ExtractionRunID: "run1", NameRaw: "HbA1c", ValueRaw: "5.4"})

	c := newMapCache()
	trends := NewTrendService(store, c, time.Hour)
	confirm := NewConfirmationService(store, nil, nil)
	confirm.SetTrends(trends)
	ctx := context.Background()

	if _, err := trends.Series(ctx, owner, "p1"); err != nil {
		t.Fatalf("Series: %v", err)
	}
	if _, err := confirm.Confirm(ctx, owner, extraction.ConfirmRequest{LabReportID: "r1", ExpectedRunID: "run1"}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	points, err := trends.Series(ctx, owner, "p1")
	if err != nil {
		t.Fatalf("Series after confirm: %v", err)
	}
	if len(points) != 1 || points[0].NameRaw != "HbA1c" {
		t.Fatalf("expected the confirmed row immediately, got %+v", points)
	}
}

// listHookStore runs onList while ListFinalResults is in flight.
type listHookStore struct {
	*mockStore
	onList func()
}

func (s *listHookStore) ListFinalResults(ctx context.Context, personID string) ([]result.Point, error) {
	points, err := s.mockStore.ListFinalResults(ctx, personID)
	if s.onList != nil {
		s.onList()
	}
	return points, err
}

func TestTrendSeries_InvalidatedReadIsNotCached(t *testing.T) {
	base := newMockStore()
	seedHousehold(base)
	store := &listHookStore{mockStore: base}
	c := newMapCache()
	trends := NewTrendService(store, c, time.Hour)
	ctx := context.Background()

	store.onList = func() {
		if err := trends.Invalidate(ctx, "p1"); err != nil {
			t.Errorf("Invalidate: %v", err)
		}
	}
	if _, err := trends.Series(ctx, owner, "p1"); err != nil {
		t.Fatalf("Series: %v", err)
	}
	if _, ok := c.data["trend.p1"]; ok {
		t.Fatal("a read overlapping an invalidation must not repopulate the cache")
	}

	store.onList = nil
	if _, err := trends.Series(ctx, owner, "p1"); err != nil {
		t.Fatalf("Series: %v", err)
	}
	if _, ok := c.data["trend.p1"]; !ok {
		t.Fatal("an undisturbed read should be cached")
	}
}
