package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	cfotel "github.com/labtracksimple/labtrack/internal/adapter/otel"
	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/result"
	"github.com/labtracksimple/labtrack/internal/domain/review"
	"github.com/labtracksimple/labtrack/internal/domain/user"
	"github.com/labtracksimple/labtrack/internal/logger"
	"github.com/labtracksimple/labtrack/internal/port/database"
	"github.com/labtracksimple/labtrack/internal/port/messagequeue"
	"github.com/labtracksimple/labtrack/internal/port/objectstore"
)

const msgNotEditable = "Extraction run is no longer editable"

// ReviewService serves the review screen: it loads a report's current run
// for review, saves row edits and records "not correct" rejections.
type ReviewService struct {
	store      database.Store
	objects    objectstore.Store
	events     *EventPublisher
	metrics    *cfotel.Metrics
	previewTTL time.Duration
	now        func() time.Time
}

// NewReviewService creates a ReviewService. previewTTL is the lifetime of
// artifact preview links.
func NewReviewService(store database.Store, objects objectstore.Store, events *EventPublisher, metrics *cfotel.Metrics, previewTTL time.Duration) *ReviewService {
	return &ReviewService{
		store:      store,
		objects:    objects,
		events:     events,
		metrics:    metrics,
		previewTTL: previewTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Load returns the review snapshot of a report for a household member.
// The current run, its rows and the artifact previews load in parallel.
func (s *ReviewService) Load(ctx context.Context, caller *user.Identity, reportID string) (*review.Snapshot, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	rep, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, notFound(err, msgReportNotFound)
	}
	role, err := memberRole(ctx, s.store, rep.HouseholdID, caller)
	if err != nil {
		return nil, err
	}

	snap := &review.Snapshot{Report: *rep, Role: role, Rows: []result.Result{}, Artifacts: []review.Artifact{}}

	g, gctx := errgroup.WithContext(ctx)
	if runID := rep.CurrentRun(); runID != "" {
		g.Go(func() error {
			run, err := s.store.GetExtractionRun(gctx, runID)
			if err != nil {
				return notFound(err, msgRunNotFound)
			}
			snap.Run = run
			return nil
		})
		g.Go(func() error {
			rows, err := s.store.ListRunResults(gctx, rep.ID, runID)
			if err != nil {
				return err
			}
			snap.Rows = rows
			return nil
		})
	}
	g.Go(func() error {
		arts, err := s.store.ListReadyArtifacts(gctx, rep.ID)
		if err != nil {
			return err
		}
		views := make([]review.Artifact, len(arts))
		for i := range arts {
			views[i] = review.Artifact{Artifact: arts[i]}
			url, err := s.objects.SignedURL(gctx, arts[i].ObjectPath, s.previewTTL)
			if err != nil {
				// A missing preview does not block the review.
				slog.WarnContext(gctx, "sign artifact preview", "artifact_id", arts[i].ID, "error", err)
				continue
			}
			views[i].PreviewURL = url
		}
		snap.Artifacts = views
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load review %s: %w", rep.ID, err)
	}
	return snap, nil
}

// SaveResult applies an owner's edit to one result row. The row's run must
// still be under review; value_num is recomputed from the new value.
func (s *ReviewService) SaveResult(ctx context.Context, caller *user.Identity, resultID string, edit result.Edit) (*result.Result, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	u, err := edit.Normalize(s.now())
	if err != nil {
		return nil, err
	}
	row, err := s.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, notFound(err, "Result not found")
	}

	var saved *result.Result
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		// Holding the report lock orders the edit against a concurrent confirm.
		rep, err := s.store.LockReport(ctx, row.LabReportID)
		if err != nil {
			return notFound(err, msgReportNotFound)
		}
		if err := requireOwner(ctx, s.store, rep.HouseholdID, caller, "Only household owners can edit results"); err != nil {
			return err
		}
		run, err := s.store.GetExtractionRun(ctx, row.ExtractionRunID)
		if err != nil {
			return notFound(err, msgRunNotFound)
		}
		if !run.Status.Editable() {
			return domain.Errorf(domain.ErrState, msgNotEditable)
		}
		saved, err = s.store.UpdateResult(ctx, row.ID, caller.UserID, u)
		if err != nil {
			return notFound(err, "Result not found")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(logger.WithReportID(ctx, saved.LabReportID), "result edited", "result_id", saved.ID, "run_id", saved.ExtractionRunID)
	return saved, nil
}

// Reject flags the report's current run as not correct and puts the report
// back into review. No result row changes and the current run pointer stays,
// so the owner can edit and confirm or re-run extraction.
func (s *ReviewService) Reject(ctx context.Context, caller *user.Identity, reportID string) (*extraction.Rejection, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "lab_report_id is required")
	}
	ctx = logger.WithReportID(ctx, reportID)

	var (
		rep   *report.Report
		runID string
	)
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		rep, err = s.store.LockReport(ctx, reportID)
		if err != nil {
			return notFound(err, msgReportNotFound)
		}
		if err := requireOwner(ctx, s.store, rep.HouseholdID, caller, "Only household owners can reject results"); err != nil {
			return err
		}
		runID = rep.CurrentRun()
		if runID == "" {
			return domain.Errorf(domain.ErrState, "No extraction run to reject")
		}
		run, err := s.store.GetExtractionRun(ctx, runID)
		if err != nil {
			return notFound(err, msgRunNotFound)
		}
		if !run.Status.Editable() {
			return domain.Errorf(domain.ErrState, msgNotEditable)
		}
		if err := s.store.UpdateExtractionRun(ctx, runID, extraction.StatusRejected, time.Time{}, ""); err != nil {
			return err
		}
		return s.store.ReturnReportToReview(ctx, rep.ID)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRejection(ctx)
	slog.InfoContext(ctx, "extraction run rejected", "run_id", runID, "user_id", caller.UserID)
	s.events.ReportChanged(ctx, messagequeue.SubjectReportRejected, rep, runID, report.StatusReviewRequired)

	return &extraction.Rejection{
		LabReportID:     rep.ID,
		ExtractionRunID: runID,
		RunStatus:       extraction.StatusRejected,
		Status:          report.StatusReviewRequired,
	}, nil
}

