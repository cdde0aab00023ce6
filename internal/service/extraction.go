package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	cfotel "github.com/labtracksimple/labtrack/internal/adapter/otel"
	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/result"
	"github.com/labtracksimple/labtrack/internal/domain/user"
	"github.com/labtracksimple/labtrack/internal/logger"
	"github.com/labtracksimple/labtrack/internal/port/database"
	"github.com/labtracksimple/labtrack/internal/port/extractor"
	"github.com/labtracksimple/labtrack/internal/port/messagequeue"
	"github.com/labtracksimple/labtrack/internal/slots"
)

// failureMarkTimeout bounds the writes that record a failed run. They run on a
// context detached from the caller so an expired extraction deadline still
// leaves the run marked failed.
const failureMarkTimeout = 10 * time.Second

// ExtractionService runs extraction: it creates a run, turns the report's
// ready artifacts into staged result rows and puts the report into review.
type ExtractionService struct {
	store     database.Store
	extractor extractor.Extractor
	events    *EventPublisher
	pool      *slots.Pool
	timeout   time.Duration
	metrics   *cfotel.Metrics
	now       func() time.Time
}

// NewExtractionService creates an ExtractionService. pool bounds concurrent
// runs and timeout bounds each run; a zero timeout means no deadline.
func NewExtractionService(
	store database.Store,
	ext extractor.Extractor,
	events *EventPublisher,
	pool *slots.Pool,
	timeout time.Duration,
	metrics *cfotel.Metrics,
) *ExtractionService {
	return &ExtractionService{
		store:     store,
		extractor: ext,
		events:    events,
		pool:      pool,
		timeout:   timeout,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Extract creates a new extraction run for the report and stages its rows.
//
// Errors raised before the run exists (validation, auth, missing report) come
// back with a nil Outcome. Once a run exists every failure is recorded on the
// run and the report, and the returned Outcome carries the run id, the
// extraction_failed status and the error message alongside the error.
func (s *ExtractionService) Extract(ctx context.Context, caller *user.Identity, req extraction.ExtractRequest) (*extraction.Outcome, error) {
	reportID := strings.TrimSpace(req.LabReportID)
	if reportID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "lab_report_id is required")
	}
	if caller.Anonymous() {
		return nil, domain.Errorf(domain.ErrUnauthenticated, msgUnauthorized)
	}

	var out *extraction.Outcome
	err := s.pool.Run(ctx, func(ctx context.Context) error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		var err error
		out, err = s.run(ctx, caller, reportID)
		return err
	})
	return out, err
}

func (s *ExtractionService) run(ctx context.Context, caller *user.Identity, reportID string) (*extraction.Outcome, error) {
	ctx = logger.WithReportID(ctx, reportID)
	ctx, span := cfotel.StartSpan(ctx, "extraction.run", reportID)
	var spanErr error
	defer func() { cfotel.EndSpan(span, spanErr) }()

	var (
		rep *report.Report
		run extraction.Run
	)
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		rep, err = s.store.GetReport(ctx, reportID)
		if err != nil {
			return notFound(err, msgReportNotFound)
		}
		if _, err := memberRole(ctx, s.store, rep.HouseholdID, caller); err != nil {
			return err
		}
		run = extraction.Run{LabReportID: rep.ID, Status: extraction.StatusRunning}
		return s.store.CreateExtractionRun(ctx, &run)
	})
	if err != nil {
		spanErr = err
		return nil, err
	}
	span.SetAttributes(attribute.String("extraction_run.id", run.ID))
	slog.InfoContext(ctx, "extraction started", "run_id", run.ID)

	start := time.Now()
	inserted, superseded, err := s.stage(ctx, rep, &run)
	if err != nil {
		spanErr = err
		s.metrics.RecordExtraction(ctx, false, 0, time.Since(start))
		msg := err.Error()
		s.fail(ctx, rep, &run, msg)
		return &extraction.Outcome{
			ExtractionRunID: run.ID,
			Status:          report.StatusExtractionFailed,
			Error:           msg,
		}, fmt.Errorf("extraction run %s: %w", run.ID, err)
	}
	s.metrics.RecordExtraction(ctx, true, inserted, time.Since(start))

	if superseded {
		slog.InfoContext(ctx, "extraction superseded by a newer run", "run_id", run.ID, "rows", inserted)
	} else {
		slog.InfoContext(ctx, "extraction ready for review", "run_id", run.ID, "rows", inserted)
		s.events.ReportChanged(ctx, messagequeue.SubjectReportExtracted, rep, run.ID, report.StatusReviewRequired)
	}

	return &extraction.Outcome{
		ExtractionRunID: run.ID,
		InsertedRows:    inserted,
		Status:          report.StatusReviewRequired,
		Superseded:      superseded,
	}, nil
}

// stage produces the candidate rows and commits them together with the run
// and report updates. superseded is true when a newer run already completed,
// in which case the report keeps pointing at that run.
func (s *ExtractionService) stage(ctx context.Context, rep *report.Report, run *extraction.Run) (inserted int, superseded bool, err error) {
	artifacts, err := s.store.ListReadyArtifacts(ctx, rep.ID)
	if err != nil {
		return 0, false, err
	}
	candidates, err := s.extractor.Extract(ctx, rep, artifacts)
	if err != nil {
		return 0, false, fmt.Errorf("extract candidates: %w", err)
	}

	rows := make([]result.Result, 0, len(candidates))
	for i := range candidates {
		rows = append(rows, stagedRow(rep, run.ID, &candidates[i]))
	}

	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.LockReport(ctx, rep.ID); err != nil {
			return notFound(err, msgReportNotFound)
		}
		if err := s.store.InsertResults(ctx, rows); err != nil {
			return err
		}
		if err := s.store.UpdateExtractionRun(ctx, run.ID, extraction.StatusReady, s.now(), ""); err != nil {
			return err
		}
		newer, err := s.store.HasNewerCompletedRun(ctx, rep.ID, run.StartedAt)
		if err != nil {
			return err
		}
		superseded = newer
		if newer {
			return nil
		}
		return s.store.MarkReportExtracted(ctx, rep.ID, run.ID)
	})
	if err != nil {
		return 0, false, err
	}
	run.Status = extraction.StatusReady
	return len(rows), superseded, nil
}

// fail records a failed run. The report only moves to extraction_failed when
// no newer run has completed in the meantime.
func (s *ExtractionService) fail(ctx context.Context, rep *report.Report, run *extraction.Run, msg string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureMarkTimeout)
	defer cancel()

	var flipped bool
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.LockReport(ctx, rep.ID); err != nil {
			return err
		}
		if err := s.store.UpdateExtractionRun(ctx, run.ID, extraction.StatusFailed, s.now(), msg); err != nil {
			return err
		}
		newer, err := s.store.HasNewerCompletedRun(ctx, rep.ID, run.StartedAt)
		if err != nil || newer {
			return err
		}
		flipped = true
		return s.store.MarkReportExtractionFailed(ctx, rep.ID)
	})
	if err != nil {
		slog.ErrorContext(ctx, "record extraction failure", "run_id", run.ID, "cause", msg, "error", err)
		return
	}
	run.Status = extraction.StatusFailed
	slog.WarnContext(ctx, "extraction failed", "run_id", run.ID, "error", msg)
	if flipped {
		s.events.ReportChanged(ctx, messagequeue.SubjectReportExtractionFailed, rep, run.ID, report.StatusExtractionFailed)
	}
}

// stagedRow builds an inactive, non-final row for review.
func stagedRow(rep *report.Report, runID string, c *extraction.Candidate) result.Result {
	valueNum := c.ValueNum
	if valueNum == nil {
		valueNum = result.ParseValueNum(c.ValueRaw)
	}
	return result.Result{
		LabReportID:     rep.ID,
		PersonID:        rep.PersonID,
		ExtractionRunID: runID,
		NameRaw:         c.NameRaw,
		ValueRaw:        c.ValueRaw,
		UnitRaw:         optional(c.UnitRaw),
		ValueNum:        valueNum,
		DetailsRaw:      optional(c.DetailsRaw),
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

