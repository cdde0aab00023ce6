package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	cfotel "github.com/labtracksimple/labtrack/internal/adapter/otel"
	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/user"
	"github.com/labtracksimple/labtrack/internal/logger"
	"github.com/labtracksimple/labtrack/internal/port/database"
	"github.com/labtracksimple/labtrack/internal/port/messagequeue"
)

// ConfirmationService promotes a report's current extraction run to final.
type ConfirmationService struct {
	store   database.Store
	events  *EventPublisher
	metrics *cfotel.Metrics
	trends  *TrendService
	now     func() time.Time
}

// NewConfirmationService creates a ConfirmationService.
func NewConfirmationService(store database.Store, events *EventPublisher, metrics *cfotel.Metrics) *ConfirmationService {
	return &ConfirmationService{
		store:   store,
		events:  events,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetTrends makes Confirm drop the person's cached trend series as soon as
// the confirmation commits. Other replicas still rely on the confirmed event.
func (s *ConfirmationService) SetTrends(t *TrendService) {
	s.trends = t
}

// Confirm makes the rows of the report's current run the only active rows and
// marks them final, then marks the run confirmed and the report final.
//
// Everything runs in one transaction holding the report row lock, so two
// confirms of the same report serialize and readers never observe two active
// runs. When req.ExpectedRunID is set and no longer matches the current run,
// nothing is written and a conflict is returned.
func (s *ConfirmationService) Confirm(ctx context.Context, caller *user.Identity, req extraction.ConfirmRequest) (*extraction.Confirmation, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	reportID := strings.TrimSpace(req.LabReportID)
	if reportID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "lab_report_id is required")
	}

	ctx = logger.WithReportID(ctx, reportID)
	ctx, span := cfotel.StartSpan(ctx, "confirmation.confirm", reportID)

	var (
		rep      *report.Report
		out      extraction.Confirmation
		rows     int64
		replaced string
	)
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		rep, err = s.store.LockReport(ctx, reportID)
		if err != nil {
			return notFound(err, msgReportNotFound)
		}
		person, err := s.store.GetPerson(ctx, rep.PersonID)
		if err != nil {
			return notFound(err, msgPersonNotFound)
		}
		if err := requireOwner(ctx, s.store, person.HouseholdID, caller, "Only household owners can confirm results"); err != nil {
			return err
		}

		replaced = rep.FinalRun()
		runID := rep.CurrentRun()
		if runID == "" {
			return domain.Errorf(domain.ErrState, "No extraction run is ready to confirm")
		}
		if req.ExpectedRunID != "" && req.ExpectedRunID != runID {
			return domain.Errorf(domain.ErrConflict, "Extraction run changed since it was loaded. Reload and review again")
		}
		run, err := s.store.GetExtractionRun(ctx, runID)
		if err != nil {
			return notFound(err, msgRunNotFound)
		}
		if run.LabReportID != rep.ID {
			return domain.Errorf(domain.ErrNotFound, msgRunNotFound)
		}
		if run.Status == extraction.StatusFailed {
			return domain.Errorf(domain.ErrState, "Extraction failed. Retry required")
		}
		n, err := s.store.CountRunResults(ctx, rep.ID, runID)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.Errorf(domain.ErrState, "No extracted rows to confirm")
		}

		// Deactivate before activate: the other runs' rows must be gone
		// before this run's rows turn active.
		if _, err := s.store.DeactivateOtherRuns(ctx, rep.ID, runID); err != nil {
			return err
		}
		rows, err = s.store.ActivateRun(ctx, rep.ID, runID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.store.UpdateExtractionRun(ctx, runID, extraction.StatusConfirmed, now, ""); err != nil {
			return err
		}
		if err := s.store.FinalizeReport(ctx, rep.ID, runID, caller.UserID, now); err != nil {
			return err
		}

		out = extraction.Confirmation{
			LabReportID:     rep.ID,
			ExtractionRunID: runID,
			Status:          report.StatusFinal,
			ConfirmedAt:     now,
			ConfirmedRows:   int(rows),
		}
		return nil
	})
	cfotel.EndSpan(span, err)
	if err != nil {
		s.metrics.RecordConfirmation(ctx, false, 0)
		return nil, err
	}
	s.metrics.RecordConfirmation(ctx, true, rows)

	if s.trends != nil {
		if err := s.trends.Invalidate(ctx, rep.PersonID); err != nil {
			slog.WarnContext(ctx, "trend cache invalidation", "person_id", rep.PersonID, "error", err)
		}
	}

	if replaced != "" && replaced != out.ExtractionRunID {
		slog.InfoContext(ctx, "report confirmed", "run_id", out.ExtractionRunID, "replaced_run_id", replaced, "rows", out.ConfirmedRows, "user_id", caller.UserID)
	} else {
		slog.InfoContext(ctx, "report confirmed", "run_id", out.ExtractionRunID, "rows", out.ConfirmedRows, "user_id", caller.UserID)
	}
	s.events.ReportChanged(ctx, messagequeue.SubjectReportConfirmed, rep, out.ExtractionRunID, report.StatusFinal)
	return &out, nil
}
