package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	cfotel "github.com/labtracksimple/labtrack/internal/adapter/otel"
	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/artifact"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/user"
	"github.com/labtracksimple/labtrack/internal/logger"
	"github.com/labtracksimple/labtrack/internal/port/database"
	"github.com/labtracksimple/labtrack/internal/port/objectstore"
)

// IntakeResult is what the intake form receives back. Extraction is set once
// extraction was attempted; a failed extraction still returns the report.
type IntakeResult struct {
	Report     *report.Report      `json:"report"`
	Artifact   *artifact.Artifact  `json:"artifact"`
	Extraction *extraction.Outcome `json:"extraction,omitempty"`
}

// IntakeService turns an uploaded file into a report under review.
type IntakeService struct {
	store      database.Store
	objects    objectstore.Store
	extraction *ExtractionService
	metrics    *cfotel.Metrics
	maxSize    int64
}

// NewIntakeService creates an IntakeService accepting files up to maxSize bytes.
func NewIntakeService(store database.Store, objects objectstore.Store, ext *ExtractionService, metrics *cfotel.Metrics, maxSize int64) *IntakeService {
	return &IntakeService{
		store:      store,
		objects:    objects,
		extraction: ext,
		metrics:    metrics,
		maxSize:    maxSize,
	}
}

// Submit creates a draft report, registers a pending artifact, uploads the
// file, marks the artifact ready and runs extraction.
//
// The artifact row exists before the upload because storage writes are
// authorized against it. A failed upload deletes that row and leaves the
// draft report for the orphan sweep.
func (s *IntakeService) Submit(ctx context.Context, caller *user.Identity, req report.CreateRequest, file []byte) (*IntakeResult, error) {
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.maxSize > 0 && int64(len(file)) > s.maxSize {
		return nil, domain.Errorf(domain.ErrValidation, "file exceeds the %d byte limit", s.maxSize)
	}
	detected, err := artifact.Sniff(file)
	if err != nil {
		return nil, err
	}
	reportDate, err := req.Date()
	if err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "report_date is not a valid date (YYYY-MM-DD)")
	}

	person, err := s.store.GetPerson(ctx, req.PersonID)
	if err != nil {
		return nil, notFound(err, msgPersonNotFound)
	}
	if _, err := memberRole(ctx, s.store, person.HouseholdID, caller); err != nil {
		return nil, err
	}

	rep := &report.Report{
		HouseholdID: person.HouseholdID,
		PersonID:    person.ID,
		ReportDate:  reportDate,
		Source:      req.Source,
		Notes:       req.Notes,
		Status:      report.StatusDraft,
		CreatedBy:   caller.UserID,
	}
	if err := s.store.CreateReport(ctx, rep); err != nil {
		return nil, err
	}
	ctx = logger.WithReportID(ctx, rep.ID)
	ctx, span := cfotel.StartSpan(ctx, "intake.submit", rep.ID)
	var spanErr error
	defer func() { cfotel.EndSpan(span, spanErr) }()

	artifactID := uuid.NewString()
	art := &artifact.Artifact{
		ID:          artifactID,
		HouseholdID: rep.HouseholdID,
		LabReportID: rep.ID,
		ObjectPath:  artifact.ObjectPath(rep.HouseholdID, rep.ID, artifactID, detected.Extension),
		Kind:        detected.Kind,
		MimeType:    detected.MimeType,
		Status:      artifact.StatusPending,
	}
	if err := s.store.CreateArtifact(ctx, art); err != nil {
		spanErr = err
		return nil, err
	}

	if err := s.objects.Put(ctx, art.ObjectPath, bytes.NewReader(file), art.MimeType); err != nil {
		spanErr = err
		s.metrics.RecordUpload(ctx, false, 0)
		if derr := s.store.DeleteArtifact(context.WithoutCancel(ctx), art.ID); derr != nil {
			slog.ErrorContext(ctx, "remove artifact after failed upload", "artifact_id", art.ID, "error", derr)
		}
		return nil, fmt.Errorf("upload artifact: %w", err)
	}
	s.metrics.RecordUpload(ctx, true, int64(len(file)))

	if err := s.store.MarkArtifactReady(ctx, art.ID); err != nil {
		spanErr = err
		s.discard(ctx, art)
		return nil, err
	}
	art.Status = artifact.StatusReady
	slog.InfoContext(ctx, "artifact uploaded", "artifact_id", art.ID, "kind", art.Kind, "bytes", len(file))

	out := &IntakeResult{Report: rep, Artifact: art}
	outcome, err := s.extraction.Extract(ctx, caller, extraction.ExtractRequest{LabReportID: rep.ID})
	if outcome == nil && err != nil {
		spanErr = err
		return nil, err
	}
	out.Extraction = outcome

	// Extraction may have lost to a newer run; return the stored report.
	fresh, rerr := s.store.GetReport(ctx, rep.ID)
	switch {
	case rerr == nil:
		out.Report = fresh
	case err != nil:
		rep.Status = report.StatusExtractionFailed
	case !outcome.Superseded:
		rep.Status = report.StatusReviewRequired
		rep.CurrentExtractionRunID = &outcome.ExtractionRunID
	}
	if rerr != nil {
		slog.WarnContext(ctx, "reload report after extraction", "error", rerr)
	}
	return out, nil
}

// discard removes an uploaded object and its artifact row once the upload can
// no longer be registered. The draft report is left for the orphan sweep.
func (s *IntakeService) discard(ctx context.Context, art *artifact.Artifact) {
	ctx = context.WithoutCancel(ctx)
	if err := s.objects.Delete(ctx, art.ObjectPath); err != nil {
		slog.ErrorContext(ctx, "remove uploaded object", "artifact_id", art.ID, "object_path", art.ObjectPath, "error", err)
	}
	if err := s.store.DeleteArtifact(ctx, art.ID); err != nil {
		slog.ErrorContext(ctx, "remove artifact after failed registration", "artifact_id", art.ID, "error", err)
	}
}
