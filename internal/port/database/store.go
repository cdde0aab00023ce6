// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain/artifact"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/household"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/result"
)

// Store is the port interface for database operations.
//
// Every read excludes soft-deleted rows. Methods called with a context
// returned inside InTx run on that transaction.
type Store interface {
	// InTx runs fn in a single transaction. fn's error rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Households
	GetPerson(ctx context.Context, id string) (*household.Person, error)
	GetMemberRole(ctx context.Context, householdID, userID string) (household.Role, error)

	// Reports
	CreateReport(ctx context.Context, r *report.Report) error
	GetReport(ctx context.Context, id string) (*report.Report, error)
	// LockReport reads the report and holds a row lock until the surrounding
	// transaction ends.
	LockReport(ctx context.Context, id string) (*report.Report, error)
	MarkReportExtracted(ctx context.Context, reportID, runID string) error
	MarkReportExtractionFailed(ctx context.Context, reportID string) error
	FinalizeReport(ctx context.Context, reportID, runID, confirmedBy string, confirmedAt time.Time) error
	ReturnReportToReview(ctx context.Context, reportID string) error
	SoftDeleteOrphanDrafts(ctx context.Context, createdBefore time.Time) ([]string, error)

	// Artifacts
	CreateArtifact(ctx context.Context, a *artifact.Artifact) error
	MarkArtifactReady(ctx context.Context, id string) error
	DeleteArtifact(ctx context.Context, id string) error
	ListReadyArtifacts(ctx context.Context, reportID string) ([]artifact.Artifact, error)

	// Extraction runs
	CreateExtractionRun(ctx context.Context, run *extraction.Run) error
	GetExtractionRun(ctx context.Context, id string) (*extraction.Run, error)
	UpdateExtractionRun(ctx context.Context, id string, status extraction.Status, completedAt time.Time, errMsg string) error
	// HasNewerCompletedRun reports whether a run of the report that started
	// after startedAt has already left the running state.
	HasNewerCompletedRun(ctx context.Context, reportID string, startedAt time.Time) (bool, error)

	// Results
	InsertResults(ctx context.Context, rows []result.Result) error
	GetResult(ctx context.Context, id string) (*result.Result, error)
	ListRunResults(ctx context.Context, reportID, runID string) ([]result.Result, error)
	CountRunResults(ctx context.Context, reportID, runID string) (int, error)
	// UpdateResult applies a reviewer edit. The write only matches when
	// ownerUserID is an owner of the row's household.
	UpdateResult(ctx context.Context, id, ownerUserID string, u result.Update) (*result.Result, error)
	DeactivateOtherRuns(ctx context.Context, reportID, keepRunID string) (int64, error)
	ActivateRun(ctx context.Context, reportID, runID string) (int64, error)
	ListFinalResults(ctx context.Context, personID string) ([]result.Point, error)
}
