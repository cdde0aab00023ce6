package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain/extraction"
)

func (s *Store) CreateExtractionRun(ctx context.Context, run *extraction.Run) error {
	if run.Status == "" {
		run.Status = extraction.StatusRunning
	}
	err := s.conn(ctx).QueryRow(ctx,
		`INSERT INTO extraction_runs (lab_report_id, status)
		 VALUES ($1, $2)
		 RETURNING id, started_at`, run.LabReportID, run.Status).
		Scan(&run.ID, &run.StartedAt)
	if err != nil {
		return fmt.Errorf("create extraction run: %w", err)
	}
	return nil
}

func (s *Store) GetExtractionRun(ctx context.Context, id string) (*extraction.Run, error) {
	var r extraction.Run
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT id, lab_report_id, status, started_at, completed_at, error
		 FROM extraction_runs WHERE id = $1 AND `+alive(""), id).
		Scan(&r.ID, &r.LabReportID, &r.Status, &r.StartedAt, &r.CompletedAt, &r.Error)
	if err != nil {
		return nil, notFoundWrap(err, "get extraction run %s", id)
	}
	return &r, nil
}

// UpdateExtractionRun sets status and, when completedAt is non-zero, the
// completion time. A zero completedAt keeps the stored value.
func (s *Store) UpdateExtractionRun(ctx context.Context, id string, status extraction.Status, completedAt time.Time, errMsg string) error {
	var done *time.Time
	if !completedAt.IsZero() {
		done = &completedAt
	}
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE extraction_runs
		 SET status = $2, completed_at = COALESCE($3, completed_at), error = $4
		 WHERE id = $1 AND `+alive(""), id, status, done, errMsg)
	return execExpectOne(tag, err, "update extraction run %s", id)
}

func (s *Store) HasNewerCompletedRun(ctx context.Context, reportID string, startedAt time.Time) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM extraction_runs
		     WHERE lab_report_id = $1 AND started_at > $2 AND status <> $3 AND `+alive("")+`)`,
		reportID, startedAt, extraction.StatusRunning).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check newer runs %s: %w", reportID, err)
	}
	return exists, nil
}
