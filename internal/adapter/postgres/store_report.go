package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain/report"
)

const reportColumns = `id, household_id, person_id, report_date, source, notes, status,
	current_extraction_run_id, final_extraction_run_id, confirmed_at, confirmed_by,
	created_by, created_at, updated_at`

func scanReport(row scannable) (report.Report, error) {
	var r report.Report
	err := row.Scan(&r.ID, &r.HouseholdID, &r.PersonID, &r.ReportDate, &r.Source, &r.Notes, &r.Status,
		&r.CurrentExtractionRunID, &r.FinalExtractionRunID, &r.ConfirmedAt, &r.ConfirmedBy,
		&r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// CreateReport inserts a draft report and fills in its id and timestamps.
func (s *Store) CreateReport(ctx context.Context, r *report.Report) error {
	if r.Status == "" {
		r.Status = report.StatusDraft
	}
	err := s.conn(ctx).QueryRow(ctx,
		`INSERT INTO lab_reports (household_id, person_id, report_date, source, notes, status, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		r.HouseholdID, r.PersonID, r.ReportDate, r.Source, r.Notes, r.Status, r.CreatedBy).
		Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (*report.Report, error) {
	r, err := scanReport(s.conn(ctx).QueryRow(ctx,
		`SELECT `+reportColumns+` FROM lab_reports WHERE id = $1 AND `+alive(""), id))
	if err != nil {
		return nil, notFoundWrap(err, "get report %s", id)
	}
	return &r, nil
}

// LockReport must run inside InTx; the row lock lasts until commit.
func (s *Store) LockReport(ctx context.Context, id string) (*report.Report, error) {
	r, err := scanReport(s.conn(ctx).QueryRow(ctx,
		`SELECT `+reportColumns+` FROM lab_reports WHERE id = $1 AND `+alive("")+` FOR UPDATE`, id))
	if err != nil {
		return nil, notFoundWrap(err, "lock report %s", id)
	}
	return &r, nil
}

func (s *Store) MarkReportExtracted(ctx context.Context, reportID, runID string) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE lab_reports
		 SET status = $2, current_extraction_run_id = $3, updated_at = now()
		 WHERE id = $1 AND `+alive(""), reportID, report.StatusReviewRequired, runID)
	return execExpectOne(tag, err, "mark report %s extracted", reportID)
}

func (s *Store) MarkReportExtractionFailed(ctx context.Context, reportID string) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE lab_reports SET status = $2, updated_at = now()
		 WHERE id = $1 AND `+alive(""), reportID, report.StatusExtractionFailed)
	return execExpectOne(tag, err, "mark report %s extraction failed", reportID)
}

func (s *Store) FinalizeReport(ctx context.Context, reportID, runID, confirmedBy string, confirmedAt time.Time) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE lab_reports
		 SET status = $2, final_extraction_run_id = $3, confirmed_at = $4, confirmed_by = $5, updated_at = now()
		 WHERE id = $1 AND `+alive(""), reportID, report.StatusFinal, runID, confirmedAt, confirmedBy)
	return execExpectOne(tag, err, "finalize report %s", reportID)
}

// ReturnReportToReview rewrites status to review_required and leaves both run
// pointers as they are.
func (s *Store) ReturnReportToReview(ctx context.Context, reportID string) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE lab_reports SET status = $2, updated_at = now()
		 WHERE id = $1 AND `+alive(""), reportID, report.StatusReviewRequired)
	return execExpectOne(tag, err, "return report %s to review", reportID)
}

// SoftDeleteOrphanDrafts marks draft reports created before the cutoff that
// have no live artifact as deleted and returns their ids.
func (s *Store) SoftDeleteOrphanDrafts(ctx context.Context, createdBefore time.Time) ([]string, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`UPDATE lab_reports r SET deleted_at = now(), updated_at = now()
		 WHERE r.status = $1 AND r.created_at < $2 AND `+alive("r")+`
		   AND NOT EXISTS (
		       SELECT 1 FROM lab_artifacts a
		       WHERE a.lab_report_id = r.id AND `+alive("a")+`)
		 RETURNING r.id`, report.StatusDraft, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("sweep orphan drafts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan orphan draft: %w", err)
		}
		ids = append(ids, id)
	}
	return orEmpty(ids), rows.Err()
}
