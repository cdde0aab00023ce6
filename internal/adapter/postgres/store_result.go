package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/labtracksimple/labtrack/internal/domain/household"
	"github.com/labtracksimple/labtrack/internal/domain/result"
)

const resultColumns = `id, lab_report_id, person_id, extraction_run_id, name_raw, value_raw, unit_raw,
	value_num, details_raw, edited_at, is_active, is_final, created_at`

func scanResult(row scannable) (result.Result, error) {
	var r result.Result
	err := row.Scan(&r.ID, &r.LabReportID, &r.PersonID, &r.ExtractionRunID, &r.NameRaw, &r.ValueRaw, &r.UnitRaw,
		&r.ValueNum, &r.DetailsRaw, &r.EditedAt, &r.IsActive, &r.IsFinal, &r.CreatedAt)
	return r, err
}

func collectResults(rows pgx.Rows) ([]result.Result, error) {
	defer rows.Close()
	var out []result.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return orEmpty(out), rows.Err()
}

// InsertResults bulk-loads staged rows with COPY. Rows without an id get one.
func (s *Store) InsertResults(ctx context.Context, rows []result.Result) error {
	if len(rows) == 0 {
		return nil
	}
	src := make([][]any, len(rows))
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
		r := rows[i]
		src[i] = []any{r.ID, r.LabReportID, r.PersonID, r.ExtractionRunID, r.NameRaw, r.ValueRaw,
			r.UnitRaw, r.ValueNum, r.DetailsRaw, r.IsActive, r.IsFinal}
	}

	n, err := s.conn(ctx).CopyFrom(ctx, pgx.Identifier{"lab_results"},
		[]string{"id", "lab_report_id", "person_id", "extraction_run_id", "name_raw", "value_raw",
			"unit_raw", "value_num", "details_raw", "is_active", "is_final"},
		pgx.CopyFromRows(src))
	if err != nil {
		return fmt.Errorf("insert results: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("insert results: copied %d of %d rows", n, len(rows))
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, id string) (*result.Result, error) {
	r, err := scanResult(s.conn(ctx).QueryRow(ctx,
		`SELECT `+resultColumns+` FROM lab_results WHERE id = $1 AND `+alive(""), id))
	if err != nil {
		return nil, notFoundWrap(err, "get result %s", id)
	}
	return &r, nil
}

// ListRunResults returns a run's rows regardless of their active flags.
func (s *Store) ListRunResults(ctx context.Context, reportID, runID string) ([]result.Result, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+resultColumns+` FROM lab_results
		 WHERE lab_report_id = $1 AND extraction_run_id = $2 AND `+alive("")+`
		 ORDER BY created_at, name_raw, id`, reportID, runID)
	if err != nil {
		return nil, fmt.Errorf("list run results %s/%s: %w", reportID, runID, err)
	}
	return collectResults(rows)
}

func (s *Store) CountRunResults(ctx context.Context, reportID, runID string) (int, error) {
	var n int
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM lab_results
		 WHERE lab_report_id = $1 AND extraction_run_id = $2 AND `+alive(""), reportID, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count run results %s/%s: %w", reportID, runID, err)
	}
	return n, nil
}

// UpdateResult writes a reviewer edit. The row only matches when ownerUserID
// holds the owner role in the report's household, so a non-owner update
// affects nothing and surfaces as domain.ErrNotFound.
func (s *Store) UpdateResult(ctx context.Context, id, ownerUserID string, u result.Update) (*result.Result, error) {
	r, err := scanResult(s.conn(ctx).QueryRow(ctx,
		`UPDATE lab_results r
		 SET name_raw = $3, value_raw = $4, unit_raw = $5, value_num = $6, details_raw = $7, edited_at = $8
		 FROM lab_reports lr
		 JOIN household_members m ON m.household_id = lr.household_id
		 WHERE r.id = $1 AND `+alive("r")+`
		   AND lr.id = r.lab_report_id AND `+alive("lr")+`
		   AND m.user_id = $2 AND m.role = $9 AND `+alive("m")+`
		 RETURNING r.id, r.lab_report_id, r.person_id, r.extraction_run_id, r.name_raw, r.value_raw, r.unit_raw,
		           r.value_num, r.details_raw, r.edited_at, r.is_active, r.is_final, r.created_at`,
		id, ownerUserID, u.NameRaw, u.ValueRaw, u.UnitRaw, u.ValueNum, u.DetailsRaw, u.EditedAt, household.RoleOwner))
	if err != nil {
		return nil, notFoundWrap(err, "update result %s", id)
	}
	return &r, nil
}

// DeactivateOtherRuns clears the active and final flags on every row of the
// report that belongs to a run other than keepRunID.
func (s *Store) DeactivateOtherRuns(ctx context.Context, reportID, keepRunID string) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE lab_results SET is_active = false, is_final = false
		 WHERE lab_report_id = $1 AND extraction_run_id <> $2 AND (is_active OR is_final) AND `+alive(""),
		reportID, keepRunID)
	if err != nil {
		return 0, fmt.Errorf("deactivate runs of %s: %w", reportID, err)
	}
	return tag.RowsAffected(), nil
}

// ActivateRun marks every live row of the run active and final and returns
// the number of rows now in that state.
func (s *Store) ActivateRun(ctx context.Context, reportID, runID string) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE lab_results SET is_active = true, is_final = true
		 WHERE lab_report_id = $1 AND extraction_run_id = $2 AND `+alive(""),
		reportID, runID)
	if err != nil {
		return 0, fmt.Errorf("activate run %s: %w", runID, err)
	}
	return tag.RowsAffected(), nil
}

// ListFinalResults returns the person's confirmed values ordered by report date.
func (s *Store) ListFinalResults(ctx context.Context, personID string) ([]result.Point, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT r.id, r.lab_report_id, lr.report_date, r.name_raw, r.value_raw, r.unit_raw, r.value_num
		 FROM lab_results r
		 JOIN lab_reports lr ON lr.id = r.lab_report_id AND `+alive("lr")+`
		 WHERE r.person_id = $1 AND r.is_active AND r.is_final AND `+alive("r")+`
		 ORDER BY lr.report_date, r.name_raw, r.id`, personID)
	if err != nil {
		return nil, fmt.Errorf("list final results %s: %w", personID, err)
	}
	defer rows.Close()

	var out []result.Point
	for rows.Next() {
		var p result.Point
		if err := rows.Scan(&p.ResultID, &p.LabReportID, &p.ReportDate, &p.NameRaw, &p.ValueRaw, &p.UnitRaw, &p.ValueNum); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		out = append(out, p)
	}
	return orEmpty(out), rows.Err()
}
