package postgres

import (
	"context"
	"fmt"

	"github.com/labtracksimple/labtrack/internal/domain/artifact"
)

// CreateArtifact inserts a pending artifact. The caller supplies the id so the
// object path can be derived before the row exists.
func (s *Store) CreateArtifact(ctx context.Context, a *artifact.Artifact) error {
	if a.Status == "" {
		a.Status = artifact.StatusPending
	}
	err := s.conn(ctx).QueryRow(ctx,
		`INSERT INTO lab_artifacts (id, household_id, lab_report_id, object_path, kind, mime_type, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		a.ID, a.HouseholdID, a.LabReportID, a.ObjectPath, a.Kind, a.MimeType, a.Status).
		Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

func (s *Store) MarkArtifactReady(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE lab_artifacts SET status = $2 WHERE id = $1 AND `+alive(""), id, artifact.StatusReady)
	return execExpectOne(tag, err, "mark artifact %s ready", id)
}

// DeleteArtifact removes a row whose upload never completed. Rows that never
// held a binary are hard-deleted; nothing references them.
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM lab_artifacts WHERE id = $1 AND status <> $2`, id, artifact.StatusReady)
	return execExpectOne(tag, err, "delete artifact %s", id)
}

// ListReadyArtifacts returns the report's uploaded artifacts in upload order.
func (s *Store) ListReadyArtifacts(ctx context.Context, reportID string) ([]artifact.Artifact, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT id, household_id, lab_report_id, object_path, kind, mime_type, status, created_at
		 FROM lab_artifacts
		 WHERE lab_report_id = $1 AND status = $2 AND `+alive("")+`
		 ORDER BY created_at, id`, reportID, artifact.StatusReady)
	if err != nil {
		return nil, fmt.Errorf("list artifacts %s: %w", reportID, err)
	}
	defer rows.Close()

	var out []artifact.Artifact
	for rows.Next() {
		var a artifact.Artifact
		if err := rows.Scan(&a.ID, &a.HouseholdID, &a.LabReportID, &a.ObjectPath, &a.Kind, &a.MimeType, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return orEmpty(out), rows.Err()
}
