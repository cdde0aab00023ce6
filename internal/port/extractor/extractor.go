// Package extractor defines the port that turns report artifacts into
// candidate result rows.
package extractor

import (
	"context"

	"github.com/labtracksimple/labtrack/internal/domain/artifact"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/report"
)

// Extractor produces zero or more named values from a report's ready artifacts.
type Extractor interface {
	Extract(ctx context.Context, r *report.Report, artifacts []artifact.Artifact) ([]extraction.Candidate, error)
}
