// Package placeholder implements the extractor port without parsing documents:
// it stages one row per artifact for a reviewer to fill in.
package placeholder

import (
	"context"
	"fmt"

	"github.com/labtracksimple/labtrack/internal/domain/artifact"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/report"
)

// ReviewValue is the value_raw every staged row starts with.
const ReviewValue = "Review artifact"

// Extractor stages "Artifact N" rows pointing at each artifact's object path.
type Extractor struct{}

// New returns a placeholder extractor.
func New() *Extractor { return &Extractor{} }

// Extract returns one candidate per artifact, numbered from 1 in the order given.
func (Extractor) Extract(ctx context.Context, _ *report.Report, artifacts []artifact.Artifact) ([]extraction.Candidate, error) {
	out := make([]extraction.Candidate, 0, len(artifacts))
	for i, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, extraction.Candidate{
			NameRaw:    fmt.Sprintf("Artifact %d", i+1),
			ValueRaw:   ReviewValue,
			DetailsRaw: a.ObjectPath,
		})
	}
	return out, nil
}
