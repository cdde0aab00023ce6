// Package review defines the data a reviewer sees for one lab report.
package review

import (
	"github.com/labtracksimple/labtrack/internal/domain/artifact"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/household"
	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/domain/result"
)

// Snapshot is the server state of a report under review. Run and Rows refer
// to the report's current extraction run and are empty when there is none.
type Snapshot struct {
	Report    report.Report   `json:"report"`
	Run       *extraction.Run `json:"run"`
	Rows      []result.Result `json:"rows"`
	Artifacts []Artifact      `json:"artifacts"`
	Role      household.Role  `json:"role"`
}

// Artifact is a stored binary with a short-lived preview link.
type Artifact struct {
	artifact.Artifact
	PreviewURL string `json:"preview_url,omitempty"`
}

// IsOwner reports whether the viewer may act on the report.
func (s *Snapshot) IsOwner() bool { return s.Role.IsOwner() }

// Editable reports whether the viewer may edit, confirm or reject the rows.
func (s *Snapshot) Editable() bool {
	return s.IsOwner() && s.Run != nil && s.Run.Status.Editable()
}

// Empty reports whether there is nothing to review.
func (s *Snapshot) Empty() bool { return s.Run == nil || len(s.Rows) == 0 }
