// Package artifact defines uploaded binaries (PDF or image) that back a lab report.
package artifact

import (
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/labtracksimple/labtrack/internal/domain"
)

// Kind is the broad artifact type.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
)

// Status tracks the upload lifecycle of an artifact row.
type Status string

const (
	StatusPending Status = "pending" // row exists, binary not yet uploaded
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// Artifact is a stored binary belonging to a lab report.
type Artifact struct {
	ID          string     `json:"id"`
	HouseholdID string     `json:"household_id"`
	LabReportID string     `json:"lab_report_id"`
	ObjectPath  string     `json:"object_path"`
	Kind        Kind       `json:"kind"`
	MimeType    string     `json:"mime_type"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// ObjectPath builds the storage key {household_id}/{report_id}/{artifact_id}.{ext}.
// ext may be given with or without its leading dot.
func ObjectPath(householdID, reportID, artifactID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s/%s/%s.%s", householdID, reportID, artifactID, ext)
}

// accepted maps sniffed MIME types to their kind and canonical extension.
var accepted = map[string]struct {
	kind Kind
	ext  string
}{
	"application/pdf": {KindPDF, "pdf"},
	"image/jpeg":      {KindImage, "jpg"},
	"image/png":       {KindImage, "png"},
	"image/webp":      {KindImage, "webp"},
	"image/heic":      {KindImage, "heic"},
}

// Detected is the outcome of sniffing an upload.
type Detected struct {
	Kind      Kind
	MimeType  string
	Extension string
}

// Sniff inspects the leading bytes of an upload and classifies it. Anything
// other than a PDF or a supported image is a validation error.
func Sniff(data []byte) (Detected, error) {
	if len(data) == 0 {
		return Detected{}, domain.Errorf(domain.ErrValidation, "file is empty")
	}
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if a, ok := accepted[m.String()]; ok {
			return Detected{Kind: a.kind, MimeType: m.String(), Extension: a.ext}, nil
		}
	}
	return Detected{}, domain.Errorf(domain.ErrValidation, "unsupported file type %s (expected PDF or image)", mt.String())
}
