// Package extraction defines extraction runs: one attempt at deriving result
// rows from a report's artifacts. Runs are history and are never deleted.
package extraction

import "time"

// Status represents the state of an extraction run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusReady     Status = "ready"     // rows staged, awaiting review
	StatusFailed    Status = "failed"    // terminal, retry creates a new run
	StatusConfirmed Status = "confirmed" // rows active and final
	StatusRejected  Status = "rejected"  // owner flagged rows as not correct
)

// Run is a single extraction attempt for a lab report.
type Run struct {
	ID          string     `json:"id"`
	LabReportID string     `json:"lab_report_id"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Candidate is one named value produced by an extractor, not yet persisted.
type Candidate struct {
	NameRaw    string
	ValueRaw   string
	UnitRaw    string
	ValueNum   *float64
	DetailsRaw string
}

var validStatuses = map[Status]bool{
	StatusRunning:   true,
	StatusReady:     true,
	StatusFailed:    true,
	StatusConfirmed: true,
	StatusRejected:  true,
}

// Valid reports whether s is a known run status.
func (s Status) Valid() bool { return validStatuses[s] }

// Editable reports whether rows of a run in this status may still be edited.
func (s Status) Editable() bool { return s == StatusReady || s == StatusRejected }
