// Package report defines the LabReport entity and its lifecycle statuses.
package report

import "time"

// Status is the lifecycle state of a lab report.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusReviewRequired   Status = "review_required"
	StatusFinal            Status = "final"
	StatusExtractionFailed Status = "extraction_failed"
)

// Report is one lab report belonging to a person in a household.
//
// CurrentExtractionRunID points at the run whose rows are in review;
// FinalExtractionRunID at the run whose rows were last confirmed.
type Report struct {
	ID                     string     `json:"id"`
	HouseholdID            string     `json:"household_id"`
	PersonID               string     `json:"person_id"`
	ReportDate             time.Time  `json:"report_date"`
	Source                 string     `json:"source,omitempty"`
	Notes                  string     `json:"notes,omitempty"`
	Status                 Status     `json:"status"`
	CurrentExtractionRunID *string    `json:"current_extraction_run_id"`
	FinalExtractionRunID   *string    `json:"final_extraction_run_id"`
	ConfirmedAt            *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedBy            *string    `json:"confirmed_by,omitempty"`
	CreatedBy              string     `json:"created_by"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	DeletedAt              *time.Time `json:"deleted_at,omitempty"`
}

// CurrentRun returns the current extraction run id or "" when none is set.
func (r *Report) CurrentRun() string {
	if r.CurrentExtractionRunID == nil {
		return ""
	}
	return *r.CurrentExtractionRunID
}

// FinalRun returns the final extraction run id or "" when none is set.
func (r *Report) FinalRun() string {
	if r.FinalExtractionRunID == nil {
		return ""
	}
	return *r.FinalExtractionRunID
}

var validStatuses = map[Status]bool{
	StatusDraft:            true,
	StatusReviewRequired:   true,
	StatusFinal:            true,
	StatusExtractionFailed: true,
}

// Valid reports whether s is a known report status.
func (s Status) Valid() bool { return validStatuses[s] }
