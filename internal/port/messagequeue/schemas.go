package messagequeue

// ReportEvent is the payload of every report lifecycle subject.
type ReportEvent struct {
	LabReportID     string `json:"lab_report_id"`
	HouseholdID     string `json:"household_id"`
	PersonID        string `json:"person_id"`
	ExtractionRunID string `json:"extraction_run_id,omitempty"`
	Status          string `json:"status"`
	RequestID       string `json:"request_id,omitempty"`
}
