// Package result defines lab result rows produced by extraction and edited
// during review.
package result

import "time"

// Result is one named lab value. IsFinal implies IsActive.
type Result struct {
	ID              string     `json:"id"`
	LabReportID     string     `json:"lab_report_id"`
	PersonID        string     `json:"person_id"`
	ExtractionRunID string     `json:"extraction_run_id"`
	NameRaw         string     `json:"name_raw"`
	ValueRaw        string     `json:"value_raw"`
	UnitRaw         *string    `json:"unit_raw"`
	ValueNum        *float64   `json:"value_num"`
	DetailsRaw      *string    `json:"details_raw"`
	EditedAt        *time.Time `json:"edited_at"`
	IsActive        bool       `json:"is_active"`
	IsFinal         bool       `json:"is_final"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// Point is a confirmed value on a person's trend line.
type Point struct {
	ResultID    string    `json:"result_id"`
	LabReportID string    `json:"lab_report_id"`
	ReportDate  time.Time `json:"report_date"`
	NameRaw     string    `json:"name_raw"`
	ValueRaw    string    `json:"value_raw"`
	UnitRaw     *string   `json:"unit_raw"`
	ValueNum    *float64  `json:"value_num"`
}
