package extraction

import (
	"encoding/json"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain/report"
)

// Outcome is the extraction endpoint body. On failure Error is set and
// Status is extraction_failed; ExtractionRunID is set whenever a run exists.
// Superseded marks a run whose rows were staged after a newer run had already
// completed, so the report still points at that newer run.
type Outcome struct {
	ExtractionRunID string        `json:"extraction_run_id,omitempty"`
	InsertedRows    int           `json:"inserted_rows"`
	Status          report.Status `json:"status,omitempty"`
	Superseded      bool          `json:"superseded,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// MarshalJSON omits inserted_rows from a failed outcome. A successful run
// always carries the count, zero included.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	if o.Error == "" {
		return json.Marshal(plain(o))
	}
	return json.Marshal(struct {
		plain
		InsertedRows *int `json:"inserted_rows,omitempty"`
	}{plain: plain(o)})
}

// Confirmation is the confirmation endpoint body.
type Confirmation struct {
	LabReportID     string        `json:"lab_report_id"`
	ExtractionRunID string        `json:"extraction_run_id"`
	Status          report.Status `json:"status"`
	ConfirmedAt     time.Time     `json:"confirmed_at"`
	ConfirmedRows   int           `json:"confirmed_rows"`
}

// ConfirmRequest carries a confirmation call. ExpectedRunID, when set, must
// match the report's current run at the moment of confirmation.
type ConfirmRequest struct {
	LabReportID   string `json:"lab_report_id"`
	ExpectedRunID string `json:"expected_extraction_run_id,omitempty"`
}

// ExtractRequest carries an extraction call.
type ExtractRequest struct {
	LabReportID string `json:"lab_report_id"`
}

// Rejection is the body returned when an owner flags a run as not correct.
type Rejection struct {
	LabReportID     string        `json:"lab_report_id"`
	ExtractionRunID string        `json:"extraction_run_id"`
	RunStatus       Status        `json:"run_status"`
	Status          report.Status `json:"status"`
}
