package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Subjects outside reports.* pass.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if !strings.HasPrefix(subject, "reports.") {
		return nil
	}

	var ev ReportEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if ev.LabReportID == "" {
		return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("lab_report_id is required"))
	}
	if ev.Status == "" {
		return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("status is required"))
	}
	return nil
}
