// Package broadcast defines the port for pushing real-time events to the
// browser sessions of a household.
package broadcast

import "context"

// Broadcaster sends real-time events to connected clients.
type Broadcaster interface {
	// BroadcastToHousehold sends a typed event to every session signed in to
	// the given household.
	BroadcastToHousehold(ctx context.Context, householdID, eventType string, payload any)
}

// Event types.
const (
	EventReportStatus = "report.status"
)

// ReportStatusEvent is pushed whenever a report changes status.
type ReportStatusEvent struct {
	LabReportID     string `json:"lab_report_id"`
	PersonID        string `json:"person_id"`
	Status          string `json:"status"`
	ExtractionRunID string `json:"extraction_run_id,omitempty"`
}
