// Package service contains the report lifecycle application services.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/labtracksimple/labtrack/internal/domain/report"
	"github.com/labtracksimple/labtrack/internal/logger"
	"github.com/labtracksimple/labtrack/internal/port/broadcast"
	"github.com/labtracksimple/labtrack/internal/port/messagequeue"
)

// EventPublisher fans report lifecycle changes out to the message queue and
// to connected browser sessions. Delivery is best effort: the database write
// has already committed, so failures are logged and never returned.
type EventPublisher struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
}

// NewEventPublisher creates an EventPublisher. Either side may be nil.
func NewEventPublisher(queue messagequeue.Queue, hub broadcast.Broadcaster) *EventPublisher {
	return &EventPublisher{queue: queue, hub: hub}
}

// ReportChanged publishes subject for r and pushes a report.status event to
// the report's household.
func (p *EventPublisher) ReportChanged(ctx context.Context, subject string, r *report.Report, runID string, status report.Status) {
	if p == nil {
		return
	}

	if p.queue != nil {
		ev := messagequeue.ReportEvent{
			LabReportID:     r.ID,
			HouseholdID:     r.HouseholdID,
			PersonID:        r.PersonID,
			ExtractionRunID: runID,
			Status:          string(status),
			RequestID:       logger.RequestID(ctx),
		}
		data, err := json.Marshal(ev)
		if err != nil {
			slog.ErrorContext(ctx, "marshal report event", "subject", subject, "error", err)
		} else if err := p.queue.Publish(ctx, subject, data); err != nil {
			slog.WarnContext(ctx, "publish report event failed", "subject", subject, "report_id", r.ID, "error", err)
		}
	}

	if p.hub != nil {
		p.hub.BroadcastToHousehold(ctx, r.HouseholdID, broadcast.EventReportStatus, broadcast.ReportStatusEvent{
			LabReportID:     r.ID,
			PersonID:        r.PersonID,
			Status:          string(status),
			ExtractionRunID: runID,
		})
	}
}
