package ws

import (
	"context"

	"github.com/labtracksimple/labtrack/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastReportStatus pushes a report.status event to the report's household.
func (h *Hub) BroadcastReportStatus(ctx context.Context, householdID string, ev broadcast.ReportStatusEvent) {
	h.BroadcastToHousehold(ctx, householdID, broadcast.EventReportStatus, ev)
}
