package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "labtrack"

// Metrics holds the report lifecycle instruments. A nil *Metrics records nothing.
type Metrics struct {
	extractions        metric.Int64Counter
	extractionRows     metric.Int64Counter
	extractionDuration metric.Float64Histogram
	confirmations      metric.Int64Counter
	confirmedRows      metric.Int64Counter
	rejections         metric.Int64Counter
	uploads            metric.Int64Counter
	uploadBytes        metric.Int64Counter
	orphansSwept       metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.extractions, err = meter.Int64Counter("labtrack.extractions",
		metric.WithDescription("Extraction runs finished, by outcome")); err != nil {
		return nil, err
	}
	if m.extractionRows, err = meter.Int64Counter("labtrack.extraction.rows",
		metric.WithDescription("Result rows staged by extraction")); err != nil {
		return nil, err
	}
	if m.extractionDuration, err = meter.Float64Histogram("labtrack.extraction.duration_seconds",
		metric.WithDescription("Extraction run duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.confirmations, err = meter.Int64Counter("labtrack.confirmations",
		metric.WithDescription("Confirm requests, by outcome")); err != nil {
		return nil, err
	}
	if m.confirmedRows, err = meter.Int64Counter("labtrack.confirmed.rows",
		metric.WithDescription("Result rows made active and final")); err != nil {
		return nil, err
	}
	if m.rejections, err = meter.Int64Counter("labtrack.rejections",
		metric.WithDescription("Runs flagged as not correct")); err != nil {
		return nil, err
	}
	if m.uploads, err = meter.Int64Counter("labtrack.uploads",
		metric.WithDescription("Artifact uploads, by outcome")); err != nil {
		return nil, err
	}
	if m.uploadBytes, err = meter.Int64Counter("labtrack.upload.bytes",
		metric.WithDescription("Bytes uploaded to object storage"), metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.orphansSwept, err = meter.Int64Counter("labtrack.orphans.swept",
		metric.WithDescription("Draft reports soft-deleted by the janitor")); err != nil {
		return nil, err
	}

	return m, nil
}

func outcome(ok bool) metric.MeasurementOption {
	v := "error"
	if ok {
		v = "ok"
	}
	return metric.WithAttributes(attribute.String("outcome", v))
}

// RecordExtraction records a finished extraction run.
func (m *Metrics) RecordExtraction(ctx context.Context, ok bool, rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.extractions.Add(ctx, 1, outcome(ok))
	m.extractionRows.Add(ctx, int64(rows))
	m.extractionDuration.Record(ctx, d.Seconds(), outcome(ok))
}

// RecordConfirmation records a confirm attempt and the rows it finalized.
func (m *Metrics) RecordConfirmation(ctx context.Context, ok bool, rows int64) {
	if m == nil {
		return
	}
	m.confirmations.Add(ctx, 1, outcome(ok))
	m.confirmedRows.Add(ctx, rows)
}

// RecordRejection counts one run flagged as not correct.
func (m *Metrics) RecordRejection(ctx context.Context) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1)
}

// RecordUpload records an artifact upload attempt.
func (m *Metrics) RecordUpload(ctx context.Context, ok bool, size int64) {
	if m == nil {
		return
	}
	m.uploads.Add(ctx, 1, outcome(ok))
	if ok {
		m.uploadBytes.Add(ctx, size)
	}
}

// RecordOrphansSwept counts draft reports removed by one janitor pass.
func (m *Metrics) RecordOrphansSwept(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.orphansSwept.Add(ctx, int64(n))
}
