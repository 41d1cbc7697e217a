package spanbatch

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// processorMetrics holds the optional OTel instruments registered via
// WithMeter. When no meter was supplied the processor holds a nil
// *processorMetrics; every record method checks m == nil and returns
// early, so call sites need no guard of their own.
type processorMetrics struct {
	dropped       metric.Int64Counter
	exported      metric.Int64Counter
	exportErrors  metric.Int64Counter
	batchSize     metric.Int64Histogram
	exportLatency metric.Float64Histogram
}

func newProcessorMetrics(meter metric.Meter) (*processorMetrics, error) {
	if meter == nil {
		return nil, nil
	}

	dropped, err := meter.Int64Counter("spanbatch.spans.dropped",
		metric.WithDescription("Spans dropped because the ring buffer was full"))
	if err != nil {
		return nil, err
	}
	exported, err := meter.Int64Counter("spanbatch.spans.exported",
		metric.WithDescription("Spans successfully handed to the exporter"))
	if err != nil {
		return nil, err
	}
	exportErrors, err := meter.Int64Counter("spanbatch.export.errors",
		metric.WithDescription("Exporter calls that returned an error"))
	if err != nil {
		return nil, err
	}
	batchSize, err := meter.Int64Histogram("spanbatch.batch.size",
		metric.WithDescription("Number of spans per export call"))
	if err != nil {
		return nil, err
	}
	exportLatency, err := meter.Float64Histogram("spanbatch.export.latency",
		metric.WithDescription("Wall-clock duration of exporter calls"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &processorMetrics{
		dropped:       dropped,
		exported:      exported,
		exportErrors:  exportErrors,
		batchSize:     batchSize,
		exportLatency: exportLatency,
	}, nil
}

func (m *processorMetrics) recordDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1)
}

func (m *processorMetrics) recordExport(ctx context.Context, n int, latencyMillis float64, err error) {
	if m == nil {
		return
	}
	m.batchSize.Record(ctx, int64(n))
	m.exportLatency.Record(ctx, latencyMillis)
	if err != nil {
		m.exportErrors.Add(ctx, 1)
	} else {
		m.exported.Add(ctx, int64(n))
	}
}
