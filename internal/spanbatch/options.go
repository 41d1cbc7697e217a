package spanbatch

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	defaultMaxQueueSize        = 2048
	defaultScheduleDelay       = 5 * time.Second
	defaultMaxExportBatchSize  = 512
	defaultMaxExportAsync      = 8
)

// Options configures a BatchSpanProcessor. It is immutable once the
// processor has been constructed.
type Options struct {
	MaxQueueSize       int
	ScheduleDelay      time.Duration
	MaxExportBatchSize int

	ExportAsync    bool
	MaxExportAsync int

	Logger *slog.Logger
	Meter  metric.Meter
}

// DefaultOptions returns the package's documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxQueueSize:       defaultMaxQueueSize,
		ScheduleDelay:      defaultScheduleDelay,
		MaxExportBatchSize: defaultMaxExportBatchSize,
		MaxExportAsync:     defaultMaxExportAsync,
	}
}

func (o Options) validate() error {
	if o.MaxQueueSize <= 0 {
		return fmt.Errorf("spanbatch: max queue size must be positive, got %d", o.MaxQueueSize)
	}
	if o.MaxExportBatchSize <= 0 {
		return fmt.Errorf("spanbatch: max export batch size must be positive, got %d", o.MaxExportBatchSize)
	}
	if o.MaxExportBatchSize > o.MaxQueueSize {
		return fmt.Errorf("spanbatch: max export batch size (%d) must be <= max queue size (%d)",
			o.MaxExportBatchSize, o.MaxQueueSize)
	}
	if o.ScheduleDelay <= 0 {
		return fmt.Errorf("spanbatch: schedule delay must be positive, got %s", o.ScheduleDelay)
	}
	if o.ExportAsync && o.MaxExportAsync <= 0 {
		return fmt.Errorf("spanbatch: max export async must be positive when async export is enabled, got %d", o.MaxExportAsync)
	}
	return nil
}

// Option mutates Options during construction.
type Option func(*Options)

// WithMaxQueueSize sets the ring buffer capacity.
func WithMaxQueueSize(n int) Option {
	return func(o *Options) { o.MaxQueueSize = n }
}

// WithScheduleDelay sets the maximum worker idle interval.
func WithScheduleDelay(d time.Duration) Option {
	return func(o *Options) { o.ScheduleDelay = d }
}

// WithMaxExportBatchSize sets the upper bound on a single export call in
// a non-flush cycle.
func WithMaxExportBatchSize(n int) Option {
	return func(o *Options) { o.MaxExportBatchSize = n }
}

// WithExportAsync enables async-mode export with the given concurrency
// cap. A maxConcurrent of 0 keeps the package default (8).
func WithExportAsync(maxConcurrent int) Option {
	return func(o *Options) {
		o.ExportAsync = true
		if maxConcurrent > 0 {
			o.MaxExportAsync = maxConcurrent
		}
	}
}

// WithLogger sets the structured logger used for startup and export-error
// reporting. Dropped spans are not logged.
// A nil logger falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMeter enables optional OTel metrics instrumentation of the
// processor (dropped/exported span counters, batch size and export
// latency histograms). A nil meter leaves the processor metrics-free.
func WithMeter(meter metric.Meter) Option {
	return func(o *Options) { o.Meter = meter }
}
