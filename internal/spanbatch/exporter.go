// Package spanbatch implements a batching span processor that decouples
// span completion from the cost of shipping batches to an exporter: spans
// are pushed into a bounded lock-free ring buffer by arbitrary producer
// goroutines and drained by a single dedicated worker goroutine on a
// timer, on demand (ForceFlush), or at shutdown.
package spanbatch

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Recordable is the opaque span record the processor shuttles from
// producers to the exporter. The processor never inspects it beyond the
// sdktrace.SpanProcessor contract.
type Recordable = sdktrace.ReadOnlySpan

// SpanExporter is the plug-in collaborator that receives drained batches.
// Export calls originate from the processor's single worker goroutine, and
// the processor calls Shutdown only after that goroutine has exited; an
// exporter never needs to guard against concurrent calls to itself.
type SpanExporter interface {
	// MakeRecordable returns an empty recordable so callers that need a
	// placeholder value don't have to construct one themselves. Go spans
	// are constructed by the Tracer, not the exporter, so most exporters
	// can satisfy this with a stub value (see memexporter and
	// fileexporter); it exists to keep the plug-in contract complete.
	MakeRecordable() Recordable

	// ExportSpans takes ownership of batch and returns a terminal result.
	// A non-nil error means the processor will log and move on: retrying
	// is the exporter's responsibility, not the processor's.
	ExportSpans(ctx context.Context, batch []Recordable) error

	// Shutdown is idempotent; after it returns, further ExportSpans calls
	// must fail.
	Shutdown(ctx context.Context) error
}

// AsyncSpanExporter is an optional extension: exporters that can return
// control to the worker before a batch finishes exporting implement this
// in addition to SpanExporter. callback must be invoked exactly once.
type AsyncSpanExporter interface {
	SpanExporter

	ExportSpansAsync(ctx context.Context, batch []Recordable, callback func(error))
}

// ForceFlusher is an optional interface an exporter may implement to
// receive its own flush signal. The core processor's ForceFlush already
// drains the ring buffer and does not call this, and nothing else in this
// module calls it either; it is available to callers that want to flush
// an exporter's own internal buffering, if any.
type ForceFlusher interface {
	ForceFlush(ctx context.Context) error
}
