// Package memexporter implements a testing-grade span exporter that
// keeps received batches in a bounded in-memory store instead of
// shipping them anywhere.
package memexporter

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JSGette/spanbatch/internal/spanbatch"
)

const defaultCapacity = 100

// Store is a bounded, insertion-ordered, drop-oldest collection of spans.
// It is backed by an LRU cache that is never read with Get, so its
// eviction policy (evict least-recently-used) degenerates exactly to
// drop-oldest/FIFO.
type Store struct {
	cache *lru.Cache[uint64, spanbatch.Recordable]
	next  atomic.Uint64
}

// NewStore creates a Store with the given capacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	cache, err := lru.New[uint64, spanbatch.Recordable](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, which is
		// guarded against above.
		panic(fmt.Sprintf("memexporter: unexpected lru.New error: %v", err))
	}
	return &Store{cache: cache}
}

// Add inserts rec, evicting the oldest entry if the store is at capacity.
func (s *Store) Add(rec spanbatch.Recordable) {
	id := s.next.Add(1)
	s.cache.Add(id, rec)
}

// Len returns the number of spans currently buffered.
func (s *Store) Len() int {
	return s.cache.Len()
}

// GetSpans drains and returns every currently buffered span, oldest
// first.
func (s *Store) GetSpans() []spanbatch.Recordable {
	keys := s.cache.Keys()
	out := make([]spanbatch.Recordable, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.cache.Peek(k); ok {
			out = append(out, v)
		}
	}
	s.cache.Purge()
	return out
}

// Exporter is a spanbatch.AsyncSpanExporter test double that pushes
// received spans into a bounded Store.
type Exporter struct {
	data     *Store
	shutdown atomic.Bool
}

var (
	_ spanbatch.SpanExporter      = (*Exporter)(nil)
	_ spanbatch.AsyncSpanExporter = (*Exporter)(nil)
)

// New creates an Exporter backed by a Store of the given capacity (0 uses
// the package default of 100).
func New(capacity int) *Exporter {
	return &Exporter{data: NewStore(capacity)}
}

// Data returns a handle to the exporter's backing store for test
// assertions.
func (e *Exporter) Data() *Store {
	return e.data
}

// MakeRecordable returns an empty span stub; the processor never
// inspects its contents.
func (e *Exporter) MakeRecordable() spanbatch.Recordable {
	return tracetest.SpanStub{}.Snapshot()
}

// isShutdown reports the shutdown flag. An atomic.Bool is sufficient
// here: the flag is checked on every export call but only ever set once,
// so there's no contention a mutex would help with.
func (e *Exporter) isShutdown() bool {
	return e.shutdown.Load()
}

// ExportSpans pushes batch into the store, oldest-first. Returns an error
// once Shutdown has been called.
func (e *Exporter) ExportSpans(_ context.Context, batch []spanbatch.Recordable) error {
	if e.isShutdown() {
		return fmt.Errorf("memexporter: exporter is shut down")
	}
	for _, rec := range batch {
		e.data.Add(rec)
	}
	return nil
}

// ExportSpansAsync delegates to ExportSpans and invokes callback
// synchronously; it exists only to satisfy AsyncSpanExporter.
func (e *Exporter) ExportSpansAsync(ctx context.Context, batch []spanbatch.Recordable, callback func(error)) {
	callback(e.ExportSpans(ctx, batch))
}

// Shutdown is idempotent. After it returns, ExportSpans always fails.
func (e *Exporter) Shutdown(_ context.Context) error {
	e.shutdown.Store(true)
	return nil
}
