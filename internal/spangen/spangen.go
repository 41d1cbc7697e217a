// Package spangen simulates span producers for demos and soak tests. Span
// construction is normally owned by a Tracer; this package stands in for
// that caller so cmd/spanbatch and concurrency tests have genuine
// sdktrace.ReadOnlySpan values to feed the processor instead of
// hand-rolled fakes.
package spangen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Simulator tracks started-but-not-ended spans by name and hands
// completed ones to a sink (typically a spanbatch.BatchSpanProcessor's
// OnEnd).
type Simulator struct {
	tracer trace.Tracer

	mu         sync.Mutex
	started    map[string]trace.Span
	startTimes map[string]time.Time
}

// New creates a Simulator using tracer to start and end spans.
func New(tracer trace.Tracer) *Simulator {
	return &Simulator{
		tracer:     tracer,
		started:    make(map[string]trace.Span),
		startTimes: make(map[string]time.Time),
	}
}

// Start begins a new span named name and tracks it under that name. It
// panics if a span with the same name is already in flight; callers that
// want concurrent same-named spans should suffix name themselves (e.g.
// with uuid.NewString()).
func (s *Simulator) Start(ctx context.Context, name string) context.Context {
	childCtx, span := s.tracer.Start(ctx, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.started[name]; exists {
		panic(fmt.Sprintf("spangen: span %q already in flight", name))
	}
	s.started[name] = span
	s.startTimes[name] = time.Now()

	return childCtx
}

// End finishes the span tracked under name, if any, and reports whether
// one was found.
func (s *Simulator) End(name string) bool {
	s.mu.Lock()
	span, ok := s.started[name]
	if ok {
		delete(s.started, name)
		delete(s.startTimes, name)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	span.End()
	return true
}

// InFlight returns the number of spans started but not yet ended.
func (s *Simulator) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.started)
}

// GetOrphaned returns the names of spans that started more than
// threshold ago and have not been ended — useful for soak tests that
// want to assert every simulated producer eventually called End.
func (s *Simulator) GetOrphaned(threshold time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-threshold)
	var orphaned []string
	for name, start := range s.startTimes {
		if start.Before(cutoff) {
			orphaned = append(orphaned, name)
		}
	}
	return orphaned
}

// UniqueName returns a name suffixed with a random id, for simulating
// many concurrent producers without name collisions.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
