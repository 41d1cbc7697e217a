package spanbatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// BatchSpanProcessor decouples span completion from exporter latency: it
// buffers finished spans in a bounded ring buffer and drains them on a
// dedicated worker goroutine, either on a timer, on demand via
// ForceFlush, or at Shutdown.
//
// It satisfies go.opentelemetry.io/otel/sdk/trace.SpanProcessor.
type BatchSpanProcessor struct {
	exporter      SpanExporter
	asyncExporter AsyncSpanExporter
	opts          Options
	logger        *slog.Logger
	metrics       *processorMetrics

	buffer    *ringBuffer
	sync      *syncState
	asyncPool *asyncSlotPool

	done chan struct{}
}

var _ sdktrace.SpanProcessor = (*BatchSpanProcessor)(nil)

// NewBatchSpanProcessor constructs a processor over exporter, applies
// opts atop DefaultOptions, validates them, and starts the worker
// goroutine before returning.
func NewBatchSpanProcessor(exporter SpanExporter, opts ...Option) (*BatchSpanProcessor, error) {
	if exporter == nil {
		return nil, fmt.Errorf("spanbatch: exporter must not be nil")
	}

	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var asyncExporter AsyncSpanExporter
	var pool *asyncSlotPool
	if o.ExportAsync {
		ae, ok := exporter.(AsyncSpanExporter)
		if !ok {
			return nil, fmt.Errorf("spanbatch: async export enabled but exporter %T does not implement AsyncSpanExporter", exporter)
		}
		asyncExporter = ae
		pool = newAsyncSlotPool(o.MaxExportAsync)
	}

	metrics, err := newProcessorMetrics(o.Meter)
	if err != nil {
		return nil, fmt.Errorf("spanbatch: registering metrics: %w", err)
	}

	p := &BatchSpanProcessor{
		exporter:      exporter,
		asyncExporter: asyncExporter,
		opts:          o,
		logger:        logger,
		metrics:       metrics,
		buffer:        newRingBuffer(o.MaxQueueSize),
		sync:          newSyncState(),
		asyncPool:     pool,
		done:          make(chan struct{}),
	}

	logger.Info("starting batch span processor",
		"max_queue_size", o.MaxQueueSize,
		"schedule_delay", o.ScheduleDelay,
		"max_export_batch_size", o.MaxExportBatchSize,
		"export_async", o.ExportAsync,
	)

	go p.run()
	return p, nil
}

// OnStart is a no-op; the processor only acts on span completion.
func (p *BatchSpanProcessor) OnStart(_ context.Context, _ sdktrace.ReadWriteSpan) {}

// OnEnd enqueues span for export. It never blocks: a full buffer silently
// drops the span. Crossing the half-full or batch-size threshold wakes
// the worker early instead of waiting for the next scheduled cycle.
func (p *BatchSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if p.sync.isShutdown.Load() {
		return
	}

	if !p.buffer.Add(span) {
		p.metrics.recordDropped(context.Background())
		return
	}

	size := p.buffer.Size()
	if size >= p.opts.MaxQueueSize/2 || size >= p.opts.MaxExportBatchSize {
		p.sync.worker.notify()
	}
}

// ForceFlush blocks until every record buffered at the time of the call
// has been handed to the exporter, or until ctx is done. A ctx with no
// deadline waits indefinitely, polling the worker in ScheduleDelay-sized
// chunks so a concurrent Shutdown is still observed promptly.
func (p *BatchSpanProcessor) ForceFlush(ctx context.Context) error {
	if p.sync.isShutdown.Load() {
		return fmt.Errorf("spanbatch: processor is shut down")
	}

	p.sync.isForceFlushPending.Store(true)

	predicate := func() bool {
		if p.sync.isShutdown.Load() {
			return true
		}
		if p.sync.isForceFlushPending.Load() {
			p.sync.isForceWakeup.Store(true)
			p.sync.worker.notify()
		}
		return p.sync.isForceFlushNotified.Load()
	}

	deadline, hasDeadline := ctx.Deadline()
	var waitErr error
	for {
		ch := p.sync.flush.wait()
		if predicate() {
			break
		}
		var wait time.Duration
		if hasDeadline {
			wait = time.Until(deadline)
			if wait <= 0 {
				waitErr = ctx.Err()
				break
			}
		} else {
			wait = p.opts.ScheduleDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ch:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			waitErr = ctx.Err()
		case <-timer.C:
			if hasDeadline {
				waitErr = context.DeadlineExceeded
			}
			// No deadline: loop back around and re-check the predicate.
		}
		if waitErr != nil {
			break
		}
	}

	// A timeout or cancellation racing the worker's own notify can land
	// right after the predicate was last checked but before it fired; one
	// more check here catches a flush that genuinely completed in that
	// gap instead of reporting a spurious timeout.
	if waitErr != nil && predicate() {
		waitErr = nil
	}

	// The worker may have observed and consumed the flush request in the
	// gap between us setting pending and entering the wait above; the
	// notified flag is how we detect that happened so we don't miss it.
	if !p.sync.isForceFlushPending.CompareAndSwap(true, false) {
		for spins := 0; !p.sync.isForceFlushNotified.Load(); spins++ {
			if spins >= 127 {
				runtime.Gosched()
			}
		}
	}
	p.sync.isForceFlushNotified.Store(false)

	return waitErr
}

// Shutdown drains the buffer, stops the worker goroutine, and shuts down
// the exporter. It is safe to call more than once or concurrently: later
// calls observe the same outcome without re-running side effects.
func (p *BatchSpanProcessor) Shutdown(ctx context.Context) error {
	p.sync.shutdownMu.Lock()
	defer p.sync.shutdownMu.Unlock()

	alreadyShutdown := p.sync.isShutdown.Swap(true)

	select {
	case <-p.done:
		// Worker already exited; nothing to join.
	default:
		p.sync.isForceWakeup.Store(true)
		p.sync.worker.notify()
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if p.asyncPool != nil {
		if err := p.asyncPool.waitDrained(ctx); err != nil {
			return err
		}
	}

	if !alreadyShutdown {
		return p.exporter.Shutdown(ctx)
	}
	return nil
}

// run is the worker goroutine's loop: wait, maybe export, repeat, until
// shutdown is observed.
func (p *BatchSpanProcessor) run() {
	defer close(p.done)

	interval := p.opts.ScheduleDelay
	for {
		p.waitForWork(time.Now().Add(interval))
		p.sync.isForceWakeup.Store(false)

		if p.sync.isShutdown.Load() {
			p.drain()
			return
		}

		start := time.Now()
		p.exportCycle(context.Background())
		elapsed := time.Since(start)

		interval = p.opts.ScheduleDelay - elapsed
		if interval < 0 {
			interval = 0
		}
	}
}

// waitForWork blocks until isForceWakeup is set, the buffer is non-empty,
// or deadline passes — tolerating spurious and "early" wakeups by
// re-checking the predicate on every loop iteration.
func (p *BatchSpanProcessor) waitForWork(deadline time.Time) {
	for {
		ch := p.sync.worker.wait()
		if p.sync.isForceWakeup.Load() || !p.buffer.Empty() {
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return
		}
	}
}

// exportCycle repeats draining and exporting batches until an iteration
// finds nothing left to export. Consume guarantees a full harvest of n
// whenever n reflects an actually-claimed occupancy, so taken is either 0
// or n here; a flush notification fired on this iteration is never left
// covering a record that was still sitting unexported.
func (p *BatchSpanProcessor) exportCycle(ctx context.Context) {
	for {
		notifyFlush := p.sync.isForceFlushPending.Swap(false)

		n := p.buffer.Size()
		if !notifyFlush && n > p.opts.MaxExportBatchSize {
			n = p.opts.MaxExportBatchSize
		}
		if n == 0 {
			if notifyFlush {
				p.notifyFlushComplete()
			}
			return
		}

		var batch []Recordable
		taken := p.buffer.Consume(n, func(b []Recordable) { batch = b })
		if taken == 0 {
			if notifyFlush {
				p.notifyFlushComplete()
			}
			return
		}

		if p.opts.ExportAsync {
			p.exportAsync(ctx, batch, notifyFlush)
		} else {
			p.exportSync(ctx, batch, notifyFlush)
		}
	}
}

func (p *BatchSpanProcessor) exportSync(ctx context.Context, batch []Recordable, notifyFlush bool) {
	start := time.Now()
	err := p.exporter.ExportSpans(ctx, batch)
	p.metrics.recordExport(ctx, len(batch), float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		p.logger.Error("span export failed", "error", err, "batch_size", len(batch))
	}
	if notifyFlush {
		p.notifyFlushComplete()
	}
}

// exportAsync acquires a slot from the bounded async pool and hands the
// batch to the exporter's async path. If no slot frees up within
// ScheduleDelay it keeps waiting with no further bound: a batch already
// pulled out of the ring buffer is never dropped, only the wait for
// concurrency headroom is bounded.
func (p *BatchSpanProcessor) exportAsync(ctx context.Context, batch []Recordable, notifyFlush bool) {
	boundedCtx, cancel := context.WithTimeout(ctx, p.opts.ScheduleDelay)
	id, ok := p.asyncPool.acquire(boundedCtx, p.opts.ScheduleDelay)
	cancel()

	if !ok {
		p.logger.Debug("async export slot pool exhausted, waiting for a free slot", "batch_size", len(batch))
		id, ok = p.asyncPool.acquire(ctx, p.opts.ScheduleDelay)
		if !ok {
			// ctx itself was cancelled (only possible during a torn-down
			// processor); there is nowhere left to route this batch.
			p.logger.Error("async export abandoned: context cancelled while waiting for a slot", "batch_size", len(batch))
			if notifyFlush {
				p.notifyFlushComplete()
			}
			return
		}
	}

	start := time.Now()
	state := p.sync
	metrics := p.metrics
	pool := p.asyncPool
	logger := p.logger
	n := len(batch)

	p.asyncExporter.ExportSpansAsync(ctx, batch, func(err error) {
		metrics.recordExport(context.Background(), n, float64(time.Since(start).Milliseconds()), err)
		if err != nil {
			logger.Error("async span export failed", "error", err, "batch_size", n)
		}
		pool.release(id)
		if notifyFlush {
			state.isForceFlushNotified.Store(true)
			state.flush.notify()
		}
	})
}

func (p *BatchSpanProcessor) notifyFlushComplete() {
	p.sync.isForceFlushNotified.Store(true)
	p.sync.flush.notify()
}

// drain empties the buffer (and honors any pending flush request) before
// the worker exits during shutdown.
func (p *BatchSpanProcessor) drain() {
	for {
		if p.buffer.Empty() && !p.sync.isForceFlushPending.Load() {
			return
		}
		p.exportCycle(context.Background())
	}
}
