package spanbatch

import (
	"context"
	"sync"
	"time"
)

// asyncSlotPool caps the number of concurrently in-flight async exporter
// calls. Slot ids are dense small integers; inUse makes release
// idempotent against a slot being returned twice (e.g. a callback racing
// with processor teardown).
type asyncSlotPool struct {
	mu     sync.Mutex
	free   []int
	inUse  []bool
	signal *broadcaster
	size   int
}

func newAsyncSlotPool(size int) *asyncSlotPool {
	p := &asyncSlotPool{
		free:   make([]int, size),
		inUse:  make([]bool, size),
		signal: newBroadcaster(),
		size:   size,
	}
	for i := 0; i < size; i++ {
		p.free[i] = i
	}
	return p
}

// acquire waits for a free slot id. If ctx has a deadline, ok is false once
// it passes with no slot free; if ctx has no deadline, acquire keeps
// waiting, re-checking every fallback, until a slot frees up. ok is also
// false if ctx is done first.
func (p *asyncSlotPool) acquire(ctx context.Context, fallback time.Duration) (id int, ok bool) {
	deadline, hasDeadline := ctx.Deadline()
	for {
		ch := p.signal.wait()
		p.mu.Lock()
		if len(p.free) > 0 {
			id = p.free[len(p.free)-1]
			p.free = p.free[:len(p.free)-1]
			p.inUse[id] = true
			p.mu.Unlock()
			return id, true
		}
		p.mu.Unlock()

		var wait time.Duration
		if hasDeadline {
			wait = time.Until(deadline)
			if wait <= 0 {
				return 0, false
			}
		} else {
			wait = fallback
		}

		timer := time.NewTimer(wait)
		select {
		case <-ch:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return 0, false
		case <-timer.C:
			if hasDeadline {
				return 0, false
			}
			// No deadline: keep polling in fallback-sized chunks.
		}
	}
}

// release returns id to the pool. Safe to call more than once for the
// same id; only the first call after an acquire has an effect.
func (p *asyncSlotPool) release(id int) {
	p.mu.Lock()
	if id < 0 || id >= p.size || !p.inUse[id] {
		p.mu.Unlock()
		return
	}
	p.inUse[id] = false
	p.free = append(p.free, id)
	p.mu.Unlock()
	p.signal.notify()
}

// drained reports whether every slot is currently free.
func (p *asyncSlotPool) drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free) == p.size
}

// waitDrained blocks until every slot is free or ctx is done.
func (p *asyncSlotPool) waitDrained(ctx context.Context) error {
	for {
		ch := p.signal.wait()
		if p.drained() {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			if p.drained() {
				return nil
			}
			return ctx.Err()
		}
	}
}
