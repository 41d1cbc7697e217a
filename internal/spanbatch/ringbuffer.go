package spanbatch

import (
	"runtime"
	"sync/atomic"
)

// ringSlot holds one record of the buffer. rec is only safe to read once
// ready has been observed true, and only safe to write while ready is
// false; the atomic.Bool load/store pair is the release/acquire fence
// that makes the plain rec field visible across goroutines (Go's memory
// model treats atomic operations as sequentially consistent synchronization
// points).
type ringSlot struct {
	ready atomic.Bool
	rec   Recordable
}

// ringBuffer is a fixed-capacity, multi-producer / single-consumer queue
// of owned span records. Add is wait-free and never blocks; Consume is
// intended to be called by exactly one goroutine at a time.
type ringBuffer struct {
	capacity uint64
	slots    []ringSlot

	head atomic.Uint64 // producer claim counter, monotonic
	tail atomic.Uint64 // consumer advance counter, monotonic
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		panic("spanbatch: ring buffer capacity must be positive")
	}
	return &ringBuffer{
		capacity: uint64(capacity),
		slots:    make([]ringSlot, capacity),
	}
}

// Add transfers ownership of rec into the next free slot. Returns false
// without blocking if the buffer is full.
func (rb *ringBuffer) Add(rec Recordable) bool {
	for {
		head := rb.head.Load()
		tail := rb.tail.Load()
		if head-tail >= rb.capacity {
			return false
		}
		if rb.head.CompareAndSwap(head, head+1) {
			idx := head % rb.capacity
			slot := &rb.slots[idx]
			slot.rec = rec
			slot.ready.Store(true)
			return true
		}
	}
}

// Consume reserves up to n contiguous slots starting at tail, invokes
// visitor once with the drained records (in enqueue order), and advances
// tail by however many it actually harvested.
//
// A slot a producer has already claimed (its index is below head) but
// not yet published (ready still false) is a normal, short-lived state
// under concurrent Add calls: the producer has reserved the slot and is
// about to write it. Consume waits for that slot to publish rather than
// stopping short, so a caller that computed n from an observed buffer
// occupancy is guaranteed to receive all n records. It only stops before
// n when a slot's index is not yet below head at all, meaning no
// producer has claimed it — there is genuinely nothing left to harvest.
//
// Consume must never be called from more than one goroutine concurrently.
func (rb *ringBuffer) Consume(n int, visitor func([]Recordable)) int {
	if n <= 0 {
		return 0
	}
	tail := rb.tail.Load()
	batch := make([]Recordable, 0, n)

harvest:
	for i := 0; i < n; i++ {
		pos := tail + uint64(i)
		idx := pos % rb.capacity
		slot := &rb.slots[idx]

		for spins := 0; !slot.ready.Load(); spins++ {
			if pos >= rb.head.Load() {
				break harvest
			}
			if spins&127 == 127 {
				runtime.Gosched()
			}
		}

		batch = append(batch, slot.rec)
		slot.rec = nil
		slot.ready.Store(false)
	}

	if len(batch) == 0 {
		return 0
	}
	rb.tail.Store(tail + uint64(len(batch)))
	visitor(batch)
	return len(batch)
}

// Size returns the approximate occupancy; it may lag under concurrent
// production since head is a claim counter, not a publish counter.
func (rb *ringBuffer) Size() int {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Empty reports whether head == tail at the observation point.
func (rb *ringBuffer) Empty() bool {
	return rb.head.Load() == rb.tail.Load()
}
