package spanbatch

import (
	"context"
	"testing"
	"time"
)

func TestAsyncSlotPoolAcquireRelease(t *testing.T) {
	p := newAsyncSlotPool(2)

	ctx := context.Background()
	id1, ok := p.acquire(ctx, time.Second)
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	id2, ok := p.acquire(ctx, time.Second)
	if !ok {
		t.Fatal("expected second acquire to succeed")
	}
	if id1 == id2 {
		t.Fatalf("expected distinct slot ids, got %d twice", id1)
	}

	if p.drained() {
		t.Fatal("expected pool not drained with both slots held")
	}

	p.release(id1)
	p.release(id2)
	if !p.drained() {
		t.Fatal("expected pool drained after releasing both slots")
	}
}

func TestAsyncSlotPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	p := newAsyncSlotPool(1)
	ctx := context.Background()
	if _, ok := p.acquire(ctx, time.Second); !ok {
		t.Fatal("expected the only slot to be acquired")
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, ok := p.acquire(deadlineCtx, time.Second); ok {
		t.Fatal("expected acquire to fail with no free slots and an expiring deadline")
	}
}

func TestAsyncSlotPoolReleaseIsIdempotent(t *testing.T) {
	p := newAsyncSlotPool(1)
	id, ok := p.acquire(context.Background(), time.Second)
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	p.release(id)
	p.release(id) // must not double-free or panic
	if !p.drained() {
		t.Fatal("expected pool drained after release")
	}
}

func TestAsyncSlotPoolWaitDrainedUnblocksOnRelease(t *testing.T) {
	p := newAsyncSlotPool(1)
	id, ok := p.acquire(context.Background(), time.Second)
	if !ok {
		t.Fatal("expected acquire to succeed")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.release(id)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.waitDrained(ctx); err != nil {
		t.Fatalf("waitDrained: %v", err)
	}
}
