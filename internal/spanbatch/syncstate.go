package spanbatch

import (
	"sync"
	"sync/atomic"
)

// broadcaster is the channel-based stand-in for a condition variable: a
// waiter fetches the current channel and select{}s on it alongside a
// timer; notify closes the channel (waking every current waiter) and
// installs a fresh one so later waiters block again. Because a waiter
// always fetches its channel before checking the predicate it's about to
// wait on, a notify that lands in the gap between the predicate check and
// the select is never lost: the channel is already closed by the time the
// select runs.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcaster) notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.ch)
	b.ch = make(chan struct{})
}

// syncState is the shared coordination record between the processor's
// public API and its worker goroutine: atomic flags plus two broadcasters,
// one governing ordinary worker wakeups and one governing force-flush
// completion notifications.
type syncState struct {
	isShutdown           atomic.Bool
	isForceWakeup        atomic.Bool
	isForceFlushPending  atomic.Bool
	isForceFlushNotified atomic.Bool

	worker *broadcaster
	flush  *broadcaster

	shutdownMu sync.Mutex
}

func newSyncState() *syncState {
	return &syncState{
		worker: newBroadcaster(),
		flush:  newBroadcaster(),
	}
}
