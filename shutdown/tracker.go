// Package shutdown coordinates graceful termination of sdgen: the first
// SIGINT or SIGTERM cancels in-flight work, a second one exits immediately,
// and registered cleanup runs in priority order.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrTrackerClosed is returned when an operation starts after Close.
	ErrTrackerClosed = errors.New("shutdown: operation tracker is closed")
	// ErrWaitTimeout is returned when operations outlive the wait context.
	ErrWaitTimeout = errors.New("shutdown: operations did not complete in time")
)

// OperationTracker counts in-flight generations so shutdown can wait for
// them. A native txt2img call cannot be interrupted, only waited for.
type OperationTracker struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	active atomic.Int64
	closed bool
}

// NewOperationTracker returns an open tracker.
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{}
}

// Start registers an operation. It returns false once the tracker is
// closed; otherwise the caller must call Done.
func (t *OperationTracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.wg.Add(1)
	t.active.Add(1)
	return true
}

// Done marks one started operation as finished.
func (t *OperationTracker) Done() {
	t.active.Add(-1)
	t.wg.Done()
}

// Wait blocks until all operations finish or ctx is done.
func (t *OperationTracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrWaitTimeout
	}
}

// Close rejects new operations; running ones continue.
func (t *OperationTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// ActiveCount returns the number of running operations.
func (t *OperationTracker) ActiveCount() int64 {
	return t.active.Load()
}

// IsClosed reports whether Close has been called.
func (t *OperationTracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
