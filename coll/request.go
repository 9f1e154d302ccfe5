package coll

import (
	"context"
	"sync"
	"sync/atomic"
)

// Request tracks a non-blocking collective. Wait and Test may be called any
// number of times until Free; afterwards every method returns ErrRequestFreed.
type Request interface {
	// Wait blocks until the operation completes or ctx is done. A ctx error
	// leaves the request active.
	Wait(ctx context.Context) error
	// Test reports whether the operation completed, and its result if so.
	Test() (bool, error)
	// Cancel asks the implementation that produced the request to cancel it.
	Cancel() error
	// Free releases the request's resources.
	Free() error
}

// BaseRequest carries the completion and free state shared by request
// implementations. The zero value is an incomplete, live request.
type BaseRequest struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	err       error
	freed     atomic.Bool
}

// Reset returns the request to its zero state for reuse.
func (r *BaseRequest) Reset() {
	r.mu.Lock()
	r.done = nil
	r.completed = false
	r.err = nil
	r.mu.Unlock()
	r.freed.Store(false)
}

func (r *BaseRequest) doneLocked() chan struct{} {
	if r.done == nil {
		r.done = make(chan struct{})
	}
	return r.done
}

// Complete records the result. Only the first call has an effect; it reports
// whether this call completed the request.
func (r *BaseRequest) Complete(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return false
	}
	r.completed = true
	r.err = err
	close(r.doneLocked())
	return true
}

// Completed reports whether the request has a result, and the result.
func (r *BaseRequest) Completed() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed, r.err
}

// Done exposes a channel closed on completion.
func (r *BaseRequest) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doneLocked()
}

// Wait blocks until Complete is called or ctx is done.
func (r *BaseRequest) Wait(ctx context.Context) error {
	if r.freed.Load() {
		return ErrRequestFreed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-r.Done():
		_, err := r.Completed()
		return err
	case <-ctx.Done():
		if done, err := r.Completed(); done {
			return err
		}
		return ctx.Err()
	}
}

// Test reports completion without blocking.
func (r *BaseRequest) Test() (bool, error) {
	if r.freed.Load() {
		return false, ErrRequestFreed
	}
	return r.Completed()
}

// Cancel is not supported for collectives by default.
func (r *BaseRequest) Cancel() error {
	if r.freed.Load() {
		return ErrRequestFreed
	}
	return ErrNotSupported
}

// Free marks the request freed.
func (r *BaseRequest) Free() error {
	if !r.MarkFreed() {
		return ErrRequestFreed
	}
	return nil
}

// MarkFreed flips the request to freed and reports whether this call did so.
func (r *BaseRequest) MarkFreed() bool {
	return r.freed.CompareAndSwap(false, true)
}

// Freed reports whether Free has been called.
func (r *BaseRequest) Freed() bool {
	return r.freed.Load()
}

// CompletedRequest returns a request that is already complete with err.
func CompletedRequest(err error) *BaseRequest {
	r := &BaseRequest{}
	r.Complete(err)
	return r
}
