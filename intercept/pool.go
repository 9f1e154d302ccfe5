package intercept

import "sync/atomic"

// requestPool is a bounded free list of request adapters. Only requests
// that were never handed to a caller come back to it.
type requestPool struct {
	free      chan *request
	closed    atomic.Bool
	allocated atomic.Uint64
}

func newRequestPool(capacity int) *requestPool {
	if capacity <= 0 {
		capacity = DefaultRequestPoolCapacity
	}
	return &requestPool{free: make(chan *request, capacity)}
}

func (p *requestPool) acquire() *request {
	select {
	case r := <-p.free:
		return r
	default:
		p.allocated.Add(1)
		return &request{}
	}
}

func (p *requestPool) release(r *request) {
	if r == nil || p.closed.Load() {
		return
	}
	r.reset()
	select {
	case p.free <- r:
	default:
	}
}

func (p *requestPool) close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for {
		select {
		case <-p.free:
		default:
			return
		}
	}
}
