// Package rendezvous coordinates numbered rounds between the ranks of an
// in-process group. Each rank joins a round with its contribution; the last
// rank to arrive runs the round's compute function over all contributions
// and every ticket for the round completes with its result.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrRank reports a rank outside the round's size.
	ErrRank = errors.New("rendezvous: rank out of range")
	// ErrDuplicate reports a rank joining the same round twice.
	ErrDuplicate = errors.New("rendezvous: rank already joined")
	// ErrSizeMismatch reports ranks disagreeing on a round's size.
	ErrSizeMismatch = errors.New("rendezvous: size mismatch")
)

// Key names a round.
type Key struct {
	Channel string
	Group   uint64
	Seq     uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d#%d", k.Channel, k.Group, k.Seq)
}

// ComputeFunc combines the contributions of a round, indexed by rank.
type ComputeFunc func(contribs []any) error

type round struct {
	size     int
	contribs []any
	joined   []bool
	arrived  int
	compute  ComputeFunc
	done     chan struct{}
	err      error
}

// Hub tracks open rounds. The zero value is ready to use.
type Hub struct {
	mu     sync.Mutex
	rounds map[Key]*round
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Join adds rank's contribution to the round named by key. The compute
// function of the last joiner to arrive wins; it runs on that joiner's
// goroutine before any ticket completes.
func (h *Hub) Join(key Key, size, rank int, contrib any, compute ComputeFunc) (*Ticket, error) {
	if size <= 0 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d size %d (%s)", ErrRank, rank, size, key)
	}

	h.mu.Lock()
	if h.rounds == nil {
		h.rounds = make(map[Key]*round)
	}
	r, ok := h.rounds[key]
	if !ok {
		r = &round{
			size:     size,
			contribs: make([]any, size),
			joined:   make([]bool, size),
			done:     make(chan struct{}),
		}
		h.rounds[key] = r
	}
	if r.size != size {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %d != %d (%s)", ErrSizeMismatch, size, r.size, key)
	}
	if r.joined[rank] {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: rank %d (%s)", ErrDuplicate, rank, key)
	}
	r.joined[rank] = true
	r.contribs[rank] = contrib
	r.arrived++
	if compute != nil {
		r.compute = compute
	}
	last := r.arrived == r.size
	if last {
		delete(h.rounds, key)
	}
	h.mu.Unlock()

	if last {
		if r.compute != nil {
			r.err = r.compute(r.contribs)
		}
		r.contribs = nil
		close(r.done)
	}
	return &Ticket{key: key, r: r}, nil
}

// Pending reports how many rounds are waiting for ranks.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rounds)
}

// Ticket is one rank's view of a round.
type Ticket struct {
	key Key
	r   *round
}

// Key returns the round the ticket belongs to.
func (t *Ticket) Key() Key {
	return t.key
}

// Done is closed once the round's compute function has run.
func (t *Ticket) Done() <-chan struct{} {
	return t.r.done
}

// Ready reports whether the round completed.
func (t *Ticket) Ready() bool {
	select {
	case <-t.r.done:
		return true
	default:
		return false
	}
}

// Err returns the round's result. It is nil until the round completes.
func (t *Ticket) Err() error {
	if !t.Ready() {
		return nil
	}
	return t.r.err
}

// Wait blocks until the round completes or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.Ready() {
		return t.r.err
	}
	select {
	case <-t.r.done:
		return t.r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
