// Package basic is the host runtime's baseline collective component. It
// serves every operation kind in both forms by coordinating the group's
// ranks through their world, and is the implementation higher-priority
// modules save and fall back to.
package basic

import (
	"context"
	"fmt"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/internal/rendezvous"
)

// DefaultPriority ranks the component below any offload component.
const DefaultPriority = 1

const channel = "basic"

// Component creates basic modules.
type Component struct {
	Priority int
}

var _ coll.Component = (*Component)(nil)

// New returns a component with the default priority.
func New() *Component {
	return &Component{Priority: DefaultPriority}
}

func (c *Component) Name() string { return "basic" }

// Query accepts every group that belongs to a world.
func (c *Component) Query(g *coll.Group) (coll.Module, int, error) {
	if g == nil || g.World() == nil {
		return nil, 0, nil
	}
	ops := make([]coll.OpKind, 0, coll.NumOpKinds)
	for _, k := range coll.AllOpKinds() {
		if k.DefinedOn(g.Shape()) {
			ops = append(ops, k)
		}
	}
	return &Module{ops: ops}, c.Priority, nil
}

// Module installs the baseline implementations on one group.
type Module struct {
	ops   []coll.OpKind
	saved map[coll.OpKind]coll.Entry
}

var _ coll.Module = (*Module)(nil)

func (m *Module) Name() string { return "basic" }

func (m *Module) Operations() []coll.OpKind {
	return append([]coll.OpKind(nil), m.ops...)
}

// Enable installs both forms of every offered kind.
func (m *Module) Enable(g *coll.Group) error {
	if m.saved != nil {
		return nil
	}
	m.saved = make(map[coll.OpKind]coll.Entry, len(m.ops))
	table := g.Table()
	for _, kind := range m.ops {
		prev, _ := table.Lookup(kind)
		m.saved[kind] = prev
		table.Install(kind, coll.Entry{Impl: Impl(kind), Owner: m})
	}
	return nil
}

// Disable restores whatever was installed before Enable on the slots the
// module still owns.
func (m *Module) Disable(g *coll.Group) error {
	table := g.Table()
	for kind, prev := range m.saved {
		table.Restore(kind, m, prev)
	}
	m.saved = nil
	return nil
}

// Impl returns the baseline implementation of kind.
func Impl(kind coll.OpKind) coll.Impl {
	return coll.Impl{
		Blocking: func(ctx context.Context, g *coll.Group, args *coll.Args, _ coll.Module) error {
			req, err := start(kind, g, args)
			if err != nil {
				return err
			}
			return req.Wait(ctx)
		},
		Nonblocking: func(g *coll.Group, args *coll.Args, _ coll.Module) (coll.Request, error) {
			return start(kind, g, args)
		},
	}
}

func start(kind coll.OpKind, g *coll.Group, args *coll.Args) (*request, error) {
	if !kind.DefinedOn(g.Shape()) {
		return nil, &coll.OpError{Kind: kind, Code: coll.ErrNotSupported, Err: fmt.Errorf("undefined on %s groups", g.Shape())}
	}
	w := g.World()
	if w == nil {
		return nil, &coll.OpError{Kind: kind, Code: coll.ErrInvalidArgument, Err: fmt.Errorf("group %s has no world", g)}
	}
	s, err := shareOf(kind, args)
	if err != nil {
		return nil, err
	}
	ticket, err := w.Join(channel, g, s, run)
	if err != nil {
		return nil, &coll.OpError{Kind: kind, Code: coll.ErrInvalidArgument, Err: err}
	}
	return &request{kind: kind, ticket: ticket}, nil
}

// request tracks one rank's part in a round.
type request struct {
	coll.BaseRequest
	kind   coll.OpKind
	ticket *rendezvous.Ticket
}

func (r *request) settle() error {
	r.Complete(hostError(r.kind, r.ticket.Err()))
	_, err := r.Completed()
	return err
}

func (r *request) Wait(ctx context.Context) error {
	if r.Freed() {
		return coll.ErrRequestFreed
	}
	if err := r.ticket.Wait(ctx); err != nil && !r.ticket.Ready() {
		return err
	}
	return r.settle()
}

func (r *request) Test() (bool, error) {
	if r.Freed() {
		return false, coll.ErrRequestFreed
	}
	if !r.ticket.Ready() {
		return false, nil
	}
	return true, r.settle()
}
