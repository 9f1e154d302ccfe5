package intercept

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/offload"
)

// ErrGroupMismatch is returned when a module is enabled on a group other
// than the one it was created for.
var ErrGroupMismatch = errors.New("intercept: module belongs to another group")

// Module is the per-group offload state. It owns the library team for its
// group and the entries it replaced.
type Module struct {
	comp  *Component
	id    uuid.UUID
	group *coll.Group
	size  int
	caps  offload.Capabilities
	team  offload.Team
	ops   []coll.OpKind
	pool  *requestPool

	mu      sync.Mutex
	saved   map[coll.OpKind]coll.Entry
	enabled bool
	closed  bool
}

var _ coll.Module = (*Module)(nil)

func (m *Module) Name() string { return m.comp.Name() }

// ID identifies the module in logs and traces.
func (m *Module) ID() uuid.UUID { return m.id }

func (m *Module) Operations() []coll.OpKind {
	return append([]coll.OpKind(nil), m.ops...)
}

// Enable saves the current entry of every offered kind and installs the
// offload wrapper over it. A kind with no current entry is skipped and a
// missing-collective diagnostic is emitted. A kind whose wrapper is still
// in the table from an earlier enable is left as it is. Enabling twice is a
// no-op.
func (m *Module) Enable(g *coll.Group) error {
	if g != m.group {
		return fmt.Errorf("%w: %s", ErrGroupMismatch, g)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return offload.ErrClosed
	}
	if m.enabled {
		return nil
	}

	table := g.Table()
	for _, kind := range m.ops {
		fields := []logField{logKV(labelGroup, g.Name()), logKV(labelOperation, kind), logKV("module_id", m.id)}
		if _, pending := m.saved[kind]; pending {
			m.comp.logEvent("install_pending", append(fields, logKV("owner", ownerName(table.Owner(kind))))...)
			continue
		}
		prev, ok := table.Lookup(kind)
		if !ok {
			g.Diagnostics().Emit(coll.Diagnostic{
				Topic:     coll.TopicMissingCollective,
				Component: m.comp.Name(),
				Operation: kind.String(),
				Host:      g.Host(),
				Priority:  m.comp.cfg.Priority,
			})
			m.comp.warnEvent("missing_collective", append(fields, logKV("host", g.Host()))...)
			m.comp.metricMissingBase(logKV(labelGroup, g.Name()), logKV(labelOperation, kind))
			continue
		}
		m.saved[kind] = prev
		table.Install(kind, coll.Entry{Impl: m.wrap(kind, prev), Owner: m})
		m.comp.logEvent("install", append(fields, logKV("replaced", ownerName(prev.Owner)))...)
		m.comp.metricInstalled(logKV(labelGroup, g.Name()), logKV(labelOperation, kind))
	}
	m.enabled = true
	return nil
}

// Disable puts back the saved entry of every slot the module still owns.
// Slots taken over by another module are left alone and stay recorded, so
// a later Disable restores them once that module has put the wrapper back.
// Disabling twice is a no-op.
func (m *Module) Disable(g *coll.Group) error {
	if g != m.group {
		return fmt.Errorf("%w: %s", ErrGroupMismatch, g)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restoreLocked()
	return nil
}

func (m *Module) restoreLocked() {
	table := m.group.Table()
	for kind, prev := range m.saved {
		if !table.Restore(kind, m, prev) {
			m.comp.logEvent("restore_skipped", logKV(labelGroup, m.group.Name()), logKV(labelOperation, kind),
				logKV("module_id", m.id), logKV("owner", ownerName(table.Owner(kind))))
			continue
		}
		m.comp.logEvent("restore", logKV(labelGroup, m.group.Name()), logKV(labelOperation, kind), logKV("module_id", m.id))
		delete(m.saved, kind)
	}
	m.enabled = false
}

// Close disables the module if needed, then releases its team and request
// pool. Requests already handed out stay usable.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.restoreLocked()
	m.closed = true
	m.pool.close()
	return m.team.Close()
}

// wrap builds the offload implementation of kind over prev. Only the forms
// prev provides are wrapped so fallback always has a target.
func (m *Module) wrap(kind coll.OpKind, prev coll.Entry) coll.Impl {
	var impl coll.Impl
	if prev.Impl.Blocking != nil {
		impl.Blocking = m.blocking(kind, prev)
	}
	if prev.Impl.Nonblocking != nil {
		impl.Nonblocking = m.nonblocking(kind, prev)
	}
	return impl
}

func ownerName(owner coll.Module) string {
	if owner == nil {
		return "none"
	}
	return owner.Name()
}
