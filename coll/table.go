package coll

import (
	"context"
	"sync/atomic"
)

// BlockingFunc runs a collective to completion. owner is the module the entry
// was installed by, handed back so an implementation can find its own state.
type BlockingFunc func(ctx context.Context, g *Group, args *Args, owner Module) error

// NonblockingFunc starts a collective and returns a request tracking it.
type NonblockingFunc func(g *Group, args *Args, owner Module) (Request, error)

// Impl is the capability set of one table slot.
type Impl struct {
	Blocking    BlockingFunc
	Nonblocking NonblockingFunc
}

// IsZero reports whether neither form is present.
func (i Impl) IsZero() bool {
	return i.Blocking == nil && i.Nonblocking == nil
}

// Entry is the content of one table slot: an implementation and the module
// that installed it.
type Entry struct {
	Impl  Impl
	Owner Module
}

// IsZero reports whether the entry carries no implementation.
func (e Entry) IsZero() bool {
	return e.Impl.IsZero()
}

// Table maps each OpKind to the entry currently serving it. Slots are
// swapped atomically so dispatching calls never observe a torn entry.
type Table struct {
	slots [NumOpKinds]atomic.Pointer[Entry]
}

// Lookup returns the entry installed for kind.
func (t *Table) Lookup(kind OpKind) (Entry, bool) {
	if !kind.Valid() {
		return Entry{}, false
	}
	cur := t.slots[kind].Load()
	if cur == nil || cur.IsZero() {
		return Entry{}, false
	}
	return *cur, true
}

// Owner returns the module owning the slot for kind, nil when empty.
func (t *Table) Owner(kind OpKind) Module {
	e, ok := t.Lookup(kind)
	if !ok {
		return nil
	}
	return e.Owner
}

// Install overwrites the slot for kind.
func (t *Table) Install(kind OpKind, e Entry) {
	if !kind.Valid() {
		return
	}
	next := e
	t.slots[kind].Store(&next)
}

// Restore puts prev back into the slot for kind, but only while owner still
// owns the slot. It reports whether the slot was restored.
func (t *Table) Restore(kind OpKind, owner Module, prev Entry) bool {
	if !kind.Valid() || owner == nil {
		return false
	}
	for {
		cur := t.slots[kind].Load()
		if cur == nil || cur.IsZero() || cur.Owner != owner {
			return false
		}
		next := prev
		if t.slots[kind].CompareAndSwap(cur, &next) {
			return true
		}
	}
}

// Owners returns the owner of every non-empty slot.
func (t *Table) Owners() map[OpKind]Module {
	owners := make(map[OpKind]Module, NumOpKinds)
	for k := OpKind(0); k < NumOpKinds; k++ {
		if e, ok := t.Lookup(k); ok {
			owners[k] = e.Owner
		}
	}
	return owners
}
