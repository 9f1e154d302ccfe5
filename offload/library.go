package offload

import (
	"context"
	"errors"
	"maps"

	"github.com/rocketbitz/colloffload-go/coll"
)

var (
	// ErrClosed indicates use of a library or team after Close.
	ErrClosed = errors.New("offload: closed")
	// ErrTeamUnavailable indicates the library cannot build a team for a group.
	ErrTeamUnavailable = errors.New("offload: team unavailable")
)

// Capabilities advertises what a library can execute.
type Capabilities struct {
	Name        string
	Types       map[Type]bool
	Ops         map[ReduceOp]bool
	Colls       CollType
	MemoryTypes map[MemoryType]bool
}

// Clone returns a deep copy.
func (c Capabilities) Clone() Capabilities {
	c.Types = maps.Clone(c.Types)
	c.Ops = maps.Clone(c.Ops)
	c.MemoryTypes = maps.Clone(c.MemoryTypes)
	return c
}

// SupportsType reports whether t is advertised.
func (c Capabilities) SupportsType(t Type) bool {
	return t != TypeUnsupported && c.Types[t]
}

// SupportsOp reports whether op is advertised.
func (c Capabilities) SupportsOp(op ReduceOp) bool {
	return op != OpUnsupported && c.Ops[op]
}

// SupportsColl reports whether every kind in kinds is advertised.
func (c Capabilities) SupportsColl(kinds CollType) bool {
	return kinds != 0 && c.Colls&kinds == kinds
}

// SupportsMemory reports whether buffers of memory type m are accepted.
// MemoryUnknown is always accepted.
func (c Capabilities) SupportsMemory(m MemoryType) bool {
	return m == MemoryUnknown || c.MemoryTypes[m]
}

// Library is an offload library instance.
type Library interface {
	Name() string
	Capabilities() Capabilities
	// CreateTeam builds the library's per-group context for the calling
	// rank of g.
	CreateTeam(g *coll.Group) (Team, error)
	Close() error
}

// Team submits collectives for one rank of one group.
type Team interface {
	// Post submits a descriptor. An error means nothing was submitted.
	Post(args *CollArgs) (Handle, error)
	Close() error
}

// Handle tracks a posted collective.
type Handle interface {
	// Test reports whether the collective completed and its status if so.
	Test() (bool, error)
	// Wait blocks until completion or until ctx is done.
	Wait(ctx context.Context) error
	Cancel() error
	// Release frees the handle. It must be called exactly once.
	Release() error
}
