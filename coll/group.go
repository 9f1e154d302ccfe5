package coll

import (
	"context"
	"errors"
	"fmt"
)

// Shape is the topology class of a group.
type Shape int

const (
	// ShapeIntra is a multi-party group whose members all take part in
	// every collective.
	ShapeIntra Shape = iota
	// ShapePair is a two-party group joining a pair of peers.
	ShapePair
)

func (s Shape) String() string {
	switch s {
	case ShapeIntra:
		return "intra"
	case ShapePair:
		return "pair"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Module is the owner tag of table entries. Modules are compared by
// identity, so implementations must be pointer types.
type Module interface {
	Name() string
	Enable(g *Group) error
	Disable(g *Group) error
	// Operations lists the kinds the module offers for the group it was
	// created for.
	Operations() []OpKind
}

// GroupConfig describes one rank's view of a group.
type GroupConfig struct {
	ID          uint64
	Name        string
	Rank        int
	Size        int
	Shape       Shape
	Host        string
	Diagnostics DiagnosticSink
}

// Group is one rank's handle on a communication group. Every rank holds its
// own Group, and with it its own operation table.
type Group struct {
	id    uint64
	name  string
	rank  int
	size  int
	shape Shape
	host  string
	diag  DiagnosticSink
	world *World
	table Table
}

var errInvalidGroup = errors.New("coll: invalid group")

// NewGroup validates cfg and returns a group with an empty operation table.
func NewGroup(cfg GroupConfig) (*Group, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("%w: size %d", errInvalidGroup, cfg.Size)
	}
	if cfg.Rank < 0 || cfg.Rank >= cfg.Size {
		return nil, fmt.Errorf("%w: rank %d outside [0,%d)", errInvalidGroup, cfg.Rank, cfg.Size)
	}
	if cfg.Shape == ShapePair && cfg.Size != 2 {
		return nil, fmt.Errorf("%w: pair group of size %d", errInvalidGroup, cfg.Size)
	}
	if cfg.Shape != ShapeIntra && cfg.Shape != ShapePair {
		return nil, fmt.Errorf("%w: %s", errInvalidGroup, cfg.Shape)
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("group-%d", cfg.ID)
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	return &Group{
		id:    cfg.ID,
		name:  name,
		rank:  cfg.Rank,
		size:  cfg.Size,
		shape: cfg.Shape,
		host:  host,
		diag:  cfg.Diagnostics,
	}, nil
}

func (g *Group) ID() uint64 { return g.id }
func (g *Group) Name() string { return g.name }
func (g *Group) Rank() int { return g.rank }
func (g *Group) Size() int { return g.size }
func (g *Group) Shape() Shape { return g.shape }
func (g *Group) Host() string { return g.host }

// Table returns the group's operation table.
func (g *Group) Table() *Table { return &g.table }

// World returns the world the group was created in, nil for standalone groups.
func (g *Group) World() *World { return g.world }

// Diagnostics returns the sink for configuration diagnostics. It never
// returns nil.
func (g *Group) Diagnostics() DiagnosticSink {
	if g.diag == nil {
		return DiagnosticFunc(func(Diagnostic) {})
	}
	return g.diag
}

func (g *Group) String() string {
	return fmt.Sprintf("%s[%d/%d %s]", g.name, g.rank, g.size, g.shape)
}

// Call runs a blocking collective through the entry currently installed for
// kind.
func (g *Group) Call(ctx context.Context, kind OpKind, args *Args) error {
	if ctx == nil {
		ctx = context.Background()
	}
	entry, ok := g.table.Lookup(kind)
	if !ok || entry.Impl.Blocking == nil {
		return opError(kind, ErrNotInstalled, "no blocking implementation on %s", g)
	}
	return entry.Impl.Blocking(ctx, g, args, entry.Owner)
}

// Start begins a non-blocking collective through the entry currently
// installed for kind.
func (g *Group) Start(kind OpKind, args *Args) (Request, error) {
	entry, ok := g.table.Lookup(kind)
	if !ok || entry.Impl.Nonblocking == nil {
		return nil, opError(kind, ErrNotInstalled, "no non-blocking implementation on %s", g)
	}
	return entry.Impl.Nonblocking(g, args, entry.Owner)
}
