// Package inproc is an offload library whose ranks all live in the calling
// process. Collectives are coordinated through a rendezvous hub and
// computed by the shared kernels, so results match the host's baseline
// component bit for bit. Hooks allow tests to inject team, submission and
// completion failures.
package inproc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/internal/rendezvous"
	"github.com/rocketbitz/colloffload-go/offload"
)

// Config controls the advertised capabilities and fault injection.
type Config struct {
	// Name defaults to "inproc".
	Name string
	// Types, Ops and MemoryTypes default to everything when nil.
	Types       []offload.Type
	Ops         []offload.ReduceOp
	MemoryTypes []offload.MemoryType
	// Colls defaults to offload.CollAll when zero.
	Colls offload.CollType

	// FailTeam, when set, is consulted by CreateTeam.
	FailTeam func(g *coll.Group) error
	// FailPost, when set, is consulted by Post after validation. A non-nil
	// error rejects the submission. It must decide identically on every rank.
	FailPost func(args *offload.CollArgs) error
	// FailCompletion, when set, is consulted by Post; a non-nil error is
	// reported as the completion status of the calling rank's handle.
	FailCompletion func(args *offload.CollArgs) error
}

// Stats is a snapshot of library activity.
type Stats struct {
	Teams    uint64
	Posted   uint64
	Rejected uint64
	Released uint64
}

// Outstanding is the number of posted handles not yet released.
func (s Stats) Outstanding() uint64 {
	return s.Posted - s.Released
}

// Library is an in-process offload library shared by every rank.
type Library struct {
	cfg  Config
	caps offload.Capabilities
	hub  *rendezvous.Hub

	closed atomic.Bool

	teams    atomic.Uint64
	posted   atomic.Uint64
	rejected atomic.Uint64
	released atomic.Uint64
}

var _ offload.Library = (*Library)(nil)

// New builds a library from cfg.
func New(cfg Config) *Library {
	if cfg.Name == "" {
		cfg.Name = "inproc"
	}
	if cfg.Colls == 0 {
		cfg.Colls = offload.CollAll
	}
	if cfg.Types == nil {
		cfg.Types = offload.AllTypes()
	}
	if cfg.Ops == nil {
		cfg.Ops = offload.AllOps()
	}
	if cfg.MemoryTypes == nil {
		cfg.MemoryTypes = []offload.MemoryType{offload.MemoryHost, offload.MemoryDevice}
	}

	caps := offload.Capabilities{
		Name:        cfg.Name,
		Types:       make(map[offload.Type]bool, len(cfg.Types)),
		Ops:         make(map[offload.ReduceOp]bool, len(cfg.Ops)),
		Colls:       cfg.Colls,
		MemoryTypes: make(map[offload.MemoryType]bool, len(cfg.MemoryTypes)),
	}
	for _, t := range cfg.Types {
		caps.Types[t] = true
	}
	for _, op := range cfg.Ops {
		caps.Ops[op] = true
	}
	for _, m := range cfg.MemoryTypes {
		caps.MemoryTypes[m] = true
	}
	return &Library{cfg: cfg, caps: caps, hub: rendezvous.NewHub()}
}

func (l *Library) Name() string { return l.cfg.Name }

// Capabilities returns a copy of the advertised capabilities.
func (l *Library) Capabilities() offload.Capabilities {
	return l.caps.Clone()
}

// CreateTeam returns the calling rank's team for g.
func (l *Library) CreateTeam(g *coll.Group) (offload.Team, error) {
	if l.closed.Load() {
		return nil, offload.ErrClosed
	}
	if g == nil {
		return nil, fmt.Errorf("%w: nil group", offload.ErrTeamUnavailable)
	}
	if l.cfg.FailTeam != nil {
		if err := l.cfg.FailTeam(g); err != nil {
			return nil, fmt.Errorf("%w: %w", offload.ErrTeamUnavailable, err)
		}
	}
	l.teams.Add(1)
	return &team{lib: l, id: g.ID(), rank: g.Rank(), size: g.Size()}, nil
}

// Stats returns a snapshot of the library counters.
func (l *Library) Stats() Stats {
	return Stats{
		Teams:    l.teams.Load(),
		Posted:   l.posted.Load(),
		Rejected: l.rejected.Load(),
		Released: l.released.Load(),
	}
}

// Close stops the library from creating teams and accepting posts.
func (l *Library) Close() error {
	l.closed.Store(true)
	return nil
}

type team struct {
	lib  *Library
	id   uint64
	rank int
	size int

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// contribution is what one rank brings to a round.
type contribution struct {
	part partition
}

func (t *team) Post(args *offload.CollArgs) (offload.Handle, error) {
	l := t.lib
	if l.closed.Load() {
		return nil, offload.ErrClosed
	}
	if err := l.validate(args, t.size); err != nil {
		l.rejected.Add(1)
		return nil, err
	}
	if l.cfg.FailPost != nil {
		if err := l.cfg.FailPost(args); err != nil {
			l.rejected.Add(1)
			return nil, fmt.Errorf("inproc post %s: %w", args.Coll, err)
		}
	}
	var injected error
	if l.cfg.FailCompletion != nil {
		if err := l.cfg.FailCompletion(args); err != nil {
			injected = fmt.Errorf("inproc %s: %w: %w", args.Coll, offload.StatusErrGeneric, err)
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, offload.ErrClosed
	}
	t.seq++
	key := rendezvous.Key{Channel: "inproc/" + l.cfg.Name, Group: t.id, Seq: t.seq}
	t.mu.Unlock()

	contrib := contribution{part: partitionOf(args)}
	ticket, err := l.hub.Join(key, t.size, t.rank, contrib, compute)
	if err != nil {
		l.rejected.Add(1)
		return nil, fmt.Errorf("inproc post %s: %w: %w", args.Coll, offload.StatusInvalidParam, err)
	}
	l.posted.Add(1)
	return &handle{lib: l, coll: args.Coll, ticket: ticket, injected: injected}, nil
}

func (t *team) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (l *Library) validate(args *offload.CollArgs, size int) error {
	if args == nil {
		return offload.StatusInvalidParam.WithOp("inproc post")
	}
	op := "inproc post " + args.Coll.String()
	if !l.caps.SupportsColl(args.Coll) || !isSingleColl(args.Coll) {
		return offload.StatusNotSupported.WithOp(op)
	}
	for _, typ := range args.Types() {
		if !l.caps.SupportsType(typ) {
			return offload.StatusNotSupported.WithOp(op)
		}
	}
	if args.Reduces() {
		if !l.caps.SupportsOp(args.Op) {
			return offload.StatusNotSupported.WithOp(op)
		}
		if _, err := combiner(args.Dst.Type, args.Op); err != nil {
			return offload.StatusNotSupported.WithOp(op)
		}
	}
	for _, m := range []offload.MemoryType{args.Src.MemType, args.Dst.MemType, args.SrcV.MemType, args.DstV.MemType} {
		if !l.caps.SupportsMemory(m) {
			return offload.StatusNotSupported.WithOp(op)
		}
	}
	if args.Coll == offload.CollReduce || args.Coll == offload.CollBcast {
		if args.Root < 0 || args.Root >= size {
			return offload.StatusInvalidParam.WithOp(op)
		}
	}
	if args.Variable() {
		if len(args.DstV.Counts) < size || len(args.DstV.Displacements) < size {
			return offload.StatusInvalidParam.WithOp(op)
		}
		if !args.InPlace() && (len(args.SrcV.Counts) < size || len(args.SrcV.Displacements) < size) {
			return offload.StatusInvalidParam.WithOp(op)
		}
	}
	return nil
}

func isSingleColl(c offload.CollType) bool {
	return c != 0 && c&(c-1) == 0
}
