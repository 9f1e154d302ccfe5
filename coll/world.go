package coll

import (
	"fmt"
	"sync"

	"github.com/rocketbitz/colloffload-go/internal/rendezvous"
)

// WorldConfig configures an in-process world.
type WorldConfig struct {
	Host        string
	Diagnostics DiagnosticSink
}

// World hosts every rank of a set of groups inside one process and provides
// the round coordination used by in-process collective implementations.
type World struct {
	cfg    WorldConfig
	hub    *rendezvous.Hub
	mu     sync.Mutex
	nextID uint64
	seqs   map[seqKey]uint64
}

type seqKey struct {
	channel string
	group   uint64
	rank    int
}

// NewWorld returns an empty world.
func NewWorld(cfg WorldConfig) *World {
	return &World{
		cfg:  cfg,
		hub:  rendezvous.NewHub(),
		seqs: make(map[seqKey]uint64),
	}
}

// NewGroup creates an intra group of the given size and returns one handle
// per rank.
func (w *World) NewGroup(name string, size int) ([]*Group, error) {
	return w.newGroup(name, size, ShapeIntra)
}

// NewPairGroup creates a two-party group and returns both handles.
func (w *World) NewPairGroup(name string) ([]*Group, error) {
	return w.newGroup(name, 2, ShapePair)
}

func (w *World) newGroup(name string, size int, shape Shape) ([]*Group, error) {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.mu.Unlock()

	groups := make([]*Group, size)
	for rank := range groups {
		g, err := NewGroup(GroupConfig{
			ID:          id,
			Name:        name,
			Rank:        rank,
			Size:        size,
			Shape:       shape,
			Host:        w.cfg.Host,
			Diagnostics: w.cfg.Diagnostics,
		})
		if err != nil {
			return nil, err
		}
		g.world = w
		groups[rank] = g
	}
	return groups, nil
}

// Join enters g's rank into the next round on channel. Ranks must issue
// their calls on a channel in the same order, as with any collective.
func (w *World) Join(channel string, g *Group, contrib any, compute rendezvous.ComputeFunc) (*rendezvous.Ticket, error) {
	if g == nil || g.world != w {
		return nil, fmt.Errorf("coll: group does not belong to this world")
	}
	w.mu.Lock()
	k := seqKey{channel: channel, group: g.id, rank: g.rank}
	w.seqs[k]++
	seq := w.seqs[k]
	w.mu.Unlock()

	key := rendezvous.Key{Channel: channel, Group: g.id, Seq: seq}
	return w.hub.Join(key, g.size, g.rank, contrib, compute)
}
