// Package intercept offloads collective operations to an offload library.
// Its component attaches to groups through the host's selection framework,
// overrides the operation table with wrappers that translate each call into
// a library descriptor, and falls back to the implementation it replaced
// whenever the library cannot express the call.
package intercept

import (
	"errors"

	"github.com/google/uuid"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/offload"
)

// ErrNilLibrary is returned by NewComponent without a library.
var ErrNilLibrary = errors.New("intercept: nil offload library")

// Component creates one offload module per accepted group.
type Component struct {
	cfg  Config
	lib  offload.Library
	caps offload.Capabilities

	logger           Logger
	structuredLogger StructuredLogger
	tracer           Tracer
	metrics          MetricHook

	stats componentStats
}

var _ coll.Component = (*Component)(nil)

// NewComponent wraps lib. The library's capabilities are read once.
func NewComponent(lib offload.Library, cfg Config) (*Component, error) {
	if lib == nil {
		return nil, ErrNilLibrary
	}
	cfg = cfg.withDefaults()
	return &Component{
		cfg:              cfg,
		lib:              lib,
		caps:             lib.Capabilities(),
		logger:           cfg.Logger,
		structuredLogger: cfg.StructuredLogger,
		tracer:           cfg.Tracer,
		metrics:          cfg.Metrics,
	}, nil
}

func (c *Component) Name() string { return c.cfg.Name }

// Priority is the priority Query reports for accepted groups.
func (c *Component) Priority() int { return c.cfg.Priority }

// Capabilities returns the library capabilities the component works from.
func (c *Component) Capabilities() offload.Capabilities { return c.caps.Clone() }

// Stats returns a snapshot of the component counters.
func (c *Component) Stats() Stats {
	return Stats{
		Installed:          c.stats.installed.Load(),
		MissingBase:        c.stats.missingBase.Load(),
		Offloaded:          c.stats.offloaded.Load(),
		Fallbacks:          c.stats.fallbacks.Load(),
		CompletionFailures: c.stats.completionFailures.Load(),
		RequestsFreed:      c.stats.requestsFreed.Load(),
	}
}

// Query decides whether to serve g. It declines, with a nil module and no
// error, when the component is disabled, when g is smaller than
// MinGroupSize, when no kind is left to offer or when the library cannot
// build a team for g.
func (c *Component) Query(g *coll.Group) (coll.Module, int, error) {
	if g == nil {
		return nil, 0, nil
	}
	group := logKV(labelGroup, g.Name())
	if c.cfg.Disabled {
		c.logEvent("decline", group, logKV(labelReason, "disabled"))
		return nil, 0, nil
	}
	if g.Size() < c.cfg.MinGroupSize {
		c.logEvent("decline", group, logKV(labelReason, "group_too_small"), logKV("size", g.Size()))
		return nil, 0, nil
	}

	ops := make([]coll.OpKind, 0, coll.NumOpKinds)
	for _, kind := range coll.AllOpKinds() {
		if kind.DefinedOn(g.Shape()) && c.cfg.offers(kind) && c.caps.SupportsColl(opSpecs[kind].coll) {
			ops = append(ops, kind)
		}
	}
	if len(ops) == 0 {
		c.logEvent("decline", group, logKV(labelReason, "no_operations"))
		return nil, 0, nil
	}

	team, err := c.lib.CreateTeam(g)
	if err != nil {
		c.logEvent("decline", group, logKV(labelReason, "team_unavailable"), logKV("error", err))
		return nil, 0, nil
	}
	m := &Module{
		comp:  c,
		id:    uuid.New(),
		group: g,
		size:  g.Size(),
		caps:  c.caps,
		team:  team,
		ops:   ops,
		pool:  newRequestPool(c.cfg.RequestPoolCapacity),
		saved: make(map[coll.OpKind]coll.Entry, len(ops)),
	}
	c.logEvent("query", group, logKV("module_id", m.id), logKV("operations", len(ops)), logKV("priority", c.cfg.Priority))
	return m, c.cfg.Priority, nil
}
