package intercept

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/rocketbitz/colloffload-go/coll"
)

const (
	// DefaultPriority places the component above the host's baseline
	// component.
	DefaultPriority = 10
	// DefaultMinGroupSize is the smallest group the component accepts.
	DefaultMinGroupSize = 2
	// DefaultRequestPoolCapacity bounds the request free list.
	DefaultRequestPoolCapacity = 64
)

// Config controls NewComponent behaviour. Zero values select defaults.
type Config struct {
	// Name identifies the component in diagnostics, logs and metrics.
	// Defaults to "offload".
	Name string
	// Disabled makes Query decline every group.
	Disabled bool
	// Priority is reported by Query. Zero selects DefaultPriority.
	Priority int
	// Verbose gates dispatch logging: 3 logs every dispatch and fallback,
	// 5 also logs translation failures.
	Verbose      int
	MinGroupSize int
	// Operations restricts the offered kinds. Empty offers every kind.
	Operations          []coll.OpKind
	RequestPoolCapacity int

	Logger           Logger
	StructuredLogger StructuredLogger
	Tracer           Tracer
	Metrics          MetricHook
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "offload"
	}
	if c.Priority == 0 {
		c.Priority = DefaultPriority
	}
	if c.MinGroupSize <= 0 {
		c.MinGroupSize = DefaultMinGroupSize
	}
	if c.RequestPoolCapacity <= 0 {
		c.RequestPoolCapacity = DefaultRequestPoolCapacity
	}
	c.Operations = lo.Uniq(c.Operations)
	return c
}

// offers reports whether the allow-list admits kind.
func (c Config) offers(kind coll.OpKind) bool {
	return len(c.Operations) == 0 || lo.Contains(c.Operations, kind)
}

// ConfigFromEnv reads <prefix>_ENABLE, <prefix>_PRIORITY, <prefix>_VERBOSE,
// <prefix>_NP (minimum group size) and <prefix>_CLS, a comma-separated list
// of operation names (<prefix>_OPS is accepted as an alias). Unset
// variables leave the zero value in place. PRIORITY and NP must be
// positive and VERBOSE non-negative.
func ConfigFromEnv(prefix string) (Config, error) {
	var cfg Config
	var errs []error
	lookup := func(name string) (string, bool) {
		v, ok := os.LookupEnv(prefix + "_" + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	atoi := func(name string, floor int, dst *int) {
		if raw, ok := lookup(name); ok {
			v, err := strconv.Atoi(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("intercept: %s_%s: %w", prefix, name, err))
				return
			}
			if v < floor {
				errs = append(errs, fmt.Errorf("intercept: %s_%s: %d is below %d", prefix, name, v, floor))
				return
			}
			*dst = v
		}
	}

	if raw, ok := lookup("ENABLE"); ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("intercept: %s_ENABLE: %w", prefix, err))
		} else {
			cfg.Disabled = !v
		}
	}
	// A zero priority would silently become the default.
	atoi("PRIORITY", 1, &cfg.Priority)
	atoi("VERBOSE", 0, &cfg.Verbose)
	atoi("NP", 1, &cfg.MinGroupSize)

	raw, ok := lookup("CLS")
	if !ok {
		raw, ok = lookup("OPS")
	}
	if ok {
		ops, err := ParseOperations(raw)
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Operations = ops
	}
	return cfg, errors.Join(errs...)
}

// ParseOperations parses a comma-separated list of operation names such as
// "allreduce,ialltoallv". Unknown names are reported together.
func ParseOperations(list string) ([]coll.OpKind, error) {
	names := lo.Compact(lo.Map(strings.Split(list, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	var errs []error
	kinds := lo.FilterMap(names, func(name string, _ int) (coll.OpKind, bool) {
		kind, err := coll.ParseOpKind(name)
		if err != nil {
			errs = append(errs, err)
			return 0, false
		}
		return kind, true
	})
	return lo.Uniq(kinds), errors.Join(errs...)
}
