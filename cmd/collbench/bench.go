package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/coll/basic"
	"github.com/rocketbitz/colloffload-go/intercept"
	"github.com/rocketbitz/colloffload-go/offload/inproc"
)

type options struct {
	ranks      int
	iterations int
	count      int
	op         string
	dtype      string
	reduce     string
	disable    bool
	disableSet bool
	verbose    int
	verboseSet bool
	metrics    bool
	debug      bool
	envPrefix  string
}

func defaultOptions() options {
	return options{
		ranks:      4,
		iterations: 100,
		count:      1024,
		op:         "allreduce",
		dtype:      "float32",
		reduce:     "sum",
		envPrefix:  "COLL_OFFLOAD",
	}
}

type benchCall struct {
	kind        coll.OpKind
	nonblocking bool
	dtype       *coll.Datatype
	op          *coll.ReduceOp
}

func parseCall(opts options) (benchCall, error) {
	kind, err := coll.ParseOpKind(opts.op)
	if err != nil {
		return benchCall{}, err
	}
	dt, ok := coll.LookupDatatype(opts.dtype)
	if !ok {
		return benchCall{}, fmt.Errorf("collbench: unknown datatype %q", opts.dtype)
	}
	rop, ok := coll.LookupReduceOp(opts.reduce)
	if !ok {
		return benchCall{}, fmt.Errorf("collbench: unknown reduction %q", opts.reduce)
	}
	name := strings.ToLower(strings.TrimSpace(opts.op))
	return benchCall{
		kind:        kind,
		nonblocking: name != kind.String() && strings.HasPrefix(name, "i"),
		dtype:       dt,
		op:          rop,
	}, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, out io.Writer, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.ranks <= 0 || opts.iterations <= 0 || opts.count < 0 {
		return fmt.Errorf("collbench: ranks and iterations must be positive and count non-negative")
	}
	call, err := parseCall(opts)
	if err != nil {
		return err
	}

	logger, err := newLogger(opts.debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	cfg, err := intercept.ConfigFromEnv(opts.envPrefix)
	if err != nil {
		return err
	}
	if opts.disableSet {
		cfg.Disabled = opts.disable
	}
	if opts.verboseSet {
		cfg.Verbose = opts.verbose
	}
	reg := prometheus.NewRegistry()
	metrics, err := intercept.NewPrometheusMetrics(intercept.PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		return err
	}
	cfg.StructuredLogger = sugar
	cfg.Metrics = metrics

	lib := inproc.New(inproc.Config{})
	defer func() { _ = lib.Close() }()
	comp, err := intercept.NewComponent(lib, cfg)
	if err != nil {
		return err
	}

	host, _ := os.Hostname()
	world := coll.NewWorld(coll.WorldConfig{
		Host: host,
		Diagnostics: coll.DiagnosticFunc(func(d coll.Diagnostic) {
			sugar.Warnw(d.String(), "topic", d.Topic)
		}),
	})
	groups, err := world.NewGroup("collbench", opts.ranks)
	if err != nil {
		return err
	}
	fw := &coll.Framework{Components: []coll.Component{basic.New(), comp}}
	for _, g := range groups {
		att, err := fw.Attach(g)
		if err != nil {
			return err
		}
		defer func() {
			if err := att.Detach(); err != nil {
				sugar.Warnw("detach failed", "group", g.String(), "error", err)
			}
		}()
	}

	start := time.Now()
	var eg errgroup.Group
	for rank, g := range groups {
		args := buildArgs(call, rank, opts.ranks, opts.count)
		eg.Go(func() error {
			for i := 0; i < opts.iterations; i++ {
				if err := invoke(ctx, g, call, args); err != nil {
					return fmt.Errorf("rank %d iteration %d: %w", rank, i, err)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	report(out, opts, call, comp.Stats(), elapsed)
	if opts.metrics {
		return dumpMetrics(out, reg)
	}
	return nil
}

func invoke(ctx context.Context, g *coll.Group, call benchCall, args *coll.Args) error {
	if !call.nonblocking {
		return g.Call(ctx, call.kind, args)
	}
	req, err := g.Start(call.kind, args)
	if err != nil {
		return err
	}
	if err := req.Wait(ctx); err != nil {
		_ = req.Free()
		return err
	}
	return req.Free()
}

// buildArgs allocates zeroed buffers shaped for kind.
func buildArgs(call benchCall, rank, size, count int) *coll.Args {
	elem := call.dtype.Size()
	args := &coll.Args{Count: count, Type: call.dtype, Op: call.op}
	switch call.kind {
	case coll.Barrier:
		return &coll.Args{}
	case coll.Bcast:
		args.RecvBuf = make([]byte, count*elem)
	case coll.ReduceScatterBlock:
		args.SendBuf = make([]byte, size*count*elem)
		args.RecvBuf = make([]byte, count*elem)
	case coll.AllToAllV:
		args.SendCounts = make([]int, size)
		args.SendDispls = make([]int, size)
		for peer := range args.SendCounts {
			args.SendCounts[peer] = count
			args.SendDispls[peer] = peer * count
		}
		args.RecvCounts = append([]int(nil), args.SendCounts...)
		args.RecvDispls = append([]int(nil), args.SendDispls...)
		args.SendBuf = make([]byte, size*count*elem)
		args.RecvBuf = make([]byte, size*count*elem)
	default:
		args.SendBuf = make([]byte, count*elem)
		args.RecvBuf = make([]byte, count*elem)
	}
	return args
}

func report(out io.Writer, opts options, call benchCall, stats intercept.Stats, elapsed time.Duration) {
	calls := int64(opts.ranks) * int64(opts.iterations)
	perRank := uint64(opts.count) * uint64(call.dtype.Size()) * uint64(opts.iterations)
	mode := "blocking"
	if call.nonblocking {
		mode = "non-blocking"
	}
	fmt.Fprintf(out, "%s (%s) over %d ranks, %s %s elements per call\n",
		call.kind, mode, opts.ranks, humanize.Comma(int64(opts.count)), call.dtype)
	fmt.Fprintf(out, "  calls:      %s in %s\n", humanize.Comma(calls), elapsed.Round(time.Microsecond))
	fmt.Fprintf(out, "  per rank:   %s", humanize.Bytes(perRank))
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(out, " (%s/s)", humanize.Bytes(uint64(float64(perRank)/secs)))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  offloaded:  %s\n", humanize.Comma(int64(stats.Offloaded)))
	fmt.Fprintf(out, "  fallbacks:  %s\n", humanize.Comma(int64(stats.Fallbacks)))
	fmt.Fprintf(out, "  failures:   %s\n", humanize.Comma(int64(stats.CompletionFailures)))
}

func dumpMetrics(out io.Writer, reg *prometheus.Registry) error {
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	sort.Slice(mfs, func(i, j int) bool { return mfs[i].GetName() < mfs[j].GetName() })
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			fmt.Fprintf(out, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
	return nil
}
