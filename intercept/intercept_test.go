package intercept

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/coll/basic"
	"github.com/rocketbitz/colloffload-go/offload"
	"github.com/rocketbitz/colloffload-go/offload/inproc"
)

func TestAllReduceOffloadedAndRestored(t *testing.T) {
	f := newOffloadFixture(t, 4)
	g0 := f.groups[0]
	require.Same(t, f.modules[0], g0.Table().Owner(coll.AllReduce))

	recv := make([][]byte, len(f.groups))
	f.each(t, func(rank int, g *coll.Group) error {
		recv[rank] = make([]byte, 8)
		return g.Call(context.Background(), coll.AllReduce, &coll.Args{
			SendBuf: int32s(int32(rank), 2),
			RecvBuf: recv[rank],
			Count:   2,
			Type:    coll.Int32,
			Op:      coll.Sum,
		})
	})
	for _, r := range recv {
		require.Equal(t, int32s(6, 8), r)
	}

	stats := f.comp.Stats()
	require.EqualValues(t, 4, stats.Offloaded)
	require.Zero(t, stats.Fallbacks)
	require.EqualValues(t, 4, f.lib.Stats().Posted)
	require.Zero(t, f.lib.Stats().Outstanding())

	require.NoError(t, f.modules[0].Disable(g0))
	_, isBasic := g0.Table().Owner(coll.AllReduce).(*basic.Module)
	require.True(t, isBasic, "disable must put the baseline entry back")
}

func TestUnsupportedCallsFallBackWithIdenticalResults(t *testing.T) {
	pair, err := coll.Contiguous(2, coll.Int32)
	require.NoError(t, err)

	f := newOffloadFixture(t, 3)
	derived := make([][]byte, 3)
	wide := make([][]byte, 3)
	f.each(t, func(rank int, g *coll.Group) error {
		derived[rank] = make([]byte, 8)
		if err := g.Call(context.Background(), coll.AllReduce, &coll.Args{
			SendBuf: int32s(int32(rank), int32(10-rank)), RecvBuf: derived[rank], Count: 1, Type: pair, Op: coll.Max,
		}); err != nil {
			return err
		}

		send := make([]byte, 3*16)
		for i := range send {
			send[i] = byte(rank*50 + i)
		}
		wide[rank] = make([]byte, 3*16)
		return g.Call(context.Background(), coll.AllToAllV, &coll.Args{
			SendBuf: send, SendCounts: []int{1, 1, 1}, SendDispls: []int{0, 1, 2},
			RecvBuf: wide[rank], RecvCounts: []int{1, 1, 1}, RecvDispls: []int{0, 1, 2},
			Type: coll.LongDouble,
		})
	})

	for rank := range f.groups {
		require.Equal(t, int32s(2, 10), derived[rank])
		for src := 0; src < 3; src++ {
			require.Equal(t, byte(src*50+rank*16), wide[rank][src*16])
		}
	}
	require.EqualValues(t, 6, f.comp.Stats().Fallbacks)
	require.Zero(t, f.comp.Stats().Offloaded)
	require.Zero(t, f.lib.Stats().Posted)
}

func TestAllToAllVWithOneUnsupportedSideFallsBack(t *testing.T) {
	f := newOffloadFixture(t, 3)
	sends := make([][]byte, 3)
	narrowRecv := make([][]byte, 3)
	wideRecv := make([][]byte, 3)
	f.each(t, func(rank int, g *coll.Group) error {
		sends[rank] = make([]byte, 3*16)
		for i := range sends[rank] {
			sends[rank][i] = byte(rank*60 + i)
		}

		// uint64 pairs out, long double in.
		wideRecv[rank] = make([]byte, 3*16)
		if err := g.Call(context.Background(), coll.AllToAllV, &coll.Args{
			SendBuf: sends[rank], SendCounts: []int{2, 2, 2}, SendDispls: []int{0, 2, 4}, Type: coll.Uint64,
			RecvBuf: wideRecv[rank], RecvCounts: []int{1, 1, 1}, RecvDispls: []int{0, 1, 2}, RecvType: coll.LongDouble,
		}); err != nil {
			return err
		}

		// long double out, uint64 pairs in.
		narrowRecv[rank] = make([]byte, 3*16)
		return g.Call(context.Background(), coll.AllToAllV, &coll.Args{
			SendBuf: sends[rank], SendCounts: []int{1, 1, 1}, SendDispls: []int{0, 1, 2}, Type: coll.LongDouble,
			RecvBuf: narrowRecv[rank], RecvCounts: []int{2, 2, 2}, RecvDispls: []int{0, 2, 4}, RecvType: coll.Uint64,
		})
	})

	for rank := range f.groups {
		for src := 0; src < 3; src++ {
			want := sends[src][rank*16 : (rank+1)*16]
			require.Equal(t, want, wideRecv[rank][src*16:(src+1)*16], "rank %d block from %d", rank, src)
			require.Equal(t, want, narrowRecv[rank][src*16:(src+1)*16], "rank %d block from %d", rank, src)
		}
	}
	require.EqualValues(t, 6, f.comp.Stats().Fallbacks)
	require.Zero(t, f.comp.Stats().Offloaded)
	require.Zero(t, f.lib.Stats().Posted)
}

func TestNonblockingAllToAllVWithZeroCounts(t *testing.T) {
	var (
		mu    sync.Mutex
		posts []offload.CollArgs
	)
	f := newFixture(t, fixtureOptions{size: 3, withBase: true, lib: inproc.Config{
		FailPost: func(args *offload.CollArgs) error {
			mu.Lock()
			posts = append(posts, *args)
			mu.Unlock()
			return nil
		},
	}})

	recv := make([][]byte, 3)
	f.each(t, func(rank int, g *coll.Group) error {
		n := len(f.groups)
		sendCounts := make([]int, n)
		recvCounts := make([]int, n)
		sendCounts[(rank+1)%n] = 1
		recvCounts[(rank+n-1)%n] = 1
		recv[rank] = make([]byte, 4)

		req, err := g.Start(coll.AllToAllV, &coll.Args{
			SendBuf: int32s(int32(100 + rank)), SendCounts: sendCounts, SendDispls: make([]int, n),
			RecvBuf: recv[rank], RecvCounts: recvCounts, RecvDispls: make([]int, n),
			Type: coll.Int32,
		})
		if err != nil {
			return err
		}
		if _, ok := req.(*request); !ok {
			return errors.New("expected an offload request")
		}
		if err := req.Wait(context.Background()); err != nil {
			return err
		}
		if done, err := req.Test(); !done || err != nil {
			return errors.Join(errors.New("test after wait"), err)
		}
		if err := req.Free(); err != nil {
			return err
		}
		if !errors.Is(req.Free(), coll.ErrRequestFreed) {
			return errors.New("second free must fail")
		}
		if !errors.Is(req.Wait(context.Background()), coll.ErrRequestFreed) {
			return errors.New("wait after free must fail")
		}
		return nil
	})

	for rank := range f.groups {
		require.Equal(t, int32s(int32(100+(rank+2)%3)), recv[rank])
	}
	require.Zero(t, f.lib.Stats().Outstanding())
	require.EqualValues(t, 3, f.comp.Stats().RequestsFreed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, posts, 3)
	for _, p := range posts {
		require.True(t, p.HasFlag(offload.FlagOptimizeOverlapCPU))
		require.False(t, p.InPlace())
		require.Len(t, p.SrcV.Counts, 3)
		require.Contains(t, p.SrcV.Counts, 0)
	}
}

func TestNonblockingReduceScatterBlock(t *testing.T) {
	f := newOffloadFixture(t, 2)
	bufs := make([][]byte, 2)
	f.each(t, func(rank int, g *coll.Group) error {
		send := int32s(int32(rank+1), int32(10*(rank+1)))
		bufs[rank] = make([]byte, 4)
		req, err := g.Start(coll.ReduceScatterBlock, &coll.Args{SendBuf: send, RecvBuf: bufs[rank], Count: 1, Type: coll.Int32, Op: coll.Sum})
		if err != nil {
			return err
		}
		for {
			done, err := req.Test()
			if err != nil {
				return err
			}
			if done {
				break
			}
			time.Sleep(time.Millisecond)
		}
		return req.Free()
	})
	require.Equal(t, int32s(3), bufs[0])
	require.Equal(t, int32s(30), bufs[1])
	require.EqualValues(t, 2, f.comp.Stats().Offloaded)
}

func TestSubmissionFailureFallsBack(t *testing.T) {
	f := newFixture(t, fixtureOptions{size: 2, withBase: true, lib: inproc.Config{
		FailPost: func(args *offload.CollArgs) error {
			if args.Coll == offload.CollAllReduce {
				return offload.StatusNoResource
			}
			return nil
		},
	}})

	recv := make([][]byte, 2)
	f.each(t, func(rank int, g *coll.Group) error {
		recv[rank] = make([]byte, 4)
		args := &coll.Args{SendBuf: int32s(int32(rank + 5)), RecvBuf: recv[rank], Count: 1, Type: coll.Int32, Op: coll.Max}
		if err := g.Call(context.Background(), coll.AllReduce, args); err != nil {
			return err
		}
		req, err := g.Start(coll.AllReduce, args)
		if err != nil {
			return err
		}
		if _, ok := req.(*request); ok {
			return errors.New("fallback returned an offload request")
		}
		if err := req.Wait(context.Background()); err != nil {
			return err
		}
		return req.Free()
	})

	for _, r := range recv {
		require.Equal(t, int32s(6), r)
	}
	require.EqualValues(t, 4, f.comp.Stats().Fallbacks)
	require.EqualValues(t, 4, f.lib.Stats().Rejected)
	require.Zero(t, f.lib.Stats().Posted)
	for _, m := range f.modules {
		require.Len(t, m.pool.free, 1, "the request acquired before submission goes back to the pool")
		require.EqualValues(t, 1, m.pool.allocated.Load())
	}
}

func TestCompletionFailureIsSurfaced(t *testing.T) {
	injected := errors.New("link down")
	f := newFixture(t, fixtureOptions{size: 2, withBase: true, lib: inproc.Config{
		FailCompletion: func(args *offload.CollArgs) error {
			if args.Coll == offload.CollBcast {
				return injected
			}
			return nil
		},
	}})

	f.each(t, func(rank int, g *coll.Group) error {
		buf := int32s(int32(rank))
		err := g.Call(context.Background(), coll.Bcast, &coll.Args{RecvBuf: buf, Count: 1, Type: coll.Int32})
		if coll.Code(err) != coll.ErrCollective || !errors.Is(err, injected) {
			return errors.Join(errors.New("blocking bcast error not surfaced"), err)
		}

		req, err := g.Start(coll.Bcast, &coll.Args{RecvBuf: buf, Count: 1, Type: coll.Int32})
		if err != nil {
			return err
		}
		waitErr := req.Wait(context.Background())
		if coll.Code(waitErr) != coll.ErrCollective || !errors.Is(waitErr, offload.StatusErrGeneric) {
			return errors.Join(errors.New("nonblocking bcast error not surfaced"), waitErr)
		}
		if done, testErr := req.Test(); !done || !errors.Is(testErr, injected) {
			return errors.New("test must repeat the completion error")
		}
		return req.Free()
	})

	require.EqualValues(t, 4, f.comp.Stats().CompletionFailures)
	require.Zero(t, f.comp.Stats().Fallbacks)
	require.Zero(t, f.lib.Stats().Outstanding())
}

type topModule struct{}

func (m *topModule) Name() string { return "top" }
func (m *topModule) Enable(*coll.Group) error { return nil }
func (m *topModule) Disable(*coll.Group) error { return nil }
func (m *topModule) Operations() []coll.OpKind { return []coll.OpKind{coll.AllReduce} }

func TestDisableLeavesForeignSlotsAlone(t *testing.T) {
	f := newOffloadFixture(t, 2)
	g := f.groups[0]
	m := f.modules[0]
	require.NotNil(t, m)

	mine, ok := g.Table().Lookup(coll.AllReduce)
	require.True(t, ok)
	top := &topModule{}
	g.Table().Install(coll.AllReduce, coll.Entry{
		Impl:  coll.Impl{Blocking: func(context.Context, *coll.Group, *coll.Args, coll.Module) error { return nil }},
		Owner: top,
	})

	require.NoError(t, m.Disable(g))
	require.Same(t, top, g.Table().Owner(coll.AllReduce))
	_, isBasic := g.Table().Owner(coll.Bcast).(*basic.Module)
	require.True(t, isBasic)

	before := g.Table().Owners()
	require.NoError(t, m.Disable(g))
	require.Equal(t, before, g.Table().Owners())

	// The buried wrapper is not wrapped a second time.
	require.NoError(t, m.Enable(g))
	require.NoError(t, m.Enable(g))
	require.Same(t, top, g.Table().Owner(coll.AllReduce))
	require.Same(t, m, g.Table().Owner(coll.Bcast))

	require.True(t, g.Table().Restore(coll.AllReduce, top, mine))
	require.Same(t, m, g.Table().Owner(coll.AllReduce))
	require.NoError(t, m.Disable(g))
	for kind, owner := range g.Table().Owners() {
		_, isBasic := owner.(*basic.Module)
		require.Truef(t, isBasic, "%s owned by %s", kind, ownerName(owner))
	}
}

func TestOutOfOrderTeardownRestoresBaseline(t *testing.T) {
	f := newOffloadFixture(t, 2)
	g := f.groups[0]
	lower := f.modules[0]

	upperComp, err := NewComponent(f.lib, Config{Name: "upper", Priority: 20})
	require.NoError(t, err)
	mod, _, err := upperComp.Query(g)
	require.NoError(t, err)
	upper := mod.(*Module)
	t.Cleanup(func() { _ = upper.Close() })

	requireBasic := func(msg string) {
		t.Helper()
		_, isBasic := g.Table().Owner(coll.AllReduce).(*basic.Module)
		require.Truef(t, isBasic, "%s: allreduce owned by %s", msg, ownerName(g.Table().Owner(coll.AllReduce)))
	}

	require.NoError(t, upper.Enable(g))
	require.Same(t, upper, g.Table().Owner(coll.AllReduce))

	require.NoError(t, lower.Disable(g))
	require.Same(t, upper, g.Table().Owner(coll.AllReduce))
	require.NoError(t, upper.Disable(g))
	require.Same(t, lower, g.Table().Owner(coll.AllReduce))
	require.NoError(t, lower.Disable(g))
	requireBasic("after both disabled")

	// Re-enabling after the full teardown wraps the baseline again, not a
	// stale wrapper.
	require.NoError(t, lower.Enable(g))
	require.NoError(t, upper.Enable(g))
	require.NoError(t, lower.Disable(g))
	require.NoError(t, lower.Enable(g))
	require.Same(t, upper, g.Table().Owner(coll.AllReduce))
	require.NoError(t, upper.Disable(g))
	require.Same(t, lower, g.Table().Owner(coll.AllReduce))
	require.NoError(t, lower.Disable(g))
	requireBasic("after second teardown")
}

func TestPairGroupOffersOnlyPairOperations(t *testing.T) {
	f := newFixture(t, fixtureOptions{pair: true, withBase: true})
	for _, m := range f.modules {
		require.NotContains(t, m.Operations(), coll.Scan)
		require.NotContains(t, m.Operations(), coll.ExScan)
		require.Contains(t, m.Operations(), coll.AllReduce)
	}
	owners := f.groups[0].Table().Owners()
	require.NotContains(t, owners, coll.Scan)
	require.NotContains(t, owners, coll.ExScan)

	recv := make([][]byte, 2)
	f.each(t, func(rank int, g *coll.Group) error {
		recv[rank] = make([]byte, 4)
		return g.Call(context.Background(), coll.AllReduce, &coll.Args{
			SendBuf: int32s(int32(rank + 1)), RecvBuf: recv[rank], Count: 1, Type: coll.Int32, Op: coll.Prod,
		})
	})
	require.Equal(t, int32s(2), recv[0])
	require.Equal(t, int32s(2), recv[1])
	require.EqualValues(t, 2, f.comp.Stats().Offloaded)
}

func TestMissingBaseEmitsDiagnostic(t *testing.T) {
	logger, logs := newObservedLogger()
	metrics := newMetricRecorder()
	f := newFixture(t, fixtureOptions{size: 2, cfg: Config{StructuredLogger: logger, Metrics: metrics}})

	require.Empty(t, f.groups[0].Table().Owners())
	entries := f.diag.Entries()
	require.Len(t, entries, 2*int(coll.NumOpKinds))
	for _, d := range entries {
		require.Equal(t, coll.TopicMissingCollective, d.Topic)
		require.Equal(t, "offload", d.Component)
		require.Equal(t, "node0", d.Host)
		require.Equal(t, DefaultPriority, d.Priority)
	}
	require.True(t, waitForLogEvent(logs, "missing_collective", time.Second))
	require.EqualValues(t, 2*int(coll.NumOpKinds), f.comp.Stats().MissingBase)
	require.Equal(t, 2*int(coll.NumOpKinds), metrics.Snapshot().missingBase)

	err := f.groups[0].Call(context.Background(), coll.Barrier, &coll.Args{})
	require.Equal(t, coll.ErrNotInstalled, coll.Code(err))
}

func TestQueryDeclines(t *testing.T) {
	w := coll.NewWorld(coll.WorldConfig{})
	single, err := w.NewGroup("single", 1)
	require.NoError(t, err)
	groups, err := w.NewGroup("quad", 4)
	require.NoError(t, err)

	lib := inproc.New(inproc.Config{})
	t.Cleanup(func() { _ = lib.Close() })

	comp, err := NewComponent(lib, Config{})
	require.NoError(t, err)
	m, _, err := comp.Query(single[0])
	require.NoError(t, err)
	require.Nil(t, m, "groups below the minimum size are declined")

	disabled, err := NewComponent(lib, Config{Disabled: true})
	require.NoError(t, err)
	m, _, err = disabled.Query(groups[0])
	require.NoError(t, err)
	require.Nil(t, m)

	noTeam := inproc.New(inproc.Config{FailTeam: func(*coll.Group) error { return errors.New("no fabric") }})
	comp, err = NewComponent(noTeam, Config{})
	require.NoError(t, err)
	m, _, err = comp.Query(groups[0])
	require.NoError(t, err)
	require.Nil(t, m)

	narrow := inproc.New(inproc.Config{Colls: offload.CollAllReduce | offload.CollBcast})
	comp, err = NewComponent(narrow, Config{Operations: []coll.OpKind{coll.AllReduce, coll.Scan}, Priority: 42})
	require.NoError(t, err)
	m, prio, err := comp.Query(groups[0])
	require.NoError(t, err)
	require.Equal(t, 42, prio)
	require.Equal(t, []coll.OpKind{coll.AllReduce}, m.Operations())
	require.NoError(t, m.(*Module).Close())

	_, err = NewComponent(nil, Config{})
	require.ErrorIs(t, err, ErrNilLibrary)
}

func TestEnableRejectsForeignGroup(t *testing.T) {
	f := newOffloadFixture(t, 2)
	require.ErrorIs(t, f.modules[0].Enable(f.groups[1]), ErrGroupMismatch)
	require.ErrorIs(t, f.modules[0].Disable(f.groups[1]), ErrGroupMismatch)
}

func TestClosedModuleFallsBack(t *testing.T) {
	f := newOffloadFixture(t, 2)
	wrappers := make([]coll.Entry, len(f.groups))
	for rank, g := range f.groups {
		e, ok := g.Table().Lookup(coll.Barrier)
		require.True(t, ok)
		require.Same(t, f.modules[rank], e.Owner)
		wrappers[rank] = e
		require.NoError(t, f.modules[rank].Close())
	}
	require.ErrorIs(t, f.modules[0].Enable(f.groups[0]), offload.ErrClosed)

	// Callers still holding a wrapper reach the saved entry.
	f.each(t, func(rank int, g *coll.Group) error {
		e := wrappers[rank]
		return e.Impl.Blocking(context.Background(), g, &coll.Args{}, e.Owner)
	})
	require.EqualValues(t, 2, f.comp.Stats().Fallbacks)
	require.Zero(t, f.lib.Stats().Posted)
}

func TestBlockingWaitHonoursContext(t *testing.T) {
	f := newOffloadFixture(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	recv0 := make([]byte, 4)
	err := f.groups[0].Call(ctx, coll.AllReduce, &coll.Args{SendBuf: int32s(1), RecvBuf: recv0, Count: 1, Type: coll.Int32, Op: coll.Sum})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	recv1 := make([]byte, 4)
	require.NoError(t, f.groups[1].Call(context.Background(), coll.AllReduce, &coll.Args{SendBuf: int32s(2), RecvBuf: recv1, Count: 1, Type: coll.Int32, Op: coll.Sum}))
	require.Equal(t, int32s(3), recv1)
	require.Zero(t, f.lib.Stats().Outstanding())
}

func TestRequestCancelReturnsLibraryStatus(t *testing.T) {
	f := newOffloadFixture(t, 2)
	f.each(t, func(rank int, g *coll.Group) error {
		req, err := g.Start(coll.Barrier, &coll.Args{})
		if err != nil {
			return err
		}
		if !errors.Is(req.Cancel(), offload.StatusNotSupported) {
			return errors.New("cancel must report the library status")
		}
		if err := req.Wait(context.Background()); err != nil {
			return err
		}
		if err := req.Free(); err != nil {
			return err
		}
		if !errors.Is(req.Cancel(), coll.ErrRequestFreed) {
			return errors.New("cancel after free must fail")
		}
		return nil
	})
}

func TestDispatchTelemetry(t *testing.T) {
	logger, logs := newObservedLogger()
	tp, recorder := newTestTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	metrics := newMetricRecorder()
	pair, err := coll.Contiguous(2, coll.Int32)
	require.NoError(t, err)

	f := newFixture(t, fixtureOptions{size: 2, withBase: true, cfg: Config{
		Verbose:          5,
		StructuredLogger: logger,
		Tracer:           &otelTracerAdapter{tracer: tp.Tracer("intercept-test")},
		Metrics:          metrics,
	}})

	f.each(t, func(rank int, g *coll.Group) error {
		recv := make([]byte, 4)
		if err := g.Call(context.Background(), coll.AllReduce, &coll.Args{SendBuf: int32s(1), RecvBuf: recv, Count: 1, Type: coll.Int32, Op: coll.Sum}); err != nil {
			return err
		}
		return g.Call(context.Background(), coll.AllReduce, &coll.Args{SendBuf: int32s(1, 2), RecvBuf: make([]byte, 8), Count: 1, Type: pair, Op: coll.Sum})
	})

	for _, event := range []string{"query", "install", "offload", "fallback", "translate_type"} {
		require.True(t, waitForLogEvent(logs, event, time.Second), "missing log event %s", event)
	}
	require.True(t, spanHasEvent(recorder, "collective-offload.allreduce", "offload"))
	require.True(t, spanHasEvent(recorder, "collective-offload.allreduce", "fallback"))

	snap := metrics.Snapshot()
	require.Equal(t, 2, snap.offloaded)
	require.Equal(t, []string{"unsupported_type", "unsupported_type"}, snap.fallbacks)
	require.Equal(t, 2*int(coll.NumOpKinds), snap.installed)
}

func TestLongDoubleErrorComesFromFallback(t *testing.T) {
	f := newOffloadFixture(t, 2)
	err := f.groups[0].Call(context.Background(), coll.AllReduce, &coll.Args{Count: 1, Type: coll.LongDouble, Op: coll.Sum})
	require.Equal(t, coll.ErrNotSupported, coll.Code(err))
	require.EqualValues(t, 1, f.comp.Stats().Fallbacks)
}
