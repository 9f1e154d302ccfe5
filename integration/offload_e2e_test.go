//go:build integration

package integration

import (
	"context"
	"encoding/binary"
	"math/rand"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/coll/basic"
	"github.com/rocketbitz/colloffload-go/intercept"
	"github.com/rocketbitz/colloffload-go/offload/inproc"
)

// TestOffloadMatchesBaseline runs the same randomized calls on a world served
// by the baseline component alone and on one with the offload component on
// top, and requires identical receive buffers.
func (s *OffloadSuite) TestOffloadMatchesBaseline() {
	t := s.T()
	ranks, iterations, kinds := s.cfg.ranks, s.cfg.iterations, s.cfg.kinds

	lib := inproc.New(inproc.Config{})
	t.Cleanup(func() { _ = lib.Close() })
	comp, err := intercept.NewComponent(lib, intercept.Config{})
	require.NoError(t, err)

	baseline := s.attachWorld("baseline", ranks, basic.New())
	offloaded := s.attachWorld("offloaded", ranks, basic.New(), comp)

	rng := rand.New(rand.NewSource(s.cfg.seed))
	for i := 0; i < iterations; i++ {
		for _, kind := range kinds {
			count := 1 + rng.Intn(16)
			root := rng.Intn(ranks)
			inputs := make([][]byte, ranks)
			for rank := range inputs {
				inputs[rank] = randomInt32s(rng, sendElems(kind, ranks, count))
			}
			nonblocking := rng.Intn(2) == 0

			want := s.runAll(baseline, kind, nonblocking, inputs, count, root)
			got := s.runAll(offloaded, kind, nonblocking, inputs, count, root)
			for rank := range want {
				require.Equalf(t, want[rank], got[rank], "%s rank %d iteration %d", kind, rank, i)
			}
		}
	}

	stats := comp.Stats()
	require.Zero(t, stats.Fallbacks)
	require.Equal(t, uint64(ranks*iterations*len(kinds)), stats.Offloaded)
	require.Zero(t, lib.Stats().Outstanding())
}

func (s *OffloadSuite) attachWorld(name string, ranks int, components ...coll.Component) []*coll.Group {
	t := s.T()
	groups, err := coll.NewWorld(coll.WorldConfig{}).NewGroup(name, ranks)
	require.NoError(t, err)
	fw := &coll.Framework{Components: components}
	for _, g := range groups {
		att, err := fw.Attach(g)
		require.NoError(t, err)
		t.Cleanup(func() { _ = att.Detach() })
	}
	return groups
}

func (s *OffloadSuite) runAll(groups []*coll.Group, kind coll.OpKind, nonblocking bool, inputs [][]byte, count, root int) [][]byte {
	ranks := len(groups)
	out := make([][]byte, ranks)
	var eg errgroup.Group
	for rank, g := range groups {
		args := buildArgs(kind, rank, ranks, count, root, inputs[rank])
		out[rank] = args.RecvBuf
		eg.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.timeout)
			defer cancel()
			if !nonblocking {
				return g.Call(ctx, kind, args)
			}
			req, err := g.Start(kind, args)
			if err != nil {
				return err
			}
			if err := req.Wait(ctx); err != nil {
				_ = req.Free()
				return err
			}
			return req.Free()
		})
	}
	require.NoError(s.T(), eg.Wait())
	return out
}

func sendElems(kind coll.OpKind, ranks, count int) int {
	switch kind {
	case coll.ReduceScatterBlock, coll.AllToAllV:
		return ranks * count
	case coll.Barrier:
		return 0
	default:
		return count
	}
}

func buildArgs(kind coll.OpKind, rank, ranks, count, root int, input []byte) *coll.Args {
	args := &coll.Args{Count: count, Type: coll.Int32, Op: coll.Sum, Root: root}
	switch kind {
	case coll.Barrier:
		return &coll.Args{}
	case coll.Bcast:
		args.RecvBuf = make([]byte, 4*count)
		if rank == root {
			copy(args.RecvBuf, input)
		}
	case coll.ReduceScatterBlock:
		args.SendBuf = input
		args.RecvBuf = make([]byte, 4*count)
	case coll.AllToAllV:
		args.SendBuf = input
		args.RecvBuf = make([]byte, len(input))
		args.SendCounts = make([]int, ranks)
		args.SendDispls = make([]int, ranks)
		for peer := range args.SendCounts {
			args.SendCounts[peer] = count
			args.SendDispls[peer] = peer * count
		}
		args.RecvCounts = append([]int(nil), args.SendCounts...)
		args.RecvDispls = append([]int(nil), args.SendDispls...)
	default:
		args.SendBuf = input
		args.RecvBuf = make([]byte, 4*count)
	}
	return args
}

func randomInt32s(rng *rand.Rand, n int) []byte {
	buf := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(rng.Int31n(1000)-500))
	}
	return buf
}
