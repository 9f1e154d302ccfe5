package inproc

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rocketbitz/colloffload-go/internal/kernel"
	"github.com/rocketbitz/colloffload-go/internal/rendezvous"
	"github.com/rocketbitz/colloffload-go/offload"
)

var kernelKinds = map[offload.Type]kernel.Kind{
	offload.TypeInt8:     kernel.Int8,
	offload.TypeInt16:    kernel.Int16,
	offload.TypeInt32:    kernel.Int32,
	offload.TypeInt64:    kernel.Int64,
	offload.TypeUint8:    kernel.Uint8,
	offload.TypeUint16:   kernel.Uint16,
	offload.TypeUint32:   kernel.Uint32,
	offload.TypeUint64:   kernel.Uint64,
	offload.TypeFloat16:  kernel.Float16,
	offload.TypeBFloat16: kernel.BFloat16,
	offload.TypeFloat32:  kernel.Float32,
	offload.TypeFloat64:  kernel.Float64,
}

var kernelOps = map[offload.ReduceOp]kernel.Op{
	offload.OpSum:  kernel.Sum,
	offload.OpProd: kernel.Prod,
	offload.OpMax:  kernel.Max,
	offload.OpMin:  kernel.Min,
	offload.OpLand: kernel.Land,
	offload.OpLor:  kernel.Lor,
	offload.OpLxor: kernel.Lxor,
	offload.OpBand: kernel.Band,
	offload.OpBor:  kernel.Bor,
	offload.OpBxor: kernel.Bxor,
}

var kernelColls = map[offload.CollType]kernel.Coll{
	offload.CollReduce:        kernel.CollReduce,
	offload.CollAllReduce:     kernel.CollAllReduce,
	offload.CollReduceScatter: kernel.CollReduceScatterBlock,
	offload.CollScan:          kernel.CollScan,
	offload.CollExScan:        kernel.CollExScan,
	offload.CollAllToAllV:     kernel.CollAllToAllV,
	offload.CollBcast:         kernel.CollBcast,
	offload.CollBarrier:       kernel.CollBarrier,
}

func combiner(t offload.Type, op offload.ReduceOp) (kernel.CombineFunc, error) {
	kind, ok := kernelKinds[t]
	if !ok {
		return nil, fmt.Errorf("%w: type %s", kernel.ErrUnsupported, t)
	}
	kop, ok := kernelOps[op]
	if !ok {
		return nil, fmt.Errorf("%w: op %s", kernel.ErrUnsupported, op)
	}
	return kernel.Combiner(kind, kop)
}

// partition is one rank's share of a round, already resolved to kernel terms.
type partition struct {
	job  kernel.Job
	part kernel.Part
}

func partitionOf(args *offload.CollArgs) partition {
	job := kernel.Job{Coll: kernelColls[args.Coll], Root: args.Root}
	part := kernel.Part{InPlace: args.InPlace()}
	switch {
	case args.Coll == offload.CollBarrier:
	case args.Variable():
		job.ElemSize = args.SrcV.Type.Size()
		job.RecvElemSize = args.DstV.Type.Size()
		if part.InPlace {
			job.ElemSize = job.RecvElemSize
		}
		part.Send, part.SendCounts, part.SendDispls = args.SrcV.Buffer, args.SrcV.Counts, args.SrcV.Displacements
		part.Recv, part.RecvCounts, part.RecvDispls = args.DstV.Buffer, args.DstV.Counts, args.DstV.Displacements
	case args.Coll == offload.CollBcast:
		job.Count = args.Src.Count
		job.ElemSize = args.Src.Type.Size()
		part.Recv = args.Src.Buffer
	default:
		job.Count = args.Dst.Count
		job.ElemSize = args.Dst.Type.Size()
		part.Send, part.Recv = args.Src.Buffer, args.Dst.Buffer
		job.Combine, _ = combiner(args.Dst.Type, args.Op)
	}
	return partition{job: job, part: part}
}

// compute runs on the last rank to join a round.
func compute(contribs []any) error {
	parts := make([]kernel.Part, len(contribs))
	var job kernel.Job
	for rank, c := range contribs {
		p := c.(contribution).part
		if rank == 0 {
			job = p.job
		} else if p.job.Coll != job.Coll || p.job.Count != job.Count || p.job.Root != job.Root {
			return fmt.Errorf("%w: rank %d disagrees on %s", kernel.ErrMismatch, rank, job.Coll)
		}
		parts[rank] = p.part
	}
	return kernel.Execute(job, parts)
}

type handle struct {
	lib      *Library
	coll     offload.CollType
	ticket   *rendezvous.Ticket
	injected error
	released atomic.Bool
}

var _ offload.Handle = (*handle)(nil)

func (h *handle) result() error {
	if err := h.ticket.Err(); err != nil {
		return fmt.Errorf("inproc %s: %w: %w", h.coll, offload.StatusErrGeneric, err)
	}
	return h.injected
}

func (h *handle) Test() (bool, error) {
	if h.released.Load() {
		return false, offload.StatusInvalidParam.WithOp("inproc test")
	}
	if !h.ticket.Ready() {
		return false, nil
	}
	return true, h.result()
}

func (h *handle) Wait(ctx context.Context) error {
	if h.released.Load() {
		return offload.StatusInvalidParam.WithOp("inproc wait")
	}
	if err := h.ticket.Wait(ctx); err != nil && !h.ticket.Ready() {
		return err
	}
	return h.result()
}

// Cancel always fails: a posted collective cannot be withdrawn once peers
// may have joined it.
func (h *handle) Cancel() error {
	if h.released.Load() {
		return offload.StatusInvalidParam.WithOp("inproc cancel")
	}
	return offload.StatusNotSupported.WithOp("inproc cancel")
}

// Release may be called before completion; the round still completes for
// the other ranks.
func (h *handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return offload.StatusInvalidParam.WithOp("inproc release")
	}
	h.lib.released.Add(1)
	return nil
}
