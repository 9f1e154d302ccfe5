package basic

import (
	"errors"
	"fmt"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/internal/kernel"
)

var kernelKinds = map[coll.DatatypeID]kernel.Kind{
	coll.IDByte:     kernel.Uint8,
	coll.IDInt8:     kernel.Int8,
	coll.IDInt16:    kernel.Int16,
	coll.IDInt32:    kernel.Int32,
	coll.IDInt64:    kernel.Int64,
	coll.IDUint8:    kernel.Uint8,
	coll.IDUint16:   kernel.Uint16,
	coll.IDUint32:   kernel.Uint32,
	coll.IDUint64:   kernel.Uint64,
	coll.IDFloat16:  kernel.Float16,
	coll.IDBFloat16: kernel.BFloat16,
	coll.IDFloat32:  kernel.Float32,
	coll.IDFloat64:  kernel.Float64,
}

var kernelOps = map[coll.ReduceOpID]kernel.Op{
	coll.OpIDSum:  kernel.Sum,
	coll.OpIDProd: kernel.Prod,
	coll.OpIDMax:  kernel.Max,
	coll.OpIDMin:  kernel.Min,
	coll.OpIDLand: kernel.Land,
	coll.OpIDLor:  kernel.Lor,
	coll.OpIDLxor: kernel.Lxor,
	coll.OpIDBand: kernel.Band,
	coll.OpIDBor:  kernel.Bor,
	coll.OpIDBxor: kernel.Bxor,
}

var kernelColls = [coll.NumOpKinds]kernel.Coll{
	coll.Reduce:             kernel.CollReduce,
	coll.AllReduce:          kernel.CollAllReduce,
	coll.ReduceScatterBlock: kernel.CollReduceScatterBlock,
	coll.Scan:               kernel.CollScan,
	coll.ExScan:             kernel.CollExScan,
	coll.AllToAllV:          kernel.CollAllToAllV,
	coll.Bcast:              kernel.CollBcast,
	coll.Barrier:            kernel.CollBarrier,
}

// share is one rank's contribution to a round.
type share struct {
	job  kernel.Job
	part kernel.Part
}

func invalid(kind coll.OpKind, format string, args ...any) error {
	return &coll.OpError{Kind: kind, Code: coll.ErrInvalidArgument, Err: fmt.Errorf(format, args...)}
}

func unsupported(kind coll.OpKind, format string, args ...any) error {
	return &coll.OpError{Kind: kind, Code: coll.ErrNotSupported, Err: fmt.Errorf(format, args...)}
}

// shareOf resolves a call into kernel terms, rejecting what no kernel can run.
func shareOf(kind coll.OpKind, args *coll.Args) (share, error) {
	if args == nil {
		return share{}, invalid(kind, "nil arguments")
	}
	job := kernel.Job{Coll: kernelColls[kind], Root: args.Root}
	part := kernel.Part{InPlace: args.InPlace()}
	if !part.InPlace {
		part.Send = args.SendBuf
	}
	part.Recv = args.RecvBuf

	if kind == coll.Barrier {
		return share{job: job, part: part}, nil
	}
	send, recv := args.Types()
	if part.InPlace && send == nil {
		send = recv
	}
	if send == nil || recv == nil {
		return share{}, invalid(kind, "missing datatype")
	}

	switch kind {
	case coll.AllToAllV:
		job.ElemSize, job.RecvElemSize = send.Size(), recv.Size()
		if part.InPlace {
			job.ElemSize = recv.Size()
		} else {
			part.SendCounts, part.SendDispls = args.SendCounts, args.SendDispls
		}
		part.RecvCounts, part.RecvDispls = args.RecvCounts, args.RecvDispls
		return share{job: job, part: part}, nil
	case coll.Bcast:
		job.Count, job.ElemSize = args.Count, recv.Size()
		return share{job: job, part: part}, nil
	}

	if args.Op == nil {
		return share{}, invalid(kind, "missing reduction operator")
	}
	if fn := args.Op.Func(); fn != nil {
		dt := recv
		job.Count, job.ElemSize = args.Count, dt.Size()
		job.Combine = func(acc, in []byte) error { return fn(acc, in, dt) }
		return share{job: job, part: part}, nil
	}

	elem, n := recv.Elementary()
	kk, ok := kernelKinds[elem.ID()]
	if !ok {
		return share{}, unsupported(kind, "no %s kernel for %s", args.Op, recv)
	}
	combine, err := kernel.Combiner(kk, kernelOps[args.Op.ID()])
	if err != nil {
		return share{}, unsupported(kind, "%s over %s: %v", args.Op, recv, err)
	}
	job.Count, job.ElemSize, job.Combine = args.Count*n, elem.Size(), combine
	return share{job: job, part: part}, nil
}

// run executes a round over every rank's share.
func run(contribs []any) error {
	parts := make([]kernel.Part, len(contribs))
	var job kernel.Job
	for rank, c := range contribs {
		s := c.(share)
		if rank == 0 {
			job = s.job
		} else if s.job.Coll != job.Coll || s.job.Count != job.Count || s.job.Root != job.Root {
			return fmt.Errorf("%w: rank %d disagrees on %s", kernel.ErrMismatch, rank, job.Coll)
		}
		parts[rank] = s.part
	}
	return kernel.Execute(job, parts)
}

// hostError maps a round failure onto the host error convention.
func hostError(kind coll.OpKind, err error) error {
	if err == nil {
		return nil
	}
	code := coll.ErrCollective
	switch {
	case errors.Is(err, kernel.ErrShortBuffer):
		code = coll.ErrTruncate
	case errors.Is(err, kernel.ErrMismatch):
		code = coll.ErrInvalidArgument
	case errors.Is(err, kernel.ErrUnsupported):
		code = coll.ErrNotSupported
	}
	return &coll.OpError{Kind: kind, Code: code, Err: err}
}
