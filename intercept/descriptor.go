package intercept

import (
	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/offload"
)

// opSpec describes how one kind maps onto a descriptor.
type opSpec struct {
	coll     offload.CollType
	buffers  bool
	reduces  bool
	variable bool
	rooted   bool
	// scatter marks a send buffer holding one block per rank.
	scatter bool
}

var opSpecs = [coll.NumOpKinds]opSpec{
	coll.Reduce:             {coll: offload.CollReduce, buffers: true, reduces: true, rooted: true},
	coll.AllReduce:          {coll: offload.CollAllReduce, buffers: true, reduces: true},
	coll.ReduceScatterBlock: {coll: offload.CollReduceScatter, buffers: true, reduces: true, scatter: true},
	coll.Scan:               {coll: offload.CollScan, buffers: true, reduces: true},
	coll.ExScan:             {coll: offload.CollExScan, buffers: true, reduces: true},
	coll.AllToAllV:          {coll: offload.CollAllToAllV, buffers: true, variable: true},
	coll.Bcast:              {coll: offload.CollBcast, buffers: true, rooted: true},
	coll.Barrier:            {coll: offload.CollBarrier},
}

type fallbackReason string

const (
	reasonInvalidArgs     fallbackReason = "invalid_arguments"
	reasonUnsupportedType fallbackReason = "unsupported_type"
	reasonUnsupportedOp   fallbackReason = "unsupported_op"
	reasonSubmission      fallbackReason = "submission_failed"
)

// outcome is the dispatch decision for one call: offload, or fall back for
// reason.
type outcome struct {
	fallback bool
	reason   fallbackReason
	err      error
}

func offloadable() outcome { return outcome{} }

func fallBack(reason fallbackReason, err error) outcome {
	return outcome{fallback: true, reason: reason, err: err}
}

// describe builds the descriptor for one call. It never fails: anything the
// library cannot express becomes a fallback outcome.
func (m *Module) describe(kind coll.OpKind, args *coll.Args, blocking bool) (offload.CollArgs, outcome) {
	spec := opSpecs[kind]
	desc := offload.CollArgs{Coll: spec.coll}
	if args == nil {
		return desc, fallBack(reasonInvalidArgs, nil)
	}
	inPlace := args.InPlace()

	if spec.buffers {
		send, recv := args.Types()
		if inPlace && send == nil {
			send = recv
		}
		st := translateType(m.caps, send)
		rt := translateType(m.caps, recv)
		if st == offload.TypeUnsupported || rt == offload.TypeUnsupported {
			m.comp.logVerbose(5, "translate_type",
				logKV(labelOperation, kind), logKV("send_type", send), logKV("recv_type", recv))
			return desc, fallBack(reasonUnsupportedType, nil)
		}
		mem := translateMemory(args.MemType)
		var sendBuf []byte
		if !inPlace {
			sendBuf = args.SendBuf
		}
		switch {
		case spec.variable:
			desc.SrcV = offload.BufferInfoV{Buffer: sendBuf, Counts: args.SendCounts, Displacements: args.SendDispls, Type: st, MemType: mem}
			desc.DstV = offload.BufferInfoV{Buffer: args.RecvBuf, Counts: args.RecvCounts, Displacements: args.RecvDispls, Type: rt, MemType: mem}
		case kind == coll.Bcast:
			desc.Src = offload.BufferInfo{Buffer: args.RecvBuf, Count: args.Count, Type: rt, MemType: mem}
		default:
			sendCount := args.Count
			if spec.scatter {
				sendCount *= m.size
			}
			desc.Src = offload.BufferInfo{Buffer: sendBuf, Count: sendCount, Type: st, MemType: mem}
			desc.Dst = offload.BufferInfo{Buffer: args.RecvBuf, Count: args.Count, Type: rt, MemType: mem}
		}
	}

	if spec.reduces {
		op := translateOp(m.caps, args.Op)
		if op == offload.OpUnsupported {
			m.comp.logVerbose(5, "translate_op", logKV(labelOperation, kind), logKV("op", args.Op))
			return desc, fallBack(reasonUnsupportedOp, nil)
		}
		desc.Op = op
	}
	if spec.rooted {
		desc.Root = args.Root
	}
	if inPlace {
		desc.Mask |= offload.FieldFlags
		desc.Flags |= offload.FlagInPlace
	}
	if !blocking {
		desc.Mask |= offload.FieldFlags
		desc.Flags |= offload.FlagOptimizeOverlapCPU
	}
	return desc, offloadable()
}
