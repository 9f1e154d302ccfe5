package intercept

import (
	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/offload"
)

var nativeTypes = map[coll.DatatypeID]offload.Type{
	coll.IDByte:     offload.TypeUint8,
	coll.IDInt8:     offload.TypeInt8,
	coll.IDInt16:    offload.TypeInt16,
	coll.IDInt32:    offload.TypeInt32,
	coll.IDInt64:    offload.TypeInt64,
	coll.IDUint8:    offload.TypeUint8,
	coll.IDUint16:   offload.TypeUint16,
	coll.IDUint32:   offload.TypeUint32,
	coll.IDUint64:   offload.TypeUint64,
	coll.IDFloat16:  offload.TypeFloat16,
	coll.IDBFloat16: offload.TypeBFloat16,
	coll.IDFloat32:  offload.TypeFloat32,
	coll.IDFloat64:  offload.TypeFloat64,
}

var nativeOps = map[coll.ReduceOpID]offload.ReduceOp{
	coll.OpIDSum:  offload.OpSum,
	coll.OpIDProd: offload.OpProd,
	coll.OpIDMax:  offload.OpMax,
	coll.OpIDMin:  offload.OpMin,
	coll.OpIDLand: offload.OpLand,
	coll.OpIDLor:  offload.OpLor,
	coll.OpIDLxor: offload.OpLxor,
	coll.OpIDBand: offload.OpBand,
	coll.OpIDBor:  offload.OpBor,
	coll.OpIDBxor: offload.OpBxor,
}

// translateType maps a predefined host datatype onto the library's tag.
// Derived types, types without a native tag and types the library does not
// advertise are unsupported.
func translateType(caps offload.Capabilities, dt *coll.Datatype) offload.Type {
	if dt == nil || !dt.Predefined() {
		return offload.TypeUnsupported
	}
	t, ok := nativeTypes[dt.ID()]
	if !ok || !caps.SupportsType(t) {
		return offload.TypeUnsupported
	}
	return t
}

// translateOp maps a predefined host reduction onto the library's tag.
func translateOp(caps offload.Capabilities, op *coll.ReduceOp) offload.ReduceOp {
	if op == nil || !op.Predefined() {
		return offload.OpUnsupported
	}
	o, ok := nativeOps[op.ID()]
	if !ok || !caps.SupportsOp(o) {
		return offload.OpUnsupported
	}
	return o
}

func translateMemory(m coll.MemoryType) offload.MemoryType {
	switch m {
	case coll.MemoryHost:
		return offload.MemoryHost
	case coll.MemoryDevice:
		return offload.MemoryDevice
	default:
		return offload.MemoryUnknown
	}
}
