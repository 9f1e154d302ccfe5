// Package offload defines the contract between the interception layer and
// a collective offload library: native type tags, the per-call descriptor,
// status codes and the library, team and handle interfaces.
package offload

import (
	"fmt"
	"strings"
)

// Type is a library-native element type tag.
type Type int

// TypeUnsupported marks a host datatype with no native equivalent.
const TypeUnsupported Type = -1

const (
	TypeInt8 Type = iota
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat16
	TypeBFloat16
	TypeFloat32
	TypeFloat64

	numTypes
)

var typeNames = [numTypes]string{
	TypeInt8:     "int8",
	TypeInt16:    "int16",
	TypeInt32:    "int32",
	TypeInt64:    "int64",
	TypeUint8:    "uint8",
	TypeUint16:   "uint16",
	TypeUint32:   "uint32",
	TypeUint64:   "uint64",
	TypeFloat16:  "float16",
	TypeBFloat16: "bfloat16",
	TypeFloat32:  "float32",
	TypeFloat64:  "float64",
}

var typeSizes = [numTypes]int{1, 2, 4, 8, 1, 2, 4, 8, 2, 2, 4, 8}

func (t Type) String() string {
	if t >= 0 && t < numTypes {
		return typeNames[t]
	}
	if t == TypeUnsupported {
		return "unsupported"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Size is the width of one element in bytes, 0 for unknown tags.
func (t Type) Size() int {
	if t >= 0 && t < numTypes {
		return typeSizes[t]
	}
	return 0
}

// AllTypes lists every native type tag.
func AllTypes() []Type {
	out := make([]Type, 0, numTypes)
	for t := Type(0); t < numTypes; t++ {
		out = append(out, t)
	}
	return out
}

// ReduceOp is a library-native reduction tag.
type ReduceOp int

// OpUnsupported marks a host reduction with no native equivalent.
const OpUnsupported ReduceOp = -1

const (
	OpSum ReduceOp = iota
	OpProd
	OpMax
	OpMin
	OpLand
	OpLor
	OpLxor
	OpBand
	OpBor
	OpBxor

	numOps
)

var opNames = [numOps]string{"sum", "prod", "max", "min", "land", "lor", "lxor", "band", "bor", "bxor"}

func (o ReduceOp) String() string {
	if o >= 0 && o < numOps {
		return opNames[o]
	}
	if o == OpUnsupported {
		return "unsupported"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// AllOps lists every native reduction tag.
func AllOps() []ReduceOp {
	out := make([]ReduceOp, 0, numOps)
	for o := ReduceOp(0); o < numOps; o++ {
		out = append(out, o)
	}
	return out
}

// MemoryType tells the library where a buffer lives.
type MemoryType int

const (
	MemoryUnknown MemoryType = iota
	MemoryHost
	MemoryDevice
)

func (m MemoryType) String() string {
	switch m {
	case MemoryHost:
		return "host"
	case MemoryDevice:
		return "device"
	default:
		return "unknown"
	}
}

// CollType is a bit set of collective kinds.
type CollType uint32

const (
	CollReduce CollType = 1 << iota
	CollAllReduce
	CollReduceScatter
	CollScan
	CollExScan
	CollAllToAllV
	CollBcast
	CollBarrier

	// CollAll is every collective kind.
	CollAll = CollReduce | CollAllReduce | CollReduceScatter | CollScan |
		CollExScan | CollAllToAllV | CollBcast | CollBarrier
)

var collNames = []struct {
	bit  CollType
	name string
}{
	{CollReduce, "reduce"},
	{CollAllReduce, "allreduce"},
	{CollReduceScatter, "reduce_scatter"},
	{CollScan, "scan"},
	{CollExScan, "exscan"},
	{CollAllToAllV, "alltoallv"},
	{CollBcast, "bcast"},
	{CollBarrier, "barrier"},
}

func (c CollType) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range collNames {
		if c&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if rest := c &^ CollAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Fields marks which optional descriptor fields are set.
type Fields uint64

const (
	FieldFlags Fields = 1 << iota
)

// Flags modify a collective.
type Flags uint64

const (
	// FlagInPlace reads the input from the destination buffer.
	FlagInPlace Flags = 1 << iota
	// FlagOptimizeOverlapCPU hints that the caller overlaps the collective
	// with computation, so the library may defer algorithm selection.
	FlagOptimizeOverlapCPU
)

// BufferInfo describes a contiguous buffer of Count elements.
type BufferInfo struct {
	Buffer  []byte
	Count   int
	Type    Type
	MemType MemoryType
}

// BufferInfoV describes a buffer split into per-rank blocks. Counts and
// Displacements are in elements.
type BufferInfoV struct {
	Buffer        []byte
	Counts        []int
	Displacements []int
	Type          Type
	MemType       MemoryType
}

// CollArgs is the descriptor of one collective call. Variable-size
// collectives use SrcV and DstV; all others use Src and Dst. Bcast reads
// and writes Src.
type CollArgs struct {
	Mask  Fields
	Flags Flags
	Coll  CollType
	Src   BufferInfo
	Dst   BufferInfo
	SrcV  BufferInfoV
	DstV  BufferInfoV
	Op    ReduceOp
	Root  int
}

// HasFlag reports whether the flags field is set and carries f.
func (a *CollArgs) HasFlag(f Flags) bool {
	return a != nil && a.Mask&FieldFlags != 0 && a.Flags&f != 0
}

// InPlace reports whether the call reads its input from the destination.
func (a *CollArgs) InPlace() bool {
	return a.HasFlag(FlagInPlace)
}

// Variable reports whether the descriptor uses the V buffer fields.
func (a *CollArgs) Variable() bool {
	return a != nil && a.Coll == CollAllToAllV
}

// Reduces reports whether Op is read for this collective.
func (a *CollArgs) Reduces() bool {
	if a == nil {
		return false
	}
	return a.Coll&(CollReduce|CollAllReduce|CollReduceScatter|CollScan|CollExScan) != 0
}

// Types returns the element types the descriptor refers to.
func (a *CollArgs) Types() []Type {
	switch {
	case a == nil:
		return nil
	case a.Coll == CollBarrier:
		return nil
	case a.Variable():
		return []Type{a.SrcV.Type, a.DstV.Type}
	case a.Coll == CollBcast:
		return []Type{a.Src.Type}
	default:
		return []Type{a.Src.Type, a.Dst.Type}
	}
}
