// Package kernel holds the element-wise reduction kernels and the result
// computation of every collective over a complete set of contributions.
// Buffers are little-endian packed arrays of one element kind.
package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Kind is an element kind the kernels can combine.
type Kind int

const (
	KindInvalid Kind = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	BFloat16
	Float32
	Float64
)

var kindNames = map[Kind]string{
	Int8: "int8", Int16: "int16", Int32: "int32", Int64: "int64",
	Uint8: "uint8", Uint16: "uint16", Uint32: "uint32", Uint64: "uint64",
	Float16: "float16", BFloat16: "bfloat16", Float32: "float32", Float64: "float64",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Size is the width of one element in bytes.
func (k Kind) Size() int {
	switch k {
	case Int8, Uint8:
		return 1
	case Int16, Uint16, Float16, BFloat16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Float reports whether k is a floating-point kind.
func (k Kind) Float() bool {
	return k == Float16 || k == BFloat16 || k == Float32 || k == Float64
}

// Op is a predefined reduction.
type Op int

const (
	OpInvalid Op = iota
	Sum
	Prod
	Max
	Min
	Land
	Lor
	Lxor
	Band
	Bor
	Bxor
)

var opNames = map[Op]string{
	Sum: "sum", Prod: "prod", Max: "max", Min: "min",
	Land: "land", Lor: "lor", Lxor: "lxor",
	Band: "band", Bor: "bor", Bxor: "bxor",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Bitwise reports whether o is only defined on integer kinds.
func (o Op) Bitwise() bool {
	return o == Band || o == Bor || o == Bxor
}

var (
	// ErrUnsupported reports a kind/op pair with no kernel.
	ErrUnsupported = errors.New("kernel: unsupported kind or op")
	// ErrShortBuffer reports a buffer smaller than the described data.
	ErrShortBuffer = errors.New("kernel: buffer too short")
	// ErrMismatch reports contributions that disagree on the call shape.
	ErrMismatch = errors.New("kernel: mismatched contributions")
)

// CombineFunc folds in into acc: acc[i] = acc[i] op in[i]. Both slices hold
// the same number of whole elements.
type CombineFunc func(acc, in []byte) error

// Combiner returns the kernel for op over kind.
func Combiner(kind Kind, op Op) (CombineFunc, error) {
	if kind.Size() == 0 || opNames[op] == "" {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupported, kind, op)
	}
	if kind.Float() && op.Bitwise() {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupported, kind, op)
	}
	size := kind.Size()
	return func(acc, in []byte) error {
		if len(acc) != len(in) || len(acc)%size != 0 {
			return fmt.Errorf("%w: %d and %d bytes of %s", ErrMismatch, len(acc), len(in), kind)
		}
		reduce(kind, op, acc, in)
		return nil
	}, nil
}

func reduce(kind Kind, op Op, acc, in []byte) {
	le := binary.LittleEndian
	switch kind {
	case Int8:
		combineInts(op, acc, in, 1,
			func(b []byte) int8 { return int8(b[0]) },
			func(b []byte, v int8) { b[0] = byte(v) })
	case Uint8:
		combineInts(op, acc, in, 1,
			func(b []byte) uint8 { return b[0] },
			func(b []byte, v uint8) { b[0] = v })
	case Int16:
		combineInts(op, acc, in, 2,
			func(b []byte) int16 { return int16(le.Uint16(b)) },
			func(b []byte, v int16) { le.PutUint16(b, uint16(v)) })
	case Uint16:
		combineInts(op, acc, in, 2, le.Uint16, le.PutUint16)
	case Int32:
		combineInts(op, acc, in, 4,
			func(b []byte) int32 { return int32(le.Uint32(b)) },
			func(b []byte, v int32) { le.PutUint32(b, uint32(v)) })
	case Uint32:
		combineInts(op, acc, in, 4, le.Uint32, le.PutUint32)
	case Int64:
		combineInts(op, acc, in, 8,
			func(b []byte) int64 { return int64(le.Uint64(b)) },
			func(b []byte, v int64) { le.PutUint64(b, uint64(v)) })
	case Uint64:
		combineInts(op, acc, in, 8, le.Uint64, le.PutUint64)
	case Float16:
		combineFloats(op, acc, in, 2,
			func(b []byte) float32 { return float16.Frombits(le.Uint16(b)).Float32() },
			func(b []byte, v float32) { le.PutUint16(b, float16.Fromfloat32(v).Bits()) })
	case BFloat16:
		combineFloats(op, acc, in, 2,
			func(b []byte) float32 { return math.Float32frombits(uint32(le.Uint16(b)) << 16) },
			func(b []byte, v float32) { le.PutUint16(b, uint16(math.Float32bits(v)>>16)) })
	case Float32:
		combineFloats(op, acc, in, 4,
			func(b []byte) float32 { return math.Float32frombits(le.Uint32(b)) },
			func(b []byte, v float32) { le.PutUint32(b, math.Float32bits(v)) })
	case Float64:
		combineFloats(op, acc, in, 8,
			func(b []byte) float64 { return math.Float64frombits(le.Uint64(b)) },
			func(b []byte, v float64) { le.PutUint64(b, math.Float64bits(v)) })
	}
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func combineInts[T integer](op Op, acc, in []byte, size int, load func([]byte) T, store func([]byte, T)) {
	for off := 0; off < len(acc); off += size {
		a, b := load(acc[off:]), load(in[off:])
		var r T
		switch op {
		case Sum:
			r = a + b
		case Prod:
			r = a * b
		case Max:
			r = max(a, b)
		case Min:
			r = min(a, b)
		case Land:
			r = boolTo[T](a != 0 && b != 0)
		case Lor:
			r = boolTo[T](a != 0 || b != 0)
		case Lxor:
			r = boolTo[T]((a != 0) != (b != 0))
		case Band:
			r = a & b
		case Bor:
			r = a | b
		case Bxor:
			r = a ^ b
		}
		store(acc[off:], r)
	}
}

func combineFloats[T float32 | float64](op Op, acc, in []byte, size int, load func([]byte) T, store func([]byte, T)) {
	for off := 0; off < len(acc); off += size {
		a, b := load(acc[off:]), load(in[off:])
		var r T
		switch op {
		case Sum:
			r = a + b
		case Prod:
			r = a * b
		case Max:
			r = max(a, b)
		case Min:
			r = min(a, b)
		case Land:
			r = boolTo[T](a != 0 && b != 0)
		case Lor:
			r = boolTo[T](a != 0 || b != 0)
		case Lxor:
			r = boolTo[T]((a != 0) != (b != 0))
		}
		store(acc[off:], r)
	}
}

func boolTo[T integer | float32 | float64](v bool) T {
	if v {
		return 1
	}
	return 0
}
