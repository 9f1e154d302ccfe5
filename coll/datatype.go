package coll

import (
	"fmt"
	"sync/atomic"
)

// DatatypeID is the runtime identity of a datatype. Predefined types have
// stable identifiers; derived types receive fresh ones.
type DatatypeID int32

const (
	IDByte DatatypeID = iota + 1
	IDInt8
	IDInt16
	IDInt32
	IDInt64
	IDUint8
	IDUint16
	IDUint32
	IDUint64
	IDFloat16
	IDBFloat16
	IDFloat32
	IDFloat64
	IDLongDouble

	firstDerivedID DatatypeID = 1000
)

var nextDerivedID atomic.Int32

func init() {
	nextDerivedID.Store(int32(firstDerivedID))
}

// Datatype describes the layout of one element of a collective buffer.
type Datatype struct {
	id    DatatypeID
	name  string
	size  int
	base  *Datatype
	count int
}

// Predefined datatypes.
var (
	Byte       = predefined(IDByte, "byte", 1)
	Int8       = predefined(IDInt8, "int8", 1)
	Int16      = predefined(IDInt16, "int16", 2)
	Int32      = predefined(IDInt32, "int32", 4)
	Int64      = predefined(IDInt64, "int64", 8)
	Uint8      = predefined(IDUint8, "uint8", 1)
	Uint16     = predefined(IDUint16, "uint16", 2)
	Uint32     = predefined(IDUint32, "uint32", 4)
	Uint64     = predefined(IDUint64, "uint64", 8)
	Float16    = predefined(IDFloat16, "float16", 2)
	BFloat16   = predefined(IDBFloat16, "bfloat16", 2)
	Float32    = predefined(IDFloat32, "float32", 4)
	Float64    = predefined(IDFloat64, "float64", 8)
	LongDouble = predefined(IDLongDouble, "long_double", 16)
)

var predefinedTypes = []*Datatype{
	Byte, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64,
	Float16, BFloat16, Float32, Float64, LongDouble,
}

func predefined(id DatatypeID, name string, size int) *Datatype {
	return &Datatype{id: id, name: name, size: size, count: 1}
}

// Contiguous derives a datatype made of count consecutive elements of base.
func Contiguous(count int, base *Datatype) (*Datatype, error) {
	if base == nil {
		return nil, fmt.Errorf("coll: contiguous datatype requires a base type")
	}
	if count <= 0 {
		return nil, fmt.Errorf("coll: contiguous datatype requires positive count, got %d", count)
	}
	elem, n := base.Elementary()
	return &Datatype{
		id:    DatatypeID(nextDerivedID.Add(1)),
		name:  fmt.Sprintf("contiguous(%d,%s)", count, base.name),
		size:  base.size * count,
		base:  elem,
		count: n * count,
	}, nil
}

// LookupDatatype returns the predefined datatype with the given name.
func LookupDatatype(name string) (*Datatype, bool) {
	for _, dt := range predefinedTypes {
		if dt.name == name {
			return dt, true
		}
	}
	return nil, false
}

func (d *Datatype) ID() DatatypeID {
	if d == nil {
		return 0
	}
	return d.id
}

func (d *Datatype) Name() string {
	if d == nil {
		return "<nil>"
	}
	return d.name
}

func (d *Datatype) String() string {
	return d.Name()
}

// Size is the extent of one element in bytes.
func (d *Datatype) Size() int {
	if d == nil {
		return 0
	}
	return d.size
}

// Predefined reports whether d is one of the runtime's built-in types.
func (d *Datatype) Predefined() bool {
	return d != nil && d.base == nil
}

// Elementary returns the predefined type d is built from and how many of
// those make up one element of d.
func (d *Datatype) Elementary() (*Datatype, int) {
	if d == nil {
		return nil, 0
	}
	if d.base == nil {
		return d, 1
	}
	return d.base, d.count
}

// MemoryType tags where a buffer lives. It is only a hint forwarded to
// offload libraries.
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
