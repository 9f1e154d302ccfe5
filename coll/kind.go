package coll

import (
	"fmt"
	"strings"
)

// OpKind identifies a collective operation slot in a group's operation table.
type OpKind int

const (
	Reduce OpKind = iota
	AllReduce
	ReduceScatterBlock
	Scan
	ExScan
	AllToAllV
	Bcast
	Barrier

	// NumOpKinds is the number of operation slots in a Table.
	NumOpKinds
)

var opKindNames = [NumOpKinds]string{
	Reduce:             "reduce",
	AllReduce:          "allreduce",
	ReduceScatterBlock: "reduce_scatter_block",
	Scan:               "scan",
	ExScan:             "exscan",
	AllToAllV:          "alltoallv",
	Bcast:              "bcast",
	Barrier:            "barrier",
}

func (k OpKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("opkind(%d)", int(k))
	}
	return opKindNames[k]
}

// Valid reports whether k names a known operation slot.
func (k OpKind) Valid() bool {
	return k >= 0 && k < NumOpKinds
}

// DefinedOn reports whether the operation is defined for groups of the given
// shape. Scan and ExScan have no meaning across a two-party group.
func (k OpKind) DefinedOn(shape Shape) bool {
	if shape == ShapePair {
		return k != Scan && k != ExScan
	}
	return k.Valid()
}

// AllOpKinds returns every operation kind in table order.
func AllOpKinds() []OpKind {
	kinds := make([]OpKind, 0, NumOpKinds)
	for k := OpKind(0); k < NumOpKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// ParseOpKind resolves an operation name such as "allreduce". Matching is
// case-insensitive and ignores a leading "i" used for non-blocking names.
func ParseOpKind(name string) (OpKind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k, v := range opKindNames {
		if n == v {
			return OpKind(k), nil
		}
	}
	if strings.HasPrefix(n, "i") {
		for k, v := range opKindNames {
			if n[1:] == v {
				return OpKind(k), nil
			}
		}
	}
	return 0, fmt.Errorf("coll: unknown operation %q", name)
}
