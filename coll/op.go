package coll

import "fmt"

// ReduceOpID identifies a predefined reduction operator.
type ReduceOpID int

const (
	OpIDUser ReduceOpID = iota
	OpIDSum
	OpIDProd
	OpIDMax
	OpIDMin
	OpIDLand
	OpIDLor
	OpIDLxor
	OpIDBand
	OpIDBor
	OpIDBxor
)

// UserFunc combines in into acc element-wise: acc[i] = acc[i] op in[i].
// Both slices hold the same number of elements of dt.
type UserFunc func(acc, in []byte, dt *Datatype) error

// ReduceOp is a reduction operator applied by Reduce, AllReduce,
// ReduceScatterBlock, Scan and ExScan.
type ReduceOp struct {
	id      ReduceOpID
	name    string
	commute bool
	fn      UserFunc
}

// Predefined reduction operators.
var (
	Sum  = &ReduceOp{id: OpIDSum, name: "sum", commute: true}
	Prod = &ReduceOp{id: OpIDProd, name: "prod", commute: true}
	Max  = &ReduceOp{id: OpIDMax, name: "max", commute: true}
	Min  = &ReduceOp{id: OpIDMin, name: "min", commute: true}
	Land = &ReduceOp{id: OpIDLand, name: "land", commute: true}
	Lor  = &ReduceOp{id: OpIDLor, name: "lor", commute: true}
	Lxor = &ReduceOp{id: OpIDLxor, name: "lxor", commute: true}
	Band = &ReduceOp{id: OpIDBand, name: "band", commute: true}
	Bor  = &ReduceOp{id: OpIDBor, name: "bor", commute: true}
	Bxor = &ReduceOp{id: OpIDBxor, name: "bxor", commute: true}
)

var predefinedOps = []*ReduceOp{Sum, Prod, Max, Min, Land, Lor, Lxor, Band, Bor, Bxor}

// NewUserOp creates a user-defined reduction operator.
func NewUserOp(name string, commute bool, fn UserFunc) (*ReduceOp, error) {
	if fn == nil {
		return nil, fmt.Errorf("coll: user op %q requires a function", name)
	}
	return &ReduceOp{id: OpIDUser, name: name, commute: commute, fn: fn}, nil
}

// LookupReduceOp returns the predefined operator with the given name.
func LookupReduceOp(name string) (*ReduceOp, bool) {
	for _, op := range predefinedOps {
		if op.name == name {
			return op, true
		}
	}
	return nil, false
}

func (o *ReduceOp) ID() ReduceOpID {
	if o == nil {
		return OpIDUser
	}
	return o.id
}

func (o *ReduceOp) Name() string {
	if o == nil {
		return "<nil>"
	}
	return o.name
}

func (o *ReduceOp) String() string {
	return o.Name()
}

// Predefined reports whether the operator is built into the runtime.
func (o *ReduceOp) Predefined() bool {
	return o != nil && o.id != OpIDUser
}

// Commutative reports whether operand order may be changed.
func (o *ReduceOp) Commutative() bool {
	return o != nil && o.commute
}

// Func returns the user function, nil for predefined operators.
func (o *ReduceOp) Func() UserFunc {
	if o == nil {
		return nil
	}
	return o.fn
}
