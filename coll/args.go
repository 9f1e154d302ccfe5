package coll

import "unsafe"

var inPlaceMarker [1]byte

// InPlace is passed as Args.SendBuf to request that the operation read its
// input from, and write its result to, Args.RecvBuf.
var InPlace = inPlaceMarker[0:0:0]

// IsInPlace reports whether buf is the InPlace marker.
func IsInPlace(buf []byte) bool {
	return cap(buf) == 0 && unsafe.SliceData(buf) == &inPlaceMarker[0]
}

// Args holds the arguments of one collective call. Which fields are read
// depends on the operation:
//
//   - Reduce, AllReduce, Scan, ExScan: SendBuf, RecvBuf, Count, Type, Op
//     (Reduce also Root; RecvBuf only matters at the root).
//   - ReduceScatterBlock: SendBuf holds Size()*Count elements, RecvBuf Count.
//   - AllToAllV: SendBuf, SendCounts, SendDispls, Type and RecvBuf,
//     RecvCounts, RecvDispls, RecvType (RecvType defaults to Type).
//   - Bcast: RecvBuf, Count, Type, Root. The root's RecvBuf is the source.
//   - Barrier: nothing.
//
// Counts and displacements are in elements of the respective datatype.
type Args struct {
	SendBuf []byte
	RecvBuf []byte
	Count   int

	SendCounts []int
	SendDispls []int
	RecvCounts []int
	RecvDispls []int

	Type     *Datatype
	RecvType *Datatype
	Op       *ReduceOp
	Root     int

	MemType MemoryType
}

// Types returns the send and receive datatypes of the call.
func (a *Args) Types() (send, recv *Datatype) {
	if a == nil {
		return nil, nil
	}
	recv = a.RecvType
	if recv == nil {
		recv = a.Type
	}
	return a.Type, recv
}

// InPlace reports whether the call uses the InPlace marker as its send buffer.
func (a *Args) InPlace() bool {
	return a != nil && IsInPlace(a.SendBuf)
}
