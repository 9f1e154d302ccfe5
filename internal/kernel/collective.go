package kernel

import "fmt"

// Coll names the collective computed by Execute.
type Coll int

const (
	CollReduce Coll = iota
	CollAllReduce
	CollReduceScatterBlock
	CollScan
	CollExScan
	CollAllToAllV
	CollBcast
	CollBarrier
)

var collNames = map[Coll]string{
	CollReduce:             "reduce",
	CollAllReduce:          "allreduce",
	CollReduceScatterBlock: "reduce_scatter_block",
	CollScan:               "scan",
	CollExScan:             "exscan",
	CollAllToAllV:          "alltoallv",
	CollBcast:              "bcast",
	CollBarrier:            "barrier",
}

func (c Coll) String() string {
	if name, ok := collNames[c]; ok {
		return name
	}
	return fmt.Sprintf("coll(%d)", int(c))
}

// Reduces reports whether c folds contributions with a CombineFunc.
func (c Coll) Reduces() bool {
	switch c {
	case CollReduce, CollAllReduce, CollReduceScatterBlock, CollScan, CollExScan:
		return true
	default:
		return false
	}
}

// Job is the call shape shared by every rank.
type Job struct {
	Coll Coll
	// Count is the element count per rank (per block for
	// ReduceScatterBlock). Unused by AllToAllV and Barrier.
	Count int
	// ElemSize and RecvElemSize are element widths in bytes. RecvElemSize
	// is only read by AllToAllV and defaults to ElemSize.
	ElemSize     int
	RecvElemSize int
	Root         int
	Combine      CombineFunc
}

// Part is one rank's buffers. With InPlace set, the rank's input is read
// from Recv before any output is written.
type Part struct {
	Send    []byte
	Recv    []byte
	InPlace bool

	SendCounts []int
	SendDispls []int
	RecvCounts []int
	RecvDispls []int
}

// Execute computes job over parts, indexed by rank, writing every rank's
// output into its Recv buffer.
func Execute(job Job, parts []Part) error {
	n := len(parts)
	if n == 0 {
		return fmt.Errorf("%w: no participants", ErrMismatch)
	}
	if job.Coll.Reduces() && job.Combine == nil {
		return fmt.Errorf("%w: %s without a combine function", ErrUnsupported, job.Coll)
	}
	if job.ElemSize <= 0 && job.Coll != CollBarrier {
		return fmt.Errorf("%w: element size %d", ErrMismatch, job.ElemSize)
	}
	if job.Count < 0 {
		return fmt.Errorf("%w: negative count %d", ErrMismatch, job.Count)
	}
	switch job.Coll {
	case CollReduce:
		return reduceTo(job, parts, []int{job.Root})
	case CollAllReduce:
		return reduceTo(job, parts, allRanks(n))
	case CollReduceScatterBlock:
		return reduceScatterBlock(job, parts)
	case CollScan:
		return scan(job, parts, false)
	case CollExScan:
		return scan(job, parts, true)
	case CollAllToAllV:
		return allToAllV(job, parts)
	case CollBcast:
		return bcast(job, parts)
	case CollBarrier:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, job.Coll)
	}
}

func allRanks(n int) []int {
	ranks := make([]int, n)
	for i := range ranks {
		ranks[i] = i
	}
	return ranks
}

func checkRoot(job Job, n int) error {
	if job.Root < 0 || job.Root >= n {
		return fmt.Errorf("%w: root %d of %d ranks", ErrMismatch, job.Root, n)
	}
	return nil
}

// inputs snapshots nbytes of every rank's input.
func inputs(parts []Part, nbytes int) ([][]byte, error) {
	out := make([][]byte, len(parts))
	for rank, p := range parts {
		src := p.Send
		if p.InPlace {
			src = p.Recv
		}
		if len(src) < nbytes {
			return nil, fmt.Errorf("%w: rank %d input has %d of %d bytes", ErrShortBuffer, rank, len(src), nbytes)
		}
		out[rank] = append([]byte(nil), src[:nbytes]...)
	}
	return out, nil
}

func fold(job Job, in [][]byte, upto int) ([]byte, error) {
	acc := append([]byte(nil), in[0]...)
	for rank := 1; rank <= upto; rank++ {
		if err := job.Combine(acc, in[rank]); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func deliver(parts []Part, rank int, data []byte) error {
	if len(parts[rank].Recv) < len(data) {
		return fmt.Errorf("%w: rank %d output has %d of %d bytes", ErrShortBuffer, rank, len(parts[rank].Recv), len(data))
	}
	copy(parts[rank].Recv, data)
	return nil
}

func reduceTo(job Job, parts []Part, targets []int) error {
	if job.Coll == CollReduce {
		if err := checkRoot(job, len(parts)); err != nil {
			return err
		}
	}
	in, err := inputs(parts, job.Count*job.ElemSize)
	if err != nil {
		return err
	}
	result, err := fold(job, in, len(in)-1)
	if err != nil {
		return err
	}
	for _, rank := range targets {
		if err := deliver(parts, rank, result); err != nil {
			return err
		}
	}
	return nil
}

func reduceScatterBlock(job Job, parts []Part) error {
	block := job.Count * job.ElemSize
	in, err := inputs(parts, block*len(parts))
	if err != nil {
		return err
	}
	result, err := fold(job, in, len(in)-1)
	if err != nil {
		return err
	}
	for rank := range parts {
		if err := deliver(parts, rank, result[rank*block:(rank+1)*block]); err != nil {
			return err
		}
	}
	return nil
}

func scan(job Job, parts []Part, exclusive bool) error {
	in, err := inputs(parts, job.Count*job.ElemSize)
	if err != nil {
		return err
	}
	acc := append([]byte(nil), in[0]...)
	if !exclusive {
		if err := deliver(parts, 0, acc); err != nil {
			return err
		}
	}
	for rank := 1; rank < len(parts); rank++ {
		if exclusive {
			if err := deliver(parts, rank, acc); err != nil {
				return err
			}
		}
		if err := job.Combine(acc, in[rank]); err != nil {
			return err
		}
		if !exclusive {
			if err := deliver(parts, rank, acc); err != nil {
				return err
			}
		}
	}
	return nil
}

func allToAllV(job Job, parts []Part) error {
	n := len(parts)
	sendElem := job.ElemSize
	recvElem := job.RecvElemSize
	if recvElem <= 0 {
		recvElem = sendElem
	}

	// blocks[src][dst] is what src sends to dst.
	blocks := make([][][]byte, n)
	for src, p := range parts {
		buf, counts, displs, elem := p.Send, p.SendCounts, p.SendDispls, sendElem
		if p.InPlace {
			buf, counts, displs, elem = p.Recv, p.RecvCounts, p.RecvDispls, recvElem
		}
		if len(counts) < n || len(displs) < n {
			return fmt.Errorf("%w: rank %d has %d counts and %d displacements for %d ranks", ErrMismatch, src, len(counts), len(displs), n)
		}
		blocks[src] = make([][]byte, n)
		for dst := 0; dst < n; dst++ {
			lo, hi := displs[dst]*elem, (displs[dst]+counts[dst])*elem
			if counts[dst] < 0 || lo < 0 || hi > len(buf) {
				return fmt.Errorf("%w: rank %d block for %d spans [%d,%d) of %d bytes", ErrShortBuffer, src, dst, lo, hi, len(buf))
			}
			blocks[src][dst] = append([]byte(nil), buf[lo:hi]...)
		}
	}

	for dst, p := range parts {
		if len(p.RecvCounts) < n || len(p.RecvDispls) < n {
			return fmt.Errorf("%w: rank %d has %d receive counts for %d ranks", ErrMismatch, dst, len(p.RecvCounts), n)
		}
		for src := 0; src < n; src++ {
			data := blocks[src][dst]
			want := p.RecvCounts[src] * recvElem
			if len(data) > want {
				return fmt.Errorf("%w: rank %d expects %d bytes from %d, got %d", ErrShortBuffer, dst, want, src, len(data))
			}
			lo := p.RecvDispls[src] * recvElem
			if lo < 0 || lo+len(data) > len(p.Recv) {
				return fmt.Errorf("%w: rank %d receive block from %d out of range", ErrShortBuffer, dst, src)
			}
			copy(p.Recv[lo:], data)
		}
	}
	return nil
}

func bcast(job Job, parts []Part) error {
	if err := checkRoot(job, len(parts)); err != nil {
		return err
	}
	nbytes := job.Count * job.ElemSize
	root := parts[job.Root].Recv
	if len(root) < nbytes {
		return fmt.Errorf("%w: root buffer has %d of %d bytes", ErrShortBuffer, len(root), nbytes)
	}
	data := append([]byte(nil), root[:nbytes]...)
	for rank := range parts {
		if rank == job.Root {
			continue
		}
		if err := deliver(parts, rank, data); err != nil {
			return err
		}
	}
	return nil
}
