package collective

import (
	"fmt"

	"github.com/tensormesh/tensormesh/internal/comm"
	"github.com/tensormesh/tensormesh/internal/metrics"
	"github.com/tensormesh/tensormesh/internal/partition"
	"github.com/tensormesh/tensormesh/internal/slicing"
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// Repartition moves a tensor from one Cartesian decomposition to another
// over the same global domain. Every source worker sends each destination
// worker the intersection of their blocks; every destination worker
// assembles its block from the intersections it receives. The adjoint runs
// the same exchange with the tables swapped, which makes it an exact
// permutation of the forward data movement.
type Repartition struct {
	a     *partition.Partition // source decomposition
	b     *partition.Partition // destination decomposition
	union *partition.Partition
	opts  Options

	// unionRank maps a global transport rank to its rank in the union.
	unionRank map[int]int

	gate structureGate
	out  tensor.Structure

	// sendTable[s] is the overlap of this worker's source block with
	// destination rank s's block, relative to the source block. recvTable[s]
	// is the overlap of this worker's destination block with source rank s's
	// block, relative to the destination block. Nil entries mean no overlap.
	sendTable []*slicing.Region
	recvTable []*slicing.Region
}

// NewRepartition builds a repartition from decomposition a to decomposition
// b. Both partitions must carry Cartesian topologies of the same rank, and
// every worker of either partition must construct the primitive.
func NewRepartition(a, b *partition.Partition, opts Options) (*Repartition, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: repartition requires source and destination partitions", ErrConfig)
	}
	if a.Shape() == nil || b.Shape() == nil {
		return nil, fmt.Errorf("%w: repartition requires cartesian partitions", ErrConfig)
	}
	if len(a.Shape()) != len(b.Shape()) {
		return nil, fmt.Errorf("%w: source grid rank %d does not match destination grid rank %d",
			ErrConfig, len(a.Shape()), len(b.Shape()))
	}
	union, err := a.CreatePartitionUnion(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	unionRank := make(map[int]int, union.Size())
	for i, g := range union.GlobalRanks() {
		unionRank[g] = i
	}
	return &Repartition{a: a, b: b, union: union, opts: opts, unionRank: unionRank}, nil
}

func (r *Repartition) setup(in tensor.Structure) error {
	// The source side assembles the global structure; the destination side
	// learns it from the union's root, which is always a source worker.
	var global tensor.Structure
	if r.a.Active() {
		g, err := AssembleGlobalStructure(in, r.a)
		if err != nil {
			return err
		}
		global = g
	} else if _, err := AllGatherStructures(r.a, tensor.Structure{}); err != nil {
		return err
	}
	global, err := BroadcastStructure(r.union, 0, global)
	if err != nil {
		return err
	}

	r.sendTable = nil
	r.recvTable = nil
	if r.a.Active() {
		r.sendTable = slicing.PartitionIntersection(r.a.Shape(), r.a.Coords(), r.b.Shape(), global.Shape)
	}
	if r.b.Active() {
		r.recvTable = slicing.PartitionIntersection(r.b.Shape(), r.b.Coords(), r.a.Shape(), global.Shape)
		out := tensor.Structure{
			Shape:        make(tensor.Shape, len(global.Shape)),
			DType:        global.DType,
			RequiresGrad: global.RequiresGrad,
		}
		for d, e := range global.Shape {
			out.Shape[d] = slicing.Subsize(r.b.Shape()[d], r.b.Coords()[d], e)
		}
		r.out = out
	} else {
		r.out = tensor.ZeroVolumeStructure(global.DType, zeroBatch(r.opts, in))
	}
	r.gate.established(in)
	return nil
}

// exchange runs one repartition data movement: pack each sendTable overlap
// of src, ship it to the owning peer, and unpack each recvTable overlap into
// dst. Overlaps a worker has with itself are copied locally. The peer lists
// come from the two partitions; buffers travel over the union with a single
// tag drawn for the whole exchange.
func (r *Repartition) exchange(src, dst *tensor.RawTensor,
	sendTable, recvTable []*slicing.Region, sendPeers, recvPeers *partition.Partition) error {

	tag := r.union.NextTag()
	self := -1
	if r.union.Active() {
		self = r.union.GlobalRanks()[r.union.Rank()]
	}
	// Buffer sizes come from the negotiated global structure, not the local
	// input: a destination-only worker's zero-volume placeholder may carry
	// any dtype.
	esize := r.out.DType.Size()

	var reqs []comm.Request
	recvBufs := make(map[int][]byte, len(recvTable))
	for s, region := range recvTable {
		if region == nil {
			continue
		}
		peer := recvPeers.GlobalRanks()[s]
		if peer == self {
			continue
		}
		buf := make([]byte, region.Volume()*esize)
		req, err := r.union.Irecv(buf, r.unionRank[peer], tag)
		if err != nil {
			return err
		}
		recvBufs[s] = buf
		reqs = append(reqs, req)
	}

	var selfPayload []byte
	for s, region := range sendTable {
		if region == nil {
			continue
		}
		buf := make([]byte, region.Volume()*esize)
		if err := tensor.PackRegion(src, *region, buf); err != nil {
			return err
		}
		peer := sendPeers.GlobalRanks()[s]
		if peer == self {
			selfPayload = buf
			continue
		}
		req, err := r.union.Isend(buf, r.unionRank[peer], tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if err := comm.WaitAll(reqs); err != nil {
		return err
	}

	for s, region := range recvTable {
		if region == nil {
			continue
		}
		buf := recvBufs[s]
		if recvPeers.GlobalRanks()[s] == self {
			buf = selfPayload
		}
		if err := tensor.UnpackRegion(buf, dst, *region); err != nil {
			return err
		}
	}
	return nil
}

// Apply moves the source decomposition's blocks into the destination
// decomposition. Workers outside the destination produce a zero-volume
// tensor.
func (r *Repartition) Apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("repartition", "forward").Inc()
	in := tensor.StructureOf(x)
	if stale, err := r.gate.stale(in); err != nil {
		return nil, err
	} else if stale {
		if err := r.setup(in); err != nil {
			return nil, err
		}
	}

	out, err := r.out.NewTensor()
	if err != nil {
		return nil, err
	}
	if err := r.exchange(x, out, r.sendTable, r.recvTable, r.b, r.a); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyAdjoint moves the upstream gradient back: the forward's receive table
// becomes the send table and vice versa, so every element returns to the
// source block it came from.
func (r *Repartition) ApplyAdjoint(gy *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("repartition", "adjoint").Inc()
	if err := r.gate.requireReady(); err != nil {
		return nil, err
	}
	if r.b.Active() {
		if !tensor.StructureOf(gy).Shape.Equal(r.out.Shape) || gy.DType() != r.out.DType {
			return nil, fmt.Errorf("%w: gradient shape %v, expected %v", ErrStructureMismatch, gy.Shape(), r.out.Shape)
		}
	}

	gx, err := r.gate.in.NewTensor()
	if err != nil {
		return nil, err
	}
	if err := r.exchange(gy, gx, r.recvTable, r.sendTable, r.a, r.b); err != nil {
		return nil, err
	}
	return gx, nil
}
