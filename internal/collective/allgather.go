package collective

import (
	"fmt"

	"github.com/tensormesh/tensormesh/internal/metrics"
	"github.com/tensormesh/tensormesh/internal/partition"
	"github.com/tensormesh/tensormesh/internal/slicing"
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// AllGather gathers the local blocks of a tensor along one or more
// partitioned axes: afterwards every worker of an axis subgroup holds the
// concatenation of the subgroup's blocks, positioned by Cartesian
// coordinate. Its exact adjoint is the sum-reduce-scatter over the same
// subgroups.
type AllGather struct {
	base *partition.Partition
	sub  *partition.Partition
	axes []int

	gate structureGate
	out  tensor.Structure
	plan *slicePlan
}

// NewAllGather builds an all-gather over the given Cartesian partition and
// axes. Every member of the partition must construct the primitive, in the
// same order relative to other derived partitions.
func NewAllGather(p *partition.Partition, axes []int) (*AllGather, error) {
	if p.Active() && p.Shape() == nil {
		return nil, fmt.Errorf("%w: allgather requires a cartesian partition", ErrConfig)
	}
	sub, err := p.SubPartitionAlongAxes(axes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &AllGather{base: p, sub: sub, axes: append([]int(nil), axes...)}, nil
}

func (ag *AllGather) setup(in tensor.Structure) error {
	all, err := AllGatherStructures(ag.sub, in)
	if err != nil {
		return err
	}
	if !ag.sub.Active() {
		ag.out = tensor.ZeroVolumeStructure(in.DType, -1)
		ag.plan = nil
		ag.gate.established(in)
		return nil
	}

	subShape := ag.sub.Shape()
	coords := ag.sub.Coords()
	out := tensor.Structure{Shape: in.Shape.Clone(), DType: in.DType, RequiresGrad: in.RequiresGrad}
	for i, a := range ag.axes {
		// Sum the extents along this axis with the other subgroup
		// coordinates held at ours.
		total := 0
		for c := 0; c < subShape[i]; c++ {
			probe := append([]int(nil), coords...)
			probe[i] = c
			member := all[slicing.RankOf(probe, subShape)]
			if len(member.Shape) != len(in.Shape) || member.DType != in.DType {
				return fmt.Errorf("%w: subgroup member structures disagree", ErrStructureMismatch)
			}
			total += member.Shape[a]
		}
		out.Shape[a] = total
	}

	plan, err := axesPlan(out.Shape, subShape, ag.axes, in.DType)
	if err != nil {
		return err
	}
	ag.out = out
	ag.plan = plan
	ag.gate.established(in)
	return nil
}

// Apply gathers the input's subgroup blocks into the concatenated output.
// Inactive workers pass any zero-volume tensor and get one back.
func (ag *AllGather) Apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("allgather", "forward").Inc()
	in := tensor.StructureOf(x)
	if stale, err := ag.gate.stale(in); err != nil {
		return nil, err
	} else if stale {
		if err := ag.setup(in); err != nil {
			return nil, err
		}
	}
	if !ag.sub.Active() {
		return tensor.ZeroVolume(x.DType(), -1), nil
	}

	gathered := ag.plan.buffer()
	into := make([][]byte, ag.sub.Size())
	for s := range into {
		into[s] = ag.plan.segment(gathered, s)
	}
	if err := ag.sub.AllGather(x.Bytes(), into); err != nil {
		return nil, err
	}

	out, err := ag.out.NewTensor()
	if err != nil {
		return nil, err
	}
	for s := range into {
		if err := tensor.UnpackRegion(into[s], out, ag.plan.pairs[s].Region); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyAdjoint reduce-scatters the upstream gradient back onto the input
// blocks: each worker receives the sum, over the subgroup, of the gradient
// slices that correspond to its own block.
func (ag *AllGather) ApplyAdjoint(gy *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("allgather", "adjoint").Inc()
	if err := ag.gate.requireReady(); err != nil {
		return nil, err
	}
	if !ag.sub.Active() {
		return tensor.ZeroVolume(gy.DType(), -1), nil
	}
	if !tensor.StructureOf(gy).Shape.Equal(ag.out.Shape) || gy.DType() != ag.out.DType {
		return nil, fmt.Errorf("%w: gradient shape %v, expected %v", ErrStructureMismatch, gy.Shape(), ag.out.Shape)
	}

	scratch := ag.plan.buffer()
	segments := make([][]byte, ag.sub.Size())
	for s := range segments {
		segments[s] = ag.plan.segment(scratch, s)
		if err := tensor.PackRegion(gy, ag.plan.pairs[s].Region, segments[s]); err != nil {
			return nil, err
		}
	}

	gx, err := ag.gate.in.NewTensor()
	if err != nil {
		return nil, err
	}
	if err := ag.sub.ReduceScatter(segments, gx.Bytes(), sumOf(gy.DType())); err != nil {
		return nil, err
	}
	return gx, nil
}
