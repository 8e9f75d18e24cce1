package collective

import (
	"fmt"

	"github.com/tensormesh/tensormesh/internal/metrics"
	"github.com/tensormesh/tensormesh/internal/partition"
	"github.com/tensormesh/tensormesh/internal/slicing"
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// ReduceScatter sum-reduces a tensor across an axis subgroup and scatters
// the result: each worker keeps the sum of the block that balanced division
// assigns to its subgroup coordinate. It is the exact adjoint of AllGather
// over the same subgroups, and AllGather is its adjoint in turn.
type ReduceScatter struct {
	base *partition.Partition
	sub  *partition.Partition
	axes []int

	gate structureGate
	out  tensor.Structure
	plan *slicePlan
}

// NewReduceScatter builds a reduce-scatter over the given Cartesian
// partition and axes.
func NewReduceScatter(p *partition.Partition, axes []int) (*ReduceScatter, error) {
	if p.Active() && p.Shape() == nil {
		return nil, fmt.Errorf("%w: reduce-scatter requires a cartesian partition", ErrConfig)
	}
	sub, err := p.SubPartitionAlongAxes(axes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &ReduceScatter{base: p, sub: sub, axes: append([]int(nil), axes...)}, nil
}

func (rs *ReduceScatter) setup(in tensor.Structure) error {
	if !rs.sub.Active() {
		rs.out = tensor.ZeroVolumeStructure(in.DType, -1)
		rs.plan = nil
		rs.gate.established(in)
		return nil
	}

	subShape := rs.sub.Shape()
	// The input spans the full extent along the scattered axes; the plan
	// blocks are each member's balanced share of it.
	plan, err := axesPlan(in.Shape, subShape, rs.axes, in.DType)
	if err != nil {
		return err
	}

	out := tensor.Structure{Shape: in.Shape.Clone(), DType: in.DType, RequiresGrad: in.RequiresGrad}
	coords := rs.sub.Coords()
	for i, a := range rs.axes {
		if in.Shape[a] < subShape[i] && in.Shape[a] != 0 {
			return fmt.Errorf("%w: axis %d extent %d smaller than subgroup extent %d",
				ErrConfig, a, in.Shape[a], subShape[i])
		}
		out.Shape[a] = slicing.Subsize(subShape[i], coords[i], in.Shape[a])
	}

	rs.out = out
	rs.plan = plan
	rs.gate.established(in)
	return nil
}

// Apply sums the input across the subgroup and keeps this worker's block.
func (rs *ReduceScatter) Apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("reducescatter", "forward").Inc()
	in := tensor.StructureOf(x)
	if stale, err := rs.gate.stale(in); err != nil {
		return nil, err
	} else if stale {
		if err := rs.setup(in); err != nil {
			return nil, err
		}
	}
	if !rs.sub.Active() {
		return tensor.ZeroVolume(x.DType(), -1), nil
	}

	scratch := rs.plan.buffer()
	segments := make([][]byte, rs.sub.Size())
	for s := range segments {
		segments[s] = rs.plan.segment(scratch, s)
		if err := tensor.PackRegion(x, rs.plan.pairs[s].Region, segments[s]); err != nil {
			return nil, err
		}
	}

	out, err := rs.out.NewTensor()
	if err != nil {
		return nil, err
	}
	if err := rs.sub.ReduceScatter(segments, out.Bytes(), sumOf(x.DType())); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyAdjoint all-gathers the upstream gradient blocks back into the full
// axis extent on every subgroup member.
func (rs *ReduceScatter) ApplyAdjoint(gy *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("reducescatter", "adjoint").Inc()
	if err := rs.gate.requireReady(); err != nil {
		return nil, err
	}
	if !rs.sub.Active() {
		return tensor.ZeroVolume(gy.DType(), -1), nil
	}
	if !tensor.StructureOf(gy).Shape.Equal(rs.out.Shape) || gy.DType() != rs.out.DType {
		return nil, fmt.Errorf("%w: gradient shape %v, expected %v", ErrStructureMismatch, gy.Shape(), rs.out.Shape)
	}

	gathered := rs.plan.buffer()
	into := make([][]byte, rs.sub.Size())
	for s := range into {
		into[s] = rs.plan.segment(gathered, s)
	}
	if err := rs.sub.AllGather(gy.Bytes(), into); err != nil {
		return nil, err
	}

	gx, err := rs.gate.in.NewTensor()
	if err != nil {
		return nil, err
	}
	for s := range into {
		if err := tensor.UnpackRegion(into[s], gx, rs.plan.pairs[s].Region); err != nil {
			return nil, err
		}
	}
	return gx, nil
}
