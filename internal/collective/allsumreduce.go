package collective

import (
	"fmt"

	"github.com/tensormesh/tensormesh/internal/metrics"
	"github.com/tensormesh/tensormesh/internal/partition"
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// AllSumReduce sums tensors elementwise across an axis subgroup and leaves
// the sum on every member. Shapes must agree across the subgroup. The
// operation is self-adjoint: the adjoint is the same reduction applied to
// the upstream gradient, scaled when requested.
type AllSumReduce struct {
	base *partition.Partition
	sub  *partition.Partition
	axes []int
	opts Options

	gate structureGate
}

// NewAllSumReduce builds an all-sum-reduction over the given Cartesian
// partition and axes.
func NewAllSumReduce(p *partition.Partition, axes []int, opts Options) (*AllSumReduce, error) {
	if p.Active() && p.Shape() == nil {
		return nil, fmt.Errorf("%w: all-sum-reduce requires a cartesian partition", ErrConfig)
	}
	sub, err := p.SubPartitionAlongAxes(axes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &AllSumReduce{base: p, sub: sub, axes: append([]int(nil), axes...), opts: opts}, nil
}

func (asr *AllSumReduce) reduce(t *tensor.RawTensor) (*tensor.RawTensor, error) {
	out := t.Clone()
	if err := asr.sub.AllReduce(out.Bytes(), sumOf(t.DType())); err != nil {
		return nil, err
	}
	return out, nil
}

// Apply sums the subgroup's tensors onto every member.
func (asr *AllSumReduce) Apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("allsumreduce", "forward").Inc()
	in := tensor.StructureOf(x)
	if stale, err := asr.gate.stale(in); err != nil {
		return nil, err
	} else if stale {
		asr.gate.established(in)
	}
	if !asr.sub.Active() {
		return tensor.ZeroVolume(x.DType(), zeroBatch(asr.opts, in)), nil
	}
	return asr.reduce(x)
}

// ApplyAdjoint sums the upstream gradients the same way, dividing by the
// backward scale when one is set.
func (asr *AllSumReduce) ApplyAdjoint(gy *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("allsumreduce", "adjoint").Inc()
	if err := asr.gate.requireReady(); err != nil {
		return nil, err
	}
	if !asr.sub.Active() {
		return tensor.ZeroVolume(gy.DType(), zeroBatchGrad(asr.opts, gy)), nil
	}
	if !tensor.StructureOf(gy).Shape.Equal(asr.gate.in.Shape) || gy.DType() != asr.gate.in.DType {
		return nil, fmt.Errorf("%w: gradient shape %v, expected %v", ErrStructureMismatch, gy.Shape(), asr.gate.in.Shape)
	}
	gx, err := asr.reduce(gy)
	if err != nil {
		return nil, err
	}
	if asr.opts.ScaleBackward != 0 {
		if err := tensor.ScaleBytes(gx.DType(), gx.Bytes(), asr.opts.ScaleBackward); err != nil {
			return nil, err
		}
	}
	return gx, nil
}
