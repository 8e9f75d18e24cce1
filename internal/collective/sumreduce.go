package collective

import (
	"fmt"

	"github.com/tensormesh/tensormesh/internal/metrics"
	"github.com/tensormesh/tensormesh/internal/partition"
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// SumReduce sums tensors from every member of a send partition onto rank 0
// of a receive partition. It is the exact adjoint of Broadcast with the
// partition roles swapped: the adjoint broadcasts the destination's
// gradient back to every contributor.
//
// An active send partition means this worker contributes its input; an
// active receive partition means this worker is the destination and must be
// that partition's rank 0. A destination that also contributes binds the
// same partition record in both roles. A destination that does not
// contribute participates in the reduction with a zero tensor so the group
// collective stays full.
type SumReduce struct {
	send *partition.Partition
	recv *partition.Partition
	opts Options

	gate structureGate
	out  tensor.Structure
}

// NewSumReduce binds a sum-reduction to its send and receive partitions.
func NewSumReduce(send, recv *partition.Partition, opts Options) (*SumReduce, error) {
	if send == nil || recv == nil {
		return nil, fmt.Errorf("%w: sum-reduce requires send and receive partitions", ErrConfig)
	}
	if recv.Active() && recv.Rank() != 0 {
		return nil, fmt.Errorf("%w: the sum-reduce destination must be rank 0 of its receive partition, got %d",
			ErrConfig, recv.Rank())
	}
	if send.Active() && !send.Same(recv) && send.Rank() == 0 {
		return nil, fmt.Errorf("%w: rank 0 of a distinct send partition is the destination and must bind it as the receive partition", ErrConfig)
	}
	return &SumReduce{send: send, recv: recv, opts: opts}, nil
}

func (sr *SumReduce) setup(in tensor.Structure) error {
	same := sr.send.Same(sr.recv)

	// Contributors agree on the structure already; the destination learns it
	// from the contributor at rank 1. Rank 0 of the group is the destination,
	// so it cannot root the structure broadcast. Every group member makes the
	// call, contributors included, to keep the group's call order aligned.
	if sr.send.Active() && sr.send.Size() > 1 {
		if _, err := BroadcastStructure(sr.send, 1, in); err != nil {
			return err
		}
	}
	switch {
	case sr.recv.Active() && same:
		sr.out = in
	case sr.recv.Active():
		if sr.recv.Size() < 2 {
			return fmt.Errorf("%w: receive partition has no contributors", ErrConfig)
		}
		out, err := BroadcastStructure(sr.recv, 1, tensor.Structure{})
		if err != nil {
			return err
		}
		sr.out = out
	default:
		sr.out = tensor.ZeroVolumeStructure(in.DType, zeroBatch(sr.opts, in))
	}
	sr.gate.established(in)
	return nil
}

// Apply sums the contributors' tensors onto the destination. Workers other
// than the destination produce a zero-volume tensor.
func (sr *SumReduce) Apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("sumreduce", "forward").Inc()
	in := tensor.StructureOf(x)
	if stale, err := sr.gate.stale(in); err != nil {
		return nil, err
	} else if stale {
		if err := sr.setup(in); err != nil {
			return nil, err
		}
	}
	same := sr.send.Same(sr.recv)
	acc := sumOf(in.DType)

	if sr.send.Active() {
		if same {
			// Destination and contributor at once: the reduce lands here.
			out, err := sr.out.NewTensor()
			if err != nil {
				return nil, err
			}
			copy(out.Bytes(), x.Bytes())
			if err := sr.send.Reduce(out.Bytes(), 0, acc); err != nil {
				return nil, err
			}
			return out, nil
		}
		if err := sr.send.Reduce(x.Bytes(), 0, acc); err != nil {
			return nil, err
		}
	}
	if sr.recv.Active() && !same {
		// Destination without a contribution of its own: reduce onto zeros.
		out, err := sr.out.NewTensor()
		if err != nil {
			return nil, err
		}
		if err := sr.recv.Reduce(out.Bytes(), 0, acc); err != nil {
			return nil, err
		}
		return out, nil
	}
	return tensor.ZeroVolume(in.DType, zeroBatch(sr.opts, in)), nil
}

// ApplyAdjoint broadcasts the destination's upstream gradient back to every
// contributor, scaled when requested.
func (sr *SumReduce) ApplyAdjoint(gy *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("sumreduce", "adjoint").Inc()
	if err := sr.gate.requireReady(); err != nil {
		return nil, err
	}
	same := sr.send.Same(sr.recv)

	if sr.recv.Active() && !same {
		buf := append([]byte(nil), gy.Bytes()...)
		if sr.opts.ScaleBackward != 0 {
			if err := tensor.ScaleBytes(gy.DType(), buf, sr.opts.ScaleBackward); err != nil {
				return nil, err
			}
		}
		if err := sr.recv.Broadcast(buf, 0); err != nil {
			return nil, err
		}
	}
	if sr.send.Active() {
		gx, err := sr.gate.in.NewTensor()
		if err != nil {
			return nil, err
		}
		if same {
			copy(gx.Bytes(), gy.Bytes())
			if sr.opts.ScaleBackward != 0 {
				if err := tensor.ScaleBytes(gy.DType(), gx.Bytes(), sr.opts.ScaleBackward); err != nil {
					return nil, err
				}
			}
		}
		if err := sr.send.Broadcast(gx.Bytes(), 0); err != nil {
			return nil, err
		}
		return gx, nil
	}
	return tensor.ZeroVolume(sr.gate.in.DType, zeroBatchGrad(sr.opts, gy)), nil
}
