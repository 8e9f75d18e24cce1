package collective

import (
	"fmt"

	"github.com/tensormesh/tensormesh/internal/metrics"
	"github.com/tensormesh/tensormesh/internal/partition"
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// Broadcast copies a tensor from the root of a send partition to every
// member of a receive partition. Its exact adjoint is SumReduce: gradients
// flowing back from all receivers are summed onto the source.
//
// The two partitions encode this worker's roles: an active send partition
// means this worker is the data source (and must be that partition's rank
// 0); an active receive partition means this worker receives (from that
// partition's rank 0). A worker may hold both roles. When send and receive
// are the same partition record, the source's output is a local copy and
// only one group collective is issued. Identity is by record, not by
// membership: two structurally identical partitions carry distinct
// collectives.
type Broadcast struct {
	send *partition.Partition
	recv *partition.Partition
	opts Options

	gate structureGate
	out  tensor.Structure
}

// NewBroadcast binds a broadcast to its send and receive partitions.
func NewBroadcast(send, recv *partition.Partition, opts Options) (*Broadcast, error) {
	if send == nil || recv == nil {
		return nil, fmt.Errorf("%w: broadcast requires send and receive partitions", ErrConfig)
	}
	if send.Active() && send.Rank() != 0 {
		return nil, fmt.Errorf("%w: the broadcast source must be rank 0 of its send partition, got %d",
			ErrConfig, send.Rank())
	}
	if recv.Active() && !send.Same(recv) && recv.Rank() == 0 {
		return nil, fmt.Errorf("%w: rank 0 of a distinct receive partition is the source and must bind it as the send partition", ErrConfig)
	}
	return &Broadcast{send: send, recv: recv, opts: opts}, nil
}

func (b *Broadcast) setup(in tensor.Structure) error {
	same := b.send.Same(b.recv)

	// Send-side structure dissemination first, mirroring the data path, so
	// that a worker overlapping both partitions never reorders group calls
	// relative to its peers.
	if b.send.Active() {
		if _, err := BroadcastStructure(b.send, 0, in); err != nil {
			return err
		}
	}
	switch {
	case b.recv.Active() && same:
		b.out = in
	case b.recv.Active():
		out, err := BroadcastStructure(b.recv, 0, tensor.Structure{})
		if err != nil {
			return err
		}
		b.out = out
	default:
		b.out = tensor.ZeroVolumeStructure(in.DType, zeroBatch(b.opts, in))
	}
	b.gate.established(in)
	return nil
}

// Apply broadcasts the source's tensor. Workers outside the receive
// partition produce a zero-volume tensor, preserving the batch dimension
// when requested.
func (b *Broadcast) Apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("broadcast", "forward").Inc()
	in := tensor.StructureOf(x)
	if stale, err := b.gate.stale(in); err != nil {
		return nil, err
	} else if stale {
		if err := b.setup(in); err != nil {
			return nil, err
		}
	}

	if b.send.Active() {
		if err := b.send.Broadcast(x.Bytes(), 0); err != nil {
			return nil, err
		}
	}
	if b.recv.Active() {
		if b.send.Same(b.recv) {
			out := x.Clone()
			out.SetRequiresGrad(b.out.RequiresGrad)
			return out, nil
		}
		out, err := b.out.NewTensor()
		if err != nil {
			return nil, err
		}
		if err := b.recv.Broadcast(out.Bytes(), 0); err != nil {
			return nil, err
		}
		return out, nil
	}
	return tensor.ZeroVolume(in.DType, zeroBatch(b.opts, in)), nil
}

// ApplyAdjoint sum-reduces the upstream gradients from all receivers onto
// the source. Workers that received in the forward contribute their
// gradient; the source collects the sum (its own forward copy included when
// send and receive coincide).
func (b *Broadcast) ApplyAdjoint(gy *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("broadcast", "adjoint").Inc()
	if err := b.gate.requireReady(); err != nil {
		return nil, err
	}
	same := b.send.Same(b.recv)
	acc := sumOf(b.gate.in.DType)

	if b.recv.Active() {
		contribution := append([]byte(nil), gy.Bytes()...)
		if b.opts.ScaleBackward != 0 {
			if err := tensor.ScaleBytes(gy.DType(), contribution, b.opts.ScaleBackward); err != nil {
				return nil, err
			}
		}
		if err := b.recv.Reduce(contribution, 0, acc); err != nil {
			return nil, err
		}
		if same {
			// This worker is the source; the reduce landed the sum here.
			gx, err := b.gate.in.NewTensor()
			if err != nil {
				return nil, err
			}
			copy(gx.Bytes(), contribution)
			return gx, nil
		}
	}
	if b.send.Active() && !same {
		gx, err := b.gate.in.NewTensor()
		if err != nil {
			return nil, err
		}
		// The source contributes zeros: it holds no receive-side gradient.
		if err := b.send.Reduce(gx.Bytes(), 0, acc); err != nil {
			return nil, err
		}
		return gx, nil
	}
	return tensor.ZeroVolume(b.gate.in.DType, zeroBatchGrad(b.opts, gy)), nil
}

// zeroBatch picks the preserved batch extent for a zero-volume output.
func zeroBatch(opts Options, in tensor.Structure) int {
	if opts.PreserveBatch && len(in.Shape) > 0 {
		return in.Shape[0]
	}
	return -1
}

// zeroBatchGrad mirrors zeroBatch for the adjoint direction.
func zeroBatchGrad(opts Options, gy *tensor.RawTensor) int {
	if opts.PreserveBatch && len(gy.Shape()) > 0 {
		return gy.Shape()[0]
	}
	return -1
}
