package collective

import (
	"fmt"

	"github.com/tensormesh/tensormesh/internal/partition"
	"github.com/tensormesh/tensormesh/internal/slicing"
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// Structure negotiation collectives. Data-bearing workers may differ from
// the workers that need to allocate receive buffers, so tensor structures
// travel ahead of tensor data. These are blocking group collectives: every
// member of the partition must call them together or the group deadlocks.

// BroadcastStructure disseminates the structure held by the member at
// partition rank root to every member. Non-root callers pass any value
// (typically the zero Structure); inactive callers get the zero Structure
// back.
func BroadcastStructure(p *partition.Partition, root int, s tensor.Structure) (tensor.Structure, error) {
	buf := make([]byte, tensor.StructureWireSize())
	if p.Active() && p.Rank() == root {
		enc, err := s.Encode()
		if err != nil {
			return tensor.Structure{}, err
		}
		copy(buf, enc)
	}
	if err := p.Broadcast(buf, root); err != nil {
		return tensor.Structure{}, err
	}
	if !p.Active() {
		return tensor.Structure{}, nil
	}
	return tensor.DecodeStructure(buf)
}

// AllGatherStructures collects every member's structure on every member,
// indexed by partition rank. Inactive callers receive nil.
func AllGatherStructures(p *partition.Partition, s tensor.Structure) ([]tensor.Structure, error) {
	if !p.Active() {
		// Still participate so tag sequences stay aligned on members.
		return nil, p.AllGather(nil, nil)
	}
	enc, err := s.Encode()
	if err != nil {
		return nil, err
	}
	into := make([][]byte, p.Size())
	for i := range into {
		into[i] = make([]byte, tensor.StructureWireSize())
	}
	if err := p.AllGather(enc, into); err != nil {
		return nil, err
	}
	out := make([]tensor.Structure, p.Size())
	for i := range into {
		if out[i], err = tensor.DecodeStructure(into[i]); err != nil {
			return nil, fmt.Errorf("structure from partition rank %d: %w", i, err)
		}
	}
	return out, nil
}

// AssembleGlobalStructure reconstructs the global tensor structure from the
// calling worker's local block structure and the partition's Cartesian
// decomposition: member structures are all-gathered and extents are summed
// along each grid axis (holding the caller's other coordinates fixed). The
// caller must be an active member of a Cartesian partition.
func AssembleGlobalStructure(local tensor.Structure, p *partition.Partition) (tensor.Structure, error) {
	if !p.Active() {
		return tensor.Structure{}, fmt.Errorf("%w: assembling global structure on an inactive worker", ErrConfig)
	}
	shape := p.Shape()
	if shape == nil {
		return tensor.Structure{}, fmt.Errorf("%w: partition has no cartesian topology", ErrConfig)
	}
	if len(local.Shape) != len(shape) {
		return tensor.Structure{}, fmt.Errorf("%w: tensor rank %d does not match partition rank %d",
			ErrStructureMismatch, len(local.Shape), len(shape))
	}

	all, err := AllGatherStructures(p, local)
	if err != nil {
		return tensor.Structure{}, err
	}

	global := tensor.Structure{
		Shape:        make(tensor.Shape, len(shape)),
		DType:        local.DType,
		RequiresGrad: local.RequiresGrad,
	}
	coords := p.Coords()
	for d := range shape {
		for c := 0; c < shape[d]; c++ {
			probe := append([]int(nil), coords...)
			probe[d] = c
			member := all[slicing.RankOf(probe, shape)]
			if len(member.Shape) != len(shape) {
				return tensor.Structure{}, fmt.Errorf("%w: member rank mismatch in global assembly", ErrStructureMismatch)
			}
			global.Shape[d] += member.Shape[d]
		}
	}
	return global, nil
}
