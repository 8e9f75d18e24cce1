package collective

import (
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// Options carries the operation-specific knobs shared across primitives.
type Options struct {
	// PreserveBatch keeps a known batch dimension on zero-volume outputs,
	// so workers without local data still observe the global batch size.
	PreserveBatch bool

	// ScaleBackward, when non-zero, divides the adjoint pass by this
	// factor. Used by layers that average rather than sum gradients.
	ScaleBackward float64
}

// structureGate implements the lazy setup/caching policy every primitive
// follows: the first call establishes the structure, a shape or
// gradient-flag change triggers re-setup, and a dtype change is rejected
// because no slice plan can reconcile reinterpreted element types.
type structureGate struct {
	in    tensor.Structure
	ready bool
}

// stale reports whether setup must run for the given input structure.
func (g *structureGate) stale(s tensor.Structure) (bool, error) {
	if !g.ready {
		return true, nil
	}
	if g.in.Equal(s) {
		return false, nil
	}
	if g.in.DType != s.DType {
		return false, ErrStructureMismatch
	}
	return true, nil
}

// established records a completed setup.
func (g *structureGate) established(s tensor.Structure) {
	g.in = s
	g.ready = true
}

// requireReady gates adjoint calls on a preceding forward setup.
func (g *structureGate) requireReady() error {
	if !g.ready {
		return ErrNotSetUp
	}
	return nil
}

// sumOf returns the accumulator for a data type.
func sumOf(dtype tensor.DataType) func(dst, src []byte) error {
	return func(dst, src []byte) error {
		return tensor.AccumulateBytes(dtype, dst, src)
	}
}
