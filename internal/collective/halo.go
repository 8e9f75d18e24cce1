package collective

import (
	"fmt"

	"github.com/tensormesh/tensormesh/internal/comm"
	"github.com/tensormesh/tensormesh/internal/metrics"
	"github.com/tensormesh/tensormesh/internal/partition"
	"github.com/tensormesh/tensormesh/internal/slicing"
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// HaloDepth gives the halo widths of one tensor axis: Left cells before the
// bulk, Right cells after it. Workers on a domain boundary simply have no
// neighbor on that side; the halo cells still exist in the padded tensor and
// are left untouched there.
type HaloDepth struct {
	Left  int
	Right int
}

// HaloExchange fills the halo padding of a locally padded block with bulk
// values from the Cartesian neighbors. Axes are exchanged one after another,
// so corner cells pick up contributions from diagonal neighbors through two
// successive face exchanges. The adjoint pushes halo gradients back to the
// neighboring bulk cells, summing, and clears the local halos.
type HaloExchange struct {
	p    *partition.Partition
	halo []HaloDepth

	gate structureGate
}

// NewHaloExchange builds a halo exchange over the given Cartesian partition.
// halo holds one depth pair per tensor axis; axes without padding use zero
// depths.
func NewHaloExchange(p *partition.Partition, halo []HaloDepth) (*HaloExchange, error) {
	if p == nil || (p.Active() && p.Shape() == nil) {
		return nil, fmt.Errorf("%w: halo exchange requires a cartesian partition", ErrConfig)
	}
	for d, h := range halo {
		if h.Left < 0 || h.Right < 0 {
			return nil, fmt.Errorf("%w: negative halo depth on axis %d", ErrConfig, d)
		}
	}
	return &HaloExchange{p: p, halo: append([]HaloDepth(nil), halo...)}, nil
}

func (he *HaloExchange) setup(in tensor.Structure) error {
	if !he.p.Active() {
		he.gate.established(in)
		return nil
	}
	shape := he.p.Shape()
	coords := he.p.Coords()
	if len(in.Shape) != len(shape) {
		return fmt.Errorf("%w: tensor rank %d does not match partition rank %d",
			ErrConfig, len(in.Shape), len(shape))
	}
	if len(he.halo) != len(shape) {
		return fmt.Errorf("%w: %d halo depths for partition rank %d", ErrConfig, len(he.halo), len(shape))
	}
	if in.Volume() > 0 {
		for d, h := range he.halo {
			bulk := in.Shape[d] - h.Left - h.Right
			if bulk < 0 {
				return fmt.Errorf("%w: axis %d extent %d smaller than halo depths %d+%d",
					ErrConfig, d, in.Shape[d], h.Left, h.Right)
			}
			if coords[d] > 0 && bulk < h.Right {
				return fmt.Errorf("%w: axis %d bulk %d too thin to fill the left neighbor's halo of %d",
					ErrConfig, d, bulk, h.Right)
			}
			if coords[d] < shape[d]-1 && bulk < h.Left {
				return fmt.Errorf("%w: axis %d bulk %d too thin to fill the right neighbor's halo of %d",
					ErrConfig, d, bulk, h.Left)
			}
		}
	}
	he.gate.established(in)
	return nil
}

// axisRegions returns the four exchange slabs of axis d for a padded local
// shape: the two halo slabs and the two bulk slabs that feed the neighbors'
// halos. Every slab spans the full extent of the other axes.
func (he *HaloExchange) axisRegions(local tensor.Shape, d int) (leftHalo, leftSend, rightSend, rightHalo slicing.Region) {
	h := he.halo[d]
	n := local[d]
	slab := func(lo, hi int) slicing.Region {
		start := make([]int, len(local))
		stop := make([]int, len(local))
		for k := range local {
			stop[k] = local[k]
		}
		start[d], stop[d] = lo, hi
		return slicing.Region{Start: start, Stop: stop}
	}
	leftHalo = slab(0, h.Left)
	leftSend = slab(h.Left, h.Left+h.Right)
	rightSend = slab(n-h.Right-h.Left, n-h.Right)
	rightHalo = slab(n-h.Right, n)
	return
}

// neighbor returns the partition rank offset by step along axis d, or -1 at
// the domain boundary.
func (he *HaloExchange) neighbor(d, step int) int {
	shape := he.p.Shape()
	c := he.p.Coords()[d] + step
	if c < 0 || c >= shape[d] {
		return -1
	}
	probe := append([]int(nil), he.p.Coords()...)
	probe[d] = c
	return slicing.RankOf(probe, shape)
}

// Apply exchanges halos on a copy of the padded input and returns it. The
// bulk is untouched; halo slabs bordering a neighbor are overwritten with
// that neighbor's bulk values.
func (he *HaloExchange) Apply(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("haloexchange", "forward").Inc()
	in := tensor.StructureOf(x)
	if stale, err := he.gate.stale(in); err != nil {
		return nil, err
	} else if stale {
		if err := he.setup(in); err != nil {
			return nil, err
		}
	}
	if !he.p.Active() {
		return tensor.ZeroVolume(x.DType(), -1), nil
	}

	out := x.Clone()
	if out.Volume() == 0 {
		return out, nil
	}
	for d := range he.halo {
		if err := he.exchangeAxis(out, d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// exchangeAxis swaps one axis's face slabs with both neighbors, in place.
func (he *HaloExchange) exchangeAxis(t *tensor.RawTensor, d int) error {
	tag := he.p.NextTag()
	h := he.halo[d]
	left, right := he.neighbor(d, -1), he.neighbor(d, +1)
	leftHalo, leftSend, rightSend, rightHalo := he.axisRegions(t.Shape(), d)
	esize := t.DType().Size()

	var reqs []comm.Request
	var leftBuf, rightBuf []byte
	if left >= 0 && h.Left > 0 {
		leftBuf = make([]byte, leftHalo.Volume()*esize)
		req, err := he.p.Irecv(leftBuf, left, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if right >= 0 && h.Right > 0 {
		rightBuf = make([]byte, rightHalo.Volume()*esize)
		req, err := he.p.Irecv(rightBuf, right, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if left >= 0 && h.Right > 0 {
		buf := make([]byte, leftSend.Volume()*esize)
		if err := tensor.PackRegion(t, leftSend, buf); err != nil {
			return err
		}
		req, err := he.p.Isend(buf, left, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if right >= 0 && h.Left > 0 {
		buf := make([]byte, rightSend.Volume()*esize)
		if err := tensor.PackRegion(t, rightSend, buf); err != nil {
			return err
		}
		req, err := he.p.Isend(buf, right, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if err := comm.WaitAll(reqs); err != nil {
		return err
	}

	if leftBuf != nil {
		if err := tensor.UnpackRegion(leftBuf, t, leftHalo); err != nil {
			return err
		}
	}
	if rightBuf != nil {
		if err := tensor.UnpackRegion(rightBuf, t, rightHalo); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAdjoint pushes the halo gradients back onto the neighbors' bulk
// cells, accumulating, and zeroes the local halo slabs. Axes run in reverse
// order so the adjoint unwinds the forward's corner propagation exactly.
func (he *HaloExchange) ApplyAdjoint(gy *tensor.RawTensor) (*tensor.RawTensor, error) {
	metrics.CollectiveCalls.WithLabelValues("haloexchange", "adjoint").Inc()
	if err := he.gate.requireReady(); err != nil {
		return nil, err
	}
	if !he.p.Active() {
		return tensor.ZeroVolume(gy.DType(), -1), nil
	}
	if !tensor.StructureOf(gy).Shape.Equal(he.gate.in.Shape) || gy.DType() != he.gate.in.DType {
		return nil, fmt.Errorf("%w: gradient shape %v, expected %v", ErrStructureMismatch, gy.Shape(), he.gate.in.Shape)
	}

	gx := gy.Clone()
	if gx.Volume() == 0 {
		return gx, nil
	}
	for d := len(he.halo) - 1; d >= 0; d-- {
		if err := he.adjointAxis(gx, d); err != nil {
			return nil, err
		}
	}
	return gx, nil
}

// adjointAxis sends one axis's halo gradients to the owning neighbors,
// accumulates the incoming gradients into the face slabs and clears the
// halos, in place.
func (he *HaloExchange) adjointAxis(t *tensor.RawTensor, d int) error {
	tag := he.p.NextTag()
	h := he.halo[d]
	left, right := he.neighbor(d, -1), he.neighbor(d, +1)
	leftHalo, leftSend, rightSend, rightHalo := he.axisRegions(t.Shape(), d)
	esize := t.DType().Size()

	var reqs []comm.Request
	var leftBuf, rightBuf []byte
	// The left neighbor sends back the gradient it collected in its right
	// halo; it lands on this worker's rightSend slab, and symmetrically for
	// the right neighbor.
	if left >= 0 && h.Right > 0 {
		leftBuf = make([]byte, leftSend.Volume()*esize)
		req, err := he.p.Irecv(leftBuf, left, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if right >= 0 && h.Left > 0 {
		rightBuf = make([]byte, rightSend.Volume()*esize)
		req, err := he.p.Irecv(rightBuf, right, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if left >= 0 && h.Left > 0 {
		buf := make([]byte, leftHalo.Volume()*esize)
		if err := tensor.PackRegion(t, leftHalo, buf); err != nil {
			return err
		}
		req, err := he.p.Isend(buf, left, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if right >= 0 && h.Right > 0 {
		buf := make([]byte, rightHalo.Volume()*esize)
		if err := tensor.PackRegion(t, rightHalo, buf); err != nil {
			return err
		}
		req, err := he.p.Isend(buf, right, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if err := comm.WaitAll(reqs); err != nil {
		return err
	}

	if leftBuf != nil {
		if err := tensor.AccumulateRegion(leftBuf, t, leftSend); err != nil {
			return err
		}
	}
	if rightBuf != nil {
		if err := tensor.AccumulateRegion(rightBuf, t, rightSend); err != nil {
			return err
		}
	}
	if err := tensor.ZeroRegion(t, leftHalo); err != nil {
		return err
	}
	if err := tensor.ZeroRegion(t, rightHalo); err != nil {
		return err
	}
	return nil
}
