package collective

import (
	"fmt"

	"github.com/tensormesh/tensormesh/internal/slicing"
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// slicePair maps one remote worker's block between its Cartesian position in
// a local tensor and its range in the flattened communication buffer.
type slicePair struct {
	// Region is the block's position in the local (gathered-extent) tensor.
	Region slicing.Region

	// FlatLo and FlatHi delimit the block in the flattened buffer, in
	// bytes. Blocks are laid out in ascending subgroup rank order.
	FlatLo int
	FlatHi int
}

// slicePlan is the precomputed pack/unpack layout for one tensor structure.
// It is computed once per structure and reused across every forward and
// adjoint call until the structure changes.
type slicePlan struct {
	pairs     []slicePair
	totalSize int // bytes of the flattened buffer
}

// buffer allocates the flattened communication buffer the plan describes.
func (pl *slicePlan) buffer() []byte {
	return make([]byte, pl.totalSize)
}

// segment returns the flat buffer range for subgroup rank s.
func (pl *slicePlan) segment(buf []byte, s int) []byte {
	return buf[pl.pairs[s].FlatLo:pl.pairs[s].FlatHi]
}

// axesPlan builds the slice plan shared by AllGather and ReduceScatter for a
// tensor whose extent along the given axes spans the whole subgroup: entry s
// is the block owned by subgroup rank s under balanced division of the full
// shape's axis extents across the subgroup grid. Non-axis dimensions are
// never split. Row-major subgroup rank order matches the coordinate
// assignment of SubPartitionAlongAxes.
func axesPlan(full tensor.Shape, subShape, axes []int, dtype tensor.DataType) (*slicePlan, error) {
	if len(subShape) != len(axes) {
		return nil, fmt.Errorf("%w: %d axes for subgroup shape %v", ErrConfig, len(axes), subShape)
	}
	for _, a := range axes {
		if a < 0 || a >= len(full) {
			return nil, fmt.Errorf("%w: axis %d out of range for tensor rank %d", ErrConfig, a, len(full))
		}
	}

	members := slicing.GridSize(subShape)
	pl := &slicePlan{pairs: make([]slicePair, members)}
	esize := dtype.Size()
	for s := 0; s < members; s++ {
		subCoords := slicing.CoordsOf(s, subShape)
		start := make([]int, len(full))
		stop := make([]int, len(full))
		for d := range full {
			stop[d] = full[d]
		}
		for i, a := range axes {
			start[a] = slicing.Start(subShape[i], subCoords[i], full[a])
			stop[a] = slicing.Stop(subShape[i], subCoords[i], full[a])
		}
		region := slicing.NewRegion(start, stop)
		bytes := region.Volume() * esize
		pl.pairs[s] = slicePair{
			Region: region,
			FlatLo: pl.totalSize,
			FlatHi: pl.totalSize + bytes,
		}
		pl.totalSize += bytes
	}
	return pl, nil
}
