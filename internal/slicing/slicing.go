// Package slicing implements the index arithmetic behind tensor
// partitioning: balanced division of global extents across Cartesian worker
// grids, half-open regions, and region intersections between two
// partitionings of the same global tensor.
//
// Everything in this package is pure integer math with no I/O, so the same
// computation performed independently on every worker yields identical
// results. Collective layers rely on that determinism to agree on message
// layouts without negotiation.
package slicing

import "fmt"

// Region describes an N-dimensional sub-block of a tensor as per-dimension
// half-open [Start, Stop) intervals.
type Region struct {
	Start []int
	Stop  []int
}

// NewRegion builds a region from parallel start/stop slices.
// Panics if the lengths differ; regions are always constructed internally
// from same-length coordinate vectors.
func NewRegion(start, stop []int) Region {
	if len(start) != len(stop) {
		panic(fmt.Sprintf("region start/stop rank mismatch: %d != %d", len(start), len(stop)))
	}
	return Region{Start: start, Stop: stop}
}

// Dims returns the dimensionality of the region.
func (r Region) Dims() int {
	return len(r.Start)
}

// Extent returns the size of the region along dimension d, clipped to zero.
func (r Region) Extent(d int) int {
	n := r.Stop[d] - r.Start[d]
	if n < 0 {
		return 0
	}
	return n
}

// Shape returns the per-dimension extents, each clipped to zero.
func (r Region) Shape() []int {
	shape := make([]int, r.Dims())
	for d := range shape {
		shape[d] = r.Extent(d)
	}
	return shape
}

// Volume returns the number of elements covered by the region. Any
// non-positive extent forces the volume to zero.
func (r Region) Volume() int {
	v := 1
	for d := range r.Start {
		n := r.Extent(d)
		if n == 0 {
			return 0
		}
		v *= n
	}
	return v
}

// Shift returns the region translated by -offset in every dimension, i.e.
// re-expressed relative to a block whose global origin is offset.
func (r Region) Shift(offset []int) Region {
	start := make([]int, r.Dims())
	stop := make([]int, r.Dims())
	for d := range start {
		start[d] = r.Start[d] - offset[d]
		stop[d] = r.Stop[d] - offset[d]
	}
	return Region{Start: start, Stop: stop}
}

// Subsize computes the extent owned by coordinate coord when size elements
// are divided across dims workers using balanced division: the first
// size%dims coordinates receive one extra element. The extents across all
// coordinates sum exactly to size.
func Subsize(dims, coord, size int) int {
	n := size / dims
	if coord < size%dims {
		n++
	}
	return n
}

// Start computes the offset of coordinate coord's block, such that
// consecutive Start/Subsize pairs tile [0, size) with no gaps or overlaps.
func Start(dims, coord, size int) int {
	return coord*(size/dims) + min(coord, size%dims)
}

// Stop returns Start + Subsize for the given coordinate.
func Stop(dims, coord, size int) int {
	return Start(dims, coord, size) + Subsize(dims, coord, size)
}

// Subsizes computes the per-dimension extents of the block at coords in a
// grid of shape dims over a global tensor of the given sizes.
func Subsizes(dims, coords, sizes []int) []int {
	out := make([]int, len(sizes))
	for d := range sizes {
		out[d] = Subsize(dims[d], coords[d], sizes[d])
	}
	return out
}

// WorkerRegion computes the global region owned by the worker at coords in a
// grid of shape dims over a global tensor of the given sizes.
func WorkerRegion(dims, coords, sizes []int) Region {
	start := make([]int, len(sizes))
	stop := make([]int, len(sizes))
	for d := range sizes {
		start[d] = Start(dims[d], coords[d], sizes[d])
		stop[d] = Stop(dims[d], coords[d], sizes[d])
	}
	return Region{Start: start, Stop: stop}
}

// Intersection computes the per-dimension overlap of two regions:
// max of starts, min of stops. The result may have zero volume.
func Intersection(a, b Region) Region {
	start := make([]int, a.Dims())
	stop := make([]int, a.Dims())
	for d := range start {
		start[d] = max(a.Start[d], b.Start[d])
		stop[d] = min(a.Stop[d], b.Stop[d])
	}
	return Region{Start: start, Stop: stop}
}

// CoordsOf converts a row-major rank (last axis fastest-varying) into
// Cartesian coordinates for a grid of the given shape.
func CoordsOf(rank int, shape []int) []int {
	coords := make([]int, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		coords[d] = rank % shape[d]
		rank /= shape[d]
	}
	return coords
}

// RankOf converts Cartesian coordinates into a row-major rank.
func RankOf(coords, shape []int) int {
	rank := 0
	for d := range shape {
		rank = rank*shape[d] + coords[d]
	}
	return rank
}

// GridSize returns the number of workers in a grid of the given shape.
func GridSize(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// PartitionIntersection computes, for the worker at aCoords in partitioning
// aShape, the intersection of its block with every worker's block in
// partitioning bShape over the same global tensor. The returned slice has
// one entry per B worker in ascending row-major rank order; entries with no
// overlap are nil, all others are expressed relative to the calling worker's
// local block origin. Both sides of an exchange compute this table
// independently and arrive at the same message layout.
func PartitionIntersection(aShape, aCoords, bShape, global []int) []*Region {
	mine := WorkerRegion(aShape, aCoords, global)
	out := make([]*Region, GridSize(bShape))
	for s := range out {
		theirs := WorkerRegion(bShape, CoordsOf(s, bShape), global)
		overlap := Intersection(mine, theirs)
		if overlap.Volume() == 0 {
			continue
		}
		rel := overlap.Shift(mine.Start)
		out[s] = &rel
	}
	return out
}
