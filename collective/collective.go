// Copyright 2025 TensorMesh Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package collective provides the public API for the TensorMesh data
// movement primitives.
//
// # Overview
//
// Every primitive is an operator object with a forward Apply and an exact
// mathematical adjoint ApplyAdjoint, so gradients propagate backward
// through the same operator that moved the data forward:
//
//   - AllGather / ReduceScatter: adjoints of each other, over axis subgroups
//   - Broadcast / SumReduce: adjoints of each other, over send/recv partitions
//   - AllSumReduce: self-adjoint
//   - Repartition: adjoint is the reverse repartition
//   - HaloExchange: adjoint pushes halo gradients back onto neighbor bulk
//
// # Setup and caching
//
// Primitives set themselves up lazily on the first Apply and cache their
// communication plans. A change of input shape or gradient flag triggers a
// re-setup; a change of data type returns ErrStructureMismatch.
//
// # Call discipline
//
// Every worker in the union of a primitive's partitions must construct the
// primitive and call Apply/ApplyAdjoint, in the same order as its peers.
// Workers without local data pass zero-volume tensors and get zero-volume
// tensors back; they never block.
package collective

import (
	"github.com/tensormesh/tensormesh/internal/collective"
	"github.com/tensormesh/tensormesh/internal/partition"
)

// Options carries the operation-specific knobs shared across primitives.
type Options = collective.Options

// HaloDepth gives one axis's left and right halo widths.
type HaloDepth = collective.HaloDepth

// Sentinel errors.
var (
	// ErrConfig is returned when a primitive is constructed or set up with
	// incompatible partitions, axes or depths.
	ErrConfig = collective.ErrConfig

	// ErrStructureMismatch is returned when a tensor's structure cannot be
	// reconciled with the primitive's established structure.
	ErrStructureMismatch = collective.ErrStructureMismatch

	// ErrNotSetUp is returned by ApplyAdjoint before any Apply.
	ErrNotSetUp = collective.ErrNotSetUp
)

// The primitive operator types.
type (
	AllGather     = collective.AllGather
	ReduceScatter = collective.ReduceScatter
	Broadcast     = collective.Broadcast
	SumReduce     = collective.SumReduce
	AllSumReduce  = collective.AllSumReduce
	Repartition   = collective.Repartition
	HaloExchange  = collective.HaloExchange
)

// NewAllGather builds an all-gather over the Cartesian partition p along the
// given tensor axes.
func NewAllGather(p *partition.Partition, axes []int) (*AllGather, error) {
	return collective.NewAllGather(p, axes)
}

// NewReduceScatter builds a sum-reduce-scatter over the Cartesian partition
// p along the given tensor axes.
func NewReduceScatter(p *partition.Partition, axes []int) (*ReduceScatter, error) {
	return collective.NewReduceScatter(p, axes)
}

// NewBroadcast builds a broadcast from rank 0 of the send partition to the
// members of the receive partition.
func NewBroadcast(send, recv *partition.Partition, opts Options) (*Broadcast, error) {
	return collective.NewBroadcast(send, recv, opts)
}

// NewSumReduce builds a sum-reduction from the members of the send partition
// onto rank 0 of the receive partition.
func NewSumReduce(send, recv *partition.Partition, opts Options) (*SumReduce, error) {
	return collective.NewSumReduce(send, recv, opts)
}

// NewAllSumReduce builds an all-sum-reduction over the Cartesian partition p
// along the given axes.
func NewAllSumReduce(p *partition.Partition, axes []int, opts Options) (*AllSumReduce, error) {
	return collective.NewAllSumReduce(p, axes, opts)
}

// NewRepartition builds a resharding of a global tensor from Cartesian
// decomposition a to Cartesian decomposition b.
func NewRepartition(a, b *partition.Partition, opts Options) (*Repartition, error) {
	return collective.NewRepartition(a, b, opts)
}

// NewHaloExchange builds a halo exchange over the Cartesian partition p with
// one HaloDepth per tensor axis.
func NewHaloExchange(p *partition.Partition, halo []HaloDepth) (*HaloExchange, error) {
	return collective.NewHaloExchange(p, halo)
}
