// Copyright 2025 TensorMesh Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package partition provides the public API for TensorMesh worker groups.
//
// A Partition is a named subset of the job's workers, optionally arranged
// on a Cartesian grid. Partitions are derived, never negotiated: every
// worker constructs its partitions with the same calls in the same order,
// and tag spaces fall out of the construction sequence deterministically.
//
//	world := partition.NewWorld(tr)
//	grid, err := world.CreateCartesianTopologyPartition([]int{2, 3})
//
// Partition equality (Same) is identity of the underlying group record.
// Two partitions built separately over the same workers are distinct: they
// carry distinct tag spaces and their collectives never interfere.
package partition

import (
	"github.com/tensormesh/tensormesh/internal/comm"
	"github.com/tensormesh/tensormesh/internal/logging"
	"github.com/tensormesh/tensormesh/internal/partition"
)

// Partition is one worker's handle on a worker group.
type Partition = partition.Partition

// Option configures partition construction.
type Option = partition.Option

// Accumulator sums one buffer into another elementwise; reductions take one
// so the group collectives stay element-type agnostic.
type Accumulator = partition.Accumulator

// Logger is the key-value logger partitions and transports report to.
type Logger = logging.Logger

// Sentinel errors.
var (
	// ErrInvalidPartition is returned for malformed constructions.
	ErrInvalidPartition = partition.ErrInvalidPartition

	// ErrDeactivated is returned when operating on a deactivated partition.
	ErrDeactivated = partition.ErrDeactivated
)

// NewWorld creates the root partition spanning every rank of the transport.
func NewWorld(tr comm.Transport, opts ...Option) *Partition {
	return partition.NewWorld(tr, opts...)
}

// WithLogger sets the logger inherited by derived partitions.
func WithLogger(log Logger) Option {
	return partition.WithLogger(log)
}

// NewSlogLogger adapts a *slog.Logger-style default logger for WithLogger.
func NewSlogLogger() Logger {
	return logging.NewSlogDefault()
}
