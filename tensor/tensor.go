// Copyright 2025 TensorMesh Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// Type aliases for the public API.

// DType is the constraint on Go element types a tensor can be built from or
// viewed as: float32, float64, int32, int64, uint8, bool.
type DType = tensor.DType

// DataType identifies a tensor's element type.
type DataType = tensor.DataType

// Data type constants.
const (
	Float16 DataType = tensor.Float16
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	Uint8   DataType = tensor.Uint8
	Bool    DataType = tensor.Bool
)

// Shape holds a tensor's per-dimension extents. Extents may be zero;
// zero-volume tensors are how workers without local data participate in
// collectives.
type Shape = tensor.Shape

// RawTensor is a flat, contiguous, row-major tensor buffer with shape, data
// type and gradient-requirement metadata.
type RawTensor = tensor.RawTensor

// Structure is the shape/dtype/gradient-flag triple of a tensor, without
// its data. Collectives exchange structures ahead of data so receivers can
// allocate before anything is sent.
type Structure = tensor.Structure

// NewRaw allocates a zero-filled tensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromSlice builds a tensor from a Go slice. The slice is copied; len(data)
// must equal the shape's element count.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// Data returns a typed view of the tensor's buffer, or nil when T does not
// match the tensor's data type or the tensor is empty. The view shares
// memory with the tensor.
func Data[T DType](r *RawTensor) []T {
	return tensor.Data[T](r)
}

// ZeroVolume returns the placeholder tensor a worker without local data
// passes to and receives from collectives: shape [0], or [batch, 0] when a
// batch extent of batch >= 0 should be preserved.
func ZeroVolume(dtype DataType, batch int) *RawTensor {
	return tensor.ZeroVolume(dtype, batch)
}

// StructureOf captures a tensor's structure.
func StructureOf(r *RawTensor) Structure {
	return tensor.StructureOf(r)
}
