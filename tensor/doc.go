// Copyright 2025 TensorMesh Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for TensorMesh tensor data.
//
// # Overview
//
// A RawTensor is a flat, contiguous, row-major buffer with a shape, a data
// type and a gradient-requirement flag. TensorMesh moves raw tensors between
// workers; it does not compute on them, so this package carries no math
// beyond what data movement needs (region packing, elementwise sums for
// reductions).
//
// # Basic Usage
//
//	x, err := tensor.FromSlice(data, tensor.Shape{4, 3})
//	if err != nil { ... }
//	fmt.Println(x.Shape(), x.DType())
//	values := tensor.Data[float32](x)
//
// # Zero-volume tensors
//
// Workers that hold no block of a distributed tensor still flow through
// every collective call site. They carry zero-volume tensors: valid tensors
// with zero elements, created by ZeroVolume. A batch extent can be preserved
// on them so batch-dependent bookkeeping keeps working on inactive workers.
//
// # Supported Data Types
//
//   - float16 (stored as raw bits, converted through x448/float16)
//   - float32, float64
//   - int32, int64
//   - uint8
//   - bool (movable, but not summable in reductions)
package tensor
