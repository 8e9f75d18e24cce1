package tensor

import (
	"fmt"
	"unsafe"
)

// RawTensor is the low-level tensor representation: a contiguous row-major
// byte buffer plus runtime shape and type information. Collective primitives
// operate on RawTensors directly because they manage packing and unpacking
// into flat communication buffers themselves.
type RawTensor struct {
	data         []byte
	shape        Shape
	stride       []int
	dtype        DataType
	requiresGrad bool
}

// NewRaw creates a new RawTensor with the given shape and type. Memory is
// allocated and zero-initialized. Zero extents are allowed; the resulting
// tensor holds no data but remains structurally valid.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}, nil
}

// ZeroVolume creates a placeholder tensor representing "no local data".
// With batch < 0 the shape is [0]; otherwise the batch dimension is
// preserved and the shape is [batch, 0], so downstream consumers can still
// read a meaningful global batch size off an otherwise empty operand.
func ZeroVolume(dtype DataType, batch int) *RawTensor {
	shape := Shape{0}
	if batch >= 0 {
		shape = Shape{batch, 0}
	}
	raw, _ := NewRaw(shape, dtype)
	return raw
}

// FromSlice creates a RawTensor from a Go slice. The slice is copied.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}

	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy))
	if err != nil {
		return nil, err
	}
	copy(Data[T](raw), data)
	return raw, nil
}

// Data returns a typed slice view of the tensor's data (zero-copy).
// Panics if T does not match the tensor's dtype.
func Data[T DType](r *RawTensor) []T {
	var dummy T
	if want := inferDataType(dummy); want != r.dtype {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", r.dtype, want))
	}
	if r.NumElements() == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's row-major memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// Volume reports the element count with zero-extent dimensions taken into
// account; it equals NumElements and exists for readability at call sites
// that test for zero-volume operands.
func (r *RawTensor) Volume() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Bytes returns the raw byte buffer.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Bytes() []byte {
	return r.data
}

// RequiresGrad reports whether this tensor participates in gradient
// propagation.
func (r *RawTensor) RequiresGrad() bool {
	return r.requiresGrad
}

// SetRequiresGrad marks the tensor for gradient propagation and returns the
// tensor for chaining.
func (r *RawTensor) SetRequiresGrad(v bool) *RawTensor {
	r.requiresGrad = v
	return r
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	if r.NumElements() == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	if r.NumElements() == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat16Bits interprets the data as the raw IEEE 754 half-precision bit
// patterns. Use the float16 package to convert individual values.
// Panics if the tensor's dtype is not Float16.
func (r *RawTensor) AsFloat16Bits() []uint16 {
	if r.dtype != Float16 {
		panic(fmt.Sprintf("tensor dtype is %s, not float16", r.dtype))
	}
	if r.NumElements() == 0 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	if r.NumElements() == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	if r.NumElements() == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsUint8 interprets the data as []uint8.
// Panics if the tensor's dtype is not Uint8.
func (r *RawTensor) AsUint8() []uint8 {
	if r.dtype != Uint8 {
		panic(fmt.Sprintf("tensor dtype is %s, not uint8", r.dtype))
	}
	return r.data
}

// Clone creates a deep copy of the tensor. The gradient flag is carried
// over; collective primitives use Clone when forward output aliases input.
func (r *RawTensor) Clone() *RawTensor {
	out := &RawTensor{
		data:         append([]byte(nil), r.data...),
		shape:        r.shape.Clone(),
		stride:       append([]int(nil), r.stride...),
		dtype:        r.dtype,
		requiresGrad: r.requiresGrad,
	}
	return out
}

// String returns a human-readable representation of the tensor.
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor[%s]%v", r.dtype, r.shape)
}

// bytesAs reinterprets a byte slice as n elements of type T (zero-copy).
func bytesAs[T any](b []byte, n int) []T {
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}
