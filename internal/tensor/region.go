package tensor

import (
	"fmt"

	"github.com/x448/float16"

	"github.com/tensormesh/tensormesh/internal/slicing"
)

// Region packing kernels. Collective primitives precompute the set of
// (cartesian-region, flat-offset) pairs they need per tensor structure and
// then call these kernels on every Apply/ApplyAdjoint to move data between
// local tensors and flat communication buffers. All kernels copy the last
// dimension as one contiguous run.

func checkRegion(r *RawTensor, reg slicing.Region) error {
	if reg.Dims() != len(r.shape) {
		return fmt.Errorf("region rank %d does not match tensor rank %d", reg.Dims(), len(r.shape))
	}
	for d := 0; d < reg.Dims(); d++ {
		if reg.Start[d] < 0 || reg.Stop[d] > r.shape[d] {
			return fmt.Errorf("region %v:%v out of bounds for shape %v", reg.Start, reg.Stop, r.shape)
		}
	}
	return nil
}

// forEachRun invokes fn with (tensorByteOffset, flatByteOffset, runBytes) for
// every contiguous last-dimension run of the region, enumerating runs in
// row-major order. The flat offsets are relative to a buffer holding exactly
// the region's elements.
func forEachRun(r *RawTensor, reg slicing.Region, fn func(tensorOff, flatOff, n int)) {
	dims := reg.Dims()
	esize := r.dtype.Size()
	if dims == 0 {
		fn(0, 0, esize)
		return
	}
	if reg.Volume() == 0 {
		return
	}
	run := reg.Extent(dims-1) * esize

	// Odometer over all dimensions except the last.
	idx := make([]int, dims-1)
	flat := 0
	for {
		off := reg.Start[dims-1]
		for d := 0; d < dims-1; d++ {
			off += (reg.Start[d] + idx[d]) * r.stride[d]
		}
		fn(off*esize, flat, run)
		flat += run

		d := dims - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < reg.Extent(d) {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

// PackRegion copies the given region of src into dst, which must hold at
// least reg.Volume() elements' worth of bytes.
func PackRegion(src *RawTensor, reg slicing.Region, dst []byte) error {
	if err := checkRegion(src, reg); err != nil {
		return err
	}
	if need := reg.Volume() * src.dtype.Size(); len(dst) < need {
		return fmt.Errorf("pack buffer too small: %d < %d", len(dst), need)
	}
	forEachRun(src, reg, func(tensorOff, flatOff, n int) {
		copy(dst[flatOff:flatOff+n], src.data[tensorOff:tensorOff+n])
	})
	return nil
}

// UnpackRegion copies a flat buffer produced by PackRegion (or received from
// a peer) into the given region of dst, overwriting previous contents.
func UnpackRegion(src []byte, dst *RawTensor, reg slicing.Region) error {
	if err := checkRegion(dst, reg); err != nil {
		return err
	}
	if need := reg.Volume() * dst.dtype.Size(); len(src) < need {
		return fmt.Errorf("unpack buffer too small: %d < %d", len(src), need)
	}
	forEachRun(dst, reg, func(tensorOff, flatOff, n int) {
		copy(dst.data[tensorOff:tensorOff+n], src[flatOff:flatOff+n])
	})
	return nil
}

// AccumulateRegion sums a flat buffer into the given region of dst. This is
// the adjoint counterpart of UnpackRegion: where a forward operation
// overwrites, its adjoint accumulates.
func AccumulateRegion(src []byte, dst *RawTensor, reg slicing.Region) error {
	if err := checkRegion(dst, reg); err != nil {
		return err
	}
	if need := reg.Volume() * dst.dtype.Size(); len(src) < need {
		return fmt.Errorf("accumulate buffer too small: %d < %d", len(src), need)
	}
	var kerr error
	forEachRun(dst, reg, func(tensorOff, flatOff, n int) {
		if kerr != nil {
			return
		}
		kerr = AccumulateBytes(dst.dtype, dst.data[tensorOff:tensorOff+n], src[flatOff:flatOff+n])
	})
	return kerr
}

// ZeroRegion clears the given region of dst.
func ZeroRegion(dst *RawTensor, reg slicing.Region) error {
	if err := checkRegion(dst, reg); err != nil {
		return err
	}
	forEachRun(dst, reg, func(tensorOff, _, n int) {
		clear(dst.data[tensorOff : tensorOff+n])
	})
	return nil
}

// FullRegion returns the region covering the whole tensor.
func FullRegion(r *RawTensor) slicing.Region {
	stop := make([]int, len(r.shape))
	copy(stop, r.shape)
	return slicing.NewRegion(make([]int, len(r.shape)), stop)
}

// AccumulateBytes sums src into dst elementwise, interpreting both as the
// given data type. Both buffers must have the same length, a multiple of the
// element size. Bool tensors cannot be summed.
func AccumulateBytes(dtype DataType, dst, src []byte) error {
	if len(dst) != len(src) {
		return fmt.Errorf("accumulate length mismatch: %d != %d", len(dst), len(src))
	}
	n := len(dst) / dtype.Size()
	if n == 0 {
		return nil
	}
	switch dtype {
	case Float16:
		d := bytesAs[uint16](dst, n)
		s := bytesAs[uint16](src, n)
		for i := range d {
			sum := float16.Frombits(d[i]).Float32() + float16.Frombits(s[i]).Float32()
			d[i] = float16.Fromfloat32(sum).Bits()
		}
	case Float32:
		d := bytesAs[float32](dst, n)
		s := bytesAs[float32](src, n)
		for i := range d {
			d[i] += s[i]
		}
	case Float64:
		d := bytesAs[float64](dst, n)
		s := bytesAs[float64](src, n)
		for i := range d {
			d[i] += s[i]
		}
	case Int32:
		d := bytesAs[int32](dst, n)
		s := bytesAs[int32](src, n)
		for i := range d {
			d[i] += s[i]
		}
	case Int64:
		d := bytesAs[int64](dst, n)
		s := bytesAs[int64](src, n)
		for i := range d {
			d[i] += s[i]
		}
	case Uint8:
		for i := range dst {
			dst[i] += src[i]
		}
	default:
		return fmt.Errorf("cannot sum-reduce %s tensors", dtype)
	}
	return nil
}

// ScaleBytes divides every element of buf by scale in place. Used by the
// adjoint of primitives constructed with a backward-pass scale factor.
// Integer types truncate toward zero.
func ScaleBytes(dtype DataType, buf []byte, scale float64) error {
	n := len(buf) / dtype.Size()
	if n == 0 || scale == 1 {
		return nil
	}
	switch dtype {
	case Float16:
		d := bytesAs[uint16](buf, n)
		for i := range d {
			d[i] = float16.Fromfloat32(float32(float64(float16.Frombits(d[i]).Float32()) / scale)).Bits()
		}
	case Float32:
		d := bytesAs[float32](buf, n)
		for i := range d {
			d[i] = float32(float64(d[i]) / scale)
		}
	case Float64:
		d := bytesAs[float64](buf, n)
		for i := range d {
			d[i] /= scale
		}
	case Int32:
		d := bytesAs[int32](buf, n)
		for i := range d {
			d[i] = int32(float64(d[i]) / scale)
		}
	case Int64:
		d := bytesAs[int64](buf, n)
		for i := range d {
			d[i] = int64(float64(d[i]) / scale)
		}
	default:
		return fmt.Errorf("cannot scale %s tensors", dtype)
	}
	return nil
}
