package tensor

import (
	"testing"

	"github.com/x448/float16"

	"github.com/tensormesh/tensormesh/internal/slicing"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestPackRegion(t *testing.T) {
	// 3x4 tensor, pack the 2x2 block at (1,1).
	src, _ := FromSlice(seq(12), Shape{3, 4})
	reg := slicing.NewRegion([]int{1, 1}, []int{3, 3})
	buf := make([]byte, reg.Volume()*4)
	if err := PackRegion(src, reg, buf); err != nil {
		t.Fatalf("PackRegion failed: %v", err)
	}
	got := bytesAs[float32](buf, 4)
	want := []float32{5, 6, 9, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("packed[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestUnpackRegion(t *testing.T) {
	dst, _ := NewRaw(Shape{3, 4}, Float32)
	reg := slicing.NewRegion([]int{0, 2}, []int{2, 4})
	buf := make([]byte, reg.Volume()*4)
	copy(buf, float32Bytes([]float32{1, 2, 3, 4}))
	if err := UnpackRegion(buf, dst, reg); err != nil {
		t.Fatalf("UnpackRegion failed: %v", err)
	}
	want := []float32{0, 0, 1, 2, 0, 0, 3, 4, 0, 0, 0, 0}
	got := dst.AsFloat32()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dst[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	src, _ := FromSlice(seq(24), Shape{2, 3, 4})
	reg := slicing.NewRegion([]int{0, 1, 1}, []int{2, 3, 3})
	buf := make([]byte, reg.Volume()*4)
	if err := PackRegion(src, reg, buf); err != nil {
		t.Fatalf("PackRegion failed: %v", err)
	}
	dst, _ := NewRaw(Shape{2, 3, 4}, Float32)
	if err := UnpackRegion(buf, dst, reg); err != nil {
		t.Fatalf("UnpackRegion failed: %v", err)
	}
	// Inside the region dst matches src; outside it stays zero.
	s, d := src.AsFloat32(), dst.AsFloat32()
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				off := i*12 + j*4 + k
				inside := j >= 1 && j < 3 && k >= 1 && k < 3
				if inside && d[off] != s[off] {
					t.Errorf("(%d,%d,%d) = %v, want %v", i, j, k, d[off], s[off])
				}
				if !inside && d[off] != 0 {
					t.Errorf("(%d,%d,%d) = %v, want 0", i, j, k, d[off])
				}
			}
		}
	}
}

func TestZeroVolumeRegionKernels(t *testing.T) {
	// A zero extent in a leading dimension yields no runs at all; the kernels
	// accept an empty buffer and touch nothing.
	src, _ := FromSlice(seq(4), Shape{1, 4})
	reg := slicing.NewRegion([]int{1, 0}, []int{1, 4})
	if reg.Volume() != 0 {
		t.Fatalf("region volume = %d, want 0", reg.Volume())
	}
	if err := PackRegion(src, reg, nil); err != nil {
		t.Errorf("PackRegion on empty region failed: %v", err)
	}
	if err := UnpackRegion(nil, src, reg); err != nil {
		t.Errorf("UnpackRegion on empty region failed: %v", err)
	}
	if err := AccumulateRegion(nil, src, reg); err != nil {
		t.Errorf("AccumulateRegion on empty region failed: %v", err)
	}
	for i, v := range src.AsFloat32() {
		if v != float32(i) {
			t.Errorf("src[%d] = %v, want %v", i, v, float32(i))
		}
	}
}

func TestAccumulateRegion(t *testing.T) {
	dst, _ := FromSlice([]float32{1, 1, 1, 1}, Shape{2, 2})
	reg := slicing.NewRegion([]int{0, 0}, []int{2, 1})
	buf := float32Bytes([]float32{10, 20})
	if err := AccumulateRegion(buf, dst, reg); err != nil {
		t.Fatalf("AccumulateRegion failed: %v", err)
	}
	want := []float32{11, 1, 21, 1}
	got := dst.AsFloat32()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dst[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestZeroRegion(t *testing.T) {
	dst, _ := FromSlice([]int32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	reg := slicing.NewRegion([]int{1, 0}, []int{2, 3})
	if err := ZeroRegion(dst, reg); err != nil {
		t.Fatalf("ZeroRegion failed: %v", err)
	}
	want := []int32{1, 2, 3, 0, 0, 0}
	got := dst.AsInt32()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dst[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRegionOutOfBounds(t *testing.T) {
	dst, _ := NewRaw(Shape{2, 2}, Float32)
	reg := slicing.NewRegion([]int{0, 0}, []int{3, 2})
	if err := ZeroRegion(dst, reg); err == nil {
		t.Error("expected out-of-bounds error")
	}
}

func TestAccumulateBytesFloat16(t *testing.T) {
	dst := make([]byte, 4)
	src := make([]byte, 4)
	d := bytesAs[uint16](dst, 2)
	s := bytesAs[uint16](src, 2)
	d[0] = float16.Fromfloat32(1.5).Bits()
	s[0] = float16.Fromfloat32(2.25).Bits()
	d[1] = float16.Fromfloat32(-1).Bits()
	s[1] = float16.Fromfloat32(1).Bits()
	if err := AccumulateBytes(Float16, dst, src); err != nil {
		t.Fatalf("AccumulateBytes failed: %v", err)
	}
	if got := float16.Frombits(d[0]).Float32(); got != 3.75 {
		t.Errorf("sum = %v, want 3.75", got)
	}
	if got := float16.Frombits(d[1]).Float32(); got != 0 {
		t.Errorf("sum = %v, want 0", got)
	}
}

func TestAccumulateBytesBoolRejected(t *testing.T) {
	if err := AccumulateBytes(Bool, make([]byte, 2), make([]byte, 2)); err == nil {
		t.Error("expected error summing bool tensors")
	}
}

func TestScaleBytes(t *testing.T) {
	buf := float32Bytes([]float32{2, 4, 6})
	if err := ScaleBytes(Float32, buf, 2); err != nil {
		t.Fatalf("ScaleBytes failed: %v", err)
	}
	got := bytesAs[float32](buf, 3)
	want := []float32{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scaled[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func float32Bytes(v []float32) []byte {
	raw, _ := FromSlice(v, Shape{len(v)})
	return raw.Bytes()
}
