package tensor

import (
	"testing"
)

func TestNewRawZeroed(t *testing.T) {
	raw, err := NewRaw(Shape{3, 2}, Int64)
	if err != nil {
		t.Fatalf("NewRaw failed: %v", err)
	}
	for i, v := range raw.AsInt64() {
		if v != 0 {
			t.Errorf("element %d = %d, want 0", i, v)
		}
	}
	if raw.ByteSize() != 6*8 {
		t.Errorf("ByteSize = %d, want 48", raw.ByteSize())
	}
}

func TestFromSliceRoundTrip(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	raw, err := FromSlice(data, Shape{2, 3})
	if err != nil {
		t.Fatalf("FromSlice failed: %v", err)
	}
	got := Data[float32](raw)
	for i := range data {
		if got[i] != data[i] {
			t.Errorf("element %d = %v, want %v", i, got[i], data[i])
		}
	}
	// The slice was copied, not aliased.
	data[0] = 99
	if Data[float32](raw)[0] == 99 {
		t.Error("FromSlice aliased the input slice")
	}
}

func TestFromSliceLengthMismatch(t *testing.T) {
	if _, err := FromSlice([]float32{1, 2, 3}, Shape{2, 2}); err == nil {
		t.Error("expected error for 3 elements into shape [2 2]")
	}
}

func TestDataZeroCopy(t *testing.T) {
	raw, _ := NewRaw(Shape{4}, Float64)
	Data[float64](raw)[2] = 7.5
	if raw.AsFloat64()[2] != 7.5 {
		t.Error("Data should return a zero-copy view")
	}
}

func TestZeroVolume(t *testing.T) {
	z := ZeroVolume(Float32, -1)
	if z.Volume() != 0 {
		t.Errorf("Volume = %d, want 0", z.Volume())
	}
	if !z.Shape().Equal(Shape{0}) {
		t.Errorf("Shape = %v, want [0]", z.Shape())
	}
	if z.AsFloat32() != nil {
		t.Error("typed view of an empty tensor should be nil")
	}

	zb := ZeroVolume(Float32, 8)
	if !zb.Shape().Equal(Shape{8, 0}) {
		t.Errorf("Shape = %v, want [8 0]", zb.Shape())
	}
	if zb.Volume() != 0 {
		t.Errorf("Volume = %d, want 0", zb.Volume())
	}
}

func TestCloneIsDeep(t *testing.T) {
	raw, _ := FromSlice([]int32{1, 2, 3, 4}, Shape{2, 2})
	raw.SetRequiresGrad(true)
	clone := raw.Clone()
	clone.AsInt32()[0] = 100
	if raw.AsInt32()[0] != 1 {
		t.Error("Clone shares the data buffer")
	}
	if !clone.RequiresGrad() {
		t.Error("Clone dropped the gradient flag")
	}
}

func TestFloat16Bits(t *testing.T) {
	raw, _ := NewRaw(Shape{2}, Float16)
	bits := raw.AsFloat16Bits()
	if len(bits) != 2 {
		t.Fatalf("AsFloat16Bits length = %d, want 2", len(bits))
	}
	bits[0] = 0x3C00 // 1.0
	if raw.AsFloat16Bits()[0] != 0x3C00 {
		t.Error("AsFloat16Bits should return a zero-copy view")
	}
}

func TestDataTypeSizes(t *testing.T) {
	want := map[DataType]int{
		Float16: 2, Float32: 4, Float64: 8,
		Int32: 4, Int64: 8, Uint8: 1, Bool: 1,
	}
	for dt, size := range want {
		if dt.Size() != size {
			t.Errorf("%s.Size() = %d, want %d", dt, dt.Size(), size)
		}
	}
}
