package tensor

import (
	"testing"
)

func TestStructureEncodeDecode(t *testing.T) {
	s := Structure{Shape: Shape{4, 0, 7}, DType: Float64, RequiresGrad: true}
	enc, err := s.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(enc) != StructureWireSize() {
		t.Fatalf("encoded size = %d, want %d", len(enc), StructureWireSize())
	}
	dec, err := DecodeStructure(enc)
	if err != nil {
		t.Fatalf("DecodeStructure failed: %v", err)
	}
	if !dec.Equal(s) {
		t.Errorf("decoded %+v, want %+v", dec, s)
	}
}

func TestStructureEncodeTooManyDims(t *testing.T) {
	s := Structure{Shape: make(Shape, MaxDims+1), DType: Float32}
	if _, err := s.Encode(); err == nil {
		t.Error("expected error for shape beyond MaxDims")
	}
}

func TestStructureOf(t *testing.T) {
	raw, _ := NewRaw(Shape{2, 3}, Int32)
	raw.SetRequiresGrad(true)
	s := StructureOf(raw)
	if !s.Shape.Equal(Shape{2, 3}) || s.DType != Int32 || !s.RequiresGrad {
		t.Errorf("StructureOf = %+v", s)
	}
}

func TestStructureNewTensor(t *testing.T) {
	s := Structure{Shape: Shape{3, 2}, DType: Float32, RequiresGrad: true}
	raw, err := s.NewTensor()
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	if !raw.Shape().Equal(s.Shape) || raw.DType() != s.DType || !raw.RequiresGrad() {
		t.Errorf("NewTensor produced %v %v grad=%v", raw.Shape(), raw.DType(), raw.RequiresGrad())
	}
}

func TestZeroVolumeStructure(t *testing.T) {
	s := ZeroVolumeStructure(Float32, -1)
	if s.Volume() != 0 || !s.Shape.Equal(Shape{0}) {
		t.Errorf("ZeroVolumeStructure(-1) = %+v", s)
	}
	s = ZeroVolumeStructure(Float32, 5)
	if !s.Shape.Equal(Shape{5, 0}) {
		t.Errorf("ZeroVolumeStructure(5) = %+v", s)
	}
}

func TestStructureEqual(t *testing.T) {
	a := Structure{Shape: Shape{2, 2}, DType: Float32}
	b := Structure{Shape: Shape{2, 2}, DType: Float32}
	if !a.Equal(b) {
		t.Error("identical structures unequal")
	}
	b.RequiresGrad = true
	if a.Equal(b) {
		t.Error("gradient flag ignored by Equal")
	}
	c := Structure{Shape: Shape{2, 2}, DType: Float64}
	if a.Equal(c) {
		t.Error("dtype ignored by Equal")
	}
}
