package tensor

import (
	"encoding/binary"
	"fmt"
)

// MaxDims is the largest tensor rank the structure wire encoding supports.
const MaxDims = 12

// structureWireSize is the fixed byte size of an encoded Structure:
// rank, dtype and gradient flag plus MaxDims extents, all as int64.
const structureWireSize = (3 + MaxDims) * 8

// Structure is a lightweight description of a tensor's shape, element type
// and gradient requirement, decoupled from the tensor's data. Partitions
// exchange structures before data moves so that workers that hold no local
// data can still allocate correctly shaped receive buffers.
type Structure struct {
	Shape        Shape
	DType        DataType
	RequiresGrad bool
}

// StructureOf captures the structure of a concrete tensor.
func StructureOf(r *RawTensor) Structure {
	return Structure{
		Shape:        r.Shape().Clone(),
		DType:        r.DType(),
		RequiresGrad: r.RequiresGrad(),
	}
}

// ZeroVolumeStructure returns the structure of a placeholder tensor,
// optionally preserving a known batch dimension (batch < 0 disables it).
func ZeroVolumeStructure(dtype DataType, batch int) Structure {
	return StructureOf(ZeroVolume(dtype, batch))
}

// Equal reports whether two structures agree on shape, dtype and gradient
// requirement. Primitives compare structures to decide whether cached slice
// plans can be reused.
func (s Structure) Equal(other Structure) bool {
	return s.DType == other.DType &&
		s.RequiresGrad == other.RequiresGrad &&
		s.Shape.Equal(other.Shape)
}

// Volume returns the element count described by the structure.
func (s Structure) Volume() int {
	return s.Shape.NumElements()
}

// ByteSize returns the buffer size in bytes a tensor of this structure needs.
func (s Structure) ByteSize() int {
	return s.Volume() * s.DType.Size()
}

// NewTensor allocates a zeroed tensor with this structure.
func (s Structure) NewTensor() (*RawTensor, error) {
	raw, err := NewRaw(s.Shape, s.DType)
	if err != nil {
		return nil, err
	}
	raw.SetRequiresGrad(s.RequiresGrad)
	return raw, nil
}

// Encode serializes the structure into a fixed-size record for transport.
func (s Structure) Encode() ([]byte, error) {
	if len(s.Shape) > MaxDims {
		return nil, fmt.Errorf("tensor rank %d exceeds wire limit %d", len(s.Shape), MaxDims)
	}
	buf := make([]byte, structureWireSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(len(s.Shape)))
	binary.LittleEndian.PutUint64(buf[8:], uint64(s.DType))
	var rg uint64
	if s.RequiresGrad {
		rg = 1
	}
	binary.LittleEndian.PutUint64(buf[16:], rg)
	for d, size := range s.Shape {
		binary.LittleEndian.PutUint64(buf[24+8*d:], uint64(size))
	}
	return buf, nil
}

// DecodeStructure deserializes a record produced by Encode.
func DecodeStructure(buf []byte) (Structure, error) {
	if len(buf) < structureWireSize {
		return Structure{}, fmt.Errorf("structure record truncated: %d bytes", len(buf))
	}
	rank := int(binary.LittleEndian.Uint64(buf[0:]))
	if rank < 0 || rank > MaxDims {
		return Structure{}, fmt.Errorf("structure record has invalid rank %d", rank)
	}
	s := Structure{
		Shape:        make(Shape, rank),
		DType:        DataType(binary.LittleEndian.Uint64(buf[8:])),
		RequiresGrad: binary.LittleEndian.Uint64(buf[16:]) != 0,
	}
	for d := 0; d < rank; d++ {
		s.Shape[d] = int(binary.LittleEndian.Uint64(buf[24+8*d:]))
	}
	return s, nil
}

// StructureWireSize returns the fixed encoded size, for sizing receive
// buffers in structure-exchange collectives.
func StructureWireSize() int {
	return structureWireSize
}
