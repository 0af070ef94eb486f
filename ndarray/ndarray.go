package ndarray

import (
	"fmt"
)

// DType names the element type of an array as persisted in the "data_dtype"
// record key.
type DType string

const (
	Int16      DType = "int16"
	Int32      DType = "int32"
	Int64      DType = "int64"
	UInt8      DType = "uint8"
	UInt16     DType = "uint16"
	UInt32     DType = "uint32"
	UInt64     DType = "uint64"
	Float32    DType = "float32"
	Float64    DType = "float64"
	Complex64  DType = "complex64"
	Complex128 DType = "complex128"
)

var validDTypes = map[DType]bool{
	Int16: true, Int32: true, Int64: true,
	UInt8: true, UInt16: true, UInt32: true, UInt64: true,
	Float32: true, Float64: true,
	Complex64: true, Complex128: true,
}

// ParseDType maps a persisted dtype name to a DType, defaulting to float64
// for unknown names (mirrors the permissive reader behavior of old records).
func ParseDType(name string) DType {
	if validDTypes[DType(name)] {
		return DType(name)
	}
	return Float64
}

func (d DType) IsComplex() bool { return d == Complex64 || d == Complex128 }

// NDArray is an N-dimensional array in row-major order. Real dtypes are
// backed by Data; complex dtypes by CData. Exactly one backing slice is
// non-nil for a non-empty array.
type NDArray struct {
	Shape []int
	DType DType
	Data  []float64
	CData []complex128
}

// New allocates a zero-filled array.
func New(shape []int, dtype DType) *NDArray {
	n := Size(shape)
	a := &NDArray{Shape: append([]int(nil), shape...), DType: dtype}
	if dtype.IsComplex() {
		a.CData = make([]complex128, n)
	} else {
		a.Data = make([]float64, n)
	}
	return a
}

// Size returns the element count for a shape; a nil shape has size 0.
func Size(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

func (a *NDArray) Len() int {
	return Size(a.Shape)
}

func (a *NDArray) IsComplex() bool { return a.DType.IsComplex() }

// Clone returns a deep copy.
func (a *NDArray) Clone() *NDArray {
	if a == nil {
		return nil
	}
	out := &NDArray{Shape: append([]int(nil), a.Shape...), DType: a.DType}
	if a.Data != nil {
		out.Data = append([]float64(nil), a.Data...)
	}
	if a.CData != nil {
		out.CData = append([]complex128(nil), a.CData...)
	}
	return out
}

// ShapeEqual reports whether two shapes are identical.
func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// offset converts an index vector to a flat offset.
func (a *NDArray) offset(index ...int) int {
	if len(index) != len(a.Shape) {
		panic(fmt.Sprintf("ndarray: index rank %d against shape rank %d", len(index), len(a.Shape)))
	}
	off := 0
	for i, idx := range index {
		off = off*a.Shape[i] + idx
	}
	return off
}

func (a *NDArray) At(index ...int) float64 {
	return a.Data[a.offset(index...)]
}

func (a *NDArray) Set(value float64, index ...int) {
	a.Data[a.offset(index...)] = value
}

func (a *NDArray) CAt(index ...int) complex128 {
	return a.CData[a.offset(index...)]
}

func (a *NDArray) CSet(value complex128, index ...int) {
	a.CData[a.offset(index...)] = value
}

// Real returns the element at a flat offset as a float64, taking the real
// part for complex arrays.
func (a *NDArray) Real(off int) float64 {
	if a.CData != nil {
		return real(a.CData[off])
	}
	return a.Data[off]
}

// SetSubRegion copies src into the region of a starting at origin. Shapes
// must be compatible; the destination buffer is not reallocated.
func (a *NDArray) SetSubRegion(src *NDArray, origin []int) error {
	if len(origin) != len(a.Shape) || len(src.Shape) != len(a.Shape) {
		return fmt.Errorf("ndarray: sub-region rank mismatch")
	}
	for i := range origin {
		if origin[i]+src.Shape[i] > a.Shape[i] {
			return fmt.Errorf("ndarray: sub-region exceeds bounds in dim %d", i)
		}
	}
	var copyRec func(dim int, dstIdx, srcIdx []int)
	copyRec = func(dim int, dstIdx, srcIdx []int) {
		if dim == len(a.Shape) {
			if a.CData != nil {
				a.CSet(src.CAt(srcIdx...), dstIdx...)
			} else {
				a.Set(src.At(srcIdx...), dstIdx...)
			}
			return
		}
		for i := 0; i < src.Shape[dim]; i++ {
			copyRec(dim+1, append(dstIdx, origin[dim]+i), append(srcIdx, i))
		}
	}
	copyRec(0, make([]int, 0, len(a.Shape)), make([]int, 0, len(a.Shape)))
	return nil
}
