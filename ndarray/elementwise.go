package ndarray

import "fmt"

// MapUnary applies fn to every element, preserving shape and calibrations.
// Complex inputs are collapsed to their real parts first.
func MapUnary(src *DataAndMetadata, fn func(float64) float64) *DataAndMetadata {
	out := New(src.Data.Shape, realDType(src.Data.DType))
	for i := 0; i < src.Data.Len(); i++ {
		out.Data[i] = fn(src.Data.Real(i))
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, src.DimensionalCalibrations, src.Metadata)
}

// Zip combines two same-shape arrays elementwise. Calibrations carry over
// from the left operand.
func Zip(a, b *DataAndMetadata, fn func(x, y float64) float64) (*DataAndMetadata, error) {
	if !ShapeEqual(a.Data.Shape, b.Data.Shape) {
		return nil, fmt.Errorf("elementwise: shape mismatch %v vs %v", a.Data.Shape, b.Data.Shape)
	}
	out := New(a.Data.Shape, realDType(a.Data.DType))
	for i := 0; i < a.Data.Len(); i++ {
		out.Data[i] = fn(a.Data.Real(i), b.Data.Real(i))
	}
	return NewDataAndMetadata(out, a.IntensityCalibration, a.DimensionalCalibrations, a.Metadata), nil
}

// ZipScalar combines every element with a scalar; swap controls operand
// order for non-commutative operations.
func ZipScalar(a *DataAndMetadata, scalar float64, swap bool, fn func(x, y float64) float64) *DataAndMetadata {
	out := New(a.Data.Shape, realDType(a.Data.DType))
	for i := 0; i < a.Data.Len(); i++ {
		if swap {
			out.Data[i] = fn(scalar, a.Data.Real(i))
		} else {
			out.Data[i] = fn(a.Data.Real(i), scalar)
		}
	}
	return NewDataAndMetadata(out, a.IntensityCalibration, a.DimensionalCalibrations, a.Metadata)
}

func realDType(d DType) DType {
	if d.IsComplex() {
		return Float64
	}
	return d
}
