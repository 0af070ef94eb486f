package ndarray

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDType(t *testing.T) {
	assert.Equal(t, Int32, ParseDType("int32"))
	assert.Equal(t, Complex128, ParseDType("complex128"))
	assert.Equal(t, Float64, ParseDType("not-a-dtype"), "unknown names fall back to float64")
	assert.True(t, Complex64.IsComplex())
	assert.False(t, Float32.IsComplex())
}

func TestNewAndIndexing(t *testing.T) {
	a := New([]int{2, 3}, Float64)
	require.Len(t, a.Data, 6)
	a.Set(7, 1, 2)
	assert.EqualValues(t, 7, a.At(1, 2))
	assert.EqualValues(t, 7, a.Real(5))

	c := New([]int{2}, Complex128)
	require.Len(t, c.CData, 2)
	c.CSet(complex(1, 2), 1)
	assert.Equal(t, complex(1, 2), c.CAt(1))
	assert.EqualValues(t, 1, c.Real(1))
}

func TestCloneIsDeep(t *testing.T) {
	a := New([]int{2}, Float64)
	a.Data[0] = 1
	clone := a.Clone()
	clone.Data[0] = 9
	clone.Shape[0] = 5
	assert.EqualValues(t, 1, a.Data[0])
	assert.Equal(t, []int{2}, a.Shape)
}

func TestSetSubRegion(t *testing.T) {
	dst := New([]int{4, 4}, Float64)
	src := New([]int{2, 2}, Float64)
	for i := range src.Data {
		src.Data[i] = 1
	}
	require.NoError(t, dst.SetSubRegion(src, []int{1, 1}))
	assert.EqualValues(t, 1, dst.At(1, 1))
	assert.EqualValues(t, 1, dst.At(2, 2))
	assert.EqualValues(t, 0, dst.At(0, 0))
	assert.EqualValues(t, 0, dst.At(3, 3))

	assert.Error(t, dst.SetSubRegion(src, []int{3, 3}), "region exceeds bounds")
	assert.Error(t, dst.SetSubRegion(src, []int{0}), "rank mismatch")
}

func TestSerializeRoundTrip(t *testing.T) {
	a := New([]int{2, 3}, Float64)
	for i := range a.Data {
		a.Data[i] = float64(i) * 1.5
	}
	raw, err := a.Serialize()
	require.NoError(t, err)
	restored, err := Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, a.Shape, restored.Shape)
	assert.Equal(t, a.DType, restored.DType)
	assert.Equal(t, a.Data, restored.Data)
}

func TestSerializeComplexRoundTrip(t *testing.T) {
	a := New([]int{2}, Complex128)
	a.CData[0] = complex(1, -2)
	a.CData[1] = complex(3, 4)
	raw, err := a.Serialize()
	require.NoError(t, err)
	restored, err := Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, a.CData, restored.CData)
}

func TestDeserializeRejectsBadInput(t *testing.T) {
	_, err := Deserialize([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	assert.Error(t, err)
	_, err = Deserialize(nil)
	assert.Error(t, err)
}

func TestCalibration(t *testing.T) {
	c := Calibration{Offset: 10, Scale: 2, Units: "nm"}
	assert.InDelta(t, 14, c.ConvertToCalibrated(2), 1e-9)
	assert.InDelta(t, 3, Calibration{Offset: 3}.ConvertToCalibrated(0), 1e-9, "zero scale acts as identity")

	restored := CalibrationFromDict(c.ToDict())
	assert.Equal(t, c, restored)

	assert.Equal(t, Identity(), CalibrationFromDict(map[string]any{}))
}

func TestNewDataAndMetadataPadsCalibrations(t *testing.T) {
	a := New([]int{2, 3}, Float64)
	d := NewDataAndMetadata(a, Identity(), []Calibration{{Scale: 2, Units: "nm"}}, nil)
	require.Len(t, d.DimensionalCalibrations, 2)
	assert.Equal(t, "nm", d.DimensionalCalibrations[0].Units)
	assert.Equal(t, Identity(), d.DimensionalCalibrations[1])
	assert.NotNil(t, d.Metadata)
}

func TestElementwise(t *testing.T) {
	a := newGrid([]int{3}, 1, 2, 3)
	b := newGrid([]int{3}, 10, 20, 30)

	sum, err := Zip(a, b, func(x, y float64) float64 { return x + y })
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 22, 33}, sum.Data.Data)

	_, err = Zip(a, newGrid([]int{2}, 0, 0), func(x, y float64) float64 { return x })
	assert.Error(t, err)

	scaled := ZipScalar(a, 10, false, func(x, y float64) float64 { return x - y })
	assert.Equal(t, []float64{-9, -8, -7}, scaled.Data.Data)

	swapped := ZipScalar(a, 10, true, func(x, y float64) float64 { return x - y })
	assert.Equal(t, []float64{9, 8, 7}, swapped.Data.Data)

	negated := MapUnary(a, func(x float64) float64 { return -x })
	assert.Equal(t, []float64{-1, -2, -3}, negated.Data.Data)
}
