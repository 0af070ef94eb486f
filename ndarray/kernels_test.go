package ndarray

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGrid(shape []int, values ...float64) *DataAndMetadata {
	a := New(shape, Float64)
	copy(a.Data, values)
	return NewDataAndMetadata(a, Identity(), nil, nil)
}

func TestFFTConstantImage(t *testing.T) {
	src := newGrid([]int{2, 2}, 1, 1, 1, 1)
	out, err := FFT(src)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2}, out.Shape())
	assert.Equal(t, Complex128, out.DType())
	assert.InDelta(t, 4, real(out.Data.CData[0]), 1e-9, "all energy in the dc term")
	for _, c := range out.Data.CData[1:] {
		assert.InDelta(t, 0, real(c), 1e-9)
		assert.InDelta(t, 0, imag(c), 1e-9)
	}
}

func TestFFTRoundTrip(t *testing.T) {
	src := newGrid([]int{4}, 1, 2, 3, 4)
	forward, err := FFT(src)
	require.NoError(t, err)
	back, err := IFFT(forward)
	require.NoError(t, err)

	require.Equal(t, []int{4}, back.Shape())
	for i, want := range src.Data.Data {
		assert.InDelta(t, want, real(back.Data.CData[i]), 1e-9)
		assert.InDelta(t, 0, imag(back.Data.CData[i]), 1e-9)
	}
}

func TestFFTCalibrations(t *testing.T) {
	src := newGrid([]int{4}, 1, 2, 3, 4)
	src.DimensionalCalibrations[0] = Calibration{Scale: 0.5, Units: "nm"}
	out, err := FFT(src)
	require.NoError(t, err)

	require.Len(t, out.DimensionalCalibrations, 1)
	assert.InDelta(t, 1.0/(0.5*4), out.DimensionalCalibrations[0].Scale, 1e-9)
	assert.Equal(t, "1/nm", out.DimensionalCalibrations[0].Units)
}

func TestCrop(t *testing.T) {
	src := newGrid([]int{4, 4},
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
		12, 13, 14, 15)
	out, err := Crop(src, Rect{Top: 0.25, Left: 0.25, Height: 0.5, Width: 0.5})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2}, out.Shape())
	assert.Equal(t, []float64{5, 6, 9, 10}, out.Data.Data)
	assert.InDelta(t, 1, out.DimensionalCalibrations[0].Offset, 1e-9)

	_, err = Crop(newGrid([]int{4}, 0, 0, 0, 0), Rect{Height: 1, Width: 1})
	assert.Error(t, err, "crop requires 2d data")
}

func TestSliceSum(t *testing.T) {
	src := newGrid([]int{3, 2, 2},
		1, 1, 1, 1,
		2, 2, 2, 2,
		4, 4, 4, 4)

	single, err := SliceSum(src, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, single.Shape())
	assert.Equal(t, []float64{2, 2, 2, 2}, single.Data.Data)

	band, err := SliceSum(src, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 7, 7, 7}, band.Data.Data)
}

func TestPick(t *testing.T) {
	src := newGrid([]int{2, 2, 3},
		0, 1, 2,
		3, 4, 5,
		6, 7, 8,
		9, 10, 11)
	out, err := Pick(src, 0, 0.5)
	require.NoError(t, err)

	assert.Equal(t, []int{3}, out.Shape())
	assert.Equal(t, []float64{3, 4, 5}, out.Data.Data)

	_, err = Pick(newGrid([]int{2, 2}, 0, 0, 0, 0), 0, 0)
	assert.Error(t, err, "pick requires 3d data")
}

func TestProject(t *testing.T) {
	src := newGrid([]int{2, 3}, 1, 2, 3, 4, 5, 6)
	out, err := Project(src)
	require.NoError(t, err)

	assert.Equal(t, []int{3}, out.Shape())
	assert.Equal(t, []float64{5, 7, 9}, out.Data.Data)
}

func TestLineProfile(t *testing.T) {
	src := newGrid([]int{4, 4},
		0, 1, 2, 3,
		10, 11, 12, 13,
		20, 21, 22, 23,
		30, 31, 32, 33)
	out, err := LineProfile(src, Vector{StartY: 0.25, StartX: 0, EndY: 0.25, EndX: 1}, 1)
	require.NoError(t, err)

	assert.Equal(t, []int{4}, out.Shape())
	assert.Equal(t, []float64{10, 11, 12, 13}, out.Data.Data)
}

func TestHistogram(t *testing.T) {
	src := newGrid([]int{4}, 0, 0.5, 1, 1)
	out, err := Histogram(src, 2)
	require.NoError(t, err)

	assert.Equal(t, []int{2}, out.Shape())
	assert.Equal(t, Int32, out.DType())
	assert.Equal(t, []float64{1, 3}, out.Data.Data)

	_, err = Histogram(src, 0)
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	src := newGrid([]int{2, 2}, 1, 2, 3, 4)
	out, err := Resample(src, []int{4, 4})
	require.NoError(t, err)

	assert.Equal(t, []int{4, 4}, out.Shape())
	assert.EqualValues(t, 1, out.Data.At(0, 0))
	assert.EqualValues(t, 2, out.Data.At(0, 3))
	assert.EqualValues(t, 3, out.Data.At(3, 0))
	assert.EqualValues(t, 4, out.Data.At(3, 3))
	assert.InDelta(t, 0.5, out.DimensionalCalibrations[0].Scale, 1e-9)
}

func TestGaussianBlurPreservesConstantImage(t *testing.T) {
	src := newGrid([]int{4, 4},
		5, 5, 5, 5, 5, 5, 5, 5,
		5, 5, 5, 5, 5, 5, 5, 5)
	out, err := GaussianBlur(src, 1.5)
	require.NoError(t, err)

	assert.Equal(t, []int{4, 4}, out.Shape())
	for _, v := range out.Data.Data {
		assert.InDelta(t, 5, v, 1e-9)
	}
}

func TestMedianAndUniformFilter(t *testing.T) {
	src := newGrid([]int{3, 3},
		1, 1, 1,
		1, 100, 1,
		1, 1, 1)

	median, err := MedianFilter(src, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, median.Data.At(1, 1), "median suppresses the outlier")

	uniform, err := UniformFilter(src, 3)
	require.NoError(t, err)
	assert.InDelta(t, 12, uniform.Data.At(1, 1), 1e-9)
}

func TestSobelAndLaplaceFlatImage(t *testing.T) {
	src := newGrid([]int{3, 3}, 7, 7, 7, 7, 7, 7, 7, 7, 7)

	sobel, err := Sobel(src)
	require.NoError(t, err)
	for _, v := range sobel.Data.Data {
		assert.InDelta(t, 0, v, 1e-9)
	}

	laplace, err := Laplace(src)
	require.NoError(t, err)
	for _, v := range laplace.Data.Data {
		assert.InDelta(t, 0, v, 1e-9)
	}
}

func TestTransposeFlip(t *testing.T) {
	src := newGrid([]int{2, 3}, 1, 2, 3, 4, 5, 6)

	transposed, err := TransposeFlip(src, true, false, false)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, transposed.Shape())
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, transposed.Data.Data)

	flipped, err := TransposeFlip(src, false, false, true)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, flipped.Shape())
	assert.Equal(t, []float64{3, 2, 1, 6, 5, 4}, flipped.Data.Data)
}

func TestAutocorrelateDelta(t *testing.T) {
	src := newGrid([]int{2, 2}, 1, 0, 0, 0)
	out, err := Autocorrelate(src)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0}, out.Data.Data)

	_, err = Crosscorrelate(src, newGrid([]int{2, 3}, 0, 0, 0, 0, 0, 0))
	assert.Error(t, err, "shapes must match")
}

func TestConcatenate(t *testing.T) {
	a := newGrid([]int{2}, 1, 2)
	b := newGrid([]int{2}, 3, 4)
	out, err := Concatenate([]*DataAndMetadata{a, b}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, out.Shape())
	assert.Equal(t, []float64{1, 2, 3, 4}, out.Data.Data)

	_, err = Concatenate([]*DataAndMetadata{a, b}, 1)
	assert.Error(t, err)
}

func TestReshape(t *testing.T) {
	src := newGrid([]int{2, 3}, 1, 2, 3, 4, 5, 6)
	out, err := Reshape(src, []int{3, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, out.Shape())
	assert.Equal(t, src.Data.Data, out.Data.Data)

	_, err = Reshape(src, []int{4})
	assert.Error(t, err)
}

func TestDataSlice(t *testing.T) {
	src := newGrid([]int{3, 4},
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11)

	row, err := DataSlice(src, []SliceSpec{{IsIndex: true, Index: 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{4}, row.Shape())
	assert.Equal(t, []float64{4, 5, 6, 7}, row.Data.Data)

	column, err := DataSlice(src, []SliceSpec{{Start: 1, Stop: 3, HasStop: true}, {IsIndex: true}})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, column.Shape())
	assert.Equal(t, []float64{4, 8}, column.Data.Data)

	_, err = DataSlice(src, []SliceSpec{{}, {}, {}})
	assert.Error(t, err, "key rank exceeds data rank")
}
