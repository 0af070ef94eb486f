package ndarray

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

// Layout describes the shape and dtype a kernel will produce. Every kernel
// derives its layout analytically from the inputs so the computation graph
// can know output shapes before evaluation completes.
type Layout struct {
	Shape []int
	DType DType
}

// Rect is a normalized rectangle (fractions of the source shape).
type Rect struct {
	Top, Left, Height, Width float64
}

// Vector is a normalized line from Start to End, each (y, x).
type Vector struct {
	StartY, StartX, EndY, EndX float64
}

// FFTLayout: same shape, complex dtype.
func FFTLayout(src *NDArray) Layout {
	return Layout{Shape: append([]int(nil), src.Shape...), DType: Complex128}
}

// FFT computes the discrete Fourier transform along every dimension (1D or
// 2D supported). Dimensional calibrations invert to reciprocal units.
func FFT(src *DataAndMetadata) (*DataAndMetadata, error) {
	layout := FFTLayout(src.Data)
	out := New(layout.Shape, layout.DType)
	switch len(src.Data.Shape) {
	case 1:
		dft1(toComplex(src.Data), out.CData, false)
	case 2:
		dft2(src.Data, out, false)
	default:
		return nil, fmt.Errorf("fft: unsupported rank %d", len(src.Data.Shape))
	}
	dimensional := make([]Calibration, len(layout.Shape))
	for i, dim := range layout.Shape {
		scale := src.DimensionalCalibrations[i].Scale
		if scale == 0 {
			scale = 1
		}
		dimensional[i] = Calibration{Scale: 1.0 / (scale * float64(dim)), Units: "1/" + src.DimensionalCalibrations[i].Units}
	}
	return NewDataAndMetadata(out, Identity(), dimensional, src.Metadata), nil
}

// IFFT inverts FFT; the output is complex with the reciprocal calibration
// inverted back.
func IFFT(src *DataAndMetadata) (*DataAndMetadata, error) {
	layout := FFTLayout(src.Data)
	out := New(layout.Shape, layout.DType)
	switch len(src.Data.Shape) {
	case 1:
		dft1(toComplex(src.Data), out.CData, true)
	case 2:
		dft2(src.Data, out, true)
	default:
		return nil, fmt.Errorf("ifft: unsupported rank %d", len(src.Data.Shape))
	}
	return NewDataAndMetadata(out, Identity(), nil, src.Metadata), nil
}

func toComplex(a *NDArray) []complex128 {
	if a.CData != nil {
		return a.CData
	}
	out := make([]complex128, len(a.Data))
	for i, v := range a.Data {
		out[i] = complex(v, 0)
	}
	return out
}

func dft1(in []complex128, out []complex128, inverse bool) {
	n := len(in)
	sign := -2.0 * math.Pi
	if inverse {
		sign = 2.0 * math.Pi
	}
	for k := 0; k < n; k++ {
		var sum complex128
		for t := 0; t < n; t++ {
			angle := sign * float64(k) * float64(t) / float64(n)
			sum += in[t] * cmplx.Exp(complex(0, angle))
		}
		if inverse {
			sum /= complex(float64(n), 0)
		}
		out[k] = sum
	}
}

func dft2(src *NDArray, out *NDArray, inverse bool) {
	h, w := src.Shape[0], src.Shape[1]
	in := toComplex(src)
	rows := make([]complex128, w)
	rowOut := make([]complex128, w)
	tmp := make([]complex128, h*w)
	for y := 0; y < h; y++ {
		copy(rows, in[y*w:(y+1)*w])
		dft1(rows, rowOut, inverse)
		copy(tmp[y*w:(y+1)*w], rowOut)
	}
	col := make([]complex128, h)
	colOut := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = tmp[y*w+x]
		}
		dft1(col, colOut, inverse)
		for y := 0; y < h; y++ {
			out.CData[y*w+x] = colOut[y]
		}
	}
}

// CropLayout derives the integer output shape from a normalized bounds rect.
func CropLayout(src *NDArray, bounds Rect) Layout {
	h := int(math.Round(bounds.Height * float64(src.Shape[0])))
	w := int(math.Round(bounds.Width * float64(src.Shape[1])))
	return Layout{Shape: []int{h, w}, DType: src.DType}
}

// Crop extracts a normalized-bounds rectangle of a 2D array. Dimensional
// calibrations carry over with adjusted offsets.
func Crop(src *DataAndMetadata, bounds Rect) (*DataAndMetadata, error) {
	if len(src.Data.Shape) != 2 {
		return nil, fmt.Errorf("crop: requires 2d data, got rank %d", len(src.Data.Shape))
	}
	layout := CropLayout(src.Data, bounds)
	top := int(math.Round(bounds.Top * float64(src.Data.Shape[0])))
	left := int(math.Round(bounds.Left * float64(src.Data.Shape[1])))
	out := New(layout.Shape, layout.DType)
	for y := 0; y < layout.Shape[0]; y++ {
		for x := 0; x < layout.Shape[1]; x++ {
			sy, sx := top+y, left+x
			if sy < 0 || sy >= src.Data.Shape[0] || sx < 0 || sx >= src.Data.Shape[1] {
				continue
			}
			out.Data[y*layout.Shape[1]+x] = src.Data.Real(sy*src.Data.Shape[1] + sx)
		}
	}
	dimensional := []Calibration{
		{Offset: src.DimensionalCalibrations[0].ConvertToCalibrated(float64(top)), Scale: src.DimensionalCalibrations[0].Scale, Units: src.DimensionalCalibrations[0].Units},
		{Offset: src.DimensionalCalibrations[1].ConvertToCalibrated(float64(left)), Scale: src.DimensionalCalibrations[1].Scale, Units: src.DimensionalCalibrations[1].Units},
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, dimensional, src.Metadata), nil
}

// SliceSumLayout drops the first dimension.
func SliceSumLayout(src *NDArray) Layout {
	return Layout{Shape: append([]int(nil), src.Shape[1:]...), DType: src.DType}
}

// SliceSum sums a band of width slices centered at the given index of the
// first dimension of a 3D array.
func SliceSum(src *DataAndMetadata, center, width int) (*DataAndMetadata, error) {
	if len(src.Data.Shape) < 2 {
		return nil, fmt.Errorf("slice_sum: requires rank >= 2")
	}
	layout := SliceSumLayout(src.Data)
	out := New(layout.Shape, layout.DType)
	depth := src.Data.Shape[0]
	sliceLen := Size(layout.Shape)
	start := center - width/2
	if start < 0 {
		start = 0
	}
	stop := start + width
	if stop > depth {
		stop = depth
	}
	for z := start; z < stop; z++ {
		for i := 0; i < sliceLen; i++ {
			out.Data[i] += src.Data.Real(z*sliceLen + i)
		}
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, append([]Calibration(nil), src.DimensionalCalibrations[1:]...), src.Metadata), nil
}

// PickLayout keeps the trailing dimension.
func PickLayout(src *NDArray) Layout {
	return Layout{Shape: []int{src.Shape[len(src.Shape)-1]}, DType: src.DType}
}

// Pick extracts the spectrum at a normalized (y, x) position of a 3D array.
func Pick(src *DataAndMetadata, y, x float64) (*DataAndMetadata, error) {
	if len(src.Data.Shape) != 3 {
		return nil, fmt.Errorf("pick: requires 3d data, got rank %d", len(src.Data.Shape))
	}
	layout := PickLayout(src.Data)
	h, w, depth := src.Data.Shape[0], src.Data.Shape[1], src.Data.Shape[2]
	py := clampInt(int(math.Round(y*float64(h))), 0, h-1)
	px := clampInt(int(math.Round(x*float64(w))), 0, w-1)
	out := New(layout.Shape, layout.DType)
	for z := 0; z < depth; z++ {
		out.Data[z] = src.Data.Real((py*w+px)*depth + z)
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, []Calibration{src.DimensionalCalibrations[2]}, src.Metadata), nil
}

// ProjectLayout drops the first dimension.
func ProjectLayout(src *NDArray) Layout {
	return Layout{Shape: append([]int(nil), src.Shape[1:]...), DType: src.DType}
}

// Project sums along the first dimension.
func Project(src *DataAndMetadata) (*DataAndMetadata, error) {
	if len(src.Data.Shape) < 2 {
		return nil, fmt.Errorf("project: requires rank >= 2")
	}
	layout := ProjectLayout(src.Data)
	out := New(layout.Shape, layout.DType)
	sliceLen := Size(layout.Shape)
	for z := 0; z < src.Data.Shape[0]; z++ {
		for i := 0; i < sliceLen; i++ {
			out.Data[i] += src.Data.Real(z*sliceLen + i)
		}
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, append([]Calibration(nil), src.DimensionalCalibrations[1:]...), src.Metadata), nil
}

// ResampleLayout is the requested shape with the source dtype.
func ResampleLayout(src *NDArray, shape []int) Layout {
	return Layout{Shape: append([]int(nil), shape...), DType: src.DType}
}

// Resample resizes a 2D array to the given shape by nearest-neighbor
// sampling; calibrations rescale accordingly.
func Resample(src *DataAndMetadata, shape []int) (*DataAndMetadata, error) {
	if len(src.Data.Shape) != 2 || len(shape) != 2 {
		return nil, fmt.Errorf("resample: requires 2d data and 2d target shape")
	}
	layout := ResampleLayout(src.Data, shape)
	out := New(layout.Shape, layout.DType)
	sh, sw := src.Data.Shape[0], src.Data.Shape[1]
	for y := 0; y < shape[0]; y++ {
		for x := 0; x < shape[1]; x++ {
			sy := clampInt(y*sh/shape[0], 0, sh-1)
			sx := clampInt(x*sw/shape[1], 0, sw-1)
			out.Data[y*shape[1]+x] = src.Data.Real(sy*sw + sx)
		}
	}
	dimensional := make([]Calibration, 2)
	for i := 0; i < 2; i++ {
		c := src.DimensionalCalibrations[i]
		dimensional[i] = Calibration{Offset: c.Offset, Scale: c.Scale * float64(src.Data.Shape[i]) / float64(shape[i]), Units: c.Units}
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, dimensional, src.Metadata), nil
}

// HistogramLayout is 1D with the bin count.
func HistogramLayout(bins int) Layout {
	return Layout{Shape: []int{bins}, DType: Int32}
}

// Histogram counts values into equal-width bins across the source range.
func Histogram(src *DataAndMetadata, bins int) (*DataAndMetadata, error) {
	if bins < 1 {
		return nil, fmt.Errorf("histogram: bins must be positive")
	}
	layout := HistogramLayout(bins)
	out := New(layout.Shape, layout.DType)
	n := src.Data.Len()
	if n == 0 {
		return NewDataAndMetadata(out, Identity(), nil, src.Metadata), nil
	}
	lo, hi := src.Data.Real(0), src.Data.Real(0)
	for i := 1; i < n; i++ {
		v := src.Data.Real(i)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	for i := 0; i < n; i++ {
		bin := 0
		if span > 0 {
			bin = clampInt(int((src.Data.Real(i)-lo)/span*float64(bins)), 0, bins-1)
		}
		out.Data[bin]++
	}
	return NewDataAndMetadata(out, Identity(), nil, src.Metadata), nil
}

// LineProfileLayout derives the sample count from the normalized vector.
func LineProfileLayout(src *NDArray, vector Vector) Layout {
	dy := (vector.EndY - vector.StartY) * float64(src.Shape[0])
	dx := (vector.EndX - vector.StartX) * float64(src.Shape[1])
	n := int(math.Ceil(math.Hypot(dy, dx)))
	if n < 1 {
		n = 1
	}
	return Layout{Shape: []int{n}, DType: src.DType}
}

// LineProfile samples a 2D array along the vector, averaging over the given
// integration width perpendicular to the line.
func LineProfile(src *DataAndMetadata, vector Vector, width int) (*DataAndMetadata, error) {
	if len(src.Data.Shape) != 2 {
		return nil, fmt.Errorf("line_profile: requires 2d data")
	}
	if width < 1 {
		width = 1
	}
	layout := LineProfileLayout(src.Data, vector)
	n := layout.Shape[0]
	out := New(layout.Shape, layout.DType)
	h, w := src.Data.Shape[0], src.Data.Shape[1]
	y0 := vector.StartY * float64(h)
	x0 := vector.StartX * float64(w)
	y1 := vector.EndY * float64(h)
	x1 := vector.EndX * float64(w)
	length := math.Hypot(y1-y0, x1-x0)
	if length == 0 {
		length = 1
	}
	// unit normal for integration width
	ny := -(x1 - x0) / length
	nx := (y1 - y0) / length
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n)
		sum := 0.0
		count := 0
		for k := 0; k < width; k++ {
			offset := float64(k) - float64(width-1)/2
			y := clampInt(int(math.Round(y0+t*(y1-y0)+offset*ny)), 0, h-1)
			x := clampInt(int(math.Round(x0+t*(x1-x0)+offset*nx)), 0, w-1)
			sum += src.Data.Real(y*w + x)
			count++
		}
		out.Data[i] = sum / float64(count)
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, []Calibration{src.DimensionalCalibrations[0]}, src.Metadata), nil
}

// GaussianBlur convolves with a separable gaussian of the given sigma.
// Shape, dtype and calibrations are preserved.
func GaussianBlur(src *DataAndMetadata, sigma float64) (*DataAndMetadata, error) {
	if len(src.Data.Shape) != 2 {
		return nil, fmt.Errorf("gaussian_blur: requires 2d data")
	}
	if sigma <= 0 {
		return src.Clone(), nil
	}
	radius := int(math.Ceil(sigma * 3))
	weights := make([]float64, 2*radius+1)
	total := 0.0
	for i := range weights {
		d := float64(i - radius)
		weights[i] = math.Exp(-d * d / (2 * sigma * sigma))
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	h, w := src.Data.Shape[0], src.Data.Shape[1]
	tmp := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0.0
			for k, weight := range weights {
				sx := clampInt(x+k-radius, 0, w-1)
				sum += weight * src.Data.Real(y*w+sx)
			}
			tmp[y*w+x] = sum
		}
	}
	out := New(src.Data.Shape, src.Data.DType)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0.0
			for k, weight := range weights {
				sy := clampInt(y+k-radius, 0, h-1)
				sum += weight * tmp[sy*w+x]
			}
			out.Data[y*w+x] = sum
		}
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, src.DimensionalCalibrations, src.Metadata), nil
}

// MedianFilter applies a size x size median window to a 2D array.
func MedianFilter(src *DataAndMetadata, size int) (*DataAndMetadata, error) {
	return windowFilter(src, size, func(window []float64) float64 {
		sort.Float64s(window)
		return window[len(window)/2]
	})
}

// UniformFilter applies a size x size mean window to a 2D array.
func UniformFilter(src *DataAndMetadata, size int) (*DataAndMetadata, error) {
	return windowFilter(src, size, func(window []float64) float64 {
		sum := 0.0
		for _, v := range window {
			sum += v
		}
		return sum / float64(len(window))
	})
}

func windowFilter(src *DataAndMetadata, size int, reduce func([]float64) float64) (*DataAndMetadata, error) {
	if len(src.Data.Shape) != 2 {
		return nil, fmt.Errorf("filter: requires 2d data")
	}
	if size < 1 {
		size = 1
	}
	radius := size / 2
	h, w := src.Data.Shape[0], src.Data.Shape[1]
	out := New(src.Data.Shape, src.Data.DType)
	window := make([]float64, 0, size*size)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					sy := clampInt(y+dy, 0, h-1)
					sx := clampInt(x+dx, 0, w-1)
					window = append(window, src.Data.Real(sy*w+sx))
				}
			}
			out.Data[y*w+x] = reduce(window)
		}
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, src.DimensionalCalibrations, src.Metadata), nil
}

// Sobel applies the 3x3 sobel gradient magnitude.
func Sobel(src *DataAndMetadata) (*DataAndMetadata, error) {
	kx := [9]float64{-1, 0, 1, -2, 0, 2, -1, 0, 1}
	ky := [9]float64{-1, -2, -1, 0, 0, 0, 1, 2, 1}
	return convolve3Mag(src, kx, ky)
}

// Laplace applies the 3x3 laplacian.
func Laplace(src *DataAndMetadata) (*DataAndMetadata, error) {
	k := [9]float64{0, 1, 0, 1, -4, 1, 0, 1, 0}
	return convolve3(src, k)
}

func convolve3(src *DataAndMetadata, k [9]float64) (*DataAndMetadata, error) {
	if len(src.Data.Shape) != 2 {
		return nil, fmt.Errorf("convolve: requires 2d data")
	}
	h, w := src.Data.Shape[0], src.Data.Shape[1]
	out := New(src.Data.Shape, src.Data.DType)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0.0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sy := clampInt(y+dy, 0, h-1)
					sx := clampInt(x+dx, 0, w-1)
					sum += k[(dy+1)*3+dx+1] * src.Data.Real(sy*w+sx)
				}
			}
			out.Data[y*w+x] = sum
		}
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, src.DimensionalCalibrations, src.Metadata), nil
}

func convolve3Mag(src *DataAndMetadata, kx, ky [9]float64) (*DataAndMetadata, error) {
	gx, err := convolve3(src, kx)
	if err != nil {
		return nil, err
	}
	gy, err := convolve3(src, ky)
	if err != nil {
		return nil, err
	}
	out := gx.Data
	for i := range out.Data {
		out.Data[i] = math.Hypot(out.Data[i], gy.Data.Data[i])
	}
	return gx, nil
}

// Autocorrelate correlates a 2D array with itself.
func Autocorrelate(src *DataAndMetadata) (*DataAndMetadata, error) {
	return Crosscorrelate(src, src)
}

// Crosscorrelate computes the circular cross-correlation of two same-shape
// 2D arrays.
func Crosscorrelate(a, b *DataAndMetadata) (*DataAndMetadata, error) {
	if len(a.Data.Shape) != 2 || !ShapeEqual(a.Data.Shape, b.Data.Shape) {
		return nil, fmt.Errorf("crosscorrelate: requires two 2d arrays of equal shape")
	}
	h, w := a.Data.Shape[0], a.Data.Shape[1]
	out := New(a.Data.Shape, a.Data.DType)
	for sy := 0; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			sum := 0.0
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					sum += a.Data.Real(y*w+x) * b.Data.Real(((y+sy)%h)*w+(x+sx)%w)
				}
			}
			out.Data[sy*w+sx] = sum
		}
	}
	return NewDataAndMetadata(out, a.IntensityCalibration, a.DimensionalCalibrations, a.Metadata), nil
}

// TransposeFlip transposes and/or flips a 2D array.
func TransposeFlip(src *DataAndMetadata, transpose, flipV, flipH bool) (*DataAndMetadata, error) {
	if len(src.Data.Shape) != 2 {
		return nil, fmt.Errorf("transpose_flip: requires 2d data")
	}
	h, w := src.Data.Shape[0], src.Data.Shape[1]
	shape := []int{h, w}
	dimensional := append([]Calibration(nil), src.DimensionalCalibrations...)
	if transpose {
		shape = []int{w, h}
		dimensional[0], dimensional[1] = dimensional[1], dimensional[0]
	}
	out := New(shape, src.Data.DType)
	for y := 0; y < shape[0]; y++ {
		for x := 0; x < shape[1]; x++ {
			sy, sx := y, x
			if transpose {
				sy, sx = x, y
			}
			if flipV {
				sy = src.Data.Shape[0] - 1 - sy
			}
			if flipH {
				sx = src.Data.Shape[1] - 1 - sx
			}
			out.Data[y*shape[1]+x] = src.Data.Real(sy*w + sx)
		}
	}
	return NewDataAndMetadata(out, src.IntensityCalibration, dimensional, src.Metadata), nil
}

// ConcatenateLayout sums the concatenation axis.
func ConcatenateLayout(arrays []*NDArray, axis int) (Layout, error) {
	if len(arrays) == 0 {
		return Layout{}, fmt.Errorf("concatenate: no inputs")
	}
	shape := append([]int(nil), arrays[0].Shape...)
	for _, a := range arrays[1:] {
		if len(a.Shape) != len(shape) {
			return Layout{}, fmt.Errorf("concatenate: rank mismatch")
		}
		shape[axis] += a.Shape[axis]
	}
	return Layout{Shape: shape, DType: arrays[0].DType}, nil
}

// Concatenate joins arrays along axis 0 (the only supported axis for
// row-major appends).
func Concatenate(inputs []*DataAndMetadata, axis int) (*DataAndMetadata, error) {
	if axis != 0 {
		return nil, fmt.Errorf("concatenate: only axis 0 supported")
	}
	arrays := make([]*NDArray, len(inputs))
	for i, in := range inputs {
		arrays[i] = in.Data
	}
	layout, err := ConcatenateLayout(arrays, axis)
	if err != nil {
		return nil, err
	}
	out := New(layout.Shape, layout.DType)
	offset := 0
	for _, a := range arrays {
		for i := 0; i < a.Len(); i++ {
			out.Data[offset+i] = a.Real(i)
		}
		offset += a.Len()
	}
	return NewDataAndMetadata(out, inputs[0].IntensityCalibration, inputs[0].DimensionalCalibrations, inputs[0].Metadata), nil
}

// Reshape reinterprets the backing data with a new shape of equal size.
func Reshape(src *DataAndMetadata, shape []int) (*DataAndMetadata, error) {
	if Size(shape) != src.Data.Len() {
		return nil, fmt.Errorf("reshape: size mismatch %v -> %v", src.Data.Shape, shape)
	}
	out := src.Data.Clone()
	out.Shape = append([]int(nil), shape...)
	return NewDataAndMetadata(out, src.IntensityCalibration, nil, src.Metadata), nil
}

// SliceSpec is one element of a data_slice key: a single index or a
// start/stop range over one dimension.
type SliceSpec struct {
	Index       int
	IsIndex     bool
	Start, Stop int
	HasStop     bool
}

// DataSliceLayout derives the sliced shape: index specs drop a dimension,
// range specs narrow it.
func DataSliceLayout(src *NDArray, key []SliceSpec) ([]int, error) {
	if len(key) > len(src.Shape) {
		return nil, fmt.Errorf("data_slice: key rank exceeds data rank")
	}
	var shape []int
	for dim, size := range src.Shape {
		if dim >= len(key) {
			shape = append(shape, size)
			continue
		}
		spec := key[dim]
		if spec.IsIndex {
			continue
		}
		stop := size
		if spec.HasStop && spec.Stop < size {
			stop = spec.Stop
		}
		length := stop - spec.Start
		if length < 0 {
			length = 0
		}
		shape = append(shape, length)
	}
	return shape, nil
}

// DataSlice extracts a python-style slice of the array.
func DataSlice(src *DataAndMetadata, key []SliceSpec) (*DataAndMetadata, error) {
	shape, err := DataSliceLayout(src.Data, key)
	if err != nil {
		return nil, err
	}
	out := New(shape, src.Data.DType)
	outIdx := 0
	var walk func(dim int, offset int)
	stride := func(dim int) int {
		s := 1
		for i := dim + 1; i < len(src.Data.Shape); i++ {
			s *= src.Data.Shape[i]
		}
		return s
	}
	walk = func(dim int, offset int) {
		if dim == len(src.Data.Shape) {
			out.Data[outIdx] = src.Data.Real(offset)
			outIdx++
			return
		}
		start, stop := 0, src.Data.Shape[dim]
		if dim < len(key) {
			spec := key[dim]
			if spec.IsIndex {
				walk(dim+1, offset+spec.Index*stride(dim))
				return
			}
			start = spec.Start
			if spec.HasStop && spec.Stop < stop {
				stop = spec.Stop
			}
		}
		for i := start; i < stop; i++ {
			walk(dim+1, offset+i*stride(dim))
		}
	}
	walk(0, 0)
	return NewDataAndMetadata(out, src.IntensityCalibration, nil, src.Metadata), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
