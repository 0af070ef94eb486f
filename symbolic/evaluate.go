package symbolic

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/lumeno/docmodel/ndarray"
)

// Values flowing through evaluation are *ndarray.DataAndMetadata, float64,
// int, bool, complex128, []float64 (points, rects, vectors), or []int
// (shapes). A nil value means the input could not be evaluated.

func toArray(v any) (*ndarray.DataAndMetadata, bool) {
	d, ok := v.(*ndarray.DataAndMetadata)
	return d, ok && d != nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	return int(f), ok
}

func toBool(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case float64:
		return n != 0
	case int:
		return n != 0
	}
	return false
}

func toFloats(v any) []float64 {
	switch n := v.(type) {
	case []float64:
		return n
	case []any:
		out := make([]float64, 0, len(n))
		for _, item := range n {
			f, ok := toFloat(item)
			if !ok {
				return nil
			}
			out = append(out, f)
		}
		return out
	}
	return nil
}

func toShape(v any) []int {
	switch n := v.(type) {
	case []int:
		return n
	case []float64:
		out := make([]int, len(n))
		for i, f := range n {
			out[i] = int(f)
		}
		return out
	case []any:
		out := make([]int, 0, len(n))
		for _, item := range n {
			i, ok := toInt(item)
			if !ok {
				return nil
			}
			out = append(out, i)
		}
		return out
	case int:
		return []int{n}
	case float64:
		return []int{int(n)}
	}
	return nil
}

var unaryMathFuncs = map[string]func(float64) float64{
	"abs":        math.Abs,
	"neg":        func(x float64) float64 { return -x },
	"pos":        func(x float64) float64 { return x },
	"sin":        math.Sin,
	"cos":        math.Cos,
	"tan":        math.Tan,
	"arcsin":     math.Asin,
	"arccos":     math.Acos,
	"arctan":     math.Atan,
	"degrees":    func(x float64) float64 { return x * 180 / math.Pi },
	"radians":    func(x float64) float64 { return x * math.Pi / 180 },
	"rad2deg":    func(x float64) float64 { return x * 180 / math.Pi },
	"deg2rad":    func(x float64) float64 { return x * math.Pi / 180 },
	"around":     math.Round,
	"round":      math.Round,
	"rint":       math.RoundToEven,
	"fix":        math.Trunc,
	"floor":      math.Floor,
	"ceil":       math.Ceil,
	"trunc":      math.Trunc,
	"exp":        math.Exp,
	"expm1":      math.Expm1,
	"exp2":       math.Exp2,
	"log":        math.Log,
	"log10":      math.Log10,
	"log2":       math.Log2,
	"log1p":      math.Log1p,
	"reciprocal": func(x float64) float64 { return 1 / x },
	"sqrt":       math.Sqrt,
	"square":     func(x float64) float64 { return x * x },
	"invert":     func(x float64) float64 { return -x },
	"nan_to_num": func(x float64) float64 {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return x
	},
}

func evaluateUnaryFunction(functionID string, value any, args map[string]any) any {
	if fn, ok := unaryMathFuncs[functionID]; ok {
		if src, ok := toArray(value); ok {
			return ndarray.MapUnary(src, fn)
		}
		if f, ok := toFloat(value); ok {
			return fn(f)
		}
		if c, ok := value.(complex128); ok {
			return applyComplexUnary(functionID, c)
		}
		return nil
	}
	switch functionID {
	case "real":
		if c, ok := value.(complex128); ok {
			return real(c)
		}
		if src, ok := toArray(value); ok {
			return complexPart(src, func(c complex128) float64 { return real(c) })
		}
	case "imag":
		if c, ok := value.(complex128); ok {
			return imag(c)
		}
		if src, ok := toArray(value); ok {
			return complexPart(src, func(c complex128) float64 { return imag(c) })
		}
	case "angle":
		if c, ok := value.(complex128); ok {
			return cmplx.Phase(c)
		}
		if src, ok := toArray(value); ok {
			return complexPart(src, cmplx.Phase)
		}
	case "conj":
		if c, ok := value.(complex128); ok {
			return cmplx.Conj(c)
		}
		return value
	case "astype":
		if src, ok := toArray(value); ok {
			dtypeName, _ := args["dtype"].(string)
			out := src.Clone()
			out.Data.DType = ndarray.ParseDType(dtypeName)
			return out
		}
	}
	return nil
}

func applyComplexUnary(functionID string, c complex128) any {
	switch functionID {
	case "abs":
		return cmplx.Abs(c)
	case "neg":
		return -c
	case "pos":
		return c
	case "exp":
		return cmplx.Exp(c)
	case "log":
		return cmplx.Log(c)
	case "sqrt":
		return cmplx.Sqrt(c)
	case "square":
		return c * c
	}
	return nil
}

// complexPart maps a complex array to a real one.
func complexPart(src *ndarray.DataAndMetadata, part func(complex128) float64) *ndarray.DataAndMetadata {
	out := ndarray.New(src.Data.Shape, ndarray.Float64)
	if src.Data.DType.IsComplex() {
		for i, c := range src.Data.CData {
			out.Data[i] = part(c)
		}
	} else {
		for i, f := range src.Data.Data {
			out.Data[i] = part(complex(f, 0))
		}
	}
	return ndarray.NewDataAndMetadata(out, src.IntensityCalibration, src.DimensionalCalibrations, src.Metadata)
}

var binaryMathFuncs = map[string]func(x, y float64) float64{
	"add":      func(x, y float64) float64 { return x + y },
	"sub":      func(x, y float64) float64 { return x - y },
	"mul":      func(x, y float64) float64 { return x * y },
	"div":      func(x, y float64) float64 { return x / y },
	"truediv":  func(x, y float64) float64 { return x / y },
	"floordiv": func(x, y float64) float64 { return math.Floor(x / y) },
	"mod":      math.Mod,
	"pow":      math.Pow,
}

func evaluateBinaryFunction(functionID string, a, b any) any {
	fn, ok := binaryMathFuncs[functionID]
	if !ok {
		return nil
	}
	arrayA, aIsArray := toArray(a)
	arrayB, bIsArray := toArray(b)
	switch {
	case aIsArray && bIsArray:
		out, err := ndarray.Zip(arrayA, arrayB, fn)
		if err != nil {
			return nil
		}
		return out
	case aIsArray:
		if scalar, ok := toFloat(b); ok {
			return ndarray.ZipScalar(arrayA, scalar, false, fn)
		}
	case bIsArray:
		if scalar, ok := toFloat(a); ok {
			return ndarray.ZipScalar(arrayB, scalar, true, fn)
		}
	default:
		fa, okA := toFloat(a)
		fb, okB := toFloat(b)
		if okA && okB {
			return fn(fa, fb)
		}
	}
	return nil
}

func evaluateScalarFunction(functionID string, values []any, args map[string]any) any {
	switch functionID {
	case "amin", "amax", "mean", "average", "median", "std", "var", "sum":
		src, ok := toArray(values[0])
		if !ok {
			return nil
		}
		return reduceArray(functionID, src)
	case "data_shape", "shape":
		if src, ok := toArray(values[0]); ok {
			return append([]int(nil), src.Data.Shape...)
		}
		shape := make([]int, 0, len(values))
		for _, v := range values {
			i, ok := toInt(v)
			if !ok {
				return nil
			}
			shape = append(shape, i)
		}
		return shape
	case "rectangle_from_origin_size":
		origin := toFloats(values[0])
		size := toFloats(values[1])
		if len(origin) == 2 && len(size) == 2 {
			return []float64{origin[0], origin[1], size[0], size[1]}
		}
	case "rectangle_from_center_size":
		center := toFloats(values[0])
		size := toFloats(values[1])
		if len(center) == 2 && len(size) == 2 {
			return []float64{center[0] - size[0]*0.5, center[1] - size[1]*0.5, size[0], size[1]}
		}
	case "vector":
		start := toFloats(values[0])
		end := toFloats(values[1])
		if len(start) == 2 && len(end) == 2 {
			return []float64{start[0], start[1], end[0], end[1]}
		}
	case "normalized_point", "normalized_size", "normalized_interval":
		a, okA := toFloat(values[0])
		b, okB := toFloat(values[1])
		if okA && okB {
			return []float64{a, b}
		}
	case "item":
		if list := toFloats(values[0]); list != nil {
			if index, ok := toInt(args["key"]); ok && index >= 0 && index < len(list) {
				return list[index]
			}
		}
	}
	return nil
}

func reduceArray(functionID string, src *ndarray.DataAndMetadata) any {
	data := src.Data.Data
	if src.Data.DType.IsComplex() {
		data = make([]float64, len(src.Data.CData))
		for i, c := range src.Data.CData {
			data[i] = cmplx.Abs(c)
		}
	}
	if len(data) == 0 {
		return nil
	}
	switch functionID {
	case "amin":
		out := data[0]
		for _, v := range data {
			out = math.Min(out, v)
		}
		return out
	case "amax":
		out := data[0]
		for _, v := range data {
			out = math.Max(out, v)
		}
		return out
	case "sum":
		out := 0.0
		for _, v := range data {
			out += v
		}
		return out
	case "mean", "average":
		out := 0.0
		for _, v := range data {
			out += v
		}
		return out / float64(len(data))
	case "median":
		sorted := append([]float64(nil), data...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	case "std", "var":
		mean := 0.0
		for _, v := range data {
			mean += v
		}
		mean /= float64(len(data))
		variance := 0.0
		for _, v := range data {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(data))
		if functionID == "std" {
			return math.Sqrt(variance)
		}
		return variance
	}
	return nil
}

func evaluateKernelFunction(functionID string, values []any, args map[string]any) any {
	src, hasArray := toArray(values[0])
	result := func(out *ndarray.DataAndMetadata, err error) any {
		if err != nil {
			return nil
		}
		return out
	}
	switch functionID {
	case "fft":
		if hasArray {
			return result(ndarray.FFT(src))
		}
	case "ifft":
		if hasArray {
			return result(ndarray.IFFT(src))
		}
	case "autocorrelate":
		if hasArray {
			return result(ndarray.Autocorrelate(src))
		}
	case "crosscorrelate":
		if second, ok := toArray(values[1]); hasArray && ok {
			return result(ndarray.Crosscorrelate(src, second))
		}
	case "sobel":
		if hasArray {
			return result(ndarray.Sobel(src))
		}
	case "laplace":
		if hasArray {
			return result(ndarray.Laplace(src))
		}
	case "gaussian_blur":
		if sigma, ok := toFloat(values[1]); hasArray && ok {
			return result(ndarray.GaussianBlur(src, sigma))
		}
	case "median_filter":
		if size, ok := toInt(values[1]); hasArray && ok {
			return result(ndarray.MedianFilter(src, size))
		}
	case "uniform_filter":
		if size, ok := toInt(values[1]); hasArray && ok {
			return result(ndarray.UniformFilter(src, size))
		}
	case "transpose_flip":
		if hasArray && len(values) == 4 {
			return result(ndarray.TransposeFlip(src, toBool(values[1]), toBool(values[2]), toBool(values[3])))
		}
	case "crop":
		if bounds := toFloats(values[1]); hasArray && len(bounds) == 4 {
			rect := ndarray.Rect{Top: bounds[0], Left: bounds[1], Height: bounds[2], Width: bounds[3]}
			return result(ndarray.Crop(src, rect))
		}
	case "slice_sum":
		center, okC := toInt(values[1])
		width, okW := toInt(values[2])
		if hasArray && okC && okW {
			return result(ndarray.SliceSum(src, center, width))
		}
	case "pick":
		if position := toFloats(values[1]); hasArray && len(position) == 2 {
			return result(ndarray.Pick(src, position[0], position[1]))
		}
	case "project", "sum":
		if hasArray {
			return result(ndarray.Project(src))
		}
	case "resample_image":
		if shape := toShape(values[1]); hasArray && shape != nil {
			return result(ndarray.Resample(src, shape))
		}
	case "histogram":
		if bins, ok := toInt(values[1]); hasArray && ok {
			return result(ndarray.Histogram(src, bins))
		}
	case "line_profile":
		vector := toFloats(values[1])
		width, okW := toInt(values[2])
		if hasArray && len(vector) == 4 && okW {
			v := ndarray.Vector{StartY: vector[0], StartX: vector[1], EndY: vector[2], EndX: vector[3]}
			return result(ndarray.LineProfile(src, v, width))
		}
	case "reshape":
		var shape []int
		if len(values) > 1 {
			shape = toShape(values[1])
		} else {
			shape = toShape(args["shape"])
		}
		if hasArray && shape != nil {
			return result(ndarray.Reshape(src, shape))
		}
	case "concatenate":
		arrays := make([]*ndarray.DataAndMetadata, 0, len(values))
		for _, v := range values {
			a, ok := toArray(v)
			if !ok {
				return nil
			}
			arrays = append(arrays, a)
		}
		return result(ndarray.Concatenate(arrays, intArg(args, "axis", 0)))
	case "data_slice":
		key, err := sliceKeyFromArgs(args["key"])
		if hasArray && err == nil {
			return result(ndarray.DataSlice(src, key))
		}
	case "invert":
		if hasArray {
			return ndarray.MapUnary(src, func(x float64) float64 { return -x })
		}
	}
	return nil
}

func sliceKeyFromArgs(raw any) ([]ndarray.SliceSpec, error) {
	entries, _ := raw.([]any)
	key := make([]ndarray.SliceSpec, 0, len(entries))
	for _, entry := range entries {
		d, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		var spec ndarray.SliceSpec
		if index, ok := toInt(d["index"]); ok && d["index"] != nil {
			spec.IsIndex = true
			spec.Index = index
		} else {
			if start, ok := toInt(d["start"]); ok && d["start"] != nil {
				spec.Start = start
			}
			if stop, ok := toInt(d["stop"]); ok && d["stop"] != nil {
				spec.Stop = stop
				spec.HasStop = true
			}
		}
		key = append(key, spec)
	}
	return key, nil
}
