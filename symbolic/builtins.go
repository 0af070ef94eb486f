package symbolic

import (
	"fmt"

	"github.com/google/uuid"
)

// builtin function tables; names mirror the persisted function ids.
var scalarFunctionNames = map[string]bool{
	"amin": true, "amax": true, "arange": true, "median": true,
	"average": true, "mean": true, "std": true, "var": true,
	"data_shape": true, "shape": true,
	"rectangle_from_origin_size": true, "rectangle_from_center_size": true,
	"vector": true, "normalized_point": true, "normalized_size": true,
	"normalized_interval": true,
}

var unaryFunctionNames = map[string]bool{
	"abs": true, "sin": true, "cos": true, "tan": true,
	"arcsin": true, "arccos": true, "arctan": true,
	"hypot": true, "arctan2": true,
	"degrees": true, "radians": true, "rad2deg": true, "deg2rad": true,
	"around": true, "round": true, "rint": true, "fix": true,
	"floor": true, "ceil": true, "trunc": true,
	"exp": true, "expm1": true, "exp2": true,
	"log": true, "log10": true, "log2": true, "log1p": true,
	"reciprocal": true, "clip": true, "sqrt": true, "square": true,
	"nan_to_num": true, "angle": true, "real": true, "imag": true,
	"conj": true, "invert": true,
}

var kernelFunctionNames = map[string]bool{
	"fft": true, "ifft": true, "autocorrelate": true, "crosscorrelate": true,
	"sobel": true, "laplace": true, "gaussian_blur": true,
	"median_filter": true, "uniform_filter": true, "transpose_flip": true,
	"crop": true, "slice_sum": true, "pick": true, "project": true,
	"sum": true, "resample_image": true, "histogram": true,
	"line_profile": true, "reshape": true,
}

var dtypeNames = map[string]bool{
	"int16": true, "int32": true, "int64": true,
	"uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"float32": true, "float64": true, "complex64": true, "complex128": true,
}

func (p *parser) applyCall(name string, args []any, kwargs map[string]any) (any, error) {
	switch name {
	case "UUID":
		if len(args) == 1 {
			if s, ok := args[0].(string); ok {
				return s, nil
			}
		}
		return nil, fmt.Errorf("UUID takes one string argument")
	case "data_by_uuid":
		id, err := callUUIDArg(name, args)
		if err != nil {
			return nil, err
		}
		if p.context == nil {
			return nil, fmt.Errorf("no context for data_by_uuid")
		}
		specifier := p.context.DataItemSpecifier(id)
		if specifier == nil {
			return nil, fmt.Errorf("unknown data item %s", id)
		}
		return NewDataItemNode(specifier), nil
	case "region_by_uuid":
		id, err := callUUIDArg(name, args)
		if err != nil {
			return nil, err
		}
		if p.context == nil {
			return nil, fmt.Errorf("no context for region_by_uuid")
		}
		specifier := p.context.RegionSpecifier(id)
		if specifier == nil {
			return nil, fmt.Errorf("unknown region %s", id)
		}
		return NewReferenceNode(specifier), nil
	case "astype":
		if len(args) != 2 {
			return nil, fmt.Errorf("astype takes data and dtype")
		}
		node, err := makeNode(args[0])
		if err != nil {
			return nil, err
		}
		dtype := ""
		switch v := args[1].(type) {
		case callable:
			dtype = v.name
		case string:
			dtype = v
		}
		if !dtypeNames[dtype] {
			return nil, fmt.Errorf("unknown dtype %q", dtype)
		}
		return NewUnaryOperationNode([]DataNode{node}, "astype", map[string]any{"dtype": dtype}), nil
	case "item":
		if len(args) != 2 {
			return nil, fmt.Errorf("item takes data and key")
		}
		node, err := makeNode(args[0])
		if err != nil {
			return nil, err
		}
		key, err := constantValue(args[1])
		if err != nil {
			return nil, err
		}
		return NewScalarOperationNode([]DataNode{node}, "item", map[string]any{"key": key}), nil
	case "data_slice":
		if len(args) != 2 {
			return nil, fmt.Errorf("data_slice takes data and key")
		}
		node, err := makeNode(args[0])
		if err != nil {
			return nil, err
		}
		key, err := constantValue(args[1])
		if err != nil {
			return nil, err
		}
		return NewFunctionOperationNode([]DataNode{node}, "data_slice", map[string]any{"key": key}), nil
	case "column", "row":
		node, err := singleNodeArg(name, args)
		if err != nil {
			return nil, err
		}
		fnArgs := map[string]any{}
		if v, ok := kwargs["start"]; ok {
			fnArgs["start"] = v
		}
		if v, ok := kwargs["stop"]; ok {
			fnArgs["stop"] = v
		}
		return NewUnaryOperationNode([]DataNode{node}, name, fnArgs), nil
	case "radius":
		node, err := singleNodeArg(name, args)
		if err != nil {
			return nil, err
		}
		fnArgs := map[string]any{}
		if v, ok := kwargs["normalize"]; ok {
			fnArgs["normalize"] = v
		}
		return NewUnaryOperationNode([]DataNode{node}, name, fnArgs), nil
	case "concatenate":
		if len(args) < 1 {
			return nil, fmt.Errorf("concatenate takes a tuple of inputs")
		}
		parts, ok := args[0].(tuple)
		if !ok {
			parts = tuple{args[0]}
		}
		inputs := make([]DataNode, 0, len(parts))
		for _, part := range parts {
			node, err := makeNode(part)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, node)
		}
		fnArgs := map[string]any{}
		if len(args) > 1 {
			axis, err := constantValue(args[1])
			if err != nil {
				return nil, err
			}
			fnArgs["axis"] = axis
		} else if v, ok := kwargs["axis"]; ok {
			fnArgs["axis"] = v
		}
		return NewFunctionOperationNode(inputs, "concatenate", fnArgs), nil
	}
	if scalarFunctionNames[name] {
		inputs, err := nodeArgs(args)
		if err != nil {
			return nil, err
		}
		return NewScalarOperationNode(inputs, name, nil), nil
	}
	if unaryFunctionNames[name] {
		node, err := singleNodeArg(name, args)
		if err != nil {
			return nil, err
		}
		return NewUnaryOperationNode([]DataNode{node}, name, nil), nil
	}
	if kernelFunctionNames[name] {
		inputs, err := nodeArgs(args)
		if err != nil {
			return nil, err
		}
		return NewFunctionOperationNode(inputs, name, nil), nil
	}
	return nil, fmt.Errorf("unknown function %q", name)
}

func callUUIDArg(name string, args []any) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.UUID{}, fmt.Errorf("%s takes one argument", name)
	}
	s, ok := args[0].(string)
	if !ok {
		return uuid.UUID{}, fmt.Errorf("%s takes a uuid", name)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

func singleNodeArg(name string, args []any) (DataNode, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s takes one argument", name)
	}
	return makeNode(args[0])
}

// nodeArgs converts call arguments to nodes; tuples become shape nodes so
// grouped dimensions evaluate to a shape value.
func nodeArgs(args []any) ([]DataNode, error) {
	inputs := make([]DataNode, 0, len(args))
	for _, arg := range args {
		if parts, ok := arg.(tuple); ok {
			elements := make([]DataNode, 0, len(parts))
			for _, part := range parts {
				node, err := makeNode(part)
				if err != nil {
					return nil, err
				}
				elements = append(elements, node)
			}
			inputs = append(inputs, NewScalarOperationNode(elements, "shape", nil))
			continue
		}
		node, err := makeNode(arg)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, node)
	}
	return inputs, nil
}
