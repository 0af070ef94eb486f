package migration

import (
	"strings"
)

// expressionInfo describes how a legacy operation translates into a
// computation expression plus its variables.
type expressionInfo struct {
	label          string
	expression     string
	processingID   string
	srcLabels      []string
	srcNames       []string
	variables      []map[string]any
	useDisplayData bool
}

func operationExpressions() map[string]expressionInfo {
	sigmaVar := map[string]any{"control_type": "slider", "label": "Sigma", "name": "sigma", "type": "variable", "value": 3.0, "value_default": 3.0, "value_max": 100.0, "value_min": 0.0, "value_type": "real"}
	filterSizeVar := map[string]any{"label": "Size", "op_name": "size", "name": "filter_size", "type": "variable", "value": 3, "value_default": 3, "value_max": 100, "value_min": 1, "value_type": "integral"}
	doTransposeVar := map[string]any{"label": "Tranpose", "op_name": "transpose", "name": "do_transpose", "type": "variable", "value": false, "value_default": false, "value_type": "boolean"}
	doFlipVVar := map[string]any{"label": "Flip Vertical", "op_name": "flip_horizontal", "name": "do_flip_v", "type": "variable", "value": false, "value_default": false, "value_type": "boolean"}
	doFlipHVar := map[string]any{"label": "Flip Horizontal", "op_name": "flip_vertical", "name": "do_flip_h", "type": "variable", "value": false, "value_default": false, "value_type": "boolean"}
	centerVar := map[string]any{"label": "Center", "op_name": "slice_center", "name": "center", "type": "variable", "value": 0, "value_default": 0, "value_min": 0, "value_type": "integral"}
	sliceWidthVar := map[string]any{"label": "Width", "op_name": "slice_width", "name": "width", "type": "variable", "value": 1, "value_default": 1, "value_min": 1, "value_type": "integral"}
	pickVar := map[string]any{"label": "Pick Point", "name": "pick_region", "type": "variable", "value_type": "point"}
	widthVar := map[string]any{"label": "Width", "name": "width", "type": "variable", "value": 256, "value_default": 256, "value_min": 1, "value_type": "integral"}
	heightVar := map[string]any{"label": "Height", "name": "height", "type": "variable", "value": 256, "value_default": 256, "value_min": 1, "value_type": "integral"}
	binsVar := map[string]any{"label": "Bins", "name": "bins", "type": "variable", "value": 256, "value_default": 256, "value_min": 2, "value_type": "integral"}
	lineVar := map[string]any{"label": "Line Profile", "name": "line_region", "type": "variable", "value_type": "line"}

	src := []string{"Source"}
	srcName := []string{"src"}
	return map[string]expressionInfo{
		"fft-operation":             {"FFT", "xd.fft({src})", "fft", src, srcName, nil, true},
		"inverse-fft-operation":     {"Inverse FFT", "xd.ifft({src})", "inverse-fft", src, srcName, nil, false},
		"auto-correlate-operation":  {"Auto Correlate", "xd.autocorrelate({src})", "auto-correlate", src, srcName, nil, true},
		"cross-correlate-operation": {"Cross Correlate", "xd.crosscorrelate({src1}, {src2})", "cross-correlate", []string{"Source1", "Source2"}, []string{"src1", "src2"}, nil, true},
		"invert-operation":          {"Invert", "xd.invert({src})", "invert", src, srcName, nil, true},
		"sobel-operation":           {"Sobel", "xd.sobel({src})", "sobel", src, srcName, nil, true},
		"laplace-operation":         {"Laplace", "xd.laplace({src})", "laplace", src, srcName, nil, true},
		"gaussian-blur-operation":   {"Gaussian Blur", "xd.gaussian_blur({src}, sigma)", "gaussian-blur", src, srcName, []map[string]any{sigmaVar}, true},
		"median-filter-operation":   {"Median Filter", "xd.median_filter({src}, filter_size)", "median-filter", src, srcName, []map[string]any{filterSizeVar}, true},
		"uniform-filter-operation":  {"Uniform Filter", "xd.uniform_filter({src}, filter_size)", "uniform-filter", src, srcName, []map[string]any{filterSizeVar}, true},
		"transpose-flip-operation":  {"Transpose/Flip", "xd.transpose_flip({src}, do_transpose, do_flip_v, do_flip_h)", "transpose-flip", src, srcName, []map[string]any{doTransposeVar, doFlipVVar, doFlipHVar}, true},
		"crop-operation":            {"Crop", "xd.crop({src}, crop_region.bounds)", "crop", src, srcName, nil, true},
		"slice-operation":           {"Slice", "xd.slice_sum({src}, center, width)", "slice", src, srcName, []map[string]any{centerVar, sliceWidthVar}, false},
		"pick-operation":            {"Pick", "xd.pick({src}, pick_region.position)", "pick-point", src, srcName, []map[string]any{pickVar}, false},
		"projection-operation":      {"Sum", "xd.sum({src}, 0)", "sum", src, srcName, nil, false},
		"resample-operation":        {"Reshape", "xd.resample_image({src}, (height, width))", "resample", src, srcName, []map[string]any{widthVar, heightVar}, true},
		"histogram-operation":       {"Histogram", "xd.histogram({src}, bins)", "histogram", src, srcName, []map[string]any{binsVar}, true},
		"line-profile-operation":    {"Line Profile", "xd.line_profile({src}, line_region.vector, line_region.width)", "line-profile", src, srcName, []map[string]any{lineVar}, true},
		"convert-to-scalar-operation": {"Scalar", "{src}", "convert-to-scalar", src, srcName, nil, true},
	}
}

// migrateToV9 converts legacy operations into computations: the operation dict
// under each data source becomes an expression with data item and region
// variables, and extra_high_tension moves into the autostem metadata dict.
func migrateToV9(infos []*ReaderInfo) {
	sourceUUIDToItemUUID := map[string]string{}
	for _, info := range infos {
		for _, s := range listValue(info.Properties, "data_sources") {
			if source, ok := s.(map[string]any); ok {
				sourceUUIDToItemUUID[stringValue(source, "uuid")] = stringValue(info.Properties, "uuid")
			}
		}
	}
	expressions := operationExpressions()
	for _, info := range infos {
		properties := info.Properties
		if Version(properties) != 8 {
			continue
		}
		for _, s := range listValue(properties, "data_sources") {
			source, ok := s.(map[string]any)
			if !ok {
				continue
			}
			metadata := dictValue(source, "metadata")
			if hardwareSource := dictValue(metadata, "hardware_source"); hardwareSource != nil {
				if highTension := hardwareSource["extra_high_tension"]; highTension != nil {
					setDefaultDict(hardwareSource, "autostem")["high_tension_v"] = highTension
				}
			}
		}
		for _, s := range listValue(properties, "data_sources") {
			source, ok := s.(map[string]any)
			if !ok {
				continue
			}
			operation := dictValue(source, "data_source")
			if operation == nil || stringValue(operation, "type") != "operation" {
				continue
			}
			delete(source, "data_source")
			operationID := stringValue(operation, "operation_id")
			expr, known := expressions[operationID]
			if !known {
				continue
			}
			source["computation"] = buildComputation(operationID, expr, operation, sourceUUIDToItemUUID)
		}
		properties["version"] = 9
		info.Changed = true
		logMigration(info, "operation to computation")
	}
}

func buildComputation(operationID string, expr expressionInfo, operation map[string]any, sourceUUIDToItemUUID map[string]string) map[string]any {
	computation := map[string]any{
		"label":         expr.label,
		"processing_id": expr.processingID,
		"type":          "computation",
		"uuid":          newUUID(),
	}
	var variables []any
	dataSources := listValue(operation, "data_sources")
	srcs := []string{"src"}
	if len(dataSources) >= 2 {
		srcs = []string{"src1", "src2"}
	}
	kws := map[string]string{}
	accessor := ".data"
	if expr.useDisplayData {
		accessor = ".display_data"
	}
	for i, d := range dataSources {
		if i >= len(srcs) {
			break
		}
		source, ok := d.(map[string]any)
		if !ok {
			continue
		}
		kws[srcs[i]] = srcs[i] + accessor
		switch stringValue(source, "type") {
		case "data-item-data-source":
			itemUUID := sourceUUIDToItemUUID[stringValue(source, "buffered_data_source_uuid")]
			if itemUUID == "" {
				itemUUID = newUUID()
			}
			variables = append(variables, sourceVariable(expr.srcNames[i], expr.srcLabels[i], "data_item", itemUUID))
			if operationID == "crop-operation" {
				if connections := dictValue(operation, "region_connections"); connections != nil {
					variables = append(variables, sourceVariable("crop_region", "Crop Region", "region", stringValue(connections, "crop")))
				}
			}
		case "operation":
			// a nested crop operation folds into the expression
			var itemUUID, cropUUID string
			if nested := listValue(source, "data_sources"); len(nested) > 0 {
				if nestedSource, ok := nested[0].(map[string]any); ok {
					itemUUID = sourceUUIDToItemUUID[stringValue(nestedSource, "buffered_data_source_uuid")]
				}
			}
			if itemUUID == "" {
				itemUUID = newUUID()
			}
			if connections := dictValue(source, "region_connections"); connections != nil {
				cropUUID = stringValue(connections, "crop")
			}
			variables = append(variables, sourceVariable(expr.srcNames[i], expr.srcLabels[i], "data_item", itemUUID))
			variables = append(variables, sourceVariable("crop_region", "Crop Region", "region", cropUUID))
			kws[srcs[i]] = "xd.crop(" + kws[srcs[i]] + ", crop_region.bounds)"
		}
	}
	if connections := dictValue(operation, "region_connections"); connections != nil {
		if v, ok := connections["pick"].(string); ok {
			variable := sourceVariable("pick_region", "", "region", v)
			delete(variable, "label")
			variables = append(variables, variable)
		}
		if v, ok := connections["line"].(string); ok {
			variable := sourceVariable("line_region", "", "region", v)
			delete(variable, "label")
			variables = append(variables, variable)
		}
	}
	values := dictValue(operation, "values")
	for _, template := range expr.variables {
		valueType := stringValue(template, "value_type")
		if valueType == "line" || valueType == "point" {
			continue
		}
		variable := map[string]any{}
		for k, v := range template {
			variable[k] = v
		}
		variable["uuid"] = newUUID()
		valueName := stringValue(variable, "op_name")
		if valueName == "" {
			valueName = stringValue(variable, "name")
		}
		if values != nil {
			if v, ok := values[valueName]; ok {
				variable["value"] = v
			}
		}
		variables = append(variables, variable)
	}
	if variables == nil {
		variables = []any{}
	}
	computation["variables"] = variables
	expression := expr.expression
	for name, value := range kws {
		expression = strings.ReplaceAll(expression, "{"+name+"}", value)
	}
	computation["original_expression"] = expression
	return computation
}

func sourceVariable(name, label, specifierType, specifierUUID string) map[string]any {
	variable := map[string]any{
		"cascade_delete": true,
		"name":           name,
		"type":           "variable",
		"uuid":           newUUID(),
		"specifier":      map[string]any{"type": specifierType, "uuid": specifierUUID, "version": 1},
	}
	if label != "" {
		variable["label"] = label
	}
	return variable
}
