package model

import (
	"fmt"
	"strings"

	"github.com/lumeno/docmodel/symbolic"
)

// ProcessingRegion describes a graphic an operation needs on its source or
// creates on its target.
type ProcessingRegion struct {
	Name   string
	Type   string
	Params map[string]any
}

// ProcessingParameter describes a scalar input exposed by an operation.
type ProcessingParameter struct {
	Name         string
	Label        string
	Type         string
	Value        any
	ValueDefault any
	ValueMin     any
	ValueMax     any
	ControlType  string
}

// ProcessingRequirement constrains a source; only the dimensionality kind is
// defined. Min or Max of zero means unconstrained on that side.
type ProcessingRequirement struct {
	Type string
	Min  int
	Max  int
}

// ProcessingSource describes one data item input of an operation.
type ProcessingSource struct {
	Name           string
	Label          string
	Croppable      bool
	UseDisplayData *bool
	Regions        []ProcessingRegion
	Requirements   []ProcessingRequirement
}

// ProcessingConnection links a target display property or interval list to a
// region created by the operation.
type ProcessingConnection struct {
	Type        string
	Source      string
	SourceProp  string
	Destination string
	DestProp    string
}

// ProcessingDescription is a declarative recipe for building a computation:
// an expression template plus the sources, regions, parameters, and
// connections it needs.
type ProcessingDescription struct {
	Title       string
	Expression  string
	Sources     []ProcessingSource
	Parameters  []ProcessingParameter
	OutRegions  []ProcessingRegion
	Connections []ProcessingConnection
}

func (s ProcessingSource) useDisplayData() bool {
	return s.UseDisplayData == nil || *s.UseDisplayData
}

func boolPtr(b bool) *bool { return &b }

func builtinProcessingDescriptions() map[string]ProcessingDescription {
	croppable := func(name, label string) ProcessingSource {
		return ProcessingSource{Name: name, Label: label, Croppable: true}
	}
	requirement2d := ProcessingRequirement{Type: "dimensionality", Min: 2, Max: 2}
	requirement3d := ProcessingRequirement{Type: "dimensionality", Min: 3, Max: 3}
	sigma := ProcessingParameter{Name: "sigma", Label: "Sigma", Type: "real", Value: 3.0, ValueDefault: 3.0, ValueMin: 0.0, ValueMax: 100.0, ControlType: "slider"}
	filterSize := ProcessingParameter{Name: "filter_size", Label: "Size", Type: "integral", Value: 3, ValueDefault: 3, ValueMin: 1, ValueMax: 100}
	descriptions := map[string]ProcessingDescription{
		"fft": {Title: "FFT", Expression: "xd.fft({src})", Sources: []ProcessingSource{croppable("src", "Source")}},
		"inverse-fft": {Title: "Inverse FFT", Expression: "xd.ifft({src})",
			Sources: []ProcessingSource{{Name: "src", Label: "Source", UseDisplayData: boolPtr(false)}}},
		"auto-correlate": {Title: "Auto Correlate", Expression: "xd.autocorrelate({src})", Sources: []ProcessingSource{croppable("src", "Source")}},
		"cross-correlate": {Title: "Cross Correlate", Expression: "xd.crosscorrelate({src1}, {src2})",
			Sources: []ProcessingSource{croppable("src1", "Source 1"), croppable("src2", "Source 2")}},
		"sobel":   {Title: "Sobel", Expression: "xd.sobel({src})", Sources: []ProcessingSource{croppable("src", "Source")}},
		"laplace": {Title: "Laplace", Expression: "xd.laplace({src})", Sources: []ProcessingSource{croppable("src", "Source")}},
		"gaussian-blur": {Title: "Gaussian Blur", Expression: "xd.gaussian_blur({src}, sigma)",
			Sources: []ProcessingSource{croppable("src", "Source")}, Parameters: []ProcessingParameter{sigma}},
		"median-filter": {Title: "Median Filter", Expression: "xd.median_filter({src}, filter_size)",
			Sources: []ProcessingSource{croppable("src", "Source")}, Parameters: []ProcessingParameter{filterSize}},
		"uniform-filter": {Title: "Uniform Filter", Expression: "xd.uniform_filter({src}, filter_size)",
			Sources: []ProcessingSource{croppable("src", "Source")}, Parameters: []ProcessingParameter{filterSize}},
		"transpose-flip": {Title: "Transpose/Flip", Expression: "xd.transpose_flip({src}, do_transpose, do_flip_v, do_flip_h)",
			Sources: []ProcessingSource{croppable("src", "Source")},
			Parameters: []ProcessingParameter{
				{Name: "do_transpose", Label: "Transpose", Type: "boolean", Value: false, ValueDefault: false},
				{Name: "do_flip_v", Label: "Flip Vertical", Type: "boolean", Value: false, ValueDefault: false},
				{Name: "do_flip_h", Label: "Flip Horizontal", Type: "boolean", Value: false, ValueDefault: false},
			}},
		"resample": {Title: "Resample", Expression: "xd.resample_image({src}, (height, width))",
			Sources: []ProcessingSource{croppable("src", "Source")},
			Parameters: []ProcessingParameter{
				{Name: "width", Label: "Width", Type: "integral", Value: 256, ValueDefault: 256, ValueMin: 1},
				{Name: "height", Label: "Height", Type: "integral", Value: 256, ValueDefault: 256, ValueMin: 1},
			}},
		"histogram": {Title: "Histogram", Expression: "xd.histogram({src}, bins)",
			Sources: []ProcessingSource{croppable("src", "Source")},
			Parameters: []ProcessingParameter{
				{Name: "bins", Label: "Bins", Type: "integral", Value: 256, ValueDefault: 256, ValueMin: 2},
			}},
		"invert":            {Title: "Invert", Expression: "xd.invert({src})", Sources: []ProcessingSource{croppable("src", "Source")}},
		"convert-to-scalar": {Title: "Scalar", Expression: "{src}", Sources: []ProcessingSource{croppable("src", "Source")}},
		"crop": {Title: "Crop", Expression: "xd.crop({src}, crop_region.bounds)",
			Sources: []ProcessingSource{{Name: "src", Label: "Source",
				Regions:      []ProcessingRegion{{Name: "crop_region", Type: "rectangle", Params: map[string]any{"label": "Crop Region"}}},
				Requirements: []ProcessingRequirement{requirement2d}}}},
		"sum": {Title: "Sum", Expression: "xd.sum({src}, 0)",
			Sources: []ProcessingSource{{Name: "src", Label: "Source", Croppable: true, UseDisplayData: boolPtr(false),
				Requirements: []ProcessingRequirement{requirement2d}}}},
		"slice": {Title: "Slice", Expression: "xd.slice_sum({src}, center, width)",
			Sources: []ProcessingSource{{Name: "src", Label: "Source", Croppable: true, UseDisplayData: boolPtr(false),
				Requirements: []ProcessingRequirement{requirement3d}}},
			Parameters: []ProcessingParameter{
				{Name: "center", Label: "Center", Type: "integral", Value: 0, ValueDefault: 0, ValueMin: 0},
				{Name: "width", Label: "Width", Type: "integral", Value: 1, ValueDefault: 1, ValueMin: 1},
			}},
		"pick-point": {Title: "Pick", Expression: "xd.pick({src}, pick_region.position)",
			Sources: []ProcessingSource{{Name: "src", Label: "Source", UseDisplayData: boolPtr(false),
				Regions:      []ProcessingRegion{{Name: "pick_region", Type: "point", Params: map[string]any{"label": "Pick Point"}}},
				Requirements: []ProcessingRequirement{requirement3d}}},
			OutRegions: []ProcessingRegion{{Name: "interval_region", Type: "interval", Params: map[string]any{"label": "Display Slice"}}},
			Connections: []ProcessingConnection{{Type: "property", Source: "display", SourceProp: "slice_interval",
				Destination: "interval_region", DestProp: "interval"}}},
		"pick-mask-sum": {Title: "Pick Sum", Expression: "xd.sum_region({src}, region.mask_xdata_with_shape({src}.data_shape[0:2]))",
			Sources: []ProcessingSource{{Name: "src", Label: "Source", UseDisplayData: boolPtr(false),
				Regions:      []ProcessingRegion{{Name: "region", Type: "rectangle", Params: map[string]any{"label": "Pick Region"}}},
				Requirements: []ProcessingRequirement{requirement3d}}},
			OutRegions: []ProcessingRegion{{Name: "interval_region", Type: "interval", Params: map[string]any{"label": "Display Slice"}}},
			Connections: []ProcessingConnection{{Type: "property", Source: "display", SourceProp: "slice_interval",
				Destination: "interval_region", DestProp: "interval"}}},
		"line-profile": {Title: "Line Profile", Expression: "xd.line_profile({src}, line_region.vector, line_region.width)",
			Sources: []ProcessingSource{{Name: "src", Label: "Source",
				Regions: []ProcessingRegion{{Name: "line_region", Type: "line", Params: map[string]any{"label": "Line Profile"}}}}},
			Connections: []ProcessingConnection{{Type: "interval_list", Source: "data_source", Destination: "line_region"}}},
		"filter": {Title: "Filter", Expression: "xd.real(xd.ifft(xd.fourier_mask({src}, region.mask_xdata_with_shape({src}.data_shape[0:2]))))",
			Sources: []ProcessingSource{{Name: "src", Label: "Source",
				Regions:      []ProcessingRegion{{Name: "region", Type: "spot"}},
				Requirements: []ProcessingRequirement{requirement2d}}}},
	}
	return descriptions
}

// RegisterProcessingDescriptions adds operation recipes to this document.
// Registering an id twice panics.
func (m *DocumentModel) RegisterProcessingDescriptions(descriptions map[string]ProcessingDescription) {
	for id := range descriptions {
		if _, exists := m.processingDescriptions[id]; exists {
			panic(fmt.Sprintf("processing description %q already registered", id))
		}
	}
	for id, description := range descriptions {
		m.processingDescriptions[id] = description
	}
}

// UnregisterProcessingDescriptions removes previously registered recipes.
func (m *DocumentModel) UnregisterProcessingDescriptions(processingIDs []string) {
	for _, id := range processingIDs {
		delete(m.processingDescriptions, id)
	}
}

func (m *DocumentModel) ProcessingDescriptionFor(processingID string) (ProcessingDescription, bool) {
	description, ok := m.processingDescriptions[processingID]
	return description, ok
}

// ComputationInput pairs a source data item with an optional crop graphic.
type ComputationInput struct {
	DataItem   *DataItem
	CropRegion *Graphic
}

// formatExpression substitutes {name} placeholders in a recipe expression.
func formatExpression(expression string, substitutions map[string]string) string {
	for name, text := range substitutions {
		expression = strings.ReplaceAll(expression, "{"+name+"}", text)
	}
	return expression
}

// regionDefaults positions a freshly created input region.
func applyRegionDefaults(region *Graphic, regionType string) {
	switch regionType {
	case "line":
		region.SetVector(0.25, 0.25, 0.75, 0.75)
	case "rectangle":
		region.SetCenter(0.5, 0.5)
		region.SetSize(0.5, 0.5)
	case "spot":
		region.SetCenter(0.25, 0.75)
		region.SetSize(0.1, 0.1)
	}
}

func graphicTypeForRegion(regionType string) string {
	switch regionType {
	case "point":
		return GraphicTypePoint
	case "line":
		return GraphicTypeLineProfile
	case "rectangle":
		return GraphicTypeRect
	case "spot":
		return GraphicTypeSpot
	case "interval":
		return GraphicTypeInterval
	case "channel":
		return GraphicTypeChannel
	}
	return ""
}

// MakeComputation builds a new data item whose data is computed from the
// inputs by the named operation. Input regions named by the recipe are taken
// from regionListMap when supplied, otherwise created on the source display
// with recipe defaults. Returns nil when an input fails the recipe's
// requirements. The computation is attached last so the initial recompute
// sees the fully configured item.
func (m *DocumentModel) MakeComputation(processingID string, inputs []ComputationInput, regionListMap map[string][]*Graphic) *DataItem {
	description, ok := m.processingDescriptions[processingID]
	if !ok {
		return nil
	}
	if len(inputs) != len(description.Sources) {
		panic(fmt.Sprintf("operation %q wants %d inputs, got %d", processingID, len(description.Sources), len(inputs)))
	}
	type namedRegion struct {
		name    string
		graphic *Graphic
		label   string
	}
	srcNames := make([]string, 0, len(description.Sources))
	srcLabels := make([]string, 0, len(description.Sources))
	srcTexts := map[string]string{}
	cropNames := make([]string, len(description.Sources))
	var regions []namedRegion
	regionMap := map[string]*Graphic{}
	for i, sourceDict := range description.Sources {
		input := inputs[i]
		source := input.DataItem.MaybeDataSource()
		if source == nil {
			return nil
		}
		for _, requirement := range sourceDict.Requirements {
			if requirement.Type != "dimensionality" {
				continue
			}
			dimensionality := len(source.DataShape())
			if requirement.Min > 0 && dimensionality < requirement.Min {
				return nil
			}
			if requirement.Max > 0 && dimensionality > requirement.Max {
				return nil
			}
		}
		suffix := ""
		if len(description.Sources) > 1 {
			suffix = fmt.Sprintf("%d", i)
		}
		srcText := sourceDict.Name + ".xdata"
		if sourceDict.useDisplayData() {
			srcText = sourceDict.Name + ".display_xdata"
		}
		if sourceDict.Croppable && input.CropRegion != nil {
			cropNames[i] = "crop_region" + suffix
			srcText = "xd.crop(" + srcText + ", " + cropNames[i] + ".bounds)"
		}
		srcNames = append(srcNames, sourceDict.Name)
		srcLabels = append(srcLabels, sourceDict.Label)
		srcTexts[sourceDict.Name] = srcText
		display := firstDisplay(source)
		suppliedRegions := regionListMap[sourceDict.Name]
		for j, regionDict := range sourceDict.Regions {
			var region *Graphic
			if j < len(suppliedRegions) && suppliedRegions[j] != nil {
				region = suppliedRegions[j]
			} else {
				region = NewGraphic(graphicTypeForRegion(regionDict.Type))
				applyRegionDefaults(region, regionDict.Type)
				if label, ok := regionDict.Params["label"].(string); ok {
					region.SetPropertyValue("label", label)
				}
				if display != nil {
					display.AddGraphic(region)
				}
			}
			label, _ := regionDict.Params["label"].(string)
			regions = append(regions, namedRegion{name: regionDict.Name, graphic: region, label: label})
			regionMap[regionDict.Name] = region
		}
	}

	script := formatExpression(description.Expression, srcTexts)
	computation := m.CreateComputation(script)
	computation.SetLabel(description.Title)
	computation.SetProcessingID(processingID)
	for i, name := range srcNames {
		variable := computation.CreateObject(name, m.ObjectSpecifier(inputs[i].DataItem))
		variable.SetLabel(srcLabels[i])
	}
	for i, cropName := range cropNames {
		if cropName == "" {
			continue
		}
		variable := computation.CreateObject(cropName, m.ObjectSpecifier(inputs[i].CropRegion))
		variable.SetLabel("Crop Region")
	}
	for _, region := range regions {
		variable := computation.CreateObject(region.name, m.ObjectSpecifier(region.graphic))
		variable.SetLabel(region.label)
	}
	for _, parameter := range description.Parameters {
		variable := symbolic.VariableFromFields(parameter.Name, parameter.Type, parameter.Value,
			parameter.ValueDefault, parameter.ValueMin, parameter.ValueMax, parameter.ControlType, nil)
		variable.SetLabel(parameter.Label)
		computation.AddVariable(variable)
	}

	dataItem0 := inputs[0].DataItem
	newDataItem := NewDataItem()
	newDataItem.SetTitle(description.Title + " of " + dataItem0.Title())
	newDataItem.SetCategory(dataItem0.Category())
	newSource := NewBufferedDataSource()
	newDisplay := NewDisplay()
	newSource.AddDisplay(newDisplay)
	newDataItem.AppendDataSource(newSource)
	m.AppendDataItem(newDataItem)

	newRegions := map[string]*Graphic{}
	for _, outRegionDict := range description.OutRegions {
		if outRegionDict.Type != "interval" {
			continue
		}
		intervalRegion := NewGraphic(GraphicTypeInterval)
		if label, ok := outRegionDict.Params["label"].(string); ok {
			intervalRegion.SetPropertyValue("label", label)
		}
		newDisplay.AddGraphic(intervalRegion)
		newRegions[outRegionDict.Name] = intervalRegion
	}

	sourceDisplay := firstDisplay(inputs[0].DataItem.MaybeDataSource())
	for _, connectionDict := range description.Connections {
		switch connectionDict.Type {
		case "property":
			if connectionDict.Source == "display" {
				if target := newRegions[connectionDict.Destination]; target != nil {
					newDataItem.AddConnection(NewPropertyConnection(newDisplay, connectionDict.SourceProp, target, connectionDict.DestProp))
				}
			}
		case "interval_list":
			if lineRegion := regionMap[connectionDict.Destination]; lineRegion != nil && sourceDisplay != nil {
				newDataItem.AddConnection(NewIntervalListConnection(sourceDisplay, lineRegion))
			}
		}
	}

	// attach the computation last so the first recompute clones a fully
	// configured item and the merge cannot undo the connection setup
	newSource.SetComputation(computation)
	return newDataItem
}

// UpdateComputation reformats the computation's expression from its recipe,
// keeping the crop wrapping consistent with its current variables. Used when
// reading older libraries whose stored expressions predate recipe changes.
func (m *DocumentModel) UpdateComputation(computation *symbolic.Computation) {
	if computation == nil {
		return
	}
	description, ok := m.processingDescriptions[computation.ProcessingID()]
	if !ok {
		return
	}
	substitutions := map[string]string{}
	for i, sourceDict := range description.Sources {
		text := sourceDict.Name + ".xdata"
		if sourceDict.useDisplayData() {
			text = sourceDict.Name + ".display_xdata"
		}
		if sourceDict.Croppable {
			cropName := "crop_region"
			if len(description.Sources) > 1 {
				cropName = fmt.Sprintf("crop_region%d", i)
			}
			if computation.HasVariable(cropName) {
				text = "xd.crop(" + text + ", " + cropName + ".bounds)"
			}
		}
		substitutions[sourceDict.Name] = text
	}
	computation.SetOriginalExpression(formatExpression(description.Expression, substitutions))
}

func firstDisplay(source *BufferedDataSource) *Display {
	if source == nil {
		return nil
	}
	displays := source.Displays()
	if len(displays) == 0 {
		return nil
	}
	return displays[0]
}

// convenience constructors mirroring the operations menu

func (m *DocumentModel) GetFFTNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("fft", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetIFFTNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("inverse-fft", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetAutoCorrelateNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("auto-correlate", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetCrossCorrelateNew(item1, item2 *DataItem, cropRegion1, cropRegion2 *Graphic) *DataItem {
	return m.MakeComputation("cross-correlate", []ComputationInput{{item1, cropRegion1}, {item2, cropRegion2}}, nil)
}

func (m *DocumentModel) GetSobelNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("sobel", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetLaplaceNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("laplace", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetGaussianBlurNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("gaussian-blur", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetMedianFilterNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("median-filter", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetUniformFilterNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("uniform-filter", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetTransposeFlipNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("transpose-flip", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetResampleNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("resample", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetHistogramNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("histogram", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetInvertNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("invert", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetConvertToScalarNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("convert-to-scalar", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetCropNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("crop", []ComputationInput{{item, cropRegion}}, map[string][]*Graphic{"src": {cropRegion}})
}

func (m *DocumentModel) GetProjectionNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("sum", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetSliceSumNew(item *DataItem, cropRegion *Graphic) *DataItem {
	return m.MakeComputation("slice", []ComputationInput{{item, cropRegion}}, nil)
}

func (m *DocumentModel) GetPickNew(item *DataItem, cropRegion, pickRegion *Graphic) *DataItem {
	return m.MakeComputation("pick-point", []ComputationInput{{item, cropRegion}}, map[string][]*Graphic{"src": {pickRegion}})
}

func (m *DocumentModel) GetPickRegionNew(item *DataItem, cropRegion, pickRegion *Graphic) *DataItem {
	return m.MakeComputation("pick-mask-sum", []ComputationInput{{item, cropRegion}}, map[string][]*Graphic{"src": {pickRegion}})
}

func (m *DocumentModel) GetLineProfileNew(item *DataItem, cropRegion, lineRegion *Graphic) *DataItem {
	return m.MakeComputation("line-profile", []ComputationInput{{item, cropRegion}}, map[string][]*Graphic{"src": {lineRegion}})
}

func (m *DocumentModel) GetFourierFilterNew(item *DataItem, cropRegion, filterRegion *Graphic) *DataItem {
	return m.MakeComputation("filter", []ComputationInput{{item, cropRegion}}, map[string][]*Graphic{"src": {filterRegion}})
}

// GetSnapshotNew copies the item, data included, and appends the copy.
func (m *DocumentModel) GetSnapshotNew(item *DataItem) *DataItem {
	snapshot := item.Snapshot()
	snapshot.SetTitle("Snapshot of " + item.Title())
	m.AppendDataItem(snapshot)
	return snapshot
}
