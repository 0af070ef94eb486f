package ndarray

import (
	"encoding/json"
	"time"
)

// Calibration maps array indices (or intensity values) to physical units:
// value = offset + index * scale.
type Calibration struct {
	Offset float64
	Scale  float64
	Units  string
}

// Identity is the default uncalibrated mapping.
func Identity() Calibration {
	return Calibration{Scale: 1.0}
}

func (c Calibration) ConvertToCalibrated(value float64) float64 {
	scale := c.Scale
	if scale == 0 {
		scale = 1.0
	}
	return c.Offset + value*scale
}

// ToDict serializes the calibration for the persisted record.
func (c Calibration) ToDict() map[string]any {
	return map[string]any{"offset": c.Offset, "scale": c.Scale, "units": c.Units}
}

// CalibrationFromDict reads a calibration dict, tolerating missing keys.
func CalibrationFromDict(d map[string]any) Calibration {
	c := Identity()
	if v, ok := toFloat(d["offset"]); ok {
		c.Offset = v
	}
	if v, ok := toFloat(d["scale"]); ok {
		c.Scale = v
	}
	if s, ok := d["units"].(string); ok {
		c.Units = s
	}
	return c
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case json.Number:
		f, err := value.Float64()
		return f, err == nil
	}
	return 0, false
}

// DataAndMetadata bundles an array with its calibrations and free-form
// metadata. It is the unit of exchange with the numeric kernels.
type DataAndMetadata struct {
	Data                   *NDArray
	IntensityCalibration   Calibration
	DimensionalCalibrations []Calibration
	Metadata               map[string]any
	Timestamp              time.Time
}

// NewDataAndMetadata wraps an array, filling identity calibrations for any
// missing dimensions.
func NewDataAndMetadata(data *NDArray, intensity Calibration, dimensional []Calibration, metadata map[string]any) *DataAndMetadata {
	for len(dimensional) < len(data.Shape) {
		dimensional = append(dimensional, Identity())
	}
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &DataAndMetadata{
		Data:                   data,
		IntensityCalibration:   intensity,
		DimensionalCalibrations: dimensional,
		Metadata:               metadata,
		Timestamp:              time.Now().UTC(),
	}
}

func (d *DataAndMetadata) Shape() []int { return d.Data.Shape }

func (d *DataAndMetadata) DType() DType { return d.Data.DType }

// Clone returns a deep copy.
func (d *DataAndMetadata) Clone() *DataAndMetadata {
	if d == nil {
		return nil
	}
	metadata := make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		metadata[k] = v
	}
	return &DataAndMetadata{
		Data:                   d.Data.Clone(),
		IntensityCalibration:   d.IntensityCalibration,
		DimensionalCalibrations: append([]Calibration(nil), d.DimensionalCalibrations...),
		Metadata:               metadata,
		Timestamp:              d.Timestamp,
	}
}
