package model

import (
	"math"
	"math/cmplx"

	"github.com/lumeno/docmodel/ndarray"
	"github.com/lumeno/docmodel/persistence"
	"github.com/lumeno/docmodel/symbolic"
)

// boundDataItem resolves a data_item specifier to the item's array data. The
// changed signal follows the underlying data source.
type boundDataItem struct {
	dataItem     *DataItem
	source       *BufferedDataSource
	propertyName string
	changed      persistence.Signal
	listener     *persistence.Listener[struct{}]
}

func newBoundDataItem(item *DataItem, propertyName string) *boundDataItem {
	b := &boundDataItem{dataItem: item, source: item.MaybeDataSource(), propertyName: propertyName}
	if b.source != nil {
		b.listener = b.source.DataAndMetadataChanged.Listen(func(struct{}) {
			persistence.FireSignal(&b.changed)
		})
	}
	return b
}

// DataItem exposes the resolved item so the document model can record
// computation dependencies.
func (b *boundDataItem) DataItem() *DataItem { return b.dataItem }

func (b *boundDataItem) Value() any {
	if b.source == nil {
		return nil
	}
	switch b.propertyName {
	case "", "data", "xdata":
		return b.source.DataAndMetadata()
	case "display_data", "display_xdata":
		return displayData(b.source)
	}
	return b.source.object.PropertyValue(b.propertyName)
}

func (b *boundDataItem) ChangedEvent() *persistence.Signal { return &b.changed }

func (b *boundDataItem) Close() {
	if b.listener != nil {
		b.listener.Close()
		b.listener = nil
	}
}

// displayData reduces the source array to what a display shows: complex data
// becomes log-magnitude, 3d data collapses to the display's slice.
func displayData(source *BufferedDataSource) *ndarray.DataAndMetadata {
	dam := source.DataAndMetadata()
	if dam == nil {
		return nil
	}
	if len(dam.Shape()) == 3 {
		displays := source.Displays()
		center, width := 0, 1
		if len(displays) > 0 {
			if c, ok := toFloat(displays[0].object.PropertyValue("slice_center")); ok {
				center = int(c)
			}
			if w, ok := toFloat(displays[0].object.PropertyValue("slice_width")); ok && w >= 1 {
				width = int(w)
			}
		}
		sliced, err := ndarray.SliceSum(dam, center, width)
		if err != nil {
			return nil
		}
		dam = sliced
	}
	if dam.DType().IsComplex() {
		data := dam.Data
		out := ndarray.New(data.Shape, ndarray.Float64)
		for i := 0; i < out.Len(); i++ {
			out.Data[i] = math.Log(cmplx.Abs(data.CAt(unravel(data.Shape, i)...)) + 1)
		}
		return ndarray.NewDataAndMetadata(out, dam.IntensityCalibration, dam.DimensionalCalibrations, dam.Metadata)
	}
	return dam
}

func unravel(shape []int, offset int) []int {
	index := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		index[i] = offset % shape[i]
		offset /= shape[i]
	}
	return index
}

// boundGraphic resolves a region specifier to a graphic property value.
type boundGraphic struct {
	graphic      *Graphic
	propertyName string
	changed      persistence.Signal
	listener     *persistence.Listener[string]
}

func newBoundGraphic(graphic *Graphic, propertyName string) *boundGraphic {
	b := &boundGraphic{graphic: graphic, propertyName: propertyName}
	b.listener = graphic.PropertyChanged.Listen(func(string) {
		persistence.FireSignal(&b.changed)
	})
	return b
}

func (b *boundGraphic) Graphic() *Graphic { return b.graphic }

func (b *boundGraphic) Value() any {
	if b.propertyName == "" {
		return b.graphic
	}
	return b.graphic.PropertyValue(b.propertyName)
}

func (b *boundGraphic) ChangedEvent() *persistence.Signal { return &b.changed }

func (b *boundGraphic) Close() {
	if b.listener != nil {
		b.listener.Close()
		b.listener = nil
	}
}

var _ symbolic.BoundItem = (*boundDataItem)(nil)
var _ symbolic.BoundItem = (*boundGraphic)(nil)
