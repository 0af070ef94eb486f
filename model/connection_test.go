package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyConnectionForward(t *testing.T) {
	display := NewDisplay()
	interval := NewGraphic(GraphicTypeInterval)
	display.AddGraphic(interval)

	connection := NewPropertyConnection(display, "slice_interval", interval, "interval")
	defer connection.Close()

	display.SetSliceCenter(4)
	display.SetSliceWidth(2)
	assert.Equal(t, []float64{3, 5}, interval.Interval())
}

func TestPropertyConnectionBackward(t *testing.T) {
	display := NewDisplay()
	interval := NewGraphic(GraphicTypeInterval)
	display.AddGraphic(interval)

	connection := NewPropertyConnection(display, "slice_interval", interval, "interval")
	defer connection.Close()

	interval.SetInterval(2, 6)
	assert.Equal(t, []float64{2, 6}, display.SliceInterval())
}

func TestIntervalListConnection(t *testing.T) {
	display := NewDisplay()
	lineProfile := NewGraphic(GraphicTypeLineProfile)

	connection := NewIntervalListConnection(display, lineProfile)
	defer connection.Close()

	interval := NewGraphic(GraphicTypeInterval)
	display.AddGraphic(interval)
	interval.SetInterval(0.2, 0.4)

	descriptors, ok := lineProfile.object.PropertyValue("interval_descriptors").([]any)
	require.True(t, ok)
	require.Len(t, descriptors, 1)
	descriptor, ok := descriptors[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{0.2, 0.4}, descriptor["interval"])
}

func TestConnectionRebindAfterRead(t *testing.T) {
	display := NewDisplay()
	interval := NewGraphic(GraphicTypeInterval)
	display.AddGraphic(interval)
	original := NewPropertyConnection(display, "slice_interval", interval, "interval")
	dict := original.object.WriteToDict()
	original.Close()

	restored, ok := connectionFactory(ConnectionTypeProperty).(*Connection)
	require.True(t, ok)
	restored.object.ReadFromDict(dict)
	assert.Equal(t, display.object.UUID(), restored.SourceUUID())
	assert.Equal(t, interval.object.UUID(), restored.DestinationUUID())

	restored.Connect(display, interval)
	defer restored.Close()
	display.SetSliceCenter(10)
	display.SetSliceWidth(4)
	assert.Equal(t, []float64{8, 12}, interval.Interval())
}
