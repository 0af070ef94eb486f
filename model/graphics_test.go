package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphicPropertyShapes(t *testing.T) {
	tests := []struct {
		description string
		graphic     func() *Graphic
		property    string
		expected    []float64
	}{
		{
			description: "rect bounds flatten to top left height width",
			graphic: func() *Graphic {
				g := NewGraphic(GraphicTypeRect)
				g.SetBounds(0.1, 0.2, 0.3, 0.4)
				return g
			},
			property: "bounds",
			expected: []float64{0.1, 0.2, 0.3, 0.4},
		},
		{
			description: "line profile vector",
			graphic: func() *Graphic {
				g := NewGraphic(GraphicTypeLineProfile)
				g.SetVector(0.1, 0.1, 0.9, 0.9)
				return g
			},
			property: "vector",
			expected: []float64{0.1, 0.1, 0.9, 0.9},
		},
		{
			description: "point position",
			graphic: func() *Graphic {
				g := NewGraphic(GraphicTypePoint)
				g.SetPosition(0.3, 0.7)
				return g
			},
			property: "position",
			expected: []float64{0.3, 0.7},
		},
		{
			description: "interval start end",
			graphic: func() *Graphic {
				g := NewGraphic(GraphicTypeInterval)
				g.SetInterval(0.25, 0.75)
				return g
			},
			property: "interval",
			expected: []float64{0.25, 0.75},
		},
	}
	for _, tc := range tests {
		value := tc.graphic().PropertyValue(tc.property)
		assert.Equal(t, tc.expected, value, tc.description)
	}
}

func TestGraphicCenterSizeBoundsEquivalence(t *testing.T) {
	g := NewGraphic(GraphicTypeRect)
	g.SetCenter(0.5, 0.5)
	g.SetSize(0.4, 0.2)
	assert.InDeltaSlice(t, []float64{0.3, 0.4, 0.4, 0.2}, g.Bounds(), 1e-9)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, g.Center(), 1e-9)
}

func TestGraphicPropertyChangedFires(t *testing.T) {
	g := NewGraphic(GraphicTypeInterval)
	var names []string
	g.PropertyChanged.Listen(func(name string) { names = append(names, name) })
	g.SetInterval(0.1, 0.9)
	assert.Contains(t, names, "start")
	assert.Contains(t, names, "end")
}

func TestDisplayRemoveGraphicFiresWillRemove(t *testing.T) {
	display := NewDisplay()
	graphic := NewGraphic(GraphicTypeRect)
	display.AddGraphic(graphic)

	var removed []*Graphic
	display.GraphicWillRemove.Listen(func(g *Graphic) { removed = append(removed, g) })
	display.RemoveGraphic(graphic)
	require.Len(t, removed, 1)
	assert.Same(t, graphic, removed[0])
	assert.True(t, graphic.IsAboutToBeRemoved())
	assert.Empty(t, display.Graphics())
}

func TestDisplayRoundTripRewiresGraphicListeners(t *testing.T) {
	display := NewDisplay()
	graphic := NewGraphic(GraphicTypeInterval)
	display.AddGraphic(graphic)
	dict := display.object.WriteToDict()

	restored := NewDisplay()
	restored.ReadFromDict(dict)
	require.Len(t, restored.Graphics(), 1)

	fired := 0
	restored.DisplayChanged.Listen(func(struct{}) { fired++ })
	restored.Graphics()[0].SetInterval(0.4, 0.6)
	assert.Greater(t, fired, 0)
}

func TestGraphicFactoryCoversPersistedTypes(t *testing.T) {
	for _, typeName := range []string{
		GraphicTypePoint, GraphicTypeLineProfile, GraphicTypeRect,
		GraphicTypeEllipse, GraphicTypeSpot, GraphicTypeInterval, GraphicTypeChannel,
	} {
		entity := GraphicFactory(typeName)
		require.NotNil(t, entity, typeName)
		graphic, ok := entity.(*Graphic)
		require.True(t, ok, typeName)
		assert.Equal(t, typeName, graphic.TypeName())
	}
	assert.Nil(t, GraphicFactory("unknown-graphic"))
}
