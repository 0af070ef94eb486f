package model

import (
	"github.com/lumeno/docmodel/persistence"
)

// Graphic type names as they appear in persisted display dicts.
const (
	GraphicTypePoint       = "point-graphic"
	GraphicTypeLineProfile = "line-profile-graphic"
	GraphicTypeRect        = "rect-graphic"
	GraphicTypeEllipse     = "ellipse-graphic"
	GraphicTypeSpot        = "spot-graphic"
	GraphicTypeInterval    = "interval-graphic"
	GraphicTypeChannel     = "channel-graphic"
)

// Graphic is a geometric annotation attached to a display. Rectangle-like
// graphics carry bounds, point-like graphics a position, line-like graphics
// start/end, interval graphics a start/end pair on one axis.
type Graphic struct {
	object *persistence.Object

	// PropertyChanged fires with the property name after any persisted
	// property mutates.
	PropertyChanged persistence.Event[string]

	aboutToBeRemoved bool
}

// NewGraphic builds a graphic of the named type with that type's default
// geometry.
func NewGraphic(typeName string) *Graphic {
	g := &Graphic{}
	g.object = persistence.NewObject(g)
	g.object.DefineType(typeName)
	changed := func(name string, value any) {
		g.PropertyChanged.Fire(name)
	}
	g.object.DefineProperty("graphic_id", nil).WithChanged(changed)
	g.object.DefineProperty("label", nil).WithChanged(changed)
	g.object.DefineProperty("is_position_locked", false).WithChanged(changed)
	g.object.DefineProperty("is_shape_locked", false).WithChanged(changed)
	g.object.DefineProperty("is_bounds_constrained", false).WithChanged(changed)
	switch typeName {
	case GraphicTypeRect, GraphicTypeEllipse, GraphicTypeSpot:
		g.object.DefineProperty("bounds", []any{[]any{0.0, 0.0}, []any{1.0, 1.0}}).WithChanged(changed)
	case GraphicTypePoint:
		g.object.DefineProperty("position", []any{0.5, 0.5}).WithChanged(changed)
	case GraphicTypeLineProfile:
		g.object.DefineProperty("start", []any{0.0, 0.0}).WithChanged(changed)
		g.object.DefineProperty("end", []any{1.0, 1.0}).WithChanged(changed)
		g.object.DefineProperty("width", 1.0).WithChanged(changed)
		g.object.DefineProperty("interval_descriptors", nil).WithChanged(changed)
	case GraphicTypeInterval:
		g.object.DefineProperty("start", 0.0).WithChanged(changed)
		g.object.DefineProperty("end", 1.0).WithChanged(changed)
	case GraphicTypeChannel:
		g.object.DefineProperty("position", 0.5).WithChanged(changed)
	}
	return g
}

func (g *Graphic) Persistent() *persistence.Object { return g.object }

func (g *Graphic) TypeName() string { return g.object.TypeName() }

func (g *Graphic) Label() string {
	s, _ := g.object.PropertyValue("label").(string)
	return s
}

func (g *Graphic) SetLabel(label string) { g.object.SetPropertyValue("label", label) }

func (g *Graphic) GraphicID() string {
	s, _ := g.object.PropertyValue("graphic_id").(string)
	return s
}

func (g *Graphic) SetGraphicID(id string) { g.object.SetPropertyValue("graphic_id", id) }

// Bounds returns {top, left, height, width} for rectangle-like graphics.
func (g *Graphic) Bounds() []float64 {
	pair, ok := g.object.PropertyValue("bounds").([]any)
	if !ok || len(pair) != 2 {
		return nil
	}
	origin := floatPair(pair[0])
	size := floatPair(pair[1])
	if origin == nil || size == nil {
		return nil
	}
	return []float64{origin[0], origin[1], size[0], size[1]}
}

func (g *Graphic) SetBounds(top, left, height, width float64) {
	g.object.SetPropertyValue("bounds", []any{[]any{top, left}, []any{height, width}})
}

// Center returns {y, x} of the bounds midpoint.
func (g *Graphic) Center() []float64 {
	bounds := g.Bounds()
	if bounds == nil {
		return nil
	}
	return []float64{bounds[0] + bounds[2]*0.5, bounds[1] + bounds[3]*0.5}
}

func (g *Graphic) SetCenter(y, x float64) {
	bounds := g.Bounds()
	if bounds == nil {
		g.SetBounds(y-0.5, x-0.5, 1, 1)
		return
	}
	g.SetBounds(y-bounds[2]*0.5, x-bounds[3]*0.5, bounds[2], bounds[3])
}

func (g *Graphic) SetSize(height, width float64) {
	center := g.Center()
	if center == nil {
		center = []float64{0.5, 0.5}
	}
	g.SetBounds(center[0]-height*0.5, center[1]-width*0.5, height, width)
}

// Position returns {y, x} for point graphics.
func (g *Graphic) Position() []float64 {
	return floatPair(g.object.PropertyValue("position"))
}

func (g *Graphic) SetPosition(y, x float64) {
	g.object.SetPropertyValue("position", []any{y, x})
}

// Vector returns {startY, startX, endY, endX} for line-like graphics.
func (g *Graphic) Vector() []float64 {
	start := floatPair(g.object.PropertyValue("start"))
	end := floatPair(g.object.PropertyValue("end"))
	if start == nil || end == nil {
		return nil
	}
	return []float64{start[0], start[1], end[0], end[1]}
}

func (g *Graphic) SetVector(startY, startX, endY, endX float64) {
	g.object.SetPropertyValue("start", []any{startY, startX})
	g.object.SetPropertyValue("end", []any{endY, endX})
}

// Interval returns {start, end} for interval graphics.
func (g *Graphic) Interval() []float64 {
	start, okS := toFloat(g.object.PropertyValue("start"))
	end, okE := toFloat(g.object.PropertyValue("end"))
	if !okS || !okE {
		return nil
	}
	return []float64{start, end}
}

func (g *Graphic) SetInterval(start, end float64) {
	g.object.SetPropertyValue("start", start)
	g.object.SetPropertyValue("end", end)
}

func (g *Graphic) Width() float64 {
	w, _ := toFloat(g.object.PropertyValue("width"))
	return w
}

func (g *Graphic) SetWidth(width float64) { g.object.SetPropertyValue("width", width) }

// PropertyValue exposes arbitrary graphic properties for bound property
// resolution and recipe parameter application.
func (g *Graphic) PropertyValue(name string) any {
	switch name {
	case "bounds":
		return g.Bounds()
	case "vector":
		return g.Vector()
	case "interval":
		return g.Interval()
	case "position":
		if g.TypeName() == GraphicTypeChannel {
			v, _ := toFloat(g.object.PropertyValue("position"))
			return v
		}
		return g.Position()
	}
	return g.object.PropertyValue(name)
}

// SetPropertyValue sets a raw persisted property; recipe parameters use it.
func (g *Graphic) SetPropertyValue(name string, value any) {
	g.object.SetPropertyValue(name, value)
}

func (g *Graphic) AboutToBeRemoved() { g.aboutToBeRemoved = true }

func (g *Graphic) IsAboutToBeRemoved() bool { return g.aboutToBeRemoved }

// GraphicFactory restores graphics from persisted display dicts.
func GraphicFactory(typeName string) persistence.Entity {
	switch typeName {
	case GraphicTypePoint, GraphicTypeLineProfile, GraphicTypeRect,
		GraphicTypeEllipse, GraphicTypeSpot, GraphicTypeInterval, GraphicTypeChannel:
		return NewGraphic(typeName)
	}
	return nil
}

// Display holds the graphics annotating one buffered data source along with
// its display-range state.
type Display struct {
	object *persistence.Object

	// GraphicWillRemove fires just before a graphic leaves the display.
	GraphicWillRemove persistence.Event[*Graphic]
	// DisplayChanged fires when any display property or graphic mutates.
	DisplayChanged persistence.Signal

	graphicListeners map[*Graphic]*persistence.Listener[string]
}

func NewDisplay() *Display {
	d := &Display{graphicListeners: map[*Graphic]*persistence.Listener[string]{}}
	d.object = persistence.NewObject(d)
	d.object.DefineType("display")
	changed := func(string, any) {
		persistence.FireSignal(&d.DisplayChanged)
	}
	d.object.DefineProperty("display_type", nil).WithChanged(changed)
	d.object.DefineProperty("display_limits", nil).WithChanged(changed)
	d.object.DefineProperty("slice_center", 0).WithChanged(changed)
	d.object.DefineProperty("slice_width", 1).WithChanged(changed)
	d.object.DefineRelationship("graphics", GraphicFactory)
	return d
}

func (d *Display) Persistent() *persistence.Object { return d.object }

func (d *Display) Graphics() []*Graphic {
	entities := d.object.Items("graphics")
	graphics := make([]*Graphic, 0, len(entities))
	for _, e := range entities {
		if g, ok := e.(*Graphic); ok {
			graphics = append(graphics, g)
		}
	}
	return graphics
}

func (d *Display) AddGraphic(graphic *Graphic) {
	d.object.AppendItemToRelationship("graphics", graphic)
	d.watchGraphic(graphic)
	persistence.FireSignal(&d.DisplayChanged)
}

func (d *Display) RemoveGraphic(graphic *Graphic) {
	d.GraphicWillRemove.Fire(graphic)
	graphic.AboutToBeRemoved()
	if listener := d.graphicListeners[graphic]; listener != nil {
		listener.Close()
		delete(d.graphicListeners, graphic)
	}
	d.object.RemoveItemFromRelationship("graphics", graphic)
	persistence.FireSignal(&d.DisplayChanged)
}

func (d *Display) watchGraphic(graphic *Graphic) {
	d.graphicListeners[graphic] = graphic.PropertyChanged.Listen(func(string) {
		persistence.FireSignal(&d.DisplayChanged)
	})
}

// ReadFromDict restores the display and hooks up graphic change listeners.
func (d *Display) ReadFromDict(dict map[string]any) {
	d.object.ReadFromDict(dict)
	for _, graphic := range d.Graphics() {
		d.watchGraphic(graphic)
	}
}

// SliceInterval exposes the slice center/width pair as a {start, end}
// fraction pair used by pick recipe connections.
func (d *Display) SliceInterval() []float64 {
	center, _ := toFloat(d.object.PropertyValue("slice_center"))
	width, _ := toFloat(d.object.PropertyValue("slice_width"))
	return []float64{center - width*0.5, center + width*0.5}
}

func (d *Display) SliceCenter() int {
	center, _ := toFloat(d.object.PropertyValue("slice_center"))
	return int(center)
}

func (d *Display) SetSliceCenter(center int) { d.object.SetPropertyValue("slice_center", center) }

func (d *Display) SliceWidth() int {
	width, _ := toFloat(d.object.PropertyValue("slice_width"))
	return int(width)
}

func (d *Display) SetSliceWidth(width int) { d.object.SetPropertyValue("slice_width", width) }

func (d *Display) PropertyValue(name string) any {
	if name == "slice_interval" {
		return d.SliceInterval()
	}
	return d.object.PropertyValue(name)
}

func (d *Display) Close() {
	for _, listener := range d.graphicListeners {
		listener.Close()
	}
	d.graphicListeners = map[*Graphic]*persistence.Listener[string]{}
}

func displayFactory(typeName string) persistence.Entity {
	if typeName == "display" {
		return NewDisplay()
	}
	return nil
}

func floatPair(v any) []float64 {
	list, ok := v.([]any)
	if ok && len(list) == 2 {
		y, okY := toFloat(list[0])
		x, okX := toFloat(list[1])
		if okY && okX {
			return []float64{y, x}
		}
	}
	if pair, ok := v.([]float64); ok && len(pair) == 2 {
		return []float64{pair[0], pair[1]}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
