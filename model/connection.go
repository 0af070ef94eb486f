package model

import (
	"github.com/google/uuid"

	"github.com/lumeno/docmodel/persistence"
)

// Connection type names as persisted.
const (
	ConnectionTypeProperty     = "property-connection"
	ConnectionTypeIntervalList = "interval-list-connection"
)

// Connection keeps a display property and a graphic property in sync, or
// mirrors a display's interval graphics onto a line profile. Connections are
// persisted on the owning data item and rebound after read.
type Connection struct {
	object *persistence.Object

	source      *Display
	destination *Graphic
	listeners   []func()
	applying    bool
}

func newConnection(typeName string) *Connection {
	c := &Connection{}
	c.object = persistence.NewObject(c)
	c.object.DefineType(typeName)
	c.object.DefineProperty("source_uuid", nil)
	c.object.DefineProperty("source_property", nil)
	c.object.DefineProperty("destination_uuid", nil)
	c.object.DefineProperty("destination_property", nil)
	return c
}

// NewPropertyConnection links sourceProperty on a display to
// destinationProperty on a graphic and connects immediately.
func NewPropertyConnection(source *Display, sourceProperty string, destination *Graphic, destinationProperty string) *Connection {
	c := newConnection(ConnectionTypeProperty)
	c.object.SetPropertyValue("source_uuid", source.object.UUID().String())
	c.object.SetPropertyValue("source_property", sourceProperty)
	c.object.SetPropertyValue("destination_uuid", destination.object.UUID().String())
	c.object.SetPropertyValue("destination_property", destinationProperty)
	c.Connect(source, destination)
	return c
}

// NewIntervalListConnection mirrors the display's interval graphics onto the
// destination line profile graphic as interval descriptors.
func NewIntervalListConnection(source *Display, destination *Graphic) *Connection {
	c := newConnection(ConnectionTypeIntervalList)
	c.object.SetPropertyValue("source_uuid", source.object.UUID().String())
	c.object.SetPropertyValue("destination_uuid", destination.object.UUID().String())
	c.Connect(source, destination)
	return c
}

func (c *Connection) Persistent() *persistence.Object { return c.object }

func (c *Connection) TypeName() string { return c.object.TypeName() }

func (c *Connection) SourceUUID() uuid.UUID {
	s, _ := c.object.PropertyValue("source_uuid").(string)
	id, _ := uuid.Parse(s)
	return id
}

func (c *Connection) DestinationUUID() uuid.UUID {
	s, _ := c.object.PropertyValue("destination_uuid").(string)
	id, _ := uuid.Parse(s)
	return id
}

// Connect establishes the live wiring between the resolved endpoints. Safe
// to call once per read or construction; Close undoes it.
func (c *Connection) Connect(source *Display, destination *Graphic) {
	c.Close()
	c.source = source
	c.destination = destination
	switch c.object.TypeName() {
	case ConnectionTypeProperty:
		sourceProperty, _ := c.object.PropertyValue("source_property").(string)
		destinationProperty, _ := c.object.PropertyValue("destination_property").(string)
		forward := source.DisplayChanged.Listen(func(struct{}) {
			c.apply(func() {
				applyGraphicProperty(destination, destinationProperty, source.PropertyValue(sourceProperty))
			})
		})
		backward := destination.PropertyChanged.Listen(func(name string) {
			if name != destinationProperty && !(destinationProperty == "interval" && (name == "start" || name == "end")) {
				return
			}
			c.apply(func() {
				applyDisplayProperty(source, sourceProperty, destination.PropertyValue(destinationProperty))
			})
		})
		c.listeners = append(c.listeners, forward.Close, backward.Close)
		c.apply(func() {
			applyGraphicProperty(destination, destinationProperty, source.PropertyValue(sourceProperty))
		})
	case ConnectionTypeIntervalList:
		listener := source.DisplayChanged.Listen(func(struct{}) {
			c.apply(func() { c.updateIntervalDescriptors() })
		})
		c.listeners = append(c.listeners, listener.Close)
		c.apply(func() { c.updateIntervalDescriptors() })
	}
}

func (c *Connection) apply(fn func()) {
	if c.applying {
		return
	}
	c.applying = true
	fn()
	c.applying = false
}

func (c *Connection) updateIntervalDescriptors() {
	descriptors := make([]any, 0)
	for _, graphic := range c.source.Graphics() {
		if graphic.TypeName() == GraphicTypeInterval {
			if interval := graphic.Interval(); interval != nil {
				descriptors = append(descriptors, map[string]any{
					"interval": []any{interval[0], interval[1]},
				})
			}
		}
	}
	c.destination.SetPropertyValue("interval_descriptors", descriptors)
}

func applyGraphicProperty(g *Graphic, name string, value any) {
	switch name {
	case "interval":
		if pair := floatPairAny(value); pair != nil {
			g.SetInterval(pair[0], pair[1])
		}
	case "position":
		if pair := floatPairAny(value); pair != nil {
			g.SetPosition(pair[0], pair[1])
		}
	default:
		g.SetPropertyValue(name, value)
	}
}

func applyDisplayProperty(d *Display, name string, value any) {
	if name == "slice_interval" {
		if pair := floatPairAny(value); pair != nil {
			d.object.SetPropertyValue("slice_center", (pair[0]+pair[1])*0.5)
			d.object.SetPropertyValue("slice_width", pair[1]-pair[0])
		}
		return
	}
	d.object.SetPropertyValue(name, value)
}

func floatPairAny(v any) []float64 {
	if pair, ok := v.([]float64); ok && len(pair) == 2 {
		return pair
	}
	return floatPair(v)
}

func (c *Connection) Close() {
	for _, closeFn := range c.listeners {
		closeFn()
	}
	c.listeners = nil
	c.source = nil
	c.destination = nil
}

func connectionFactory(typeName string) persistence.Entity {
	switch typeName {
	case ConnectionTypeProperty, ConnectionTypeIntervalList:
		return newConnection(typeName)
	}
	return nil
}
