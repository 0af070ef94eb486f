package model

import (
	"github.com/google/uuid"

	"github.com/lumeno/docmodel/persistence"
)

// DataGroup is a named, ordered collection of data items. Groups nest; the
// persisted form stores member item uuids, reconnected to live items after
// the library loads.
type DataGroup struct {
	object *persistence.Object

	dataItems []*DataItem
}

func NewDataGroup() *DataGroup {
	g := &DataGroup{}
	g.object = persistence.NewObject(g)
	g.object.DefineType("data-group")
	g.object.DefineProperty("title", nil)
	g.object.DefineProperty("data_item_uuids", []any{})
	g.object.DefineRelationship("data_groups", DataGroupFactory)
	return g
}

func (g *DataGroup) Persistent() *persistence.Object { return g.object }

func (g *DataGroup) Title() string {
	s, _ := g.object.PropertyValue("title").(string)
	return s
}

func (g *DataGroup) SetTitle(title string) { g.object.SetPropertyValue("title", title) }

func (g *DataGroup) DataGroups() []*DataGroup {
	entities := g.object.Items("data_groups")
	groups := make([]*DataGroup, 0, len(entities))
	for _, e := range entities {
		if group, ok := e.(*DataGroup); ok {
			groups = append(groups, group)
		}
	}
	return groups
}

func (g *DataGroup) AppendDataGroup(group *DataGroup) {
	g.object.AppendItemToRelationship("data_groups", group)
}

func (g *DataGroup) RemoveDataGroup(group *DataGroup) {
	g.object.RemoveItemFromRelationship("data_groups", group)
}

func (g *DataGroup) DataItems() []*DataItem {
	return append([]*DataItem(nil), g.dataItems...)
}

func (g *DataGroup) dataItemUUIDs() []string {
	list, _ := g.object.PropertyValue("data_item_uuids").([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (g *DataGroup) setDataItemUUIDs(uuids []string) {
	list := make([]any, len(uuids))
	for i, s := range uuids {
		list[i] = s
	}
	g.object.SetPropertyValue("data_item_uuids", list)
}

func (g *DataGroup) AppendDataItem(item *DataItem) {
	g.InsertDataItem(len(g.dataItems), item)
}

func (g *DataGroup) InsertDataItem(beforeIndex int, item *DataItem) {
	g.dataItems = append(g.dataItems, nil)
	copy(g.dataItems[beforeIndex+1:], g.dataItems[beforeIndex:])
	g.dataItems[beforeIndex] = item
	uuids := g.dataItemUUIDs()
	uuids = append(uuids, "")
	copy(uuids[beforeIndex+1:], uuids[beforeIndex:])
	uuids[beforeIndex] = item.UUID().String()
	g.setDataItemUUIDs(uuids)
}

func (g *DataGroup) RemoveDataItem(item *DataItem) {
	for i, existing := range g.dataItems {
		if existing == item {
			g.dataItems = append(g.dataItems[:i], g.dataItems[i+1:]...)
			uuids := g.dataItemUUIDs()
			if i < len(uuids) {
				uuids = append(uuids[:i], uuids[i+1:]...)
				g.setDataItemUUIDs(uuids)
			}
			return
		}
	}
}

func (g *DataGroup) ContainsDataItem(item *DataItem) bool {
	for _, existing := range g.dataItems {
		if existing == item {
			return true
		}
	}
	return false
}

// ConnectDataItems resolves the persisted member uuids to live items after
// the library loads. Unresolvable uuids are dropped from the runtime list
// but left in the persisted property.
func (g *DataGroup) ConnectDataItems(lookup func(uuid.UUID) *DataItem) {
	g.dataItems = g.dataItems[:0]
	for _, s := range g.dataItemUUIDs() {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		if item := lookup(id); item != nil {
			g.dataItems = append(g.dataItems, item)
		}
	}
	for _, group := range g.DataGroups() {
		group.ConnectDataItems(lookup)
	}
}

func (g *DataGroup) DisconnectDataItems() {
	g.dataItems = nil
	for _, group := range g.DataGroups() {
		group.DisconnectDataItems()
	}
}

// FlatDataGroups returns this group followed by all nested groups in
// depth-first order.
func (g *DataGroup) FlatDataGroups() []*DataGroup {
	groups := []*DataGroup{g}
	for _, child := range g.DataGroups() {
		groups = append(groups, child.FlatDataGroups()...)
	}
	return groups
}

func DataGroupFactory(typeName string) persistence.Entity {
	if typeName == "data-group" {
		return NewDataGroup()
	}
	return nil
}
