package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Entity is implemented by every object participating in the persistent
// object graph. The returned Object is the entity's persistence facet; the
// entity owns it for its whole lifetime.
type Entity interface {
	Persistent() *Object
}

// DictReader lets an entity hook record reconstruction, typically to rebuild
// derived state after the framework has populated properties and children.
type DictReader interface {
	ReadFromDict(d map[string]any)
}

// DictWriter lets an entity customize its serialized form.
type DictWriter interface {
	WriteToDict() map[string]any
}

// Factory constructs a child entity for a discriminator value read from the
// record ("type" key). A nil return skips the child.
type Factory func(typeName string) Entity

// ParentRef locates an object within its parent: either a named single item
// slot or a named ordered relationship.
type ParentRef struct {
	Parent           Entity
	RelationshipName string
	ItemName         string
}

// Property is one named scalar property of a persistent object.
type Property struct {
	name      string
	value     any
	def       any
	converter Converter
	hidden    bool
	changed   func(name string, value any)
	reader    func(d map[string]any) any
	writer    func(d map[string]any, value any)
}

func (p *Property) WithConverter(c Converter) *Property {
	p.converter = c
	return p
}

func (p *Property) Hidden() *Property {
	p.hidden = true
	return p
}

func (p *Property) WithChanged(fn func(name string, value any)) *Property {
	p.changed = fn
	return p
}

// WithAccessors installs custom read/write functions that bypass the default
// key-per-property mapping.
func (p *Property) WithAccessors(reader func(d map[string]any) any, writer func(d map[string]any, value any)) *Property {
	p.reader = reader
	p.writer = writer
	return p
}

type itemSlot struct {
	name    string
	factory Factory
	value   Entity
	changed func(name string, oldValue, newValue Entity)
}

type relationship struct {
	name    string
	factory Factory
	values  []Entity
}

// Object is the persistence facet shared by all document entities: identity,
// modification timestamp, named properties, single-item slots and ordered
// relationships, plus the weak links to parent and storage context.
type Object struct {
	owner    Entity
	typeName string
	uuid     uuid.UUID
	modified time.Time

	properties    map[string]*Property
	propertyOrder []string
	items         map[string]*itemSlot
	itemOrder     []string
	relationships map[string]*relationship
	relOrder      []string

	parentRef     *ParentRef
	context       *ObjectContext
	reading       bool
	writeModified bool
}

func NewObject(owner Entity) *Object {
	return &Object{
		owner:         owner,
		uuid:          uuid.New(),
		modified:      time.Now().UTC(),
		properties:    make(map[string]*Property),
		items:         make(map[string]*itemSlot),
		relationships: make(map[string]*relationship),
	}
}

func (o *Object) DefineType(name string) { o.typeName = name }

func (o *Object) TypeName() string { return o.typeName }

func (o *Object) DefineProperty(name string, defaultValue any) *Property {
	p := &Property{name: name, value: defaultValue, def: defaultValue}
	o.properties[name] = p
	o.propertyOrder = append(o.propertyOrder, name)
	return p
}

func (o *Object) DefineItem(name string, factory Factory, changed func(name string, oldValue, newValue Entity)) {
	o.items[name] = &itemSlot{name: name, factory: factory, changed: changed}
	o.itemOrder = append(o.itemOrder, name)
}

func (o *Object) DefineRelationship(name string, factory Factory) {
	o.relationships[name] = &relationship{name: name, factory: factory}
	o.relOrder = append(o.relOrder, name)
}

// EnableModifiedProperty includes the "modified" timestamp in the serialized
// record. Data-bearing entities use it; auxiliary entities omit it.
func (o *Object) EnableModifiedProperty() { o.writeModified = true }

func (o *Object) UUID() uuid.UUID      { return o.uuid }
func (o *Object) SetUUID(id uuid.UUID) { o.uuid = id }
func (o *Object) Modified() time.Time  { return o.modified }

func (o *Object) ParentRef() *ParentRef       { return o.parentRef }
func (o *Object) SetParentRef(ref *ParentRef) { o.parentRef = ref }

func (o *Object) Context() *ObjectContext { return o.context }

// SetContext attaches (or detaches, with nil) the shared storage context,
// cascading to all children.
func (o *Object) SetContext(ctx *ObjectContext) {
	o.context = ctx
	for _, name := range o.itemOrder {
		if slot := o.items[name]; slot.value != nil {
			slot.value.Persistent().SetContext(ctx)
		}
	}
	for _, name := range o.relOrder {
		for _, child := range o.relationships[name].values {
			child.Persistent().SetContext(ctx)
		}
	}
}

// BeginReading suppresses storage write-through while a record is being
// reconstructed. FinishReading re-enables it.
func (o *Object) BeginReading()  { o.reading = true }
func (o *Object) FinishReading() { o.reading = false }
func (o *Object) Reading() bool  { return o.reading }

// UpdateModified stamps this object and every ancestor. Called on every
// mutation so the record carries an accurate per-object timestamp chain.
func (o *Object) UpdateModified(t time.Time) {
	o.modified = t
	if o.parentRef != nil && o.parentRef.Parent != nil {
		o.parentRef.Parent.Persistent().UpdateModified(t)
	}
}

func (o *Object) PropertyValue(name string) any {
	if p, ok := o.properties[name]; ok {
		return p.value
	}
	return nil
}

func (o *Object) SetPropertyValue(name string, value any) {
	p, ok := o.properties[name]
	if !ok {
		return
	}
	p.value = value
	if !o.reading {
		o.UpdateModified(time.Now().UTC())
		if o.context != nil {
			if storage := o.context.StorageForObject(o.owner); storage != nil {
				persisted := value
				if p.converter != nil && value != nil {
					persisted = p.converter.Convert(value)
				}
				storage.SetProperty(o.owner, name, persisted)
			}
		}
	}
	if p.changed != nil {
		p.changed(name, value)
	}
}

func (o *Object) Item(name string) Entity {
	if slot, ok := o.items[name]; ok {
		return slot.value
	}
	return nil
}

// SetItem assigns a single-item slot. A nil item clears the slot. The child's
// parent reference and context follow the assignment.
func (o *Object) SetItem(name string, item Entity) {
	slot, ok := o.items[name]
	if !ok {
		return
	}
	oldValue := slot.value
	if oldValue != nil {
		oldValue.Persistent().SetParentRef(nil)
		oldValue.Persistent().SetContext(nil)
	}
	slot.value = item
	if item != nil {
		item.Persistent().SetParentRef(&ParentRef{Parent: o.owner, ItemName: name})
		item.Persistent().SetContext(o.context)
	}
	if !o.reading {
		o.UpdateModified(time.Now().UTC())
		if o.context != nil {
			if storage := o.context.StorageForObject(o.owner); storage != nil {
				storage.SetItem(o.owner, name, item)
			}
		}
	}
	if slot.changed != nil {
		slot.changed(name, oldValue, item)
	}
}

func (o *Object) ItemCount(name string) int {
	if rel, ok := o.relationships[name]; ok {
		return len(rel.values)
	}
	return 0
}

func (o *Object) ItemIndex(name string, item Entity) int {
	if rel, ok := o.relationships[name]; ok {
		for i, value := range rel.values {
			if value == item {
				return i
			}
		}
	}
	return -1
}

func (o *Object) Items(name string) []Entity {
	rel, ok := o.relationships[name]
	if !ok {
		return nil
	}
	out := make([]Entity, len(rel.values))
	copy(out, rel.values)
	return out
}

func (o *Object) AppendItemToRelationship(name string, item Entity) {
	o.InsertItemInRelationship(name, o.ItemCount(name), item)
}

func (o *Object) InsertItemInRelationship(name string, beforeIndex int, item Entity) {
	rel, ok := o.relationships[name]
	if !ok {
		return
	}
	rel.values = append(rel.values, nil)
	copy(rel.values[beforeIndex+1:], rel.values[beforeIndex:])
	rel.values[beforeIndex] = item
	item.Persistent().SetParentRef(&ParentRef{Parent: o.owner, RelationshipName: name})
	item.Persistent().SetContext(o.context)
	if !o.reading {
		o.UpdateModified(time.Now().UTC())
		if o.context != nil {
			if storage := o.context.StorageForObject(o.owner); storage != nil {
				storage.InsertItem(o.owner, name, beforeIndex, item)
			}
		}
	}
}

func (o *Object) RemoveItemFromRelationship(name string, item Entity) int {
	rel, ok := o.relationships[name]
	if !ok {
		return -1
	}
	index := o.ItemIndex(name, item)
	if index < 0 {
		return -1
	}
	rel.values = append(rel.values[:index], rel.values[index+1:]...)
	if !o.reading {
		o.UpdateModified(time.Now().UTC())
		if o.context != nil {
			if storage := o.context.StorageForObject(o.owner); storage != nil {
				storage.RemoveItem(o.owner, name, index, item)
			}
		}
	}
	item.Persistent().SetParentRef(nil)
	item.Persistent().SetContext(nil)
	return index
}

// WriteToDict serializes to a plain nested mapping: scalars for properties,
// a map per item slot, a list of maps per relationship.
func (o *Object) WriteToDict() map[string]any {
	d := make(map[string]any)
	if o.typeName != "" {
		d["type"] = o.typeName
	}
	d["uuid"] = o.uuid.String()
	if o.writeModified {
		d["modified"] = FormatTime(o.modified)
	}
	for _, name := range o.propertyOrder {
		p := o.properties[name]
		if p.writer != nil {
			p.writer(d, p.value)
			continue
		}
		if p.value == nil {
			continue
		}
		if p.converter != nil {
			if converted := p.converter.Convert(p.value); converted != nil {
				d[name] = converted
			}
			continue
		}
		d[name] = p.value
	}
	for _, name := range o.itemOrder {
		if slot := o.items[name]; slot.value != nil {
			d[name] = writeEntity(slot.value)
		}
	}
	for _, name := range o.relOrder {
		rel := o.relationships[name]
		if len(rel.values) == 0 {
			continue
		}
		list := make([]any, 0, len(rel.values))
		for _, child := range rel.values {
			list = append(list, writeEntity(child))
		}
		d[name] = list
	}
	return d
}

// WritesModified reports whether the serialized record carries the modified
// timestamp (see EnableModifiedProperty).
func (o *Object) WritesModified() bool { return o.writeModified }

// WriteEntityDict serializes an entity, honoring a DictWriter override.
func WriteEntityDict(e Entity) map[string]any {
	return writeEntity(e)
}

func writeEntity(e Entity) map[string]any {
	if w, ok := e.(DictWriter); ok {
		return w.WriteToDict()
	}
	return e.Persistent().WriteToDict()
}

func readEntity(e Entity, d map[string]any) {
	if r, ok := e.(DictReader); ok {
		r.ReadFromDict(d)
		return
	}
	e.Persistent().ReadFromDict(d)
}

// ReadFromDict reconstructs state from a serialized mapping, invoking the
// registered factories for items and relationships.
func (o *Object) ReadFromDict(d map[string]any) {
	o.reading = true
	defer func() { o.reading = false }()
	if s, ok := d["uuid"].(string); ok {
		if id, err := uuid.Parse(s); err == nil {
			o.uuid = id
		}
	}
	if s, ok := d["modified"].(string); ok {
		if t := ParseTime(s); !t.IsZero() {
			o.modified = t
		}
	}
	for _, name := range o.propertyOrder {
		p := o.properties[name]
		if p.reader != nil {
			if value := p.reader(d); value != nil {
				p.value = value
			}
			continue
		}
		raw, ok := d[name]
		if !ok {
			continue
		}
		if p.converter != nil {
			if value := p.converter.ConvertBack(raw); value != nil {
				p.value = value
			}
			continue
		}
		p.value = raw
	}
	for _, name := range o.itemOrder {
		slot := o.items[name]
		childDict, ok := d[name].(map[string]any)
		if !ok {
			continue
		}
		typeName, _ := childDict["type"].(string)
		child := slot.factory(typeName)
		if child == nil {
			continue
		}
		child.Persistent().SetParentRef(&ParentRef{Parent: o.owner, ItemName: name})
		readEntity(child, childDict)
		slot.value = child
	}
	for _, name := range o.relOrder {
		rel := o.relationships[name]
		list, ok := d[name].([]any)
		if !ok {
			continue
		}
		for _, raw := range list {
			childDict, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			typeName, _ := childDict["type"].(string)
			child := rel.factory(typeName)
			if child == nil {
				continue
			}
			child.Persistent().SetParentRef(&ParentRef{Parent: o.owner, RelationshipName: name})
			readEntity(child, childDict)
			rel.values = append(rel.values, child)
		}
	}
}
