package symbolic

import (
	"github.com/lumeno/docmodel/persistence"
)

// ComputationVariable is a named input to a computation: either a plain value
// (boolean, integral, real, complex, string) or an object specifier resolved
// through the enclosing context.
type ComputationVariable struct {
	object *persistence.Object

	PropertyChanged     persistence.Event[PropertyChange]
	VariableTypeChanged persistence.Signal
}

// PropertyChange names a changed property and its new value.
type PropertyChange struct {
	Name  string
	Value any
}

func NewComputationVariable() *ComputationVariable {
	v := &ComputationVariable{}
	v.object = persistence.NewObject(v)
	v.object.DefineType("variable")
	changed := v.propertyChanged
	v.object.DefineProperty("name", nil).WithChanged(changed)
	v.object.DefineProperty("label", nil).WithChanged(changed)
	v.object.DefineProperty("value_type", nil).WithChanged(changed)
	v.object.DefineProperty("value", nil).WithChanged(changed)
	v.object.DefineProperty("value_default", nil).WithChanged(changed)
	v.object.DefineProperty("value_min", nil).WithChanged(changed)
	v.object.DefineProperty("value_max", nil).WithChanged(changed)
	v.object.DefineProperty("specifier", nil).WithChanged(changed)
	v.object.DefineProperty("control_type", nil).WithChanged(changed)
	return v
}

func (v *ComputationVariable) Persistent() *persistence.Object { return v.object }

func (v *ComputationVariable) propertyChanged(name string, value any) {
	v.PropertyChanged.Fire(PropertyChange{Name: name, Value: value})
}

func (v *ComputationVariable) Name() string {
	s, _ := v.object.PropertyValue("name").(string)
	return s
}

func (v *ComputationVariable) SetName(name string) { v.object.SetPropertyValue("name", name) }

func (v *ComputationVariable) Label() string {
	s, _ := v.object.PropertyValue("label").(string)
	return s
}

func (v *ComputationVariable) SetLabel(label string) { v.object.SetPropertyValue("label", label) }

// DisplayLabel is the label, falling back to the name.
func (v *ComputationVariable) DisplayLabel() string {
	if label := v.Label(); label != "" {
		return label
	}
	return v.Name()
}

func (v *ComputationVariable) ValueType() string {
	s, _ := v.object.PropertyValue("value_type").(string)
	return s
}

func (v *ComputationVariable) Value() any { return v.typedValue("value") }

func (v *ComputationVariable) SetValue(value any) { v.object.SetPropertyValue("value", value) }

func (v *ComputationVariable) ValueDefault() any { return v.typedValue("value_default") }

func (v *ComputationVariable) ValueMin() any { return v.typedValue("value_min") }

func (v *ComputationVariable) ValueMax() any { return v.typedValue("value_max") }

// typedValue coerces the raw persisted value to the declared value type.
func (v *ComputationVariable) typedValue(property string) any {
	raw := v.object.PropertyValue(property)
	if raw == nil {
		return nil
	}
	switch v.ValueType() {
	case "boolean":
		return toBool(raw)
	case "integral":
		i, _ := toInt(raw)
		return i
	case "real":
		f, _ := toFloat(raw)
		return f
	case "complex":
		if pair := toFloats(raw); len(pair) == 2 {
			return complex(pair[0], pair[1])
		}
		if c, ok := raw.(complex128); ok {
			return c
		}
		return nil
	case "string":
		s, _ := raw.(string)
		return s
	}
	return raw
}

func (v *ComputationVariable) ControlType() string {
	s, _ := v.object.PropertyValue("control_type").(string)
	return s
}

func (v *ComputationVariable) Specifier() map[string]any {
	d, _ := v.object.PropertyValue("specifier").(map[string]any)
	return d
}

func (v *ComputationVariable) SetSpecifier(specifier map[string]any) {
	v.object.SetPropertyValue("specifier", specifier)
}

// VariableSpecifier identifies this variable for expression leaves.
func (v *ComputationVariable) VariableSpecifier() map[string]any {
	return map[string]any{"type": "variable", "version": 1, "uuid": v.object.UUID().String()}
}

// HasRange reports whether the variable declares numeric bounds.
func (v *ComputationVariable) HasRange() bool {
	return v.ValueType() != "" && v.object.PropertyValue("value_min") != nil && v.object.PropertyValue("value_max") != nil
}

func controlTypeDefault(valueType string) string {
	switch valueType {
	case "boolean":
		return "checkbox"
	case "integral":
		return "slider"
	case "real", "complex", "string":
		return "field"
	}
	return ""
}

// SetVariableType switches the variable between plain value types and object
// specifier types, resetting defaults accordingly.
func (v *ComputationVariable) SetVariableType(variableType string) {
	if variableType == v.VariableType() {
		return
	}
	switch variableType {
	case "boolean", "integral", "real", "complex", "string":
		v.object.SetPropertyValue("specifier", nil)
		v.object.SetPropertyValue("value_type", variableType)
		v.object.SetPropertyValue("control_type", controlTypeDefault(variableType))
		switch variableType {
		case "boolean":
			v.object.SetPropertyValue("value_default", true)
		case "integral":
			v.object.SetPropertyValue("value_default", 0)
		case "real":
			v.object.SetPropertyValue("value_default", 0.0)
		case "complex":
			v.object.SetPropertyValue("value_default", []float64{0, 0})
		default:
			v.object.SetPropertyValue("value_default", nil)
		}
		v.object.SetPropertyValue("value_min", nil)
		v.object.SetPropertyValue("value_max", nil)
	case "data_item", "region":
		v.object.SetPropertyValue("value_type", nil)
		v.object.SetPropertyValue("control_type", nil)
		v.object.SetPropertyValue("value_default", nil)
		v.object.SetPropertyValue("value_min", nil)
		v.object.SetPropertyValue("value_max", nil)
		v.object.SetPropertyValue("specifier", map[string]any{"type": variableType, "version": 1})
	default:
		return
	}
	persistence.FireSignal(&v.VariableTypeChanged)
}

// VariableType is the value type or, for object variables, the specifier type.
func (v *ComputationVariable) VariableType() string {
	if valueType := v.ValueType(); valueType != "" {
		return valueType
	}
	if specifier := v.Specifier(); specifier != nil {
		s, _ := specifier["type"].(string)
		return s
	}
	return ""
}

// boundVariable adapts a plain-value variable to the BoundItem interface.
type boundVariable struct {
	variable *ComputationVariable
	changed  persistence.Signal
	listener *persistence.Listener[PropertyChange]
}

// BoundVariable watches the variable's value and reports it as a bound item.
func (v *ComputationVariable) BoundVariable() BoundItem {
	b := &boundVariable{variable: v}
	b.listener = v.PropertyChanged.Listen(func(change PropertyChange) {
		if change.Name == "value" {
			persistence.FireSignal(&b.changed)
		}
	})
	return b
}

func (b *boundVariable) Value() any { return b.variable.Value() }

func (b *boundVariable) ChangedEvent() *persistence.Signal { return &b.changed }

func (b *boundVariable) Close() {
	if b.listener != nil {
		b.listener.Close()
		b.listener = nil
	}
}

// indirectBoundVariable re-resolves through the enclosing context whenever the
// variable's specifier changes, and relays changes from the resolved object.
type indirectBoundVariable struct {
	variable      *ComputationVariable
	context       ResolveContext
	propertyName  string
	changed       persistence.Signal
	varListener   *persistence.Listener[PropertyChange]
	boundObject   BoundItem
	boundListener *persistence.Listener[struct{}]
}

func newIndirectBoundVariable(variable *ComputationVariable, context ResolveContext, propertyName string) *indirectBoundVariable {
	b := &indirectBoundVariable{variable: variable, context: context, propertyName: propertyName}
	b.varListener = variable.PropertyChanged.Listen(func(change PropertyChange) {
		if change.Name == "specifier" {
			b.updateBoundObject()
			persistence.FireSignal(&b.changed)
		}
	})
	b.updateBoundObject()
	return b
}

func (b *indirectBoundVariable) updateBoundObject() {
	if b.boundListener != nil {
		b.boundListener.Close()
		b.boundListener = nil
	}
	if b.boundObject != nil {
		b.boundObject.Close()
		b.boundObject = nil
	}
	b.boundObject = b.context.ResolveObjectSpecifier(b.variable.Specifier(), b.propertyName)
	if b.boundObject != nil {
		b.boundListener = b.boundObject.ChangedEvent().Listen(func(struct{}) {
			persistence.FireSignal(&b.changed)
		})
	}
}

func (b *indirectBoundVariable) Value() any {
	if b.boundObject != nil {
		return b.boundObject.Value()
	}
	return nil
}

func (b *indirectBoundVariable) ChangedEvent() *persistence.Signal { return &b.changed }

func (b *indirectBoundVariable) Close() {
	if b.varListener != nil {
		b.varListener.Close()
		b.varListener = nil
	}
	if b.boundListener != nil {
		b.boundListener.Close()
		b.boundListener = nil
	}
	if b.boundObject != nil {
		b.boundObject.Close()
		b.boundObject = nil
	}
}

// VariableFromFields builds a variable with the given configuration.
func VariableFromFields(name, valueType string, value, valueDefault, valueMin, valueMax any, controlType string, specifier map[string]any) *ComputationVariable {
	v := NewComputationVariable()
	setIfNotNil := func(property string, val any) {
		if val != nil {
			v.object.SetPropertyValue(property, val)
		}
	}
	if name != "" {
		v.object.SetPropertyValue("name", name)
		v.object.SetPropertyValue("label", name)
	}
	if valueType != "" {
		v.object.SetPropertyValue("value_type", valueType)
	}
	setIfNotNil("value", value)
	setIfNotNil("value_default", valueDefault)
	setIfNotNil("value_min", valueMin)
	setIfNotNil("value_max", valueMax)
	if controlType != "" {
		v.object.SetPropertyValue("control_type", controlType)
	}
	if specifier != nil {
		v.object.SetPropertyValue("specifier", specifier)
	}
	return v
}

// VariableFactory builds variables during relationship reads.
func VariableFactory(typeName string) persistence.Entity {
	if typeName == "variable" {
		return NewComputationVariable()
	}
	return nil
}
