package symbolic

import (
	"sync"

	"github.com/google/uuid"

	"github.com/lumeno/docmodel/persistence"
)

// ComputationContext is what the enclosing document provides to a
// computation: specifier resolution plus uuid lookup for expression parsing.
type ComputationContext interface {
	ResolveContext
	ParseContext
}

// VariableEvent reports a variable inserted into or removed from a
// computation, with its index in the variables relationship.
type VariableEvent struct {
	Index    int
	Variable *ComputationVariable
}

// Computation evaluates a data node graph over bound document objects.
// Binding attaches listeners to every resolved leaf; any change marks the
// computation as needing an update.
type Computation struct {
	object *persistence.Object

	evaluateMu sync.Mutex
	evaluating bool

	dataNode       DataNode
	boundItems     map[uuid.UUID]BoundItem
	boundListeners map[uuid.UUID]*persistence.Listener[struct{}]

	NeedsUpdate      bool
	NeedsUpdateEvent persistence.Signal
	MutatedEvent     persistence.Signal
	VariableInserted persistence.Event[VariableEvent]
	VariableRemoved  persistence.Event[VariableEvent]

	EvaluationCountForTest int
}

func NewComputation() *Computation {
	c := &Computation{
		boundItems:     map[uuid.UUID]BoundItem{},
		boundListeners: map[uuid.UUID]*persistence.Listener[struct{}]{},
	}
	c.object = persistence.NewObject(c)
	c.object.DefineType("computation")
	c.object.DefineProperty("node", nil)
	c.object.DefineProperty("original_expression", nil)
	c.object.DefineProperty("error_text", nil)
	c.object.DefineProperty("processing_id", nil)
	c.object.DefineProperty("label", nil).WithChanged(func(string, any) {
		persistence.FireSignal(&c.MutatedEvent)
	})
	c.object.DefineRelationship("variables", VariableFactory)
	return c
}

func (c *Computation) Persistent() *persistence.Object { return c.object }

// ReadFromDict rebuilds the data node graph after the framework restores the
// persisted properties.
func (c *Computation) ReadFromDict(d map[string]any) {
	c.object.ReadFromDict(d)
	if nodeDict, ok := c.object.PropertyValue("node").(map[string]any); ok {
		if node, err := NodeFromDict(nodeDict); err == nil {
			c.dataNode = node
		} else {
			c.setErrorText(err.Error())
		}
	}
}

func (c *Computation) DataNodeForTest() DataNode { return c.dataNode }

func (c *Computation) Label() string {
	s, _ := c.object.PropertyValue("label").(string)
	return s
}

func (c *Computation) SetLabel(label string) { c.object.SetPropertyValue("label", label) }

func (c *Computation) OriginalExpression() string {
	s, _ := c.object.PropertyValue("original_expression").(string)
	return s
}

// SetOriginalExpression records the expression text without reparsing. The
// processing registry uses this to refresh recipe-derived computations.
func (c *Computation) SetOriginalExpression(expression string) {
	c.object.SetPropertyValue("original_expression", expression)
}

// ProcessingID names the processing recipe that produced this computation,
// empty for free-form expressions.
func (c *Computation) ProcessingID() string {
	s, _ := c.object.PropertyValue("processing_id").(string)
	return s
}

func (c *Computation) SetProcessingID(processingID string) {
	c.object.SetPropertyValue("processing_id", processingID)
}

// HasVariable reports whether a variable with the given name exists.
func (c *Computation) HasVariable(name string) bool {
	for _, variable := range c.Variables() {
		if variable.Name() == name {
			return true
		}
	}
	return false
}

func (c *Computation) ErrorText() string {
	s, _ := c.object.PropertyValue("error_text").(string)
	return s
}

// SetErrorText records an evaluation failure; empty clears it.
func (c *Computation) SetErrorText(text string) { c.setErrorText(text) }

func (c *Computation) setErrorText(text string) {
	if text == "" {
		c.object.SetPropertyValue("error_text", nil)
	} else {
		c.object.SetPropertyValue("error_text", text)
	}
}

func (c *Computation) Variables() []*ComputationVariable {
	entities := c.object.Items("variables")
	variables := make([]*ComputationVariable, 0, len(entities))
	for _, e := range entities {
		if v, ok := e.(*ComputationVariable); ok {
			variables = append(variables, v)
		}
	}
	return variables
}

func (c *Computation) AddVariable(variable *ComputationVariable) {
	index := c.object.ItemCount("variables")
	c.object.AppendItemToRelationship("variables", variable)
	c.VariableInserted.Fire(VariableEvent{Index: index, Variable: variable})
	persistence.FireSignal(&c.MutatedEvent)
}

func (c *Computation) RemoveVariable(variable *ComputationVariable) {
	index := c.object.RemoveItemFromRelationship("variables", variable)
	c.VariableRemoved.Fire(VariableEvent{Index: index, Variable: variable})
	persistence.FireSignal(&c.MutatedEvent)
}

// CreateVariable builds, adds, and returns a value variable.
func (c *Computation) CreateVariable(name, valueType string, value any) *ComputationVariable {
	variable := VariableFromFields(name, valueType, value, nil, nil, nil, "", nil)
	c.AddVariable(variable)
	return variable
}

// CreateObject builds, adds, and returns an object specifier variable.
func (c *Computation) CreateObject(name string, specifier map[string]any) *ComputationVariable {
	variable := VariableFromFields(name, "", nil, nil, nil, nil, "", specifier)
	c.AddVariable(variable)
	return variable
}

// ResolveVariable finds the variable identified by a variable specifier.
func (c *Computation) ResolveVariable(specifier map[string]any) *ComputationVariable {
	s, _ := specifier["uuid"].(string)
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	for _, variable := range c.Variables() {
		if variable.object.UUID() == id {
			return variable
		}
	}
	return nil
}

// computationResolver layers variable indirection over the enclosing context:
// a specifier naming one of the computation's variables resolves through that
// variable, everything else passes through.
type computationResolver struct {
	computation *Computation
	context     ComputationContext
}

func (r *computationResolver) ResolveObjectSpecifier(specifier map[string]any, propertyName string) BoundItem {
	variable := r.computation.ResolveVariable(specifier)
	if variable == nil {
		return r.context.ResolveObjectSpecifier(specifier, propertyName)
	}
	if variable.Specifier() == nil {
		return variable.BoundVariable()
	}
	return newIndirectBoundVariable(variable, r.context, propertyName)
}

// ParseExpression establishes the computation from an expression. The
// variable map supplies names available in the expression; the computation's
// own variables are added on top. Bind runs automatically on success.
func (c *Computation) ParseExpression(context ComputationContext, expression string, variableMap map[string]map[string]any) {
	c.Unbind()
	oldErrorText := c.ErrorText()
	oldNodeDict, _ := c.object.PropertyValue("node").(map[string]any)
	c.object.SetPropertyValue("original_expression", expression)
	fullMap := map[string]map[string]any{}
	for name, specifier := range variableMap {
		fullMap[name] = specifier
	}
	for _, variable := range c.Variables() {
		fullMap[variable.Name()] = variable.VariableSpecifier()
	}
	node, err := ParseExpression(expression, fullMap, context)
	c.dataNode = node
	if err != nil {
		c.setErrorText(err.Error())
	} else {
		c.setErrorText("")
		c.object.SetPropertyValue("node", node.Write())
		c.Bind(context)
	}
	newNodeDict, _ := c.object.PropertyValue("node").(map[string]any)
	if !sameDict(oldNodeDict, newNodeDict) || oldErrorText != c.ErrorText() {
		c.NeedsUpdate = true
		persistence.FireSignal(&c.NeedsUpdateEvent)
		persistence.FireSignal(&c.MutatedEvent)
	}
}

// BeginEvaluate marks the computation as evaluating. It reports false when an
// evaluation is already in flight.
func (c *Computation) BeginEvaluate() bool {
	c.evaluateMu.Lock()
	defer c.evaluateMu.Unlock()
	if c.evaluating {
		return false
	}
	c.evaluating = true
	return true
}

func (c *Computation) EndEvaluate() {
	c.evaluateMu.Lock()
	c.evaluating = false
	c.evaluateMu.Unlock()
}

// Evaluate runs the node graph against the currently bound items.
func (c *Computation) Evaluate() any {
	c.EvaluationCountForTest++
	var result any
	if c.dataNode != nil {
		resolve := func(nodeUUID uuid.UUID) any {
			if boundItem, ok := c.boundItems[nodeUUID]; ok {
				return boundItem.Value()
			}
			return nil
		}
		result = c.dataNode.Evaluate(resolve)
	}
	c.NeedsUpdate = false
	return result
}

// Bind resolves every leaf and listens for changes. Rebinding while already
// bound is a no-op so reload and insert paths can both call it safely.
func (c *Computation) Bind(context ComputationContext) {
	if len(c.boundItems) > 0 {
		return
	}
	if c.dataNode == nil {
		return
	}
	resolver := &computationResolver{computation: c, context: context}
	c.dataNode.Bind(resolver, c.boundItems)
	needsUpdate := func(struct{}) {
		c.NeedsUpdate = true
		persistence.FireSignal(&c.NeedsUpdateEvent)
	}
	for id, boundItem := range c.boundItems {
		c.boundListeners[id] = boundItem.ChangedEvent().Listen(needsUpdate)
	}
}

// Unbind closes every bound item and its listener.
func (c *Computation) Unbind() {
	for id, boundItem := range c.boundItems {
		if listener := c.boundListeners[id]; listener != nil {
			listener.Close()
		}
		boundItem.Close()
	}
	c.boundItems = map[uuid.UUID]BoundItem{}
	c.boundListeners = map[uuid.UUID]*persistence.Listener[struct{}]{}
	if c.dataNode != nil {
		c.dataNode.Unbind()
	}
}

// Reconstruct renders the node graph back into expression text. Specifiers
// that have no name in the variable map are emitted as by-uuid prologue lines.
func (c *Computation) Reconstruct(variableMap map[string]map[string]any) string {
	if c.dataNode == nil {
		return ""
	}
	fullMap := NewVariableMap()
	for name, specifier := range variableMap {
		fullMap.Set(name, specifier)
	}
	for _, variable := range c.Variables() {
		fullMap.Set(variable.Name(), variable.VariableSpecifier())
	}
	known := map[string]bool{}
	for _, name := range fullMap.Names() {
		known[name] = true
	}
	working := fullMap.Clone()
	expression, _ := c.dataNode.Reconstruct(working)
	var lines []string
	for _, name := range working.Names() {
		if known[name] {
			continue
		}
		specifier, _ := working.Get(name)
		if line := specifierExpression(name, specifier); line != "" {
			lines = append(lines, line)
		}
	}
	lines = append(lines, expression)
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

func specifierExpression(name string, specifier map[string]any) string {
	if version, _ := toInt(specifier["version"]); version != 1 {
		return ""
	}
	specifierType, _ := specifier["type"].(string)
	specifierUUID, _ := specifier["uuid"].(string)
	switch specifierType {
	case "data_item":
		return name + " = data_by_uuid(uuid.UUID('" + specifierUUID + "'))"
	case "region":
		return name + " = region_by_uuid(uuid.UUID('" + specifierUUID + "'))"
	}
	return ""
}

func sameDict(a, b map[string]any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return len(a) == len(b) && dictEqual(a, b)
}

func dictEqual(a, b map[string]any) bool {
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			return false
		}
		da, aIsDict := va.(map[string]any)
		db, bIsDict := vb.(map[string]any)
		if aIsDict != bIsDict {
			return false
		}
		if aIsDict {
			if !sameDict(da, db) {
				return false
			}
			continue
		}
		la, aIsList := va.([]any)
		lb, bIsList := vb.([]any)
		if aIsList != bIsList {
			return false
		}
		if aIsList {
			if len(la) != len(lb) {
				return false
			}
			for i := range la {
				ia, iaDict := la[i].(map[string]any)
				ib, ibDict := lb[i].(map[string]any)
				if iaDict && ibDict {
					if !sameDict(ia, ib) {
						return false
					}
					continue
				}
				if la[i] != lb[i] {
					return false
				}
			}
			continue
		}
		if va != vb {
			return false
		}
	}
	return true
}
