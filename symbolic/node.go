// Package symbolic implements the computation expression graph: data nodes
// read from and written to persisted dicts, an expression parser, and the
// Computation object that binds node leaves to live document objects.
package symbolic

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lumeno/docmodel/persistence"
)

// BoundItem is a resolved object specifier: a live value plus a changed
// signal. Close releases the listeners the binding created.
type BoundItem interface {
	Value() any
	ChangedEvent() *persistence.Signal
	Close()
}

// ResolveContext resolves object specifiers into bound items. The document
// model implements this; the computation wraps it to add variable indirection.
type ResolveContext interface {
	ResolveObjectSpecifier(specifier map[string]any, propertyName string) BoundItem
}

// Resolver returns the current value for a bound leaf node.
type Resolver func(nodeUUID uuid.UUID) any

// DataNode is one vertex of a computation graph.
type DataNode interface {
	UUID() uuid.UUID
	Inputs() []DataNode
	Write() map[string]any
	Evaluate(resolve Resolver) any
	Bind(context ResolveContext, boundItems map[uuid.UUID]BoundItem)
	Unbind()
	Reconstruct(variableMap *VariableMap) (string, int)

	read(d map[string]any) error
}

// nodeBase carries the uuid and inputs common to every node kind.
type nodeBase struct {
	nodeUUID uuid.UUID
	inputs   []DataNode
}

func newNodeBase(inputs []DataNode) nodeBase {
	return nodeBase{nodeUUID: uuid.New(), inputs: inputs}
}

func (n *nodeBase) UUID() uuid.UUID    { return n.nodeUUID }
func (n *nodeBase) Inputs() []DataNode { return n.inputs }

func (n *nodeBase) read(d map[string]any) error {
	if s, ok := d["uuid"].(string); ok {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("node uuid: %w", err)
		}
		n.nodeUUID = id
	}
	inputDicts, _ := d["inputs"].([]any)
	inputs := make([]DataNode, 0, len(inputDicts))
	for _, inputDict := range inputDicts {
		id, ok := inputDict.(map[string]any)
		if !ok {
			return errors.New("node input is not a dict")
		}
		node, err := NodeFromDict(id)
		if err != nil {
			return err
		}
		inputs = append(inputs, node)
	}
	n.inputs = inputs
	return nil
}

func (n *nodeBase) write() map[string]any {
	d := map[string]any{"uuid": n.nodeUUID.String()}
	if len(n.inputs) > 0 {
		inputDicts := make([]any, 0, len(n.inputs))
		for _, input := range n.inputs {
			inputDicts = append(inputDicts, input.Write())
		}
		d["inputs"] = inputDicts
	}
	return d
}

func (n *nodeBase) Evaluate(resolve Resolver) any { return nil }

func (n *nodeBase) Bind(context ResolveContext, boundItems map[uuid.UUID]BoundItem) {
	for _, input := range n.inputs {
		input.Bind(context, boundItems)
	}
}

func (n *nodeBase) Unbind() {
	for _, input := range n.inputs {
		input.Unbind()
	}
}

func (n *nodeBase) evaluateInputs(resolve Resolver) []any {
	values := make([]any, 0, len(n.inputs))
	for _, input := range n.inputs {
		values = append(values, input.Evaluate(resolve))
	}
	return values
}

func allPresent(values []any) bool {
	for _, v := range values {
		if v == nil {
			return false
		}
	}
	return true
}

// data node serialization discriminators
const (
	nodeTypeConstant = "constant"
	nodeTypeScalar   = "scalar"
	nodeTypeUnary    = "unary"
	nodeTypeBinary   = "binary"
	nodeTypeFunction = "function"
	nodeTypeProperty = "property"
	nodeTypeRef      = "reference"
	nodeTypeVariable = "variable"
	nodeTypeData     = "data"
)

var nodeFactories = map[string]func() DataNode{
	nodeTypeConstant: func() DataNode { return &ConstantNode{} },
	nodeTypeScalar:   func() DataNode { return &ScalarOperationNode{} },
	nodeTypeUnary:    func() DataNode { return &UnaryOperationNode{} },
	nodeTypeBinary:   func() DataNode { return &BinaryOperationNode{} },
	nodeTypeFunction: func() DataNode { return &FunctionOperationNode{} },
	nodeTypeProperty: func() DataNode { return &PropertyNode{} },
	nodeTypeRef:      func() DataNode { return &ReferenceNode{} },
	nodeTypeVariable: func() DataNode { return &VariableNode{} },
	nodeTypeData:     func() DataNode { return &DataItemNode{} },
}

// NodeFromDict rebuilds a node graph from its persisted form.
func NodeFromDict(d map[string]any) (DataNode, error) {
	nodeType, _ := d["data_node_type"].(string)
	factory, ok := nodeFactories[nodeType]
	if !ok {
		return nil, fmt.Errorf("unknown data node type %q", nodeType)
	}
	node := factory()
	if err := node.read(d); err != nil {
		return nil, err
	}
	return node, nil
}

// CloneNode deep-copies a node graph through its persisted form.
func CloneNode(node DataNode) (DataNode, error) {
	if node == nil {
		return nil, nil
	}
	return NodeFromDict(node.Write())
}

// operator rendering info for reconstruct
type operatorInfo struct {
	text       string
	precedence int
}

const atomPrecedence = 10

var operatorMap = map[string]operatorInfo{
	"pow":      {"**", 9},
	"neg":      {"-", 8},
	"pos":      {"+", 8},
	"add":      {"+", 6},
	"sub":      {"-", 6},
	"mul":      {"*", 7},
	"div":      {"/", 7},
	"truediv":  {"/", 7},
	"floordiv": {"//", 7},
	"mod":      {"%", 7},
}

// VariableMap assigns stable names to the object specifiers a reconstructed
// expression references. Iteration order follows insertion order.
type VariableMap struct {
	names      []string
	specifiers map[string]map[string]any
}

func NewVariableMap() *VariableMap {
	return &VariableMap{specifiers: map[string]map[string]any{}}
}

func (m *VariableMap) Set(name string, specifier map[string]any) {
	if _, ok := m.specifiers[name]; !ok {
		m.names = append(m.names, name)
	}
	m.specifiers[name] = specifier
}

func (m *VariableMap) Get(name string) (map[string]any, bool) {
	specifier, ok := m.specifiers[name]
	return specifier, ok
}

func (m *VariableMap) Names() []string { return append([]string(nil), m.names...) }

func (m *VariableMap) Clone() *VariableMap {
	clone := NewVariableMap()
	for _, name := range m.names {
		clone.Set(name, m.specifiers[name])
	}
	return clone
}

// assign returns the name already mapped to specifier or invents prefixN with
// the next free index. prefixOnly restricts index scanning to matching names.
func (m *VariableMap) assign(prefix string, specifier map[string]any, prefixOnly bool) string {
	names := append([]string(nil), m.names...)
	sort.Strings(names)
	index := -1
	for _, name := range names {
		if reflect.DeepEqual(m.specifiers[name], specifier) {
			return name
		}
		if prefixOnly && !strings.HasPrefix(name, prefix) {
			continue
		}
		suffix := strings.TrimPrefix(name, prefix)
		if i, err := strconv.Atoi(suffix); err == nil && i >= index {
			index = i + 1
		}
	}
	if index < 0 {
		index = 0
	}
	name := fmt.Sprintf("%s%d", prefix, index)
	m.Set(name, deepCopySpecifier(specifier))
	return name
}

func deepCopySpecifier(specifier map[string]any) map[string]any {
	if specifier == nil {
		return nil
	}
	clone := make(map[string]any, len(specifier))
	for k, v := range specifier {
		if nested, ok := v.(map[string]any); ok {
			clone[k] = deepCopySpecifier(nested)
		} else {
			clone[k] = v
		}
	}
	return clone
}

func reconstructInputs(variableMap *VariableMap, inputs []DataNode) ([]string, []int) {
	texts := make([]string, 0, len(inputs))
	precedences := make([]int, 0, len(inputs))
	for _, input := range inputs {
		text, precedence := input.Reconstruct(variableMap)
		texts = append(texts, text)
		precedences = append(precedences, precedence)
	}
	return texts, precedences
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return ", " + strings.Join(parts, ", ")
}
