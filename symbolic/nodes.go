package symbolic

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ConstantNode holds a literal scalar.
type ConstantNode struct {
	nodeBase
	scalarType string
	value      any
}

func NewConstantNode(value any) *ConstantNode {
	node := &ConstantNode{nodeBase: newNodeBase(nil), value: value}
	switch value.(type) {
	case int, int64:
		node.scalarType = "integral"
	case float64:
		node.scalarType = "real"
	case complex128:
		node.scalarType = "complex"
	case bool:
		node.scalarType = "boolean"
	}
	return node
}

func (n *ConstantNode) Value() any { return n.value }

func (n *ConstantNode) read(d map[string]any) error {
	if err := n.nodeBase.read(d); err != nil {
		return err
	}
	n.scalarType, _ = d["scalar_type"].(string)
	switch n.scalarType {
	case "integral":
		switch v := d["value"].(type) {
		case float64:
			n.value = int(v)
		case int:
			n.value = v
		}
	case "real":
		if v, ok := d["value"].(float64); ok {
			n.value = v
		}
	case "complex":
		if pair, ok := d["value"].([]any); ok && len(pair) == 2 {
			re, _ := pair[0].(float64)
			im, _ := pair[1].(float64)
			n.value = complex(re, im)
		}
	case "boolean":
		if v, ok := d["value"].(bool); ok {
			n.value = v
		}
	}
	return nil
}

func (n *ConstantNode) Write() map[string]any {
	d := n.write()
	d["data_node_type"] = nodeTypeConstant
	d["scalar_type"] = n.scalarType
	switch v := n.value.(type) {
	case complex128:
		d["value"] = []any{real(v), imag(v)}
	default:
		d["value"] = v
	}
	return d
}

func (n *ConstantNode) Evaluate(resolve Resolver) any { return n.value }

func (n *ConstantNode) Reconstruct(variableMap *VariableMap) (string, int) {
	return fmt.Sprintf("%v", n.value), atomPrecedence
}

// operationNode carries the function id and keyword args shared by the
// scalar, unary, binary, and function node kinds.
type operationNode struct {
	nodeBase
	functionID string
	args       map[string]any
}

func (n *operationNode) FunctionID() string   { return n.functionID }
func (n *operationNode) Args() map[string]any { return n.args }

func (n *operationNode) read(d map[string]any) error {
	if err := n.nodeBase.read(d); err != nil {
		return err
	}
	n.functionID, _ = d["function_id"].(string)
	if args, ok := d["args"].(map[string]any); ok {
		n.args = args
	} else {
		n.args = map[string]any{}
	}
	return nil
}

func (n *operationNode) writeOperation(nodeType string) map[string]any {
	d := n.write()
	d["data_node_type"] = nodeType
	d["function_id"] = n.functionID
	if len(n.args) > 0 {
		d["args"] = n.args
	}
	return d
}

func newOperationNode(inputs []DataNode, functionID string, args map[string]any) operationNode {
	if args == nil {
		args = map[string]any{}
	}
	return operationNode{nodeBase: newNodeBase(inputs), functionID: functionID, args: args}
}

// ScalarOperationNode reduces its inputs to a scalar value, e.g. mean(src).
type ScalarOperationNode struct {
	operationNode
}

func NewScalarOperationNode(inputs []DataNode, functionID string, args map[string]any) *ScalarOperationNode {
	return &ScalarOperationNode{newOperationNode(inputs, functionID, args)}
}

func (n *ScalarOperationNode) Write() map[string]any { return n.writeOperation(nodeTypeScalar) }

func (n *ScalarOperationNode) Evaluate(resolve Resolver) any {
	values := n.evaluateInputs(resolve)
	if !allPresent(values) {
		return nil
	}
	return evaluateScalarFunction(n.functionID, values, n.args)
}

func (n *ScalarOperationNode) Reconstruct(variableMap *VariableMap) (string, int) {
	texts, _ := reconstructInputs(variableMap, n.inputs)
	if n.functionID == "item" {
		return fmt.Sprintf("%s[%v]", texts[0], n.args["key"]), atomPrecedence
	}
	return fmt.Sprintf("%s(%s%s)", n.functionID, strings.Join(texts, ", "), formatArgs(n.args)), atomPrecedence
}

// UnaryOperationNode applies an elementwise function or a unary operator.
type UnaryOperationNode struct {
	operationNode
}

func NewUnaryOperationNode(inputs []DataNode, functionID string, args map[string]any) *UnaryOperationNode {
	return &UnaryOperationNode{newOperationNode(inputs, functionID, args)}
}

func (n *UnaryOperationNode) Write() map[string]any { return n.writeOperation(nodeTypeUnary) }

func (n *UnaryOperationNode) Evaluate(resolve Resolver) any {
	values := n.evaluateInputs(resolve)
	if !allPresent(values) {
		return nil
	}
	return evaluateUnaryFunction(n.functionID, values[0], n.args)
}

func (n *UnaryOperationNode) Reconstruct(variableMap *VariableMap) (string, int) {
	texts, precedences := reconstructInputs(variableMap, n.inputs)
	arg := texts[0]
	if op, ok := operatorMap[n.functionID]; ok {
		if op.precedence >= precedences[0] {
			arg = "(" + arg + ")"
		}
		return op.text + arg, op.precedence
	}
	if n.functionID == "astype" {
		return fmt.Sprintf("astype(%s, %v)", arg, n.args["dtype"]), atomPrecedence
	}
	if n.functionID == "column" || n.functionID == "row" {
		if n.args["start"] == nil && n.args["stop"] == nil {
			return fmt.Sprintf("%s(%s)", n.functionID, arg), atomPrecedence
		}
	}
	if n.functionID == "radius" {
		if normalize, ok := n.args["normalize"].(bool); !ok || normalize {
			return fmt.Sprintf("radius(%s)", arg), atomPrecedence
		}
	}
	return fmt.Sprintf("%s(%s%s)", n.functionID, arg, formatArgs(n.args)), atomPrecedence
}

// BinaryOperationNode applies arithmetic between two inputs. Calibrations
// carry over from the first array input.
type BinaryOperationNode struct {
	operationNode
}

func NewBinaryOperationNode(inputs []DataNode, functionID string, args map[string]any) *BinaryOperationNode {
	return &BinaryOperationNode{newOperationNode(inputs, functionID, args)}
}

func (n *BinaryOperationNode) Write() map[string]any { return n.writeOperation(nodeTypeBinary) }

func (n *BinaryOperationNode) Evaluate(resolve Resolver) any {
	values := n.evaluateInputs(resolve)
	if !allPresent(values) {
		return nil
	}
	return evaluateBinaryFunction(n.functionID, values[0], values[1])
}

func (n *BinaryOperationNode) Reconstruct(variableMap *VariableMap) (string, int) {
	texts, precedences := reconstructInputs(variableMap, n.inputs)
	left, right := texts[0], texts[1]
	if op, ok := operatorMap[n.functionID]; ok {
		if op.precedence > precedences[0] {
			left = "(" + left + ")"
		}
		if op.precedence > precedences[1] {
			right = "(" + right + ")"
		}
		return fmt.Sprintf("%s %s %s", left, op.text, right), op.precedence
	}
	return fmt.Sprintf("%s(%s, %s)", n.functionID, left, right), atomPrecedence
}

// FunctionOperationNode applies a kernel to whole data-and-metadata inputs.
type FunctionOperationNode struct {
	operationNode
}

func NewFunctionOperationNode(inputs []DataNode, functionID string, args map[string]any) *FunctionOperationNode {
	return &FunctionOperationNode{newOperationNode(inputs, functionID, args)}
}

func (n *FunctionOperationNode) Write() map[string]any { return n.writeOperation(nodeTypeFunction) }

func (n *FunctionOperationNode) Evaluate(resolve Resolver) any {
	values := n.evaluateInputs(resolve)
	if !allPresent(values) {
		return nil
	}
	return evaluateKernelFunction(n.functionID, values, n.args)
}

func (n *FunctionOperationNode) Reconstruct(variableMap *VariableMap) (string, int) {
	texts, _ := reconstructInputs(variableMap, n.inputs)
	switch n.functionID {
	case "data_slice":
		key, _ := n.args["key"].([]any)
		return fmt.Sprintf("%s[%s]", texts[0], sliceKeyText(key)), atomPrecedence
	case "concatenate":
		axisStr := ""
		if axis := intArg(n.args, "axis", 0); axis != 0 {
			axisStr = fmt.Sprintf(", %d", axis)
		}
		return fmt.Sprintf("concatenate((%s)%s)", strings.Join(texts, ", "), axisStr), atomPrecedence
	case "reshape":
		shapeStr := ""
		if shape, ok := n.args["shape"]; ok {
			shapeStr = fmt.Sprintf(", %v", shape)
		}
		return fmt.Sprintf("reshape(%s%s)", strings.Join(texts, ", "), shapeStr), atomPrecedence
	}
	return fmt.Sprintf("%s(%s)", n.functionID, strings.Join(texts, ", ")), atomPrecedence
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

// specifierNode carries an object specifier and an optional bound item.
type specifierNode struct {
	nodeBase
	specifier map[string]any
	boundItem BoundItem
}

func (n *specifierNode) Specifier() map[string]any { return n.specifier }

func (n *specifierNode) readSpecifier(d map[string]any) error {
	if err := n.nodeBase.read(d); err != nil {
		return err
	}
	n.specifier, _ = d["object_specifier"].(map[string]any)
	return nil
}

func (n *specifierNode) writeSpecifier(nodeType string) map[string]any {
	d := n.write()
	d["data_node_type"] = nodeType
	d["object_specifier"] = deepCopySpecifier(n.specifier)
	return d
}

func (n *specifierNode) Evaluate(resolve Resolver) any {
	if resolve != nil {
		return resolve(n.nodeUUID)
	}
	if n.boundItem != nil {
		return n.boundItem.Value()
	}
	return nil
}

func (n *specifierNode) Unbind() { n.boundItem = nil }

// DataItemNode references a data item's data by object specifier.
type DataItemNode struct {
	specifierNode
}

func NewDataItemNode(specifier map[string]any) *DataItemNode {
	return &DataItemNode{specifierNode{nodeBase: newNodeBase(nil), specifier: specifier}}
}

func (n *DataItemNode) Write() map[string]any { return n.writeSpecifier(nodeTypeData) }

func (n *DataItemNode) Bind(context ResolveContext, boundItems map[uuid.UUID]BoundItem) {
	n.boundItem = context.ResolveObjectSpecifier(n.specifier, "")
	if n.boundItem != nil {
		boundItems[n.nodeUUID] = n.boundItem
	}
}

func (n *DataItemNode) Reconstruct(variableMap *VariableMap) (string, int) {
	return variableMap.assign("d", n.specifier, false), atomPrecedence
}

// BoundItemForTest exposes the current binding in tests.
func (n *DataItemNode) BoundItemForTest() BoundItem { return n.boundItem }

// VariableNode references a computation variable's value.
type VariableNode struct {
	specifierNode
}

func NewVariableNode(specifier map[string]any) *VariableNode {
	return &VariableNode{specifierNode{nodeBase: newNodeBase(nil), specifier: specifier}}
}

func (n *VariableNode) Write() map[string]any { return n.writeSpecifier(nodeTypeVariable) }

func (n *VariableNode) Bind(context ResolveContext, boundItems map[uuid.UUID]BoundItem) {
	n.boundItem = context.ResolveObjectSpecifier(n.specifier, "")
	if n.boundItem != nil {
		boundItems[n.nodeUUID] = n.boundItem
	}
}

func (n *VariableNode) Reconstruct(variableMap *VariableMap) (string, int) {
	return variableMap.assign("x", n.specifier, true), atomPrecedence
}

// PropertyNode references a named property of a referenced object, e.g. a
// region's bounds.
type PropertyNode struct {
	specifierNode
	property string
}

func NewPropertyNode(specifier map[string]any, property string) *PropertyNode {
	return &PropertyNode{specifierNode{nodeBase: newNodeBase(nil), specifier: specifier}, property}
}

func (n *PropertyNode) Property() string { return n.property }

func (n *PropertyNode) read(d map[string]any) error {
	if err := n.readSpecifier(d); err != nil {
		return err
	}
	n.property, _ = d["property"].(string)
	return nil
}

func (n *PropertyNode) Write() map[string]any {
	d := n.writeSpecifier(nodeTypeProperty)
	d["property"] = n.property
	return d
}

func (n *PropertyNode) Bind(context ResolveContext, boundItems map[uuid.UUID]BoundItem) {
	n.boundItem = context.ResolveObjectSpecifier(n.specifier, n.property)
	if n.boundItem != nil {
		boundItems[n.nodeUUID] = n.boundItem
	}
}

func (n *PropertyNode) Reconstruct(variableMap *VariableMap) (string, int) {
	prefix := "object"
	switch specifierType, _ := n.specifier["type"].(string); specifierType {
	case "data_item":
		prefix = "d"
	case "region":
		prefix = "region"
	}
	return variableMap.assign(prefix, n.specifier, true) + "." + n.property, atomPrecedence
}

// ReferenceNode is an opaque leaf kept for round-trip safety when a specifier
// cannot be interpreted.
type ReferenceNode struct {
	specifierNode
}

func NewReferenceNode(specifier map[string]any) *ReferenceNode {
	return &ReferenceNode{specifierNode{nodeBase: newNodeBase(nil), specifier: specifier}}
}

func (n *ReferenceNode) read(d map[string]any) error {
	if err := n.readSpecifier(d); err != nil {
		return err
	}
	if n.specifier == nil {
		n.specifier = map[string]any{"type": "reference", "version": 1, "uuid": uuid.NewString()}
	}
	return nil
}

func (n *ReferenceNode) Write() map[string]any { return n.writeSpecifier(nodeTypeRef) }

func (n *ReferenceNode) Evaluate(resolve Resolver) any { return nil }

func (n *ReferenceNode) Bind(context ResolveContext, boundItems map[uuid.UUID]BoundItem) {}

func (n *ReferenceNode) Reconstruct(variableMap *VariableMap) (string, int) {
	return variableMap.assign("ref", n.specifier, true), atomPrecedence
}

func sliceKeyText(key []any) string {
	parts := make([]string, 0, len(key))
	for _, entry := range key {
		d, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if index, ok := d["index"]; ok {
			parts = append(parts, fmt.Sprintf("%v", index))
			continue
		}
		text := ""
		if start, ok := d["start"]; ok && start != nil {
			text = fmt.Sprintf("%v", start)
		}
		text += ":"
		if stop, ok := d["stop"]; ok && stop != nil {
			text += fmt.Sprintf("%v", stop)
		}
		if step, ok := d["step"]; ok && step != nil {
			text += fmt.Sprintf(":%v", step)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, ", ")
}
