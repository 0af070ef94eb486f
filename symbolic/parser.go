package symbolic

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ParseContext supplies specifiers for uuid-based references inside
// expressions (data_by_uuid, region_by_uuid).
type ParseContext interface {
	DataItemSpecifier(itemUUID uuid.UUID) map[string]any
	RegionSpecifier(regionUUID uuid.UUID) map[string]any
}

// ParseExpression parses an expression into a data node graph. The expression
// may span multiple lines; earlier lines are `name = expr` assignments and the
// last line is the result. Names resolve through the variable map first, then
// through the builtin function table.
func ParseExpression(expression string, variableMap map[string]map[string]any, context ParseContext) (DataNode, error) {
	locals := map[string]any{}
	for name, specifier := range variableMap {
		locals[name] = leafNodeForSpecifier(specifier)
	}
	lines := strings.Split(expression, "\n")
	var result any
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "import ") {
			continue
		}
		name, rhs := splitAssignment(line)
		p := &parser{tokens: lex(rhs), context: context, locals: locals}
		value, err := p.parseExpression(0)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if !p.atEnd() {
			return nil, fmt.Errorf("line %d: unexpected %q", i+1, p.peek().text)
		}
		if name != "" {
			locals[name] = value
		} else {
			result = value
		}
	}
	if result == nil {
		return nil, fmt.Errorf("expression has no result")
	}
	return makeNode(result)
}

func leafNodeForSpecifier(specifier map[string]any) DataNode {
	switch specifierType, _ := specifier["type"].(string); specifierType {
	case "data_item":
		return NewDataItemNode(specifier)
	case "variable":
		return NewVariableNode(specifier)
	default:
		return NewReferenceNode(specifier)
	}
}

// splitAssignment splits `name = expr`, ignoring `==` and operators inside
// the expression. Only a bare identifier left of a single `=` counts.
func splitAssignment(line string) (string, string) {
	eq := strings.Index(line, "=")
	if eq <= 0 || eq+1 >= len(line) {
		return "", line
	}
	if line[eq+1] == '=' {
		return "", line
	}
	name := strings.TrimSpace(line[:eq])
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return "", line
		}
	}
	if name == "" || unicode.IsDigit(rune(name[0])) {
		return "", line
	}
	return name, strings.TrimSpace(line[eq+1:])
}

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenString
	tokenOperator
	tokenEOF
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) []token {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokenIdent, input[i:j]})
			i = j
		case unicode.IsDigit(rune(c)) || (c == '.' && i+1 < len(input) && unicode.IsDigit(rune(input[i+1]))):
			j := i
			for j < len(input) && (unicode.IsDigit(rune(input[j])) || input[j] == '.' || input[j] == 'e' || input[j] == 'E' ||
				((input[j] == '+' || input[j] == '-') && j > i && (input[j-1] == 'e' || input[j-1] == 'E'))) {
				j++
			}
			if j < len(input) && input[j] == 'j' {
				j++
			}
			tokens = append(tokens, token{tokenNumber, input[i:j]})
			i = j
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			tokens = append(tokens, token{tokenString, input[i+1 : min(j, len(input))]})
			i = j + 1
		case c == '*' && i+1 < len(input) && input[i+1] == '*':
			tokens = append(tokens, token{tokenOperator, "**"})
			i += 2
		case c == '/' && i+1 < len(input) && input[i+1] == '/':
			tokens = append(tokens, token{tokenOperator, "//"})
			i += 2
		default:
			tokens = append(tokens, token{tokenOperator, string(c)})
			i++
		}
	}
	tokens = append(tokens, token{tokenEOF, ""})
	return tokens
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type parser struct {
	tokens  []token
	pos     int
	context ParseContext
	locals  map[string]any
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) atEnd() bool { return p.peek().kind == tokenEOF }

func (p *parser) accept(text string) bool {
	if p.peek().kind == tokenOperator && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(text) {
		return fmt.Errorf("expected %q, found %q", text, p.peek().text)
	}
	return nil
}

var binaryPrecedence = map[string]int{
	"+": 6, "-": 6,
	"*": 7, "/": 7, "//": 7, "%": 7,
	"**": 9,
}

var binaryFunctionIDs = map[string]string{
	"+": "add", "-": "sub",
	"*": "mul", "/": "truediv", "//": "floordiv", "%": "mod",
	"**": "pow",
}

// parseExpression implements precedence climbing; ** is right-associative.
func (p *parser) parseExpression(minPrecedence int) (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokenOperator {
			return left, nil
		}
		precedence, isBinary := binaryPrecedence[t.text]
		if !isBinary || precedence < minPrecedence {
			return left, nil
		}
		p.next()
		nextMin := precedence + 1
		if t.text == "**" {
			nextMin = precedence
		}
		right, err := p.parseExpression(nextMin)
		if err != nil {
			return nil, err
		}
		left, err = applyBinary(binaryFunctionIDs[t.text], left, right)
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseUnary() (any, error) {
	if p.accept("-") {
		operand, err := p.parseUnaryOperand()
		if err != nil {
			return nil, err
		}
		return applyUnaryOperator("neg", operand)
	}
	if p.accept("+") {
		operand, err := p.parseUnaryOperand()
		if err != nil {
			return nil, err
		}
		return applyUnaryOperator("pos", operand)
	}
	return p.parsePostfix()
}

// parseUnaryOperand parses at a precedence just above binary add so unary
// minus binds tighter than + and - but looser than **.
func (p *parser) parseUnaryOperand() (any, error) {
	return p.parseExpression(7)
}

func (p *parser) parsePostfix() (any, error) {
	value, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("."):
			name := p.next()
			if name.kind != tokenIdent {
				return nil, fmt.Errorf("expected attribute name, found %q", name.text)
			}
			value, err = p.applyAttribute(value, name.text)
			if err != nil {
				return nil, err
			}
		case p.accept("["):
			value, err = p.parseSubscript(value)
			if err != nil {
				return nil, err
			}
		case p.accept("("):
			value, err = p.parseCall(value)
			if err != nil {
				return nil, err
			}
		default:
			return value, nil
		}
	}
}

func (p *parser) parsePrimary() (any, error) {
	t := p.peek()
	switch t.kind {
	case tokenNumber:
		p.next()
		return parseNumber(t.text)
	case tokenString:
		p.next()
		return t.text, nil
	case tokenIdent:
		p.next()
		switch t.text {
		case "True":
			return true, nil
		case "False":
			return false, nil
		case "None":
			return nil, fmt.Errorf("None is not supported in expressions")
		}
		if value, ok := p.locals[t.text]; ok {
			return value, nil
		}
		return callable{name: t.text}, nil
	case tokenOperator:
		if t.text == "(" {
			p.next()
			return p.parseParenthesized()
		}
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}

// parseParenthesized handles both grouping and tuple literals.
func (p *parser) parseParenthesized() (any, error) {
	if p.accept(")") {
		return tuple(nil), nil
	}
	first, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if p.accept(")") {
		return first, nil
	}
	values := tuple{first}
	for p.accept(",") {
		if p.peek().kind == tokenOperator && p.peek().text == ")" {
			break
		}
		value, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return values, nil
}

// callable is a name awaiting a call; xd.name resolves to the same table.
type callable struct {
	name string
}

// tuple is a parenthesized value list.
type tuple []any

func (p *parser) applyAttribute(value any, name string) (any, error) {
	switch v := value.(type) {
	case callable:
		// xd.fft, uuid.UUID and similar qualified names
		return callable{name: name}, nil
	case *DataItemNode:
		return NewPropertyNode(v.Specifier(), name), nil
	case *ReferenceNode:
		return NewPropertyNode(v.Specifier(), name), nil
	case *VariableNode:
		return NewPropertyNode(v.Specifier(), name), nil
	}
	return nil, fmt.Errorf("cannot access attribute %q", name)
}

func (p *parser) parseSubscript(value any) (any, error) {
	node, err := makeNode(value)
	if err != nil {
		return nil, err
	}
	var key []any
	for {
		entry, err := p.parseSliceEntry()
		if err != nil {
			return nil, err
		}
		key = append(key, entry)
		if !p.accept(",") {
			break
		}
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	if scalar, ok := node.(*ScalarOperationNode); ok && len(key) == 1 {
		if entry, ok := key[0].(map[string]any); ok {
			if index, has := entry["index"]; has {
				return NewScalarOperationNode([]DataNode{scalar}, "item", map[string]any{"key": index}), nil
			}
		}
	}
	return NewFunctionOperationNode([]DataNode{node}, "data_slice", map[string]any{"key": key}), nil
}

// parseSliceEntry parses `index`, `start:stop`, `:stop`, `start:`, or `:`.
func (p *parser) parseSliceEntry() (map[string]any, error) {
	entry := map[string]any{}
	parseBound := func() (any, error) {
		t := p.peek()
		if t.kind == tokenOperator && (t.text == ":" || t.text == "," || t.text == "]") {
			return nil, nil
		}
		value, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		return constantValue(value)
	}
	start, err := parseBound()
	if err != nil {
		return nil, err
	}
	if !p.accept(":") {
		if start == nil {
			return nil, fmt.Errorf("empty subscript")
		}
		entry["index"] = start
		return entry, nil
	}
	stop, err := parseBound()
	if err != nil {
		return nil, err
	}
	if start != nil {
		entry["start"] = start
	}
	if stop != nil {
		entry["stop"] = stop
	}
	if p.accept(":") {
		step, err := parseBound()
		if err != nil {
			return nil, err
		}
		if step != nil {
			entry["step"] = step
		}
	}
	return entry, nil
}

func (p *parser) parseCall(target any) (any, error) {
	fn, ok := target.(callable)
	if !ok {
		return nil, fmt.Errorf("value is not callable")
	}
	var args []any
	kwargs := map[string]any{}
	if !p.accept(")") {
		for {
			if name, ok := p.peekKeywordArg(); ok {
				value, err := p.parseExpression(0)
				if err != nil {
					return nil, err
				}
				constant, err := constantValue(value)
				if err != nil {
					return nil, err
				}
				kwargs[name] = constant
			} else {
				value, err := p.parseExpression(0)
				if err != nil {
					return nil, err
				}
				args = append(args, value)
			}
			if !p.accept(",") {
				break
			}
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
	}
	return p.applyCall(fn.name, args, kwargs)
}

// peekKeywordArg consumes `name=` when the next tokens form a keyword
// argument and returns the name.
func (p *parser) peekKeywordArg() (string, bool) {
	if p.peek().kind == tokenIdent && p.pos+1 < len(p.tokens) {
		next := p.tokens[p.pos+1]
		if next.kind == tokenOperator && next.text == "=" {
			name := p.next().text
			p.next()
			return name, true
		}
	}
	return "", false
}

func parseNumber(text string) (any, error) {
	if strings.HasSuffix(text, "j") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(text, "j"), 64)
		if err != nil {
			return nil, fmt.Errorf("bad imaginary literal %q", text)
		}
		return complex(0, f), nil
	}
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.Atoi(text); err == nil {
			return i, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("bad number %q", text)
	}
	return f, nil
}

// makeNode converts a parse value into a data node, boxing constants.
func makeNode(value any) (DataNode, error) {
	switch v := value.(type) {
	case DataNode:
		return v, nil
	case int, float64, complex128, bool:
		return NewConstantNode(v), nil
	case tuple:
		return nil, fmt.Errorf("tuple is not a data node")
	case callable:
		return nil, fmt.Errorf("%q must be called", v.name)
	}
	return nil, fmt.Errorf("value %v is not a data node", value)
}

// constantValue unboxes a parse value into a plain Go value for args.
func constantValue(value any) (any, error) {
	switch v := value.(type) {
	case int, float64, complex128, bool, string:
		return v, nil
	case *ConstantNode:
		return v.Value(), nil
	case tuple:
		out := make([]any, 0, len(v))
		for _, item := range v {
			c, err := constantValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected constant, found %T", value)
}

func applyUnaryOperator(functionID string, value any) (any, error) {
	switch v := value.(type) {
	case int:
		if functionID == "neg" {
			return -v, nil
		}
		return v, nil
	case float64:
		if functionID == "neg" {
			return -v, nil
		}
		return v, nil
	case complex128:
		if functionID == "neg" {
			return -v, nil
		}
		return v, nil
	case DataNode:
		return NewUnaryOperationNode([]DataNode{v}, functionID, nil), nil
	}
	return nil, fmt.Errorf("cannot negate %T", value)
}

func applyBinary(functionID string, left, right any) (any, error) {
	leftNode, leftIsNode := left.(DataNode)
	rightNode, rightIsNode := right.(DataNode)
	if !leftIsNode && !rightIsNode {
		value := evaluateBinaryFunction(functionID, normalizeScalar(left), normalizeScalar(right))
		if value == nil {
			return nil, fmt.Errorf("cannot apply %s to %T and %T", functionID, left, right)
		}
		return value, nil
	}
	if !leftIsNode {
		var err error
		leftNode, err = makeNode(left)
		if err != nil {
			return nil, err
		}
	}
	if !rightIsNode {
		var err error
		rightNode, err = makeNode(right)
		if err != nil {
			return nil, err
		}
	}
	return NewBinaryOperationNode([]DataNode{leftNode, rightNode}, functionID, nil), nil
}

func normalizeScalar(v any) any {
	if i, ok := v.(int); ok {
		return float64(i)
	}
	return v
}
