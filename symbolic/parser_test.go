package symbolic

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeno/docmodel/ndarray"
)

func dataItemSpec(id uuid.UUID) map[string]any {
	return map[string]any{"type": "data_item", "version": 1, "uuid": id.String()}
}

func testArray(values ...float64) *ndarray.DataAndMetadata {
	a := ndarray.New([]int{len(values)}, ndarray.Float64)
	copy(a.Data, values)
	return ndarray.NewDataAndMetadata(a, ndarray.Identity(), nil, nil)
}

func TestParseConstantExpressions(t *testing.T) {
	var testCases = []struct {
		description string
		expression  string
		expect      float64
	}{
		{
			description: "multiplication binds tighter than addition",
			expression:  "1 + 2 * 3",
			expect:      7,
		},
		{
			description: "power is right associative",
			expression:  "2 ** 3 ** 2",
			expect:      512,
		},
		{
			description: "parentheses group",
			expression:  "(1 + 2) * 3",
			expect:      9,
		},
		{
			description: "floor division",
			expression:  "7 // 2",
			expect:      3,
		},
		{
			description: "modulo",
			expression:  "10 % 3",
			expect:      1,
		},
		{
			description: "unary minus binds tighter than addition",
			expression:  "-2 + 5",
			expect:      3,
		},
		{
			description: "unary minus applies to a product",
			expression:  "-2 * 3",
			expect:      -6,
		},
		{
			description: "scientific notation",
			expression:  "2.5e1",
			expect:      25,
		},
	}
	for _, testCase := range testCases {
		node, err := ParseExpression(testCase.expression, nil, nil)
		require.NoError(t, err, testCase.description)
		assert.EqualValues(t, testCase.expect, node.Evaluate(nil), testCase.description)
	}
}

func TestParseComplexLiteral(t *testing.T) {
	node, err := ParseExpression("2j", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, complex(0, 2), node.Evaluate(nil))

	node, err = ParseExpression("-2j", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, complex(0, -2), node.Evaluate(nil))
}

func TestParseEvaluatesAgainstResolvedData(t *testing.T) {
	variableMap := map[string]map[string]any{"a": dataItemSpec(uuid.New())}
	node, err := ParseExpression("a * 2 + 1", variableMap, nil)
	require.NoError(t, err)

	source := testArray(1, 2, 3, 4)
	resolve := func(uuid.UUID) any { return source }
	result, ok := node.Evaluate(resolve).(*ndarray.DataAndMetadata)
	require.True(t, ok)
	assert.Equal(t, []float64{3, 5, 7, 9}, result.Data.Data)
}

func TestParseAssignmentLines(t *testing.T) {
	variableMap := map[string]map[string]any{"a": dataItemSpec(uuid.New())}
	node, err := ParseExpression("import math\nb = a + 1\nb * 2", variableMap, nil)
	require.NoError(t, err)

	source := testArray(1, 2, 3, 4)
	resolve := func(uuid.UUID) any { return source }
	result, ok := node.Evaluate(resolve).(*ndarray.DataAndMetadata)
	require.True(t, ok)
	assert.Equal(t, []float64{4, 6, 8, 10}, result.Data.Data)
}

type specifierParseContext struct{}

func (specifierParseContext) DataItemSpecifier(id uuid.UUID) map[string]any {
	return dataItemSpec(id)
}

func (specifierParseContext) RegionSpecifier(id uuid.UUID) map[string]any {
	return map[string]any{"type": "region", "version": 1, "uuid": id.String()}
}

func TestParseDataByUUID(t *testing.T) {
	id := uuid.New()
	node, err := ParseExpression("d = data_by_uuid(uuid.UUID('"+id.String()+"'))\nd", nil, specifierParseContext{})
	require.NoError(t, err)

	leaf, ok := node.(*DataItemNode)
	require.True(t, ok)
	assert.Equal(t, id.String(), leaf.Specifier()["uuid"])
}

func TestParseErrors(t *testing.T) {
	variableMap := map[string]map[string]any{"a": dataItemSpec(uuid.New())}
	var testCases = []struct {
		description string
		expression  string
	}{
		{
			description: "empty expression",
			expression:  "",
		},
		{
			description: "dangling operator",
			expression:  "a +",
		},
		{
			description: "wrong argument count",
			expression:  "sin()",
		},
		{
			description: "unknown function",
			expression:  "frobnicate(a)",
		},
		{
			description: "trailing comma",
			expression:  "a ,",
		},
		{
			description: "unsupported None",
			expression:  "None",
		},
	}
	for _, testCase := range testCases {
		_, err := ParseExpression(testCase.expression, variableMap, nil)
		assert.Error(t, err, testCase.description)
	}
}

func TestParseSubscript(t *testing.T) {
	variableMap := map[string]map[string]any{"a": dataItemSpec(uuid.New())}
	node, err := ParseExpression("a[0, 1:3]", variableMap, nil)
	require.NoError(t, err)

	function, ok := node.(*FunctionOperationNode)
	require.True(t, ok)
	assert.Equal(t, "data_slice", function.FunctionID())
	key, ok := function.Args()["key"].([]any)
	require.True(t, ok)
	require.Len(t, key, 2)
	assert.Equal(t, map[string]any{"index": 0}, key[0])
	assert.Equal(t, map[string]any{"start": 1, "stop": 3}, key[1])
}

func TestParseKeywordArguments(t *testing.T) {
	variableMap := map[string]map[string]any{"a": dataItemSpec(uuid.New())}
	node, err := ParseExpression("radius(a, normalize=False)", variableMap, nil)
	require.NoError(t, err)

	unary, ok := node.(*UnaryOperationNode)
	require.True(t, ok)
	assert.Equal(t, "radius", unary.FunctionID())
	assert.Equal(t, false, unary.Args()["normalize"])
}

func TestNodeWriteReadRoundTrip(t *testing.T) {
	variableMap := map[string]map[string]any{"a": dataItemSpec(uuid.New())}
	expressions := []string{
		"a + 1",
		"xd.fft(a)",
		"astype(a, float64)",
		"a[1:, 0]",
		"mean(a)",
		"-a ** 2",
	}
	for _, expression := range expressions {
		node, err := ParseExpression(expression, variableMap, nil)
		require.NoError(t, err, expression)
		restored, err := NodeFromDict(node.Write())
		require.NoError(t, err, expression)
		assert.Equal(t, node.Write(), restored.Write(), expression)
	}
}

func TestReconstructExpressions(t *testing.T) {
	specA := dataItemSpec(uuid.New())
	specB := dataItemSpec(uuid.New())
	variableMap := map[string]map[string]any{"a": specA, "b": specB}
	var testCases = []struct {
		description string
		expression  string
		expect      string
	}{
		{
			description: "operator precedence needs no parentheses",
			expression:  "a + b * a",
			expect:      "a + b * a",
		},
		{
			description: "grouping survives",
			expression:  "(a + b) * a",
			expect:      "(a + b) * a",
		},
		{
			description: "unary minus",
			expression:  "-a",
			expect:      "-a",
		},
		{
			description: "kernel call drops the xd prefix",
			expression:  "xd.fft(a)",
			expect:      "fft(a)",
		},
		{
			description: "power operator",
			expression:  "a ** 2",
			expect:      "a ** 2",
		},
		{
			description: "subscript",
			expression:  "a[0, 1:3]",
			expect:      "a[0, 1:3]",
		},
		{
			description: "scalar function",
			expression:  "mean(a) + 1",
			expect:      "mean(a) + 1",
		},
	}
	for _, testCase := range testCases {
		node, err := ParseExpression(testCase.expression, variableMap, nil)
		require.NoError(t, err, testCase.description)
		names := NewVariableMap()
		names.Set("a", specA)
		names.Set("b", specB)
		text, _ := node.Reconstruct(names)
		assert.Equal(t, testCase.expect, text, testCase.description)
	}
}
