package symbolic

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeno/docmodel/ndarray"
	"github.com/lumeno/docmodel/persistence"
)

// resolverContext resolves data item specifiers against a fixed value table.
type resolverContext struct {
	values  map[string]any
	signals map[string]*persistence.Signal
	closed  int
}

func newResolverContext() *resolverContext {
	return &resolverContext{values: map[string]any{}, signals: map[string]*persistence.Signal{}}
}

func (c *resolverContext) add(value any) map[string]any {
	id := uuid.New()
	c.values[id.String()] = value
	c.signals[id.String()] = &persistence.Signal{}
	return dataItemSpec(id)
}

func (c *resolverContext) ResolveObjectSpecifier(specifier map[string]any, propertyName string) BoundItem {
	id, _ := specifier["uuid"].(string)
	if _, ok := c.values[id]; !ok {
		return nil
	}
	return &resolverBoundItem{context: c, id: id}
}

func (c *resolverContext) DataItemSpecifier(id uuid.UUID) map[string]any {
	return dataItemSpec(id)
}

func (c *resolverContext) RegionSpecifier(id uuid.UUID) map[string]any {
	return map[string]any{"type": "region", "version": 1, "uuid": id.String()}
}

type resolverBoundItem struct {
	context *resolverContext
	id      string
}

func (b *resolverBoundItem) Value() any { return b.context.values[b.id] }

func (b *resolverBoundItem) ChangedEvent() *persistence.Signal { return b.context.signals[b.id] }

func (b *resolverBoundItem) Close() { b.context.closed++ }

func TestComputationEvaluatesObjectVariable(t *testing.T) {
	context := newResolverContext()
	specifier := context.add(testArray(1, 2, 3))

	computation := NewComputation()
	computation.CreateObject("a", specifier)
	computation.ParseExpression(context, "a + 1", nil)

	require.Empty(t, computation.ErrorText())
	assert.True(t, computation.NeedsUpdate)

	result, ok := computation.Evaluate().(*ndarray.DataAndMetadata)
	require.True(t, ok)
	assert.Equal(t, []float64{2, 3, 4}, result.Data.Data)
	assert.False(t, computation.NeedsUpdate)
}

func TestComputationValueVariable(t *testing.T) {
	context := newResolverContext()
	computation := NewComputation()
	gain := computation.CreateVariable("gain", "real", 2.0)
	computation.ParseExpression(context, "gain * 4", nil)
	require.Empty(t, computation.ErrorText())

	assert.EqualValues(t, 8.0, computation.Evaluate())
	assert.False(t, computation.NeedsUpdate)

	gain.SetValue(5)
	assert.True(t, computation.NeedsUpdate, "value change marks the computation dirty")
	assert.EqualValues(t, 20.0, computation.Evaluate())
}

func TestComputationBoundChangeMarksNeedsUpdate(t *testing.T) {
	context := newResolverContext()
	specifier := context.add(testArray(1, 2))

	computation := NewComputation()
	computation.CreateObject("a", specifier)
	computation.ParseExpression(context, "-a", nil)
	computation.Evaluate()
	require.False(t, computation.NeedsUpdate)

	fired := 0
	listener := computation.NeedsUpdateEvent.Listen(func(struct{}) { fired++ })
	defer listener.Close()

	id, _ := specifier["uuid"].(string)
	persistence.FireSignal(context.signals[id])
	assert.True(t, computation.NeedsUpdate)
	assert.Equal(t, 1, fired)
}

func TestComputationParseErrorSetsErrorText(t *testing.T) {
	context := newResolverContext()
	specifier := context.add(testArray(1, 2))

	computation := NewComputation()
	computation.CreateObject("a", specifier)
	computation.ParseExpression(context, "a +", nil)
	assert.NotEmpty(t, computation.ErrorText())

	computation.ParseExpression(context, "a", nil)
	assert.Empty(t, computation.ErrorText())
	assert.NotNil(t, computation.DataNodeForTest())
}

func TestComputationSpecifierRetarget(t *testing.T) {
	context := newResolverContext()
	first := context.add(testArray(1, 1))
	second := context.add(testArray(9, 9))

	computation := NewComputation()
	variable := computation.CreateObject("a", first)
	computation.ParseExpression(context, "a", nil)
	result := computation.Evaluate().(*ndarray.DataAndMetadata)
	assert.Equal(t, []float64{1, 1}, result.Data.Data)

	variable.SetSpecifier(second)
	assert.True(t, computation.NeedsUpdate)
	result = computation.Evaluate().(*ndarray.DataAndMetadata)
	assert.Equal(t, []float64{9, 9}, result.Data.Data)
}

func TestComputationUnbindClosesBindings(t *testing.T) {
	context := newResolverContext()
	specifier := context.add(testArray(1, 2))

	computation := NewComputation()
	computation.CreateObject("a", specifier)
	computation.ParseExpression(context, "a + 1", nil)
	require.NotNil(t, computation.Evaluate())

	computation.Unbind()
	assert.Greater(t, context.closed, 0)
	assert.Nil(t, computation.Evaluate())
}

func TestComputationPersistRoundTrip(t *testing.T) {
	context := newResolverContext()
	specifier := context.add(testArray(1, 2, 3))

	computation := NewComputation()
	computation.CreateObject("a", specifier)
	computation.SetProcessingID("double")
	computation.ParseExpression(context, "a * 2", nil)
	require.Empty(t, computation.ErrorText())

	restored := NewComputation()
	restored.ReadFromDict(computation.Persistent().WriteToDict())
	assert.Equal(t, "a * 2", restored.OriginalExpression())
	assert.Equal(t, "double", restored.ProcessingID())
	assert.True(t, restored.HasVariable("a"))

	restored.Bind(context)
	result, ok := restored.Evaluate().(*ndarray.DataAndMetadata)
	require.True(t, ok)
	assert.Equal(t, []float64{2, 4, 6}, result.Data.Data)
}

func TestComputationReconstruct(t *testing.T) {
	context := newResolverContext()
	specifier := context.add(testArray(1, 2))

	computation := NewComputation()
	computation.CreateObject("src", specifier)
	computation.ParseExpression(context, "src * 2 + 1", nil)
	assert.Equal(t, "src * 2 + 1", computation.Reconstruct(nil))
}

func TestComputationReconstructEmitsUUIDPrologue(t *testing.T) {
	context := newResolverContext()
	specifier := context.add(testArray(3, 4))
	variableMap := map[string]map[string]any{"a": specifier}

	computation := NewComputation()
	computation.ParseExpression(context, "a + 1", variableMap)
	require.Empty(t, computation.ErrorText())
	original := computation.Evaluate().(*ndarray.DataAndMetadata)

	// reconstructing without the name map falls back to by-uuid references
	text := computation.Reconstruct(nil)
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "data_by_uuid(uuid.UUID('")
	assert.Contains(t, lines[0], specifier["uuid"])

	reparsed := NewComputation()
	reparsed.ParseExpression(context, text, nil)
	require.Empty(t, reparsed.ErrorText())
	result := reparsed.Evaluate().(*ndarray.DataAndMetadata)
	assert.Equal(t, original.Data.Data, result.Data.Data)
}

func TestComputationVariableEvents(t *testing.T) {
	computation := NewComputation()
	var inserted, removed []VariableEvent
	insertListener := computation.VariableInserted.Listen(func(e VariableEvent) { inserted = append(inserted, e) })
	defer insertListener.Close()
	removeListener := computation.VariableRemoved.Listen(func(e VariableEvent) { removed = append(removed, e) })
	defer removeListener.Close()

	first := computation.CreateVariable("a", "real", 1.0)
	second := computation.CreateVariable("b", "real", 2.0)
	require.Len(t, inserted, 2)
	assert.Equal(t, 0, inserted[0].Index)
	assert.Equal(t, 1, inserted[1].Index)

	computation.RemoveVariable(first)
	require.Len(t, removed, 1)
	assert.Equal(t, 0, removed[0].Index)
	assert.Same(t, second, computation.Variables()[0])
}

func TestVariableTypeSwitching(t *testing.T) {
	variable := NewComputationVariable()
	fired := 0
	listener := variable.VariableTypeChanged.Listen(func(struct{}) { fired++ })
	defer listener.Close()

	variable.SetVariableType("integral")
	assert.Equal(t, "integral", variable.ValueType())
	assert.Equal(t, "slider", variable.ControlType())
	assert.Equal(t, 0, variable.ValueDefault())

	variable.SetVariableType("data_item")
	assert.Equal(t, "", variable.ValueType())
	require.NotNil(t, variable.Specifier())
	assert.Equal(t, "data_item", variable.Specifier()["type"])
	assert.Equal(t, 2, fired)

	// switching to the current type is a no-op
	variable.SetVariableType("data_item")
	assert.Equal(t, 2, fired)
}

func TestBeginEndEvaluate(t *testing.T) {
	computation := NewComputation()
	require.True(t, computation.BeginEvaluate())
	assert.False(t, computation.BeginEvaluate())
	computation.EndEvaluate()
	assert.True(t, computation.BeginEvaluate())
	computation.EndEvaluate()
}
