package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeno/docmodel/ndarray"
	"github.com/lumeno/docmodel/persistence"
	"github.com/lumeno/docmodel/storage"
	"github.com/lumeno/docmodel/symbolic"
)

func newTestDocument(t *testing.T, systems ...storage.System) *DocumentModel {
	t.Helper()
	documentModel, err := NewDocumentModel(Config{Systems: systems})
	require.NoError(t, err)
	t.Cleanup(documentModel.Close)
	return documentModel
}

func newTestArray(values ...float64) *ndarray.NDArray {
	a := ndarray.New([]int{2, 2}, ndarray.Float64)
	copy(a.Data, values)
	return a
}

// attachComputation wires an expression over named sources to the item, the
// way the operations menu does it: objects first, parse, then set last.
func attachComputation(documentModel *DocumentModel, target *DataItem, expression string, sources map[string]*DataItem) *symbolic.Computation {
	computation := symbolic.NewComputation()
	for name, source := range sources {
		computation.CreateObject(name, documentModel.ObjectSpecifier(source))
	}
	computation.ParseExpression(documentModel, expression, nil)
	target.MaybeDataSource().SetComputation(computation)
	return computation
}

func TestInsertAndRemoveDataItem(t *testing.T) {
	memory := storage.NewMemorySystem()
	documentModel := newTestDocument(t, memory)

	var inserted, removed []DataItemEvent
	documentModel.DataItemInserted.Listen(func(e DataItemEvent) { inserted = append(inserted, e) })
	documentModel.DataItemRemoved.Listen(func(e DataItemEvent) { removed = append(removed, e) })

	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	item.SetTitle("first")
	documentModel.AppendDataItem(item)

	assert.Equal(t, 1, documentModel.DataItemCount())
	require.Len(t, inserted, 1)
	assert.Equal(t, 0, inserted[0].Index)
	handlers, err := memory.FindDataItems()
	require.NoError(t, err)
	assert.Len(t, handlers, 1)

	documentModel.RemoveDataItem(item)
	assert.Equal(t, 0, documentModel.DataItemCount())
	require.Len(t, removed, 1)
	assert.Equal(t, 0, removed[0].Index)
	handlers, err = memory.FindDataItems()
	require.NoError(t, err)
	assert.Len(t, handlers, 0)
}

func TestInsertDataItemTwicePanics(t *testing.T) {
	documentModel := newTestDocument(t)
	item := NewDataItem()
	documentModel.AppendDataItem(item)
	assert.Panics(t, func() { documentModel.AppendDataItem(item) })
}

func TestComputationProducesData(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	source := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(source)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	documentModel.AppendDataItem(target)

	computation := attachComputation(documentModel, target, "-a", map[string]*DataItem{"a": source})
	documentModel.RecomputeAll()

	data := target.MaybeDataSource().Data()
	require.NotNil(t, data)
	assert.Equal(t, []float64{-1, -2, -3, -4}, data.Data)

	computation.ParseExpression(documentModel, "-a + 1", nil)
	documentModel.RecomputeAll()
	data = target.MaybeDataSource().Data()
	require.NotNil(t, data)
	assert.Equal(t, []float64{0, -1, -2, -3}, data.Data)
}

func TestComputationTracksDependencies(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	source := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(source)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	documentModel.AppendDataItem(target)
	attachComputation(documentModel, target, "-a", map[string]*DataItem{"a": source})

	assert.Equal(t, []*DataItem{source}, documentModel.SourceDataItems(target))
	assert.Equal(t, []*DataItem{target}, documentModel.DependentDataItems(source))

	target.MaybeDataSource().SetComputation(nil)
	assert.Empty(t, documentModel.SourceDataItems(target))
	assert.Empty(t, documentModel.DependentDataItems(source))
}

func TestRemoveSourceCascadesToDependent(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	source := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(source)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	documentModel.AppendDataItem(target)
	attachComputation(documentModel, target, "-a", map[string]*DataItem{"a": source})

	documentModel.RemoveDataItem(source)
	assert.Equal(t, 0, documentModel.DataItemCount())
}

func TestRemoveOneOfTwoSourcesKeepsDependent(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	source1 := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	source2 := NewDataItemWithData(newTestArray(5, 6, 7, 8))
	documentModel.AppendDataItem(source1)
	documentModel.AppendDataItem(source2)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	documentModel.AppendDataItem(target)
	attachComputation(documentModel, target, "a + b", map[string]*DataItem{"a": source1, "b": source2})

	documentModel.RemoveDataItem(source1)
	assert.Equal(t, 2, documentModel.DataItemCount())
	assert.NotNil(t, documentModel.DataItemByUUID(target.UUID()))
}

func TestTransactionPropagatesToDependents(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	source := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(source)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	documentModel.AppendDataItem(target)
	attachComputation(documentModel, target, "-a", map[string]*DataItem{"a": source})

	documentModel.BeginTransaction(source)
	assert.True(t, source.InTransactionState())
	assert.True(t, target.InTransactionState())
	documentModel.EndTransaction(source)
	assert.False(t, source.InTransactionState())
	assert.False(t, target.InTransactionState())
}

func TestLivePropagatesToDependents(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	source := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(source)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	documentModel.AppendDataItem(target)
	attachComputation(documentModel, target, "-a", map[string]*DataItem{"a": source})

	documentModel.BeginLive(source)
	documentModel.BeginLive(source)
	assert.True(t, target.IsLive())
	documentModel.EndLive(source)
	assert.True(t, target.IsLive())
	documentModel.EndLive(source)
	assert.False(t, target.IsLive())
}

func TestComputationQueueCoalesces(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	source := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(source)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	documentModel.AppendDataItem(target)
	computation := attachComputation(documentModel, target, "-a", map[string]*DataItem{"a": source})

	for i := 0; i < 5; i++ {
		persistence.FireSignal(&computation.NeedsUpdateEvent)
	}
	documentModel.queueMu.Lock()
	pending := len(documentModel.pendingQueue)
	documentModel.queueMu.Unlock()
	assert.Equal(t, 1, pending)
}

func TestRemoveTargetInvalidatesPending(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	source := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(source)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	documentModel.AppendDataItem(target)
	attachComputation(documentModel, target, "-a", map[string]*DataItem{"a": source})

	documentModel.RemoveDataItem(target)
	assert.NotPanics(t, documentModel.RecomputeAll)
}

func TestComputationErrorText(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	source := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(source)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	documentModel.AppendDataItem(target)
	computation := attachComputation(documentModel, target, "a +", map[string]*DataItem{"a": source})
	assert.NotEmpty(t, computation.ErrorText())
	documentModel.RecomputeAll()
}

func TestSourceChangeTriggersRecompute(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	source := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(source)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	documentModel.AppendDataItem(target)
	attachComputation(documentModel, target, "-a", map[string]*DataItem{"a": source})
	documentModel.RecomputeAll()

	source.MaybeDataSource().SetData(newTestArray(10, 20, 30, 40))
	documentModel.RecomputeAll()
	data := target.MaybeDataSource().Data()
	require.NotNil(t, data)
	assert.Equal(t, []float64{-10, -20, -30, -40}, data.Data)
}

func TestDataItemReference(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(item)

	key := MakeDataItemReferenceKey("scan", "", "a")
	assert.Equal(t, "scan_a", key)

	changed := 0
	reference := documentModel.DataItemReferenceFor(key)
	reference.DataItemChanged.Listen(func(struct{}) { changed++ })
	documentModel.SetupChannel(key, item)
	assert.Same(t, item, reference.DataItem())
	assert.Equal(t, 1, changed)

	documentModel.RemoveDataItem(item)
	assert.Nil(t, reference.DataItem())
}

func TestQueueDataItemUpdates(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(item)

	requested := 0
	documentModel.PerformDataItemUpdatesRequested.Listen(func(struct{}) { requested++ })
	dam := ndarray.NewDataAndMetadata(newTestArray(9, 9, 9, 9), ndarray.Calibration{}, nil, nil)
	documentModel.QueueDataItemUpdate(item, dam, nil)
	assert.Equal(t, 1, requested)

	documentModel.PerformDataItemUpdates()
	assert.Equal(t, []float64{9, 9, 9, 9}, item.MaybeDataSource().Data().Data)
}

func TestDataGroups(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(item)

	group := documentModel.GetOrCreateDataGroup("scans")
	group.AppendDataItem(item)
	assert.True(t, group.ContainsDataItem(item))
	assert.Same(t, group, documentModel.GetOrCreateDataGroup("scans"))

	documentModel.RemoveDataItem(item)
	assert.False(t, group.ContainsDataItem(item))
}

func TestSessionMetadata(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	assert.NotEmpty(t, documentModel.SessionID())
	documentModel.SetSessionField("microscopist", "M. Curie")
	assert.Equal(t, "M. Curie", documentModel.SessionField("microscopist"))
}

func TestReadBackRoundTrip(t *testing.T) {
	memory := storage.NewMemorySystem()
	first, err := NewDocumentModel(Config{Systems: []storage.System{memory}})
	require.NoError(t, err)
	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	item.SetTitle("survey")
	first.AppendDataItem(item)
	itemUUID := item.UUID()
	first.Close()

	second := newTestDocument(t, memory)
	require.Equal(t, 1, second.DataItemCount())
	read := second.DataItemByUUID(itemUUID)
	require.NotNil(t, read)
	assert.Equal(t, "survey", read.Title())
	data := read.MaybeDataSource().Data()
	require.NotNil(t, data)
	assert.Equal(t, []float64{1, 2, 3, 4}, data.Data)
}

func TestReadBackRebindsComputation(t *testing.T) {
	memory := storage.NewMemorySystem()
	first, err := NewDocumentModel(Config{Systems: []storage.System{memory}})
	require.NoError(t, err)
	source := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	first.AppendDataItem(source)
	target := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	first.AppendDataItem(target)
	attachComputation(first, target, "-a", map[string]*DataItem{"a": source})
	first.RecomputeAll()
	first.Close()

	second := newTestDocument(t, memory)
	readTarget := second.DataItemByUUID(target.UUID())
	require.NotNil(t, readTarget)
	readSource := second.DataItemByUUID(source.UUID())
	require.NotNil(t, readSource)
	assert.Equal(t, []*DataItem{readSource}, second.SourceDataItems(readTarget))

	readSource.MaybeDataSource().SetData(newTestArray(2, 4, 6, 8))
	second.RecomputeAll()
	data := readTarget.MaybeDataSource().Data()
	require.NotNil(t, data)
	assert.Equal(t, []float64{-2, -4, -6, -8}, data.Data)
}

func TestResolveObjectSpecifier(t *testing.T) {
	documentModel := newTestDocument(t, storage.NewMemorySystem())
	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	documentModel.AppendDataItem(item)
	graphic := NewGraphic(GraphicTypeRect)
	firstDisplay(item.MaybeDataSource()).AddGraphic(graphic)

	tests := []struct {
		description string
		specifier   map[string]any
		resolved    bool
	}{
		{"data item by uuid", documentModel.ObjectSpecifier(item), true},
		{"region by uuid", documentModel.ObjectSpecifier(graphic), true},
		{"unknown uuid", map[string]any{"version": 1, "type": "data_item", "uuid": "8b8c53b4-4c72-4b5e-89ac-fd0a0a2b4c00"}, false},
		{"wrong version", map[string]any{"version": 2, "type": "data_item", "uuid": item.UUID().String()}, false},
	}
	for _, tc := range tests {
		bound := documentModel.ResolveObjectSpecifier(tc.specifier, "")
		if tc.resolved {
			if assert.NotNil(t, bound, tc.description) {
				bound.Close()
			}
		} else {
			assert.Nil(t, bound, tc.description)
		}
	}
}
