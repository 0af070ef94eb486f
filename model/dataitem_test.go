package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeno/docmodel/migration"
	"github.com/lumeno/docmodel/ndarray"
	"github.com/lumeno/docmodel/symbolic"
)

func TestDataItemDescriptionAccessors(t *testing.T) {
	item := NewDataItem()
	item.SetTitle("survey")
	item.SetCaption("low mag")
	item.SetRating(3)
	item.SetFlag(-1)
	assert.Equal(t, "survey", item.Title())
	assert.Equal(t, "low mag", item.Caption())
	assert.Equal(t, 3, item.Rating())
	assert.Equal(t, -1, item.Flag())
}

func TestDataItemWriteStampsVersion(t *testing.T) {
	item := NewDataItem()
	d := item.WriteToDict()
	assert.Equal(t, migration.WriterVersion, d["version"])
	assert.Equal(t, item.UUID().String(), d["uuid"])
}

func TestDataItemRoundTrip(t *testing.T) {
	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	item.SetTitle("survey")
	source := item.MaybeDataSource()
	source.SetIntensityCalibration(ndarray.Calibration{Offset: 1, Scale: 2, Units: "nm"})
	display := firstDisplay(source)
	display.AddGraphic(NewGraphic(GraphicTypeRect))

	restored := NewDataItem()
	restored.ReadFromDict(deepCopyDict(item.WriteToDict()))
	assert.Equal(t, item.UUID(), restored.UUID())
	assert.Equal(t, "survey", restored.Title())
	restoredSource := restored.MaybeDataSource()
	require.NotNil(t, restoredSource)
	assert.Equal(t, []int{2, 2}, restoredSource.DataShape())
	assert.Equal(t, ndarray.Calibration{Offset: 1, Scale: 2, Units: "nm"}, restoredSource.IntensityCalibration())
	require.Len(t, restoredSource.Displays(), 1)
	assert.Len(t, restoredSource.Displays()[0].Graphics(), 1)
}

func TestDataItemCloneAndMerge(t *testing.T) {
	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	clone := item.Clone()
	assert.Equal(t, item.UUID(), clone.UUID())

	clone.MaybeDataSource().SetData(newTestArray(5, 6, 7, 8))
	item.MergeFromClone(clone)
	assert.Equal(t, []float64{5, 6, 7, 8}, item.MaybeDataSource().Data().Data)
}

func TestMergeFromCloneSkipsStaleClone(t *testing.T) {
	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	clone := item.Clone()
	// the item changes after the clone was taken; the clone must not win
	item.MaybeDataSource().SetData(newTestArray(9, 9, 9, 9))
	item.MergeFromClone(clone)
	assert.Equal(t, []float64{9, 9, 9, 9}, item.MaybeDataSource().Data().Data)
}

func TestSnapshotGetsFreshIdentities(t *testing.T) {
	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	firstDisplay(item.MaybeDataSource()).AddGraphic(NewGraphic(GraphicTypeRect))
	snapshot := item.Snapshot()
	assert.NotEqual(t, item.UUID(), snapshot.UUID())
	assert.NotEqual(t, item.MaybeDataSource().object.UUID(), snapshot.MaybeDataSource().object.UUID())
	assert.Equal(t, []float64{1, 2, 3, 4}, snapshot.MaybeDataSource().Data().Data)
}

func TestDataSourceComputationListener(t *testing.T) {
	item := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	var events []ComputationEvent
	item.ComputationChangedOrMutated.Listen(func(e ComputationEvent) { events = append(events, e) })

	source := item.MaybeDataSource()
	computation := symbolic.NewComputation()
	source.SetComputation(computation)
	require.NotEmpty(t, events)
	assert.Same(t, computation, events[len(events)-1].Computation)

	events = nil
	source.SetComputation(nil)
	require.NotEmpty(t, events)
	assert.Nil(t, events[len(events)-1].Computation)
}

func TestDataItemChangedRelaysSourceChanges(t *testing.T) {
	item := NewDataItemWithData(ndarray.New([]int{2, 2}, ndarray.Float64))
	fired := 0
	item.DataItemChanged.Listen(func(struct{}) { fired++ })
	item.MaybeDataSource().SetData(newTestArray(1, 2, 3, 4))
	assert.Greater(t, fired, 0)
}

func TestDataAndMetadataBundle(t *testing.T) {
	item := NewDataItemWithData(newTestArray(1, 2, 3, 4))
	source := item.MaybeDataSource()
	source.SetIntensityCalibration(ndarray.Calibration{Scale: 2})
	dam := source.DataAndMetadata()
	require.NotNil(t, dam)
	assert.Equal(t, []int{2, 2}, dam.Shape())
	assert.Equal(t, 2.0, dam.IntensityCalibration.Scale)
}
