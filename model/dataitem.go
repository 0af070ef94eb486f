package model

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/lumeno/docmodel/migration"
	"github.com/lumeno/docmodel/ndarray"
	"github.com/lumeno/docmodel/persistence"
	"github.com/lumeno/docmodel/storage"
	"github.com/lumeno/docmodel/symbolic"
)

// ComputationEvent describes a computation being set, cleared, or mutated on
// a data source.
type ComputationEvent struct {
	DataItem    *DataItem
	DataSource  *BufferedDataSource
	Computation *symbolic.Computation
}

// BufferedDataSource holds one array (shape, dtype, calibrations, metadata),
// its displays, and an optional computation producing the array. The array
// itself loads lazily from storage and can be unloaded again.
type BufferedDataSource struct {
	object *persistence.Object

	// DataAndMetadataChanged fires after the array or its calibrations
	// change.
	DataAndMetadataChanged persistence.Signal

	dataItem *DataItem

	dataMu       sync.Mutex
	data         *ndarray.NDArray
	dataLoaded   bool
	dataModified time.Time

	computationListener *persistence.Listener[struct{}]
}

func NewBufferedDataSource() *BufferedDataSource {
	s := &BufferedDataSource{}
	s.object = persistence.NewObject(s)
	s.object.DefineType("buffered-data-source")
	s.object.EnableModifiedProperty()
	s.object.DefineProperty("data_shape", nil)
	s.object.DefineProperty("data_dtype", nil)
	s.object.DefineProperty("intensity_calibration", nil)
	s.object.DefineProperty("dimensional_calibrations", nil)
	s.object.DefineProperty("metadata", map[string]any{})
	s.object.DefineProperty("created", nil)
	s.object.DefineProperty("data_modified", nil)
	s.object.DefineRelationship("displays", displayFactory)
	s.object.DefineItem("computation", computationFactory, func(name string, oldValue, newValue persistence.Entity) {
		s.computationItemChanged()
	})
	return s
}

// NewBufferedDataSourceWithData builds a source seeded with an array; a
// default display comes along so graphics have a home.
func NewBufferedDataSourceWithData(data *ndarray.NDArray) *BufferedDataSource {
	s := NewBufferedDataSource()
	s.AddDisplay(NewDisplay())
	if data != nil {
		s.SetData(data)
	}
	return s
}

func (s *BufferedDataSource) Persistent() *persistence.Object { return s.object }

func computationFactory(typeName string) persistence.Entity {
	if typeName == "computation" {
		return symbolic.NewComputation()
	}
	return nil
}

func (s *BufferedDataSource) DataShape() []int {
	list, ok := s.object.PropertyValue("data_shape").([]any)
	if !ok {
		return nil
	}
	shape := make([]int, 0, len(list))
	for _, v := range list {
		f, ok := toFloat(v)
		if !ok {
			return nil
		}
		shape = append(shape, int(f))
	}
	return shape
}

func (s *BufferedDataSource) DataDType() ndarray.DType {
	name, _ := s.object.PropertyValue("data_dtype").(string)
	return ndarray.ParseDType(name)
}

func (s *BufferedDataSource) IntensityCalibration() ndarray.Calibration {
	d, _ := s.object.PropertyValue("intensity_calibration").(map[string]any)
	return ndarray.CalibrationFromDict(d)
}

func (s *BufferedDataSource) SetIntensityCalibration(c ndarray.Calibration) {
	s.object.SetPropertyValue("intensity_calibration", c.ToDict())
	persistence.FireSignal(&s.DataAndMetadataChanged)
}

func (s *BufferedDataSource) DimensionalCalibrations() []ndarray.Calibration {
	list, _ := s.object.PropertyValue("dimensional_calibrations").([]any)
	calibrations := make([]ndarray.Calibration, 0, len(list))
	for _, v := range list {
		d, _ := v.(map[string]any)
		calibrations = append(calibrations, ndarray.CalibrationFromDict(d))
	}
	return calibrations
}

func (s *BufferedDataSource) SetDimensionalCalibrations(calibrations []ndarray.Calibration) {
	list := make([]any, 0, len(calibrations))
	for _, c := range calibrations {
		list = append(list, c.ToDict())
	}
	s.object.SetPropertyValue("dimensional_calibrations", list)
	persistence.FireSignal(&s.DataAndMetadataChanged)
}

func (s *BufferedDataSource) Metadata() map[string]any {
	d, _ := s.object.PropertyValue("metadata").(map[string]any)
	return d
}

func (s *BufferedDataSource) SetMetadata(metadata map[string]any) {
	s.object.SetPropertyValue("metadata", metadata)
}

func (s *BufferedDataSource) Displays() []*Display {
	entities := s.object.Items("displays")
	displays := make([]*Display, 0, len(entities))
	for _, e := range entities {
		if d, ok := e.(*Display); ok {
			displays = append(displays, d)
		}
	}
	return displays
}

func (s *BufferedDataSource) AddDisplay(display *Display) {
	s.object.AppendItemToRelationship("displays", display)
}

func (s *BufferedDataSource) RemoveDisplay(display *Display) {
	display.Close()
	s.object.RemoveItemFromRelationship("displays", display)
}

func (s *BufferedDataSource) Computation() *symbolic.Computation {
	c, _ := s.object.Item("computation").(*symbolic.Computation)
	return c
}

// SetComputation installs or clears the computation producing this source's
// data. The owning data item relays the change to the document model.
func (s *BufferedDataSource) SetComputation(computation *symbolic.Computation) {
	if computation == nil {
		s.object.SetItem("computation", nil)
		return
	}
	s.object.SetItem("computation", computation)
}

func (s *BufferedDataSource) computationItemChanged() {
	if s.computationListener != nil {
		s.computationListener.Close()
		s.computationListener = nil
	}
	computation := s.Computation()
	if computation != nil {
		s.computationListener = computation.MutatedEvent.Listen(func(struct{}) {
			if s.dataItem != nil {
				s.dataItem.notifyComputationChangedOrMutated(s)
			}
		})
	}
	if s.dataItem != nil {
		s.dataItem.notifyComputationChangedOrMutated(s)
	}
}

// DataModified is the timestamp of the last array write, zero when the array
// has never been written.
func (s *BufferedDataSource) DataModified() time.Time {
	if str, ok := s.object.PropertyValue("data_modified").(string); ok {
		return persistence.ParseTime(str)
	}
	return s.dataModified
}

// Data loads the array on first access and caches it until Unload.
func (s *BufferedDataSource) Data() *ndarray.NDArray {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if !s.dataLoaded && s.dataItem != nil {
		if itemStorage := s.dataItem.itemStorage(); itemStorage != nil {
			data, err := itemStorage.LoadData()
			if err != nil {
				glog.Errorf("load data %s: %v", s.object.UUID(), err)
			} else {
				s.data = data
				s.dataLoaded = true
			}
		}
	}
	return s.data
}

// SetData replaces the array, updating shape/dtype mirrors and writing
// through to storage unless write-delayed.
func (s *BufferedDataSource) SetData(data *ndarray.NDArray) {
	s.dataMu.Lock()
	s.data = data
	s.dataLoaded = true
	now := time.Now().UTC()
	s.dataModified = now
	s.dataMu.Unlock()
	if data != nil {
		shape := make([]any, len(data.Shape))
		for i, n := range data.Shape {
			shape[i] = n
		}
		s.object.SetPropertyValue("data_shape", shape)
		s.object.SetPropertyValue("data_dtype", string(data.DType))
	} else {
		s.object.SetPropertyValue("data_shape", nil)
		s.object.SetPropertyValue("data_dtype", nil)
	}
	s.object.SetPropertyValue("data_modified", persistence.FormatTime(now))
	if s.dataItem != nil {
		if itemStorage := s.dataItem.itemStorage(); itemStorage != nil {
			itemStorage.WriteData(data)
		}
	}
	persistence.FireSignal(&s.DataAndMetadataChanged)
}

// SetDataAndMetadata applies an evaluated result: array plus calibrations
// plus metadata in a single change.
func (s *BufferedDataSource) SetDataAndMetadata(dam *ndarray.DataAndMetadata) {
	if dam == nil {
		return
	}
	s.SetData(dam.Data)
	s.SetIntensityCalibration(dam.IntensityCalibration)
	s.SetDimensionalCalibrations(dam.DimensionalCalibrations)
	if dam.Metadata != nil {
		s.SetMetadata(dam.Metadata)
	}
}

// DataAndMetadata bundles the current array with its calibrations.
func (s *BufferedDataSource) DataAndMetadata() *ndarray.DataAndMetadata {
	data := s.Data()
	if data == nil {
		return nil
	}
	return ndarray.NewDataAndMetadata(data, s.IntensityCalibration(), s.DimensionalCalibrations(), s.Metadata())
}

// Unload drops the cached array; the next Data call reloads from storage.
func (s *BufferedDataSource) Unload() {
	s.dataMu.Lock()
	s.data = nil
	s.dataLoaded = false
	s.dataMu.Unlock()
}

func (s *BufferedDataSource) ReadFromDict(dict map[string]any) {
	s.object.ReadFromDict(dict)
	s.computationItemChanged()
}

func (s *BufferedDataSource) Close() {
	if s.computationListener != nil {
		s.computationListener.Close()
		s.computationListener = nil
	}
	for _, display := range s.Displays() {
		display.Close()
	}
}

func bufferedDataSourceFactory(typeName string) persistence.Entity {
	if typeName == "buffered-data-source" {
		return NewBufferedDataSource()
	}
	return nil
}

// DataItem is the top-level persisted record: description metadata, session
// id, connections, and its buffered data sources.
type DataItem struct {
	object *persistence.Object

	// DataItemChanged fires after any property of the item or its sources
	// changes.
	DataItemChanged persistence.Signal
	// ComputationChangedOrMutated fires when a source's computation is
	// set, cleared, or structurally changed.
	ComputationChangedOrMutated persistence.Event[ComputationEvent]
	// RequestRemoveRegion asks the document model to remove the graphic
	// named by a region specifier, typically during cascade deletes.
	RequestRemoveRegion persistence.Event[map[string]any]
	// DataSourceInserted / DataSourceRemoved track the data_sources
	// relationship for set bookkeeping in the document model.
	DataSourceInserted persistence.Event[*BufferedDataSource]
	DataSourceRemoved  persistence.Event[*BufferedDataSource]

	inTransactionState bool
	isLive             bool
	aboutToBeRemoved   bool

	sourceListeners map[*BufferedDataSource]*persistence.Listener[struct{}]
}

func NewDataItem() *DataItem {
	item := &DataItem{sourceListeners: map[*BufferedDataSource]*persistence.Listener[struct{}]{}}
	item.object = persistence.NewObject(item)
	item.object.DefineType("data-item")
	item.object.EnableModifiedProperty()
	changed := func(string, any) {
		persistence.FireSignal(&item.DataItemChanged)
	}
	item.object.DefineProperty("created", persistence.FormatTime(time.Now().UTC()))
	item.object.DefineProperty("metadata", map[string]any{}).WithChanged(changed)
	item.object.DefineProperty("session_id", nil).WithChanged(changed)
	item.object.DefineProperty("category", "persistent").WithChanged(changed)
	item.object.DefineRelationship("data_sources", bufferedDataSourceFactory)
	item.object.DefineRelationship("connections", connectionFactory)
	return item
}

// NewDataItemWithData builds an item holding one data source around the
// given array.
func NewDataItemWithData(data *ndarray.NDArray) *DataItem {
	item := NewDataItem()
	item.AppendDataSource(NewBufferedDataSourceWithData(data))
	return item
}

func (item *DataItem) Persistent() *persistence.Object { return item.object }

func (item *DataItem) UUID() uuid.UUID { return item.object.UUID() }

func (item *DataItem) Created() time.Time {
	if s, ok := item.object.PropertyValue("created").(string); ok {
		return persistence.ParseTime(s)
	}
	return time.Time{}
}

func (item *DataItem) Modified() time.Time { return item.object.Modified() }

func (item *DataItem) SessionID() string {
	s, _ := item.object.PropertyValue("session_id").(string)
	return s
}

func (item *DataItem) SetSessionID(sessionID string) {
	item.object.SetPropertyValue("session_id", sessionID)
}

func (item *DataItem) Category() string {
	s, _ := item.object.PropertyValue("category").(string)
	return s
}

func (item *DataItem) SetCategory(category string) {
	item.object.SetPropertyValue("category", category)
}

func (item *DataItem) descriptionValue(key string) any {
	metadata, _ := item.object.PropertyValue("metadata").(map[string]any)
	description, _ := metadata["description"].(map[string]any)
	return description[key]
}

func (item *DataItem) setDescriptionValue(key string, value any) {
	metadata, _ := item.object.PropertyValue("metadata").(map[string]any)
	if metadata == nil {
		metadata = map[string]any{}
	}
	description, _ := metadata["description"].(map[string]any)
	if description == nil {
		description = map[string]any{}
		metadata["description"] = description
	}
	description[key] = value
	item.object.SetPropertyValue("metadata", metadata)
}

func (item *DataItem) Title() string {
	s, _ := item.descriptionValue("title").(string)
	return s
}

func (item *DataItem) SetTitle(title string) { item.setDescriptionValue("title", title) }

func (item *DataItem) Caption() string {
	s, _ := item.descriptionValue("caption").(string)
	return s
}

func (item *DataItem) SetCaption(caption string) { item.setDescriptionValue("caption", caption) }

func (item *DataItem) Rating() int {
	f, _ := toFloat(item.descriptionValue("rating"))
	return int(f)
}

func (item *DataItem) SetRating(rating int) { item.setDescriptionValue("rating", rating) }

func (item *DataItem) Flag() int {
	f, _ := toFloat(item.descriptionValue("flag"))
	return int(f)
}

func (item *DataItem) SetFlag(flag int) { item.setDescriptionValue("flag", flag) }

func (item *DataItem) TimeZone() map[string]any {
	d, _ := item.descriptionValue("time_zone").(map[string]any)
	return d
}

func (item *DataItem) DataSources() []*BufferedDataSource {
	entities := item.object.Items("data_sources")
	sources := make([]*BufferedDataSource, 0, len(entities))
	for _, e := range entities {
		if s, ok := e.(*BufferedDataSource); ok {
			sources = append(sources, s)
		}
	}
	return sources
}

// MaybeDataSource is the single data source or nil; the common case is
// exactly one source per item.
func (item *DataItem) MaybeDataSource() *BufferedDataSource {
	sources := item.DataSources()
	if len(sources) == 1 {
		return sources[0]
	}
	return nil
}

func (item *DataItem) AppendDataSource(source *BufferedDataSource) {
	item.object.AppendItemToRelationship("data_sources", source)
	item.adoptDataSource(source)
	item.DataSourceInserted.Fire(source)
}

func (item *DataItem) RemoveDataSource(source *BufferedDataSource) {
	if listener := item.sourceListeners[source]; listener != nil {
		listener.Close()
		delete(item.sourceListeners, source)
	}
	source.dataItem = nil
	source.Close()
	item.object.RemoveItemFromRelationship("data_sources", source)
	item.DataSourceRemoved.Fire(source)
}

func (item *DataItem) adoptDataSource(source *BufferedDataSource) {
	source.dataItem = item
	item.sourceListeners[source] = source.DataAndMetadataChanged.Listen(func(struct{}) {
		persistence.FireSignal(&item.DataItemChanged)
	})
}

func (item *DataItem) notifyComputationChangedOrMutated(source *BufferedDataSource) {
	item.ComputationChangedOrMutated.Fire(ComputationEvent{
		DataItem:    item,
		DataSource:  source,
		Computation: source.Computation(),
	})
}

func (item *DataItem) Connections() []*Connection {
	entities := item.object.Items("connections")
	connections := make([]*Connection, 0, len(entities))
	for _, e := range entities {
		if c, ok := e.(*Connection); ok {
			connections = append(connections, c)
		}
	}
	return connections
}

func (item *DataItem) AddConnection(connection *Connection) {
	item.object.AppendItemToRelationship("connections", connection)
}

func (item *DataItem) RemoveConnection(connection *Connection) {
	connection.Close()
	item.object.RemoveItemFromRelationship("connections", connection)
}

func (item *DataItem) itemStorage() *storage.ItemStorage {
	ctx := item.object.Context()
	if ctx == nil {
		return nil
	}
	s, _ := ctx.StorageForObject(item).(*storage.ItemStorage)
	return s
}

// WriteToDict adds the writer version to the framework dict.
func (item *DataItem) WriteToDict() map[string]any {
	d := item.object.WriteToDict()
	d["version"] = migration.WriterVersion
	return d
}

func (item *DataItem) ReadFromDict(dict map[string]any) {
	item.object.ReadFromDict(dict)
	for _, source := range item.DataSources() {
		item.adoptDataSource(source)
	}
}

// FinishReading gives sources a chance to settle after the whole library has
// been restored.
func (item *DataItem) FinishReading() {
	item.object.FinishReading()
	for _, source := range item.DataSources() {
		source.object.FinishReading()
	}
}

func (item *DataItem) InTransactionState() bool { return item.inTransactionState }

func (item *DataItem) IsLive() bool { return item.isLive }

// EnterTransactionState delays writes and pins data in memory until the
// matching exit.
func (item *DataItem) EnterTransactionState() {
	item.inTransactionState = true
	if itemStorage := item.itemStorage(); itemStorage != nil {
		itemStorage.SetWriteDelayed(true)
	}
	for _, source := range item.DataSources() {
		source.Data()
	}
}

// ExitTransactionState flushes delayed writes and releases pinned data.
func (item *DataItem) ExitTransactionState() {
	item.inTransactionState = false
	if itemStorage := item.itemStorage(); itemStorage != nil {
		itemStorage.SetWriteDelayed(false)
		for _, source := range item.DataSources() {
			source.dataMu.Lock()
			data := source.data
			loaded := source.dataLoaded
			source.dataMu.Unlock()
			if loaded {
				itemStorage.WriteData(data)
			}
		}
	}
}

func (item *DataItem) EnterLiveState() { item.isLive = true }

func (item *DataItem) ExitLiveState() { item.isLive = false }

func (item *DataItem) AboutToBeRemoved() { item.aboutToBeRemoved = true }

// Clone copies the item, preserving uuids, for isolated computation
// evaluation. The clone shares no mutable state with the original.
func (item *DataItem) Clone() *DataItem {
	clone := NewDataItem()
	clone.ReadFromDict(deepCopyDict(item.WriteToDict()))
	for i, source := range item.DataSources() {
		cloneSources := clone.DataSources()
		if i < len(cloneSources) {
			source.dataMu.Lock()
			if source.dataLoaded && source.data != nil {
				cloneSources[i].data = source.data.Clone()
				cloneSources[i].dataLoaded = true
			}
			source.dataMu.Unlock()
		}
	}
	return clone
}

// Snapshot deep copies the item under fresh identities so the copy can live
// in the same document as the original.
func (item *DataItem) Snapshot() *DataItem {
	snapshot := item.Clone()
	snapshot.object.SetUUID(uuid.New())
	for _, source := range snapshot.DataSources() {
		source.object.SetUUID(uuid.New())
		for _, display := range source.Displays() {
			display.object.SetUUID(uuid.New())
			for _, graphic := range display.Graphics() {
				graphic.object.SetUUID(uuid.New())
			}
		}
	}
	snapshot.object.SetPropertyValue("created", persistence.FormatTime(time.Now().UTC()))
	return snapshot
}

// MergeFromClone copies changed data and metadata back from a clone produced
// by Clone for the same item.
func (item *DataItem) MergeFromClone(clone *DataItem) {
	cloneSources := clone.DataSources()
	for i, source := range item.DataSources() {
		if i >= len(cloneSources) {
			break
		}
		cloneSource := cloneSources[i]
		if cloneSource.DataModified().After(source.DataModified()) {
			source.SetData(cloneSource.data)
			source.SetIntensityCalibration(cloneSource.IntensityCalibration())
			source.SetDimensionalCalibrations(cloneSource.DimensionalCalibrations())
			source.SetMetadata(deepCopyDict(cloneSource.Metadata()))
		}
	}
}

func (item *DataItem) Close() {
	for _, listener := range item.sourceListeners {
		listener.Close()
	}
	item.sourceListeners = map[*BufferedDataSource]*persistence.Listener[struct{}]{}
	for _, source := range item.DataSources() {
		source.Close()
	}
}

func deepCopyDict(d map[string]any) map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch n := v.(type) {
	case map[string]any:
		return deepCopyDict(n)
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = deepCopyValue(item)
		}
		return out
	}
	return v
}
