// Package model is the document layer: data items and their buffered data
// sources, data groups, workspace layouts, and the DocumentModel that ties
// them to storage, tracks dependencies between computed items, and drives
// recomputation.
package model

import (
	"bytes"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/lumeno/docmodel/dispatch"
	"github.com/lumeno/docmodel/ndarray"
	"github.com/lumeno/docmodel/persistence"
	"github.com/lumeno/docmodel/storage"
	"github.com/lumeno/docmodel/symbolic"
)

// DataItemEvent reports an item inserted into or removed from the document,
// with its index at the time of the change.
type DataItemEvent struct {
	DataItem *DataItem
	Index    int
}

// DataSourceSetChange carries the data sources entering and leaving the
// document's buffered data source set.
type DataSourceSetChange struct {
	Added   []*BufferedDataSource
	Removed []*BufferedDataSource
}

// computationQueueItem is one pending or active recompute. Invalidation
// marks it so a finished evaluation is discarded instead of merged.
type computationQueueItem struct {
	dataItem    *DataItem
	dataSource  *BufferedDataSource
	computation *symbolic.Computation
	valid       bool
}

// Config assembles a document model's storage and behavior knobs.
type Config struct {
	LibraryStorage *storage.LibraryStorage
	Systems        []storage.System
	Options        ReadOptions
	// ComputationMinPeriod throttles back-to-back recomputes of the same
	// library; zero disables throttling.
	ComputationMinPeriod time.Duration
}

// DocumentModel manages storage of and dependencies between data items. It
// owns a general dispatch pool and a single-worker computation pool, and it
// implements the computation context used to resolve object specifiers.
type DocumentModel struct {
	object *persistence.Object

	DataItemInserted      persistence.Event[DataItemEvent]
	DataItemRemoved       persistence.Event[DataItemEvent]
	DataItemWillBeRemoved persistence.Event[*DataItem]
	DataItemDeleted       persistence.Event[*DataItem]
	DataSourceSetChanged  persistence.Event[DataSourceSetChange]
	// PerformDataItemUpdatesRequested asks the owning goroutine to call
	// PerformDataItemUpdates.
	PerformDataItemUpdatesRequested persistence.Signal

	context        *persistence.ObjectContext
	libraryStorage *storage.LibraryStorage
	systems        []storage.System
	options        ReadOptions

	threadPool           *dispatch.ThreadPool
	computationPool      *dispatch.ThreadPool
	computationMinPeriod time.Duration

	transactionsMu sync.Mutex
	transactions   map[uuid.UUID]int
	liveMu         sync.Mutex
	liveCounts     map[uuid.UUID]int

	dependenciesMu       sync.Mutex
	dependentDataItems   map[*DataItem][]*DataItem
	sourceDataItems      map[*DataItem][]*DataItem
	computationSourceSet map[*DataItem]map[*DataItem]bool

	dataItems     []*DataItem
	dataSourceSet map[*BufferedDataSource]bool

	computationListeners     map[uuid.UUID]*persistence.Listener[ComputationEvent]
	removeRegionListeners    map[uuid.UUID]*persistence.Listener[map[string]any]
	sourceInsertedListeners  map[uuid.UUID]*persistence.Listener[*BufferedDataSource]
	sourceRemovedListeners   map[uuid.UUID]*persistence.Listener[*BufferedDataSource]
	needsUpdateListeners     map[uuid.UUID]*persistence.Listener[struct{}]

	queueMu      sync.Mutex
	pendingQueue []*computationQueueItem
	activeItems  []*computationQueueItem
	lastEvaluate time.Time

	referencesMu       sync.Mutex
	dataItemReferences map[string]*DataItemReference

	pendingUpdatesMu sync.Mutex
	pendingUpdates   []pendingUpdate
	ownerGoroutine   uint64

	processingDescriptions map[string]ProcessingDescription

	sessionID string
}

type pendingUpdate struct {
	dataItem *DataItem
	dam      *ndarray.DataAndMetadata
	subArea  []int
}

// NewDocumentModel builds the document, reads the library and every data
// item record, and wires up computations. Call Close when done.
func NewDocumentModel(config Config) (*DocumentModel, error) {
	m := &DocumentModel{
		context:                persistence.NewObjectContext(),
		libraryStorage:         config.LibraryStorage,
		systems:                config.Systems,
		options:                config.Options,
		threadPool:             dispatch.NewThreadPool(),
		computationPool:        dispatch.NewThreadPool(),
		computationMinPeriod:   config.ComputationMinPeriod,
		transactions:           map[uuid.UUID]int{},
		liveCounts:             map[uuid.UUID]int{},
		dependentDataItems:     map[*DataItem][]*DataItem{},
		sourceDataItems:        map[*DataItem][]*DataItem{},
		computationSourceSet:   map[*DataItem]map[*DataItem]bool{},
		dataSourceSet:          map[*BufferedDataSource]bool{},
		computationListeners:   map[uuid.UUID]*persistence.Listener[ComputationEvent]{},
		removeRegionListeners:  map[uuid.UUID]*persistence.Listener[map[string]any]{},
		sourceInsertedListeners: map[uuid.UUID]*persistence.Listener[*BufferedDataSource]{},
		sourceRemovedListeners: map[uuid.UUID]*persistence.Listener[*BufferedDataSource]{},
		needsUpdateListeners:   map[uuid.UUID]*persistence.Listener[struct{}]{},
		dataItemReferences:     map[string]*DataItemReference{},
		processingDescriptions: builtinProcessingDescriptions(),
		ownerGoroutine:         goroutineID(),
	}
	m.object = persistence.NewObject(m)
	m.object.DefineType("library")
	m.object.DefineProperty("session_metadata", map[string]any{})
	m.object.DefineProperty("workspace_uuid", nil).WithConverter(persistence.UUIDToStringConverter{})
	m.object.DefineProperty("data_item_references", map[string]any{}).Hidden()
	m.object.DefineRelationship("data_groups", DataGroupFactory)
	m.object.DefineRelationship("workspaces", WorkspaceLayoutFactory)
	m.StartNewSession()
	if err := m.read(); err != nil {
		return nil, err
	}
	if m.libraryStorage != nil {
		m.libraryStorage.SetRootProperty("uuid", m.object.UUID().String())
		m.libraryStorage.SetRootProperty("version", 0)
	}
	return m, nil
}

func (m *DocumentModel) Persistent() *persistence.Object { return m.object }

func (m *DocumentModel) read() error {
	if m.libraryStorage != nil {
		m.object.BeginReading()
		m.object.ReadFromDict(m.libraryStorage.Properties())
		m.object.FinishReading()
		m.libraryStorage.SetRoot(m)
		m.context.SetStorageForObject(m, m.libraryStorage)
		m.object.SetContext(m.context)
	}
	m.finishRead(readDataItems(m.systems, m.options))
	return nil
}

func (m *DocumentModel) finishRead(records []*itemRecord) {
	items := make([]*DataItem, 0, len(records))
	for i, record := range records {
		item := record.item
		items = append(items, item)
		m.dataItems = insertAt(m.dataItems, i, item)
		m.context.SetStorageForObject(item, record.itemStorage)
		item.object.SetContext(m.context)
		m.watchDataItem(item)
		m.addToDataSourceSet(item.DataSources())
	}
	for _, item := range items {
		item.FinishReading()
	}
	for _, item := range items {
		if source := item.MaybeDataSource(); source != nil {
			m.handleComputationChangedOrMutated(item, source.Computation())
		}
	}
	for _, item := range items {
		for _, source := range item.DataSources() {
			if computation := source.Computation(); computation != nil {
				m.UpdateComputation(computation)
				computation.Bind(m)
			}
			m.computationChanged(item, source, source.Computation())
		}
		m.connectItemConnections(item)
	}
	referencesDict, _ := m.object.PropertyValue("data_item_references").(map[string]any)
	for key, value := range referencesDict {
		uuidStr, _ := value.(string)
		itemUUID, err := uuid.Parse(uuidStr)
		if err != nil {
			continue
		}
		if item := m.DataItemByUUID(itemUUID); item != nil {
			m.referencesMu.Lock()
			if _, ok := m.dataItemReferences[key]; !ok {
				m.dataItemReferences[key] = newDataItemReference(m, key, item)
			}
			m.referencesMu.Unlock()
		}
	}
	for _, group := range m.DataGroups() {
		group.ConnectDataItems(m.DataItemByUUID)
	}
}

// connectItemConnections rebinds persisted connections to their live display
// and graphic endpoints.
func (m *DocumentModel) connectItemConnections(item *DataItem) {
	for _, connection := range item.Connections() {
		var source *Display
		var destination *Graphic
		sourceUUID := connection.SourceUUID()
		destinationUUID := connection.DestinationUUID()
		for _, candidate := range m.dataItems {
			for _, dataSource := range candidate.DataSources() {
				for _, display := range dataSource.Displays() {
					if display.object.UUID() == sourceUUID {
						source = display
					}
					for _, graphic := range display.Graphics() {
						if graphic.object.UUID() == destinationUUID {
							destination = graphic
						}
					}
				}
			}
		}
		if source != nil && destination != nil {
			connection.Connect(source, destination)
		}
	}
}

// Close stops computations and pools, then tears down every item.
func (m *DocumentModel) Close() {
	m.queueMu.Lock()
	m.pendingQueue = nil
	for _, queueItem := range m.activeItems {
		queueItem.valid = false
	}
	m.activeItems = nil
	m.queueMu.Unlock()
	m.threadPool.Close()
	m.computationPool.Close()
	for _, item := range m.dataItems {
		for _, reference := range m.snapshotReferences() {
			reference.dataItemRemoved(item)
		}
	}
	for _, item := range m.dataItems {
		item.AboutToBeRemoved()
		item.Close()
	}
}

func (m *DocumentModel) snapshotReferences() []*DataItemReference {
	m.referencesMu.Lock()
	defer m.referencesMu.Unlock()
	references := make([]*DataItemReference, 0, len(m.dataItemReferences))
	for _, reference := range m.dataItemReferences {
		references = append(references, reference)
	}
	return references
}

// StartNewSession assigns a fresh time-sortable session id.
func (m *DocumentModel) StartNewSession() {
	m.sessionID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.New(rand.NewSource(time.Now().UnixNano()))).String()
}

func (m *DocumentModel) SessionID() string { return m.sessionID }

func (m *DocumentModel) SessionMetadata() map[string]any {
	d, _ := m.object.PropertyValue("session_metadata").(map[string]any)
	return deepCopyDict(d)
}

func (m *DocumentModel) SetSessionField(fieldID, value string) {
	metadata := m.SessionMetadata()
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata[fieldID] = value
	m.object.SetPropertyValue("session_metadata", metadata)
}

func (m *DocumentModel) SessionField(fieldID string) string {
	s, _ := m.SessionMetadata()[fieldID].(string)
	return s
}

// DataItems returns a copy of the ordered item list.
func (m *DocumentModel) DataItems() []*DataItem {
	return append([]*DataItem(nil), m.dataItems...)
}

func (m *DocumentModel) DataItemCount() int { return len(m.dataItems) }

func (m *DocumentModel) DataItemByUUID(itemUUID uuid.UUID) *DataItem {
	for _, item := range m.dataItems {
		if item.UUID() == itemUUID {
			return item
		}
	}
	return nil
}

func (m *DocumentModel) DataItemByTitle(title string) *DataItem {
	for _, item := range m.dataItems {
		if item.Title() == title {
			return item
		}
	}
	return nil
}

func (m *DocumentModel) IndexOfDataItem(item *DataItem) int {
	for i, existing := range m.dataItems {
		if existing == item {
			return i
		}
	}
	return -1
}

func (m *DocumentModel) AppendDataItem(item *DataItem) {
	m.InsertDataItem(len(m.dataItems), item)
}

// InsertDataItem adds a new item: it gains storage, listeners, dependency
// tracking, and its computations are queued. Not threadsafe; call from the
// owning goroutine.
func (m *DocumentModel) InsertDataItem(beforeIndex int, item *DataItem) {
	if item == nil {
		panic("insert of nil data item")
	}
	if m.IndexOfDataItem(item) >= 0 {
		panic("data item already in document")
	}
	if beforeIndex < 0 || beforeIndex > len(m.dataItems) {
		panic(fmt.Sprintf("insert index %d out of range", beforeIndex))
	}
	m.dataItems = insertAt(m.dataItems, beforeIndex, item)
	m.writeDataItem(item)
	m.watchDataItem(item)
	if source := item.MaybeDataSource(); source != nil {
		m.handleComputationChangedOrMutated(item, source.Computation())
	}
	m.DataItemInserted.Fire(DataItemEvent{DataItem: item, Index: beforeIndex})
	for _, reference := range m.snapshotReferences() {
		reference.dataItemInserted(item)
	}
	m.addToDataSourceSet(item.DataSources())
	for _, source := range item.DataSources() {
		m.computationChanged(item, source, source.Computation())
		if computation := source.Computation(); computation != nil {
			computation.Bind(m)
		}
	}
}

// writeDataItem allocates a storage record from the first willing system and
// writes the item's current state to it.
func (m *DocumentModel) writeDataItem(item *DataItem) {
	var handler storage.Handler
	for _, system := range m.systems {
		if handler = system.MakeStorageHandler(item); handler != nil {
			break
		}
	}
	if handler == nil {
		glog.Warningf("no storage system accepted data item %s", item.UUID())
		item.object.SetContext(m.context)
		return
	}
	itemStorage := storage.NewItemStorage(handler, item, item.WriteToDict())
	m.context.SetStorageForObject(item, itemStorage)
	item.object.SetContext(m.context)
	itemStorage.UpdateProperties()
	for _, source := range item.DataSources() {
		source.dataMu.Lock()
		data := source.data
		loaded := source.dataLoaded
		source.dataMu.Unlock()
		if loaded && data != nil {
			itemStorage.WriteData(data)
		}
	}
}

// RemoveDataItem removes the item: queued computations for it are
// invalidated, items depending solely on it are removed in cascade, and its
// storage record is erased. Not threadsafe.
func (m *DocumentModel) RemoveDataItem(item *DataItem) {
	m.queueMu.Lock()
	for _, queueItem := range append(append([]*computationQueueItem(nil), m.pendingQueue...), m.activeItems...) {
		for _, source := range item.DataSources() {
			if queueItem.dataSource == source {
				queueItem.valid = false
			}
		}
	}
	m.queueMu.Unlock()
	m.DataItemWillBeRemoved.Fire(item)
	for _, group := range m.FlatDataGroups() {
		if group.ContainsDataItem(item) {
			group.RemoveDataItem(item)
		}
	}
	// cascade: remove items whose only source is the item being removed
	for _, dependent := range m.DependentDataItems(item) {
		sources := m.SourceDataItems(dependent)
		if len(sources) == 1 && sources[0] == item {
			m.RemoveDataItem(dependent)
		}
	}
	m.removeFromDataSourceSet(item.DataSources())
	item.AboutToBeRemoved()
	index := m.IndexOfDataItem(item)
	if index < 0 {
		panic("remove of data item not in document")
	}
	m.dataItems = append(m.dataItems[:index], m.dataItems[index+1:]...)
	if itemStorage := item.itemStorage(); itemStorage != nil {
		itemStorage.Remove()
	}
	m.context.SetStorageForObject(item, nil)
	item.object.SetContext(nil)
	m.unwatchDataItem(item)
	for _, reference := range m.snapshotReferences() {
		reference.dataItemRemoved(item)
	}
	m.DataItemRemoved.Fire(DataItemEvent{DataItem: item, Index: index})
	item.Close()
	m.DataItemDeleted.Fire(item)
}

func (m *DocumentModel) watchDataItem(item *DataItem) {
	itemUUID := item.UUID()
	m.computationListeners[itemUUID] = item.ComputationChangedOrMutated.Listen(func(event ComputationEvent) {
		m.handleComputationChangedOrMutated(event.DataItem, event.Computation)
		if event.DataSource != nil {
			m.computationChanged(event.DataItem, event.DataSource, event.Computation)
		}
	})
	m.removeRegionListeners[itemUUID] = item.RequestRemoveRegion.Listen(m.removeRegionBySpecifier)
	m.sourceInsertedListeners[itemUUID] = item.DataSourceInserted.Listen(func(source *BufferedDataSource) {
		m.addToDataSourceSet([]*BufferedDataSource{source})
	})
	m.sourceRemovedListeners[itemUUID] = item.DataSourceRemoved.Listen(func(source *BufferedDataSource) {
		m.removeFromDataSourceSet([]*BufferedDataSource{source})
	})
}

func (m *DocumentModel) unwatchDataItem(item *DataItem) {
	itemUUID := item.UUID()
	for _, close := range []func(){
		m.computationListeners[itemUUID].Close,
		m.removeRegionListeners[itemUUID].Close,
		m.sourceInsertedListeners[itemUUID].Close,
		m.sourceRemovedListeners[itemUUID].Close,
	} {
		close()
	}
	delete(m.computationListeners, itemUUID)
	delete(m.removeRegionListeners, itemUUID)
	delete(m.sourceInsertedListeners, itemUUID)
	delete(m.sourceRemovedListeners, itemUUID)
	for _, source := range item.DataSources() {
		if listener := m.needsUpdateListeners[source.object.UUID()]; listener != nil {
			listener.Close()
			delete(m.needsUpdateListeners, source.object.UUID())
		}
	}
}

func (m *DocumentModel) addToDataSourceSet(sources []*BufferedDataSource) {
	if len(sources) == 0 {
		return
	}
	for _, source := range sources {
		m.dataSourceSet[source] = true
	}
	m.DataSourceSetChanged.Fire(DataSourceSetChange{Added: sources})
}

func (m *DocumentModel) removeFromDataSourceSet(sources []*BufferedDataSource) {
	if len(sources) == 0 {
		return
	}
	for _, source := range sources {
		delete(m.dataSourceSet, source)
	}
	m.DataSourceSetChanged.Fire(DataSourceSetChange{Removed: sources})
}

// removeRegionBySpecifier deletes the graphic named by a region specifier
// from whichever display holds it.
func (m *DocumentModel) removeRegionBySpecifier(specifier map[string]any) {
	bound := m.ResolveObjectSpecifier(specifier, "")
	if bound == nil {
		return
	}
	defer bound.Close()
	holder, ok := bound.(*boundGraphic)
	if !ok {
		return
	}
	region := holder.Graphic()
	for _, item := range m.dataItems {
		for _, source := range item.DataSources() {
			for _, display := range source.Displays() {
				for _, graphic := range display.Graphics() {
					if graphic == region && !region.IsAboutToBeRemoved() {
						display.RemoveGraphic(region)
						return
					}
				}
			}
		}
	}
}

// dependency tracking

func (m *DocumentModel) addDependency(source, target *DataItem) {
	m.dependenciesMu.Lock()
	m.dependentDataItems[source] = append(m.dependentDataItems[source], target)
	m.sourceDataItems[target] = append(m.sourceDataItems[target], source)
	m.dependenciesMu.Unlock()
	// propagate transaction and live states to the new dependent
	if source.InTransactionState() {
		m.BeginTransaction(target)
	}
	if source.IsLive() {
		m.BeginLive(target)
	}
}

func (m *DocumentModel) removeDependency(source, target *DataItem) {
	m.dependenciesMu.Lock()
	m.dependentDataItems[source] = removeItem(m.dependentDataItems[source], target)
	m.sourceDataItems[target] = removeItem(m.sourceDataItems[target], source)
	m.dependenciesMu.Unlock()
	if source.InTransactionState() {
		m.EndTransaction(target)
	}
	if source.IsLive() {
		m.EndLive(target)
	}
}

// SourceDataItems returns the items this item's computation reads from.
func (m *DocumentModel) SourceDataItems(item *DataItem) []*DataItem {
	m.dependenciesMu.Lock()
	defer m.dependenciesMu.Unlock()
	return append([]*DataItem(nil), m.sourceDataItems[item]...)
}

// DependentDataItems returns the items whose computations read this item.
func (m *DocumentModel) DependentDataItems(item *DataItem) []*DataItem {
	m.dependenciesMu.Lock()
	defer m.dependenciesMu.Unlock()
	return append([]*DataItem(nil), m.dependentDataItems[item]...)
}

// handleComputationChangedOrMutated rebuilds the item's dependency edges
// from its computation's current variable specifiers.
func (m *DocumentModel) handleComputationChangedOrMutated(item *DataItem, computation *symbolic.Computation) {
	m.dependenciesMu.Lock()
	oldSources := make([]*DataItem, 0, len(m.computationSourceSet[item]))
	for source := range m.computationSourceSet[item] {
		oldSources = append(oldSources, source)
	}
	m.dependenciesMu.Unlock()
	for _, source := range oldSources {
		m.removeDependency(source, item)
	}
	sourceSet := map[*DataItem]bool{}
	if computation != nil {
		for _, variable := range computation.Variables() {
			specifier := variable.Specifier()
			if specifier == nil {
				continue
			}
			bound := m.ResolveObjectSpecifier(specifier, "")
			if bound == nil {
				continue
			}
			if holder, ok := bound.(*boundDataItem); ok {
				source := holder.DataItem()
				if source != nil && !sourceSet[source] {
					sourceSet[source] = true
					m.addDependency(source, item)
				}
			}
			bound.Close()
		}
	}
	m.dependenciesMu.Lock()
	m.computationSourceSet[item] = sourceSet
	m.dependenciesMu.Unlock()
}

// RebindComputations unbinds and rebinds every computation; useful after
// new objects become resolvable.
func (m *DocumentModel) RebindComputations() {
	for _, item := range m.dataItems {
		for _, source := range item.DataSources() {
			if computation := source.Computation(); computation != nil {
				computation.Unbind()
				computation.Bind(m)
			}
		}
	}
}

// transactions and live state

// BeginTransaction enters transaction state for the item and, on the first
// entry, its dependents. Writes are delayed until the matching EndTransaction.
// Threadsafe.
func (m *DocumentModel) BeginTransaction(item *DataItem) {
	m.transactionsMu.Lock()
	oldCount := m.transactions[item.UUID()]
	m.transactions[item.UUID()] = oldCount + 1
	m.transactionsMu.Unlock()
	if oldCount == 0 {
		item.EnterTransactionState()
		for _, dependent := range m.DependentDataItems(item) {
			m.BeginTransaction(dependent)
		}
	}
}

// EndTransaction exits transaction state, dependents before the item itself
// so that children flush before their parents.
func (m *DocumentModel) EndTransaction(item *DataItem) {
	m.transactionsMu.Lock()
	count := m.transactions[item.UUID()] - 1
	if count < 0 {
		m.transactionsMu.Unlock()
		panic("unbalanced transaction end")
	}
	m.transactions[item.UUID()] = count
	m.transactionsMu.Unlock()
	if count == 0 {
		for _, dependent := range m.DependentDataItems(item) {
			m.EndTransaction(dependent)
		}
		item.ExitTransactionState()
	}
}

// WithTransaction runs fn with the item under a transaction.
func (m *DocumentModel) WithTransaction(item *DataItem, fn func()) {
	m.BeginTransaction(item)
	defer m.EndTransaction(item)
	fn()
}

// BeginLive enters the live state, propagated to dependents. Threadsafe.
func (m *DocumentModel) BeginLive(item *DataItem) {
	m.liveMu.Lock()
	oldCount := m.liveCounts[item.UUID()]
	m.liveCounts[item.UUID()] = oldCount + 1
	m.liveMu.Unlock()
	if oldCount == 0 {
		item.EnterLiveState()
		for _, dependent := range m.DependentDataItems(item) {
			m.BeginLive(dependent)
		}
	}
}

func (m *DocumentModel) EndLive(item *DataItem) {
	m.liveMu.Lock()
	count := m.liveCounts[item.UUID()] - 1
	if count < 0 {
		m.liveMu.Unlock()
		panic("unbalanced live end")
	}
	m.liveCounts[item.UUID()] = count
	m.liveMu.Unlock()
	if count == 0 {
		item.ExitLiveState()
		for _, dependent := range m.DependentDataItems(item) {
			m.EndLive(dependent)
		}
	}
}

// data groups

func (m *DocumentModel) DataGroups() []*DataGroup {
	entities := m.object.Items("data_groups")
	groups := make([]*DataGroup, 0, len(entities))
	for _, e := range entities {
		if g, ok := e.(*DataGroup); ok {
			groups = append(groups, g)
		}
	}
	return groups
}

func (m *DocumentModel) AppendDataGroup(group *DataGroup) {
	m.InsertDataGroup(len(m.DataGroups()), group)
}

func (m *DocumentModel) InsertDataGroup(beforeIndex int, group *DataGroup) {
	m.object.InsertItemInRelationship("data_groups", beforeIndex, group)
}

func (m *DocumentModel) RemoveDataGroup(group *DataGroup) {
	group.DisconnectDataItems()
	m.object.RemoveItemFromRelationship("data_groups", group)
}

// FlatDataGroups returns all groups, nested ones included, depth first.
func (m *DocumentModel) FlatDataGroups() []*DataGroup {
	var groups []*DataGroup
	for _, group := range m.DataGroups() {
		groups = append(groups, group.FlatDataGroups()...)
	}
	return groups
}

func (m *DocumentModel) DataGroupByUUID(groupUUID uuid.UUID) *DataGroup {
	for _, group := range m.FlatDataGroups() {
		if group.object.UUID() == groupUUID {
			return group
		}
	}
	return nil
}

// GetOrCreateDataGroup finds a top-level group by title or creates one.
func (m *DocumentModel) GetOrCreateDataGroup(title string) *DataGroup {
	for _, group := range m.FlatDataGroups() {
		if group.Title() == title {
			return group
		}
	}
	group := NewDataGroup()
	group.SetTitle(title)
	m.InsertDataGroup(0, group)
	return group
}

// workspaces

func (m *DocumentModel) Workspaces() []*WorkspaceLayout {
	entities := m.object.Items("workspaces")
	workspaces := make([]*WorkspaceLayout, 0, len(entities))
	for _, e := range entities {
		if w, ok := e.(*WorkspaceLayout); ok {
			workspaces = append(workspaces, w)
		}
	}
	return workspaces
}

func (m *DocumentModel) AppendWorkspace(workspace *WorkspaceLayout) {
	m.object.AppendItemToRelationship("workspaces", workspace)
}

func (m *DocumentModel) RemoveWorkspace(workspace *WorkspaceLayout) {
	m.object.RemoveItemFromRelationship("workspaces", workspace)
}

// computation queue

// CreateComputation builds a computation bound to this document, optionally
// parsed from an expression.
func (m *DocumentModel) CreateComputation(expression string) *symbolic.Computation {
	computation := symbolic.NewComputation()
	if expression != "" {
		computation.ParseExpression(m, expression, nil)
	}
	computation.Bind(m)
	return computation
}

// DispatchTask queues work onto the general pool.
func (m *DocumentModel) DispatchTask(task func()) { m.threadPool.Queue(task) }

// StartDispatcher starts the pools: a set of general workers and one
// computation worker, preserving evaluation order.
func (m *DocumentModel) StartDispatcher() {
	m.threadPool.Start(4)
	m.computationPool.Start(1)
}

// RecomputeAll drains the computation queue synchronously; used by tests
// and by callers that keep the pools stopped.
func (m *DocumentModel) RecomputeAll() { m.computationPool.RunAll() }

// RecomputeOne runs at most one queued recompute synchronously.
func (m *DocumentModel) RecomputeOne() bool { return m.computationPool.RunOne() }

// computationChanged installs or removes the needs-update listener for the
// data source's computation and queues an initial recompute.
func (m *DocumentModel) computationChanged(item *DataItem, source *BufferedDataSource, computation *symbolic.Computation) {
	sourceUUID := source.object.UUID()
	if listener := m.needsUpdateListeners[sourceUUID]; listener != nil {
		listener.Close()
		delete(m.needsUpdateListeners, sourceUUID)
	}
	if computation == nil {
		m.queueMu.Lock()
		for _, queueItem := range append(append([]*computationQueueItem(nil), m.pendingQueue...), m.activeItems...) {
			if queueItem.dataSource == source {
				queueItem.valid = false
			}
		}
		m.queueMu.Unlock()
		return
	}
	queueRecompute := func() {
		m.queueMu.Lock()
		for _, queueItem := range m.pendingQueue {
			if queueItem.dataSource == source {
				// coalesce: refresh the computation in place
				queueItem.computation = computation
				m.queueMu.Unlock()
				return
			}
		}
		m.pendingQueue = append(m.pendingQueue, &computationQueueItem{
			dataItem:    item,
			dataSource:  source,
			computation: computation,
			valid:       true,
		})
		m.queueMu.Unlock()
		m.computationPool.Queue(m.recompute)
	}
	m.needsUpdateListeners[sourceUUID] = computation.NeedsUpdateEvent.Listen(func(struct{}) {
		queueRecompute()
	})
	queueRecompute()
}

// recompute pops one queue entry, evaluates it against a clone of the item,
// and merges the result back unless the entry was invalidated meanwhile.
func (m *DocumentModel) recompute() {
	m.queueMu.Lock()
	if len(m.pendingQueue) == 0 {
		m.queueMu.Unlock()
		return
	}
	queueItem := m.pendingQueue[0]
	m.pendingQueue = m.pendingQueue[1:]
	m.activeItems = append(m.activeItems, queueItem)
	m.queueMu.Unlock()
	m.evaluateQueueItem(queueItem)
	m.queueMu.Lock()
	m.activeItems = removeItem(m.activeItems, queueItem)
	m.queueMu.Unlock()
}

func (m *DocumentModel) evaluateQueueItem(queueItem *computationQueueItem) {
	computation := queueItem.computation
	if computation == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("recompute %s: %v", queueItem.dataItem.UUID(), r)
			computation.SetErrorText("Unable to compute data")
		}
	}()
	clone := queueItem.dataItem.Clone()
	if computation.NeedsUpdate {
		value := computation.Evaluate()
		if dam, ok := value.(*ndarray.DataAndMetadata); ok {
			if cloneSource := clone.MaybeDataSource(); cloneSource != nil {
				cloneSource.SetDataAndMetadata(dam)
			}
			computation.SetErrorText("")
		} else if value == nil {
			computation.SetErrorText("Unable to compute data")
		}
		m.throttle()
	}
	m.queueMu.Lock()
	valid := queueItem.valid
	m.queueMu.Unlock()
	if valid {
		queueItem.dataItem.MergeFromClone(clone)
	}
}

func (m *DocumentModel) throttle() {
	if m.computationMinPeriod <= 0 {
		return
	}
	m.queueMu.Lock()
	wait := m.computationMinPeriod - time.Since(m.lastEvaluate)
	m.lastEvaluate = time.Now()
	m.queueMu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
}

// RecomputeImmediate evaluates the item's computation synchronously on the
// calling goroutine, writing the result straight into the data source.
func (m *DocumentModel) RecomputeImmediate(item *DataItem) {
	source := item.MaybeDataSource()
	if source == nil {
		return
	}
	computation := source.Computation()
	if computation == nil {
		return
	}
	if dam, ok := computation.Evaluate().(*ndarray.DataAndMetadata); ok {
		source.SetDataAndMetadata(dam)
	}
}

// specifier resolution (symbolic.ComputationContext)

// ObjectSpecifier builds the persisted specifier for an item or graphic.
func (m *DocumentModel) ObjectSpecifier(object any) map[string]any {
	switch o := object.(type) {
	case *DataItem:
		return map[string]any{"version": 1, "type": "data_item", "uuid": o.UUID().String()}
	case *Graphic:
		return map[string]any{"version": 1, "type": "region", "uuid": o.object.UUID().String()}
	}
	return nil
}

func specifierUUID(specifier map[string]any) (uuid.UUID, bool) {
	s, _ := specifier["uuid"].(string)
	id, err := uuid.Parse(s)
	return id, err == nil
}

// ResolveObjectSpecifier resolves a version-1 data_item or region specifier
// to a bound item, or nil when the target does not exist.
func (m *DocumentModel) ResolveObjectSpecifier(specifier map[string]any, propertyName string) symbolic.BoundItem {
	version, _ := toFloat(specifier["version"])
	if int(version) != 1 {
		return nil
	}
	specifierType, _ := specifier["type"].(string)
	objectUUID, ok := specifierUUID(specifier)
	if !ok {
		return nil
	}
	switch specifierType {
	case "data_item":
		if item := m.DataItemByUUID(objectUUID); item != nil {
			return newBoundDataItem(item, propertyName)
		}
	case "region":
		for _, item := range m.dataItems {
			for _, source := range item.DataSources() {
				for _, display := range source.Displays() {
					for _, graphic := range display.Graphics() {
						if graphic.object.UUID() == objectUUID {
							return newBoundGraphic(graphic, propertyName)
						}
					}
				}
			}
		}
	}
	return nil
}

// DataItemSpecifier supports data_by_uuid in expressions.
func (m *DocumentModel) DataItemSpecifier(itemUUID uuid.UUID) map[string]any {
	return map[string]any{"version": 1, "type": "data_item", "uuid": itemUUID.String()}
}

// RegionSpecifier supports region_by_uuid in expressions.
func (m *DocumentModel) RegionSpecifier(regionUUID uuid.UUID) map[string]any {
	return map[string]any{"version": 1, "type": "region", "uuid": regionUUID.String()}
}

// data item references

// DataItemReference is a named, persistent slot holding a data item,
// typically one per acquisition channel.
type DataItemReference struct {
	model    *DocumentModel
	key      string
	mu       sync.Mutex
	dataItem *DataItem

	// DataItemChanged fires when the slot is reassigned.
	DataItemChanged persistence.Signal
}

func newDataItemReference(m *DocumentModel, key string, item *DataItem) *DataItemReference {
	return &DataItemReference{model: m, key: key, dataItem: item}
}

func (r *DataItemReference) Key() string { return r.key }

func (r *DataItemReference) DataItem() *DataItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dataItem
}

// SetDataItem reassigns the slot and persists the new uuid mapping.
func (r *DataItemReference) SetDataItem(item *DataItem) {
	r.mu.Lock()
	changed := r.dataItem != item
	r.dataItem = item
	r.mu.Unlock()
	if changed {
		persistence.FireSignal(&r.DataItemChanged)
		r.model.updateDataItemReference(r.key, item)
	}
}

func (r *DataItemReference) dataItemInserted(item *DataItem) {}

func (r *DataItemReference) dataItemRemoved(item *DataItem) {
	r.mu.Lock()
	if r.dataItem == item {
		r.dataItem = nil
	}
	r.mu.Unlock()
}

// UpdateData queues an array update for the referenced item; threadsafe.
func (r *DataItemReference) UpdateData(dam *ndarray.DataAndMetadata, subArea []int) {
	r.model.QueueDataItemUpdate(r.DataItem(), dam, subArea)
}

func (m *DocumentModel) updateDataItemReference(key string, item *DataItem) {
	referencesDict, _ := m.object.PropertyValue("data_item_references").(map[string]any)
	updated := deepCopyDict(referencesDict)
	if updated == nil {
		updated = map[string]any{}
	}
	if item != nil {
		updated[key] = item.UUID().String()
	} else {
		delete(updated, key)
	}
	m.object.SetPropertyValue("data_item_references", updated)
}

// MakeDataItemReferenceKey joins non-empty components with underscores.
func MakeDataItemReferenceKey(components ...string) string {
	var buffer bytes.Buffer
	for _, component := range components {
		if component == "" {
			continue
		}
		if buffer.Len() > 0 {
			buffer.WriteByte('_')
		}
		buffer.WriteString(component)
	}
	return buffer.String()
}

// DataItemReferenceFor returns the named slot, creating an empty one on
// first use.
func (m *DocumentModel) DataItemReferenceFor(key string) *DataItemReference {
	m.referencesMu.Lock()
	defer m.referencesMu.Unlock()
	if reference, ok := m.dataItemReferences[key]; ok {
		return reference
	}
	reference := newDataItemReference(m, key, nil)
	m.dataItemReferences[key] = reference
	return reference
}

// SetupChannel assigns a data item to the named reference slot.
func (m *DocumentModel) SetupChannel(key string, item *DataItem) {
	m.DataItemReferenceFor(key).SetDataItem(item)
}

// acquisition hand-off

// QueueDataItemUpdate enqueues an array update to be applied on the owning
// goroutine; threadsafe. A nil item is ignored.
func (m *DocumentModel) QueueDataItemUpdate(item *DataItem, dam *ndarray.DataAndMetadata, subArea []int) {
	if item == nil {
		return
	}
	m.pendingUpdatesMu.Lock()
	m.pendingUpdates = append(m.pendingUpdates, pendingUpdate{dataItem: item, dam: dam, subArea: subArea})
	m.pendingUpdatesMu.Unlock()
	persistence.FireSignal(&m.PerformDataItemUpdatesRequested)
}

// PerformDataItemUpdates applies queued updates. Must run on the goroutine
// that created the document model.
func (m *DocumentModel) PerformDataItemUpdates() {
	if goroutineID() != m.ownerGoroutine {
		panic("PerformDataItemUpdates called off the owning goroutine")
	}
	m.pendingUpdatesMu.Lock()
	updates := m.pendingUpdates
	m.pendingUpdates = nil
	m.pendingUpdatesMu.Unlock()
	for _, update := range updates {
		applyDataItemUpdate(update)
	}
}

// applyDataItemUpdate writes the update's array into the item's source,
// merging into the existing array when a sub-area is given.
func applyDataItemUpdate(update pendingUpdate) {
	source := update.dataItem.MaybeDataSource()
	if source == nil || update.dam == nil {
		return
	}
	if update.subArea != nil {
		existing := source.Data()
		if existing != nil && ndarray.ShapeEqual(existing.Shape, update.dam.Shape()) {
			if err := existing.SetSubRegion(update.dam.Data, update.subArea); err == nil {
				source.SetData(existing)
				return
			}
		}
	}
	source.SetDataAndMetadata(update.dam)
}

// goroutineID parses the current goroutine's id from its stack header. Used
// only to assert the owner-goroutine contract of PerformDataItemUpdates.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	var id uint64
	for _, c := range fields[1] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// helpers

func insertAt(items []*DataItem, index int, item *DataItem) []*DataItem {
	items = append(items, nil)
	copy(items[index+1:], items[index:])
	items[index] = item
	return items
}

func removeItem[T comparable](items []T, item T) []T {
	for i, existing := range items {
		if existing == item {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}
