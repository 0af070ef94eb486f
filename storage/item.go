package storage

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/lumeno/docmodel/ndarray"
	"github.com/lumeno/docmodel/persistence"
)

// ItemStorage adapts one data item (and its child objects) to a Handler.
// It mirrors the on-disk properties dict in memory; every mutation updates
// the mirror by walking the object's parent chain to its nested dict, then
// rewrites the record unless writes are delayed (transaction state).
type ItemStorage struct {
	mu           sync.Mutex
	handler      Handler
	item         persistence.Entity
	properties   map[string]any
	writeDelayed bool
}

func NewItemStorage(handler Handler, item persistence.Entity, properties map[string]any) *ItemStorage {
	if properties == nil {
		properties = make(map[string]any)
	}
	return &ItemStorage{handler: handler, item: item, properties: properties}
}

func (s *ItemStorage) Handler() Handler { return s.handler }

func (s *ItemStorage) Properties() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyDict(s.properties)
}

func (s *ItemStorage) SetWriteDelayed(delayed bool) {
	s.mu.Lock()
	s.writeDelayed = delayed
	s.mu.Unlock()
	if !delayed {
		s.UpdateProperties()
	}
}

func (s *ItemStorage) WriteDelayed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeDelayed
}

// UpdateProperties rewrites the whole properties record.
func (s *ItemStorage) UpdateProperties() {
	s.mu.Lock()
	delayed := s.writeDelayed
	var properties map[string]any
	if !delayed {
		properties = deepCopyDict(s.properties)
	}
	s.mu.Unlock()
	if delayed {
		return
	}
	if err := s.handler.WriteProperties(properties, time.Now().UTC()); err != nil {
		glog.Errorf("update properties %v: %v", s.handler.Reference(), err)
	}
}

func (s *ItemStorage) WriteData(data *ndarray.NDArray) {
	if data == nil {
		return
	}
	if s.WriteDelayed() {
		return
	}
	if err := s.handler.WriteData(data, time.Now().UTC()); err != nil {
		glog.Errorf("write data %v: %v", s.handler.Reference(), err)
	}
}

func (s *ItemStorage) LoadData() (*ndarray.NDArray, error) {
	return s.handler.ReadData()
}

func (s *ItemStorage) Remove() {
	if err := s.handler.Remove(); err != nil {
		glog.Errorf("remove %v: %v", s.handler.Reference(), err)
	}
}

// storageDict walks the parent chain from the item root down to the entity's
// nested dict, stamping modified timestamps along the way when requested.
// Caller holds the mutex.
func (s *ItemStorage) storageDict(e persistence.Entity, updateModified bool, now time.Time) map[string]any {
	if e == s.item {
		if updateModified && e.Persistent().WritesModified() {
			s.properties["modified"] = persistence.FormatTime(now)
		}
		return s.properties
	}
	ref := e.Persistent().ParentRef()
	if ref == nil {
		return nil
	}
	parentDict := s.storageDict(ref.Parent, updateModified, now)
	if parentDict == nil {
		return nil
	}
	var d map[string]any
	if ref.ItemName != "" {
		d, _ = parentDict[ref.ItemName].(map[string]any)
	} else {
		index := ref.Parent.Persistent().ItemIndex(ref.RelationshipName, e)
		list, _ := parentDict[ref.RelationshipName].([]any)
		if index >= 0 && index < len(list) {
			d, _ = list[index].(map[string]any)
		}
	}
	if d != nil && updateModified && e.Persistent().WritesModified() {
		d["modified"] = persistence.FormatTime(now)
	}
	return d
}

func (s *ItemStorage) InsertItem(parent persistence.Entity, name string, beforeIndex int, item persistence.Entity) {
	s.mu.Lock()
	d := s.storageDict(parent, true, time.Now().UTC())
	if d != nil {
		list, _ := d[name].([]any)
		list = append(list, nil)
		copy(list[beforeIndex+1:], list[beforeIndex:])
		list[beforeIndex] = persistence.WriteEntityDict(item)
		d[name] = list
	}
	s.mu.Unlock()
	s.UpdateProperties()
}

func (s *ItemStorage) RemoveItem(parent persistence.Entity, name string, index int, item persistence.Entity) {
	s.mu.Lock()
	d := s.storageDict(parent, true, time.Now().UTC())
	if d != nil {
		if list, _ := d[name].([]any); index >= 0 && index < len(list) {
			d[name] = append(list[:index], list[index+1:]...)
		}
	}
	s.mu.Unlock()
	s.UpdateProperties()
}

func (s *ItemStorage) SetItem(parent persistence.Entity, name string, item persistence.Entity) {
	s.mu.Lock()
	d := s.storageDict(parent, true, time.Now().UTC())
	if d != nil {
		if item != nil {
			d[name] = persistence.WriteEntityDict(item)
		} else {
			delete(d, name)
		}
	}
	s.mu.Unlock()
	s.UpdateProperties()
}

func (s *ItemStorage) SetProperty(object persistence.Entity, name string, value any) {
	s.mu.Lock()
	d := s.storageDict(object, true, time.Now().UTC())
	if d != nil {
		d[name] = value
	}
	s.mu.Unlock()
	s.UpdateProperties()
}
