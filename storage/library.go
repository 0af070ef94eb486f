package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/lumeno/docmodel/persistence"
)

const libraryFileName = "library.json"

// LibraryVersion is the version written into new library records.
const LibraryVersion = 3

// LibraryStorage persists the document root as a single JSON record.
// Individual data items are stored through their own ItemStorage; the
// library record carries everything else (groups, workspaces, references).
type LibraryStorage struct {
	mu         sync.Mutex
	fs         afs.Service
	baseURL    string
	root       persistence.Entity
	properties map[string]any
}

// NewLibraryStorage loads or initializes the library record under baseURL.
// A nil fs keeps the record purely in memory.
func NewLibraryStorage(ctx context.Context, fs afs.Service, baseURL string) (*LibraryStorage, error) {
	s := &LibraryStorage{fs: fs, baseURL: baseURL, properties: map[string]any{}}
	if fs != nil && baseURL != "" {
		URL := url.Join(baseURL, libraryFileName)
		if ok, _ := fs.Exists(ctx, URL); ok {
			data, err := fs.DownloadWithURL(ctx, URL)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(data, &s.properties); err != nil {
				return nil, err
			}
		}
	}
	if _, ok := s.properties["version"]; !ok {
		s.properties["version"] = LibraryVersion
	}
	return s, nil
}

func (s *LibraryStorage) SetRoot(root persistence.Entity) {
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
}

func (s *LibraryStorage) Properties() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyDict(s.properties)
}

func (s *LibraryStorage) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := s.properties["version"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func (s *LibraryStorage) rewrite() {
	s.mu.Lock()
	properties := deepCopyDict(s.properties)
	fs, baseURL := s.fs, s.baseURL
	s.mu.Unlock()
	if fs == nil || baseURL == "" {
		return
	}
	data, err := json.MarshalIndent(properties, "", "  ")
	if err != nil {
		glog.Errorf("marshal library: %v", err)
		return
	}
	URL := url.Join(baseURL, libraryFileName)
	if err := fs.Upload(context.Background(), URL, 0644, bytes.NewReader(data)); err != nil {
		glog.Errorf("write library %v: %v", URL, err)
	}
}

// storageDict walks from the document root to the entity's nested dict.
// Caller holds the mutex.
func (s *LibraryStorage) storageDict(e persistence.Entity, updateModified bool, now time.Time) map[string]any {
	if e == s.root {
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

func (s *LibraryStorage) InsertItem(parent persistence.Entity, name string, beforeIndex int, item persistence.Entity) {
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
	s.rewrite()
}

func (s *LibraryStorage) RemoveItem(parent persistence.Entity, name string, index int, item persistence.Entity) {
	s.mu.Lock()
	d := s.storageDict(parent, true, time.Now().UTC())
	if d != nil {
		if list, _ := d[name].([]any); index >= 0 && index < len(list) {
			d[name] = append(list[:index], list[index+1:]...)
		}
	}
	s.mu.Unlock()
	s.rewrite()
}

func (s *LibraryStorage) SetItem(parent persistence.Entity, name string, item persistence.Entity) {
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
	s.rewrite()
}

func (s *LibraryStorage) SetProperty(object persistence.Entity, name string, value any) {
	s.mu.Lock()
	d := s.storageDict(object, true, time.Now().UTC())
	if d != nil {
		d[name] = value
	}
	s.mu.Unlock()
	s.rewrite()
}

// SetRootProperty writes a top-level library property directly.
func (s *LibraryStorage) SetRootProperty(name string, value any) {
	s.mu.Lock()
	s.properties[name] = value
	s.mu.Unlock()
	s.rewrite()
}

// RootProperty reads a top-level library property.
func (s *LibraryStorage) RootProperty(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyValue(s.properties[name])
}
