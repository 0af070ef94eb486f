package storage

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/lumeno/docmodel/ndarray"
)

// MemorySystem keeps records in maps keyed by UUID string. Properties and
// Data are exported so tests can craft fixture records directly.
type MemorySystem struct {
	mu         sync.Mutex
	Properties map[string]map[string]any
	Data       map[string]*ndarray.NDArray
}

func NewMemorySystem() *MemorySystem {
	return &MemorySystem{
		Properties: make(map[string]map[string]any),
		Data:       make(map[string]*ndarray.NDArray),
	}
}

func (m *MemorySystem) FindDataItems() ([]Handler, error) {
	m.mu.Lock()
	keys := maps.Keys(m.Properties)
	m.mu.Unlock()
	slices.Sort(keys)
	handlers := make([]Handler, 0, len(keys))
	for _, key := range keys {
		handlers = append(handlers, &memoryHandler{system: m, key: key})
	}
	return handlers, nil
}

func (m *MemorySystem) MakeStorageHandler(item ItemInfo) Handler {
	return &memoryHandler{system: m, key: item.UUID().String()}
}

// SetRecord installs a raw fixture record (test helper).
func (m *MemorySystem) SetRecord(key string, properties map[string]any, data *ndarray.NDArray) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Properties[key] = properties
	if data != nil {
		m.Data[key] = data
	}
}

type memoryHandler struct {
	system *MemorySystem
	key    string
}

func (h *memoryHandler) Reference() string { return h.key }

func (h *memoryHandler) ReadProperties() (map[string]any, error) {
	h.system.mu.Lock()
	defer h.system.mu.Unlock()
	if properties, ok := h.system.Properties[h.key]; ok {
		return deepCopyDict(properties), nil
	}
	return map[string]any{}, nil
}

func (h *memoryHandler) ReadData() (*ndarray.NDArray, error) {
	h.system.mu.Lock()
	defer h.system.mu.Unlock()
	if data, ok := h.system.Data[h.key]; ok {
		return data.Clone(), nil
	}
	return nil, nil
}

func (h *memoryHandler) WriteProperties(properties map[string]any, _ time.Time) error {
	h.system.mu.Lock()
	defer h.system.mu.Unlock()
	h.system.Properties[h.key] = deepCopyDict(properties)
	return nil
}

func (h *memoryHandler) WriteData(data *ndarray.NDArray, _ time.Time) error {
	h.system.mu.Lock()
	defer h.system.mu.Unlock()
	h.system.Data[h.key] = data.Clone()
	return nil
}

func (h *memoryHandler) Remove() error {
	h.system.mu.Lock()
	defer h.system.mu.Unlock()
	delete(h.system.Properties, h.key)
	delete(h.system.Data, h.key)
	return nil
}

// deepCopyDict clones nested map/list structure so callers cannot alias the
// stored record.
func deepCopyDict(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return deepCopyDict(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
