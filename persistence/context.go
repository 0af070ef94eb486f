package persistence

import "sync"

// Storage receives the write-through side of object mutations. Implementations
// map the mutation onto their backing record (nested dict plus bulk data).
type Storage interface {
	InsertItem(parent Entity, name string, beforeIndex int, item Entity)
	RemoveItem(parent Entity, name string, index int, item Entity)
	SetItem(parent Entity, name string, item Entity)
	SetProperty(object Entity, name string, value any)
}

// ObjectContext associates persistent objects with their storage adapters.
// Lookup walks the parent chain, so registering storage for a root object
// covers its whole subtree.
type ObjectContext struct {
	mu      sync.Mutex
	storage map[Entity]Storage
}

func NewObjectContext() *ObjectContext {
	return &ObjectContext{storage: make(map[Entity]Storage)}
}

func (c *ObjectContext) SetStorageForObject(e Entity, s Storage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == nil {
		delete(c.storage, e)
		return
	}
	c.storage[e] = s
}

// StorageForObject returns the storage registered for the object or its
// nearest registered ancestor, or nil.
func (c *ObjectContext) StorageForObject(e Entity) Storage {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e != nil {
		if s, ok := c.storage[e]; ok {
			return s
		}
		ref := e.Persistent().ParentRef()
		if ref == nil {
			return nil
		}
		e = ref.Parent
	}
	return nil
}
