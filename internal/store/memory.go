package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is the in-process backend. It is only safe as the authoritative
// store when the gateway runs a single worker.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

type memCollection struct {
	mu    sync.RWMutex
	docs  map[string]Document
	order []string
}

func (m *Memory) collection(name string, create bool) *memCollection {
	m.mu.RLock()
	c := m.collections[name]
	m.mu.RUnlock()
	if c != nil || !create {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c = m.collections[name]; c == nil {
		c = &memCollection{docs: make(map[string]Document)}
		m.collections[name] = c
	}
	return c
}

// Collection returns the named collection, creating it on first use.
func (m *Memory) Collection(name string) Collection {
	return &memHandle{store: m, name: name}
}

// Collections lists every collection name, sorted.
func (m *Memory) Collections(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Ping always succeeds for the memory backend.
func (m *Memory) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Export deep-copies every collection in insertion order. Used by the
// snapshot facility.
func (m *Memory) Export() map[string][]Document {
	m.mu.RLock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make(map[string][]Document, len(names))
	for _, name := range names {
		c := m.collection(name, false)
		if c == nil {
			continue
		}
		c.mu.RLock()
		docs := make([]Document, 0, len(c.order))
		for _, id := range c.order {
			docs = append(docs, cloneDoc(c.docs[id]))
		}
		c.mu.RUnlock()
		out[name] = docs
	}
	return out
}

// ImportAll clears existing state and loads the given collections.
func (m *Memory) ImportAll(data map[string][]Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = make(map[string]*memCollection, len(data))
	for name, docs := range data {
		c := &memCollection{docs: make(map[string]Document, len(docs))}
		for _, doc := range docs {
			cp := cloneDoc(doc)
			id, _ := cp["_id"].(string)
			if id == "" {
				id = uuid.NewString()
				cp["_id"] = id
			}
			c.docs[id] = cp
			c.order = append(c.order, id)
		}
		m.collections[name] = c
	}
}

// memHandle defers collection creation until the first write so reads of
// absent collections do not materialize them.
type memHandle struct {
	store *Memory
	name  string
}

func (h *memHandle) FindOne(_ context.Context, q Query) (Document, error) {
	c := h.store.collection(h.name, false)
	if c == nil {
		return nil, ErrNotFound
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		if Matches(c.docs[id], q) {
			return cloneDoc(c.docs[id]), nil
		}
	}
	return nil, ErrNotFound
}

func (h *memHandle) Find(_ context.Context, q Query) Cursor {
	c := h.store.collection(h.name, false)
	if c == nil {
		return &sliceCursor{limit: -1}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var matched []Document
	for _, id := range c.order {
		if Matches(c.docs[id], q) {
			matched = append(matched, cloneDoc(c.docs[id]))
		}
	}
	return &sliceCursor{docs: matched, limit: -1}
}

func (h *memHandle) InsertOne(_ context.Context, doc Document) (string, error) {
	c := h.store.collection(h.name, true)
	cp := cloneDoc(doc)
	id, _ := cp["_id"].(string)
	if id == "" {
		id = uuid.NewString()
		cp["_id"] = id
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = cp
	return id, nil
}

func (h *memHandle) UpdateOne(_ context.Context, q Query, update Document) (bool, error) {
	c := h.store.collection(h.name, false)
	if c == nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		doc := c.docs[id]
		if !Matches(doc, q) {
			continue
		}
		for k, v := range update {
			if k == "_id" {
				continue
			}
			doc[k] = cloneValue(normalize(v))
		}
		return true, nil
	}
	return false, nil
}

func (h *memHandle) DeleteOne(_ context.Context, q Query) (bool, error) {
	c := h.store.collection(h.name, false)
	if c == nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, id := range c.order {
		if Matches(c.docs[id], q) {
			delete(c.docs, id)
			c.order = append(c.order[:i], c.order[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (h *memHandle) Count(_ context.Context, q Query) (int64, error) {
	c := h.store.collection(h.name, false)
	if c == nil {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(q) == 0 {
		return int64(len(c.order)), nil
	}
	var n int64
	for _, id := range c.order {
		if Matches(c.docs[id], q) {
			n++
		}
	}
	return n, nil
}

func (h *memHandle) Drop(_ context.Context) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	delete(h.store.collections, h.name)
	return nil
}

// sliceCursor pages over an in-memory result snapshot.
type sliceCursor struct {
	docs  []Document
	skip  int
	limit int
}

func (c *sliceCursor) Skip(n int) Cursor {
	c.skip = n
	return c
}

func (c *sliceCursor) Limit(n int) Cursor {
	c.limit = n
	return c
}

func (c *sliceCursor) All(_ context.Context) ([]Document, error) {
	docs := c.docs
	if c.skip > 0 {
		if c.skip >= len(docs) {
			return []Document{}, nil
		}
		docs = docs[c.skip:]
	}
	if c.limit >= 0 && c.limit < len(docs) {
		docs = docs[:c.limit]
	}
	out := make([]Document, len(docs))
	copy(out, docs)
	return out, nil
}
