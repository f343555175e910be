package entity

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory entity store.
// It's suitable for tests and single-server development setups.
// For durable storage use SQLStore or an application-provided Store.
type MemoryStore struct {
	mu       sync.RWMutex
	registry *Registry
	records  map[string]map[string]any // key: typ + "\x00" + id -> field map
	closed   bool
}

// NewMemoryStore creates a new in-memory entity store.
// The registry is used to reconstruct typed instances on Get.
func NewMemoryStore(registry *Registry) *MemoryStore {
	return &MemoryStore{
		registry: registry,
		records:  make(map[string]map[string]any),
	}
}

func recordKey(typ, id string) string {
	return typ + "\x00" + id
}

// Get retrieves an entity by type and id.
// Returns (nil, nil) when the entity does not exist.
func (m *MemoryStore) Get(ctx context.Context, typ, id string) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	fields, ok := m.records[recordKey(typ, id)]
	if !ok {
		return nil, nil
	}

	e, ok := m.registry.New(typ, id)
	if !ok {
		// Stored under a type that was never registered; treat as absent
		// rather than inventing an untyped record.
		return nil, nil
	}

	// Copy so callers can't mutate the stored map.
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	e.SetFields(cp)
	return e, nil
}

// Put stores an entity, overwriting any existing record.
func (m *MemoryStore) Put(ctx context.Context, e Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	fields := e.Fields()
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.records[recordKey(e.EntityType(), e.EntityID())] = cp
	return nil
}

// Delete removes an entity. Missing entities are not an error.
func (m *MemoryStore) Delete(ctx context.Context, typ, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.records, recordKey(typ, id))
	return nil
}

// Close marks the store closed. Subsequent operations fail.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}

// Len returns the number of stored records. Intended for tests.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
