package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("entity: store closed")

// Entity is the minimal surface the framework needs from a stored record.
// Implementations typically embed Base for the field-map methods.
type Entity interface {
	// EntityType returns the stable type name (e.g. "invoice").
	// Type names double as collection group names, so they must not
	// contain "." separators.
	EntityType() string

	// EntityID returns the record identifier within its type.
	EntityID() string

	// Field returns a named attribute value, reporting whether it exists.
	Field(name string) (any, bool)

	// Fields returns the full attribute map. Callers must not mutate it.
	Fields() map[string]any

	// SetFields replaces the attribute map. Used by stores to rehydrate
	// a freshly constructed instance.
	SetFields(fields map[string]any)
}

// Store is an opaque keyed store of entities.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves an entity by type and id.
	// Returns (nil, nil) if no such entity exists. Backend failures are
	// returned as errors; "missing" is never an error.
	Get(ctx context.Context, typ, id string) (Entity, error)

	// Put stores an entity, overwriting any existing record with the
	// same (type, id).
	Put(ctx context.Context, e Entity) error

	// Delete removes an entity. Deleting a missing entity is not an error.
	Delete(ctx context.Context, typ, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// Base provides the field-map half of the Entity interface.
// Concrete entity types embed Base and add EntityType/EntityID.
type Base struct {
	mu     sync.RWMutex
	fields map[string]any
}

// Field returns a named attribute value.
func (b *Base) Field(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.fields[name]
	return v, ok
}

// Fields returns the attribute map.
func (b *Base) Fields() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.fields))
	for k, v := range b.fields {
		out[k] = v
	}
	return out
}

// SetFields replaces the attribute map.
func (b *Base) SetFields(fields map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fields = fields
}

// Set stores a single attribute.
func (b *Base) Set(name string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fields == nil {
		b.fields = make(map[string]any)
	}
	b.fields[name] = value
}

// FieldNames returns the attribute names in sorted order.
func (b *Base) FieldNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.fields))
	for k := range b.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Record is a ready-made Entity for types that carry no behavior of
// their own beyond the field map. Types with methods embed Base directly
// instead.
type Record struct {
	Base
	typ string
	id  string
}

// NewRecord creates an empty record of the given type and id.
func NewRecord(typ, id string) *Record {
	return &Record{typ: typ, id: id}
}

// EntityType returns the record's type name.
func (r *Record) EntityType() string { return r.typ }

// EntityID returns the record's identifier.
func (r *Record) EntityID() string { return r.id }

// Factory constructs an empty entity of a registered type with the given id.
type Factory func(id string) Entity

// Registry maps entity type names to factories.
//
// The registry is the allowlist consulted when persisted state references an
// entity type: only registered types can ever be constructed from a token.
// Registration is idempotent for the same factory slot; re-registering a
// name with a different factory panics, since that is a wiring bug.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty entity type registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a type name to its factory.
// Panics if the name is empty, contains ".", or is already bound.
func (r *Registry) Register(typ string, fn Factory) {
	if typ == "" || fn == nil {
		panic("entity: Register requires a type name and factory")
	}
	for _, c := range typ {
		if c == '.' {
			panic(fmt.Sprintf("entity: type name %q must not contain '.'", typ))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		panic(fmt.Sprintf("entity: type %q already registered", typ))
	}
	r.factories[typ] = fn
}

// New constructs an empty entity of the given type, reporting whether the
// type is registered.
func (r *Registry) New(typ, id string) (Entity, bool) {
	r.mu.RLock()
	fn, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return fn(id), true
}

// Known reports whether a type name is registered.
func (r *Registry) Known(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typ]
	return ok
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for k := range r.factories {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
