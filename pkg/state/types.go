package state

import (
	"fmt"
	"reflect"
	"sync"
)

// FieldCarrier is implemented by registered value-object types (entities
// used as plain values, form models) so the codec can read and restore
// their attribute maps.
type FieldCarrier interface {
	Fields() map[string]any
	SetFields(fields map[string]any)
}

// TypeTable maps registered type names to factories and back. It backs the
// two allowlists the deserializer consults for non-primitive values:
// component state types and value-object types.
type TypeTable struct {
	mu     sync.RWMutex
	byName map[string]func() any
	byType map[reflect.Type]string
}

// NewTypeTable creates an empty table.
func NewTypeTable() *TypeTable {
	return &TypeTable{
		byName: make(map[string]func() any),
		byType: make(map[reflect.Type]string),
	}
}

// Register binds a name to a factory. The factory's concrete result type
// is recorded for reverse lookup during encode.
// Panics on duplicate names: that is a wiring bug.
func (t *TypeTable) Register(name string, factory func() any) {
	if name == "" || factory == nil {
		panic("state: TypeTable.Register requires a name and factory")
	}

	rt := reflect.TypeOf(factory())

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byName[name]; exists {
		panic(fmt.Sprintf("state: type %q already registered", name))
	}
	t.byName[name] = factory
	t.byType[rt] = name
}

// New constructs an instance of a registered type.
func (t *TypeTable) New(name string) (any, bool) {
	t.mu.RLock()
	factory, ok := t.byName[name]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// NameFor returns the registered name for a value's concrete type.
func (t *TypeTable) NameFor(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.byType[reflect.TypeOf(v)]
	return name, ok
}
