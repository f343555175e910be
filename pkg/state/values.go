package state

import (
	"fmt"
	"strconv"
	"strings"
)

// The types in this file form the enumerated "safe value" allowlist: plain
// data types the deserializer may reconstruct without consulting any
// registry. Each round-trips exactly.

// Decimal is an arbitrary-precision decimal carried as its canonical
// string form. Arithmetic is the application's concern; the framework only
// guarantees lossless round trips.
type Decimal string

// ParseDecimal validates s as a decimal literal.
func ParseDecimal(s string) (Decimal, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	if t == "" {
		return "", fmt.Errorf("state: invalid decimal %q", s)
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		// ParseFloat accepts every decimal literal we accept; it only
		// loses precision, which we avoid by keeping the string.
		return "", fmt.Errorf("state: invalid decimal %q", s)
	}
	return Decimal(s), nil
}

// String returns the canonical decimal literal.
func (d Decimal) String() string { return string(d) }

// Path is a filesystem path value. Distinct from string so snapshots can
// round-trip path semantics explicitly.
type Path string

// SafeHTML is a string the application has explicitly marked as safe
// markup. The marker survives round trips; nothing else about the value
// is special.
type SafeHTML string

// OrderedMap is a string-keyed map that preserves insertion order across
// round trips.
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap creates an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]any)}
}

// Set stores a value, appending the key on first insert.
func (m *OrderedMap) Set(key string, value any) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key.
func (m *OrderedMap) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Delete removes a key.
func (m *OrderedMap) Delete(key string) {
	if _, exists := m.values[key]; !exists {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int { return len(m.keys) }

// DefaultMap is a string-keyed map with a default value returned for
// missing keys. The default round-trips with the map.
type DefaultMap struct {
	Default any
	values  map[string]any
}

// NewDefaultMap creates a DefaultMap with the given default value.
func NewDefaultMap(def any) *DefaultMap {
	return &DefaultMap{Default: def, values: make(map[string]any)}
}

// Set stores a value.
func (m *DefaultMap) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	m.values[key] = value
}

// Get returns the stored value, or the default when the key is absent.
func (m *DefaultMap) Get(key string) any {
	if v, ok := m.values[key]; ok {
		return v
	}
	return m.Default
}

// Has reports whether the key was explicitly set.
func (m *DefaultMap) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Values returns the explicitly set entries. Callers must not mutate.
func (m *DefaultMap) Values() map[string]any { return m.values }

// Notification is the user-facing message value type components may hold
// in their state (e.g. a flash message queued for the next render).
type Notification struct {
	Event string
	Title string
	Body  string
	Level string
	Data  map[string]any
}
