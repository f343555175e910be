// Package refcodec maps domain values that cannot be serialized directly —
// entities, deferred queries, temp uploads, markup fragment pointers — to
// compact, reversible reference descriptors inside component snapshots.
//
// Codecs are registered in a type-keyed table. During snapshot encoding
// every non-primitive value is checked against the table (exact type first,
// then registered interface types in registration order); a hit replaces
// the value with "prefix-tagged" bytes. On decode the prefix alone selects
// the codec; an unrecognized prefix is tamper evidence and always fails.
package refcodec

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrUnknownPrefix is returned when decoding meets a prefix with no
// registered codec. Persisted state only ever contains prefixes the server
// itself wrote, so this is evidence of tampering and is never skipped.
var ErrUnknownPrefix = errors.New("refcodec: unknown reference prefix")

// Codec encodes and decodes one kind of opaque reference.
//
// Encode may return (nil, nil) to signal "this value is not mine after
// all, fall through to generic encoding." Both directions must be
// deterministic for a given value.
type Codec interface {
	// Prefix returns the unique tag written in front of encoded
	// references of this kind.
	Prefix() string

	// Type returns the Go type this codec handles. A concrete type is
	// matched exactly; an interface type matches any implementation.
	Type() reflect.Type

	// Encode converts a value to its reference descriptor bytes.
	Encode(v any) ([]byte, error)

	// Decode reconstructs a value from descriptor bytes. Decoding may
	// reload at most one entity, so it takes a context. A decode that
	// resolves to "referenced thing is gone" returns (nil, nil) when the
	// kind tolerates absence.
	Decode(ctx context.Context, data []byte) (any, error)
}

// Lazy wraps a value that must be unwrapped before codec dispatch.
// Snapshot encoding resolves Lazy values first and encodes the result.
type Lazy interface {
	ResolveLazy() any
}

// Registry is a type-keyed table of reference codecs.
// Safe for concurrent use; registration is expected at startup.
type Registry struct {
	mu       sync.RWMutex
	byPrefix map[string]Codec
	exact    map[reflect.Type]Codec
	ifaces   []Codec // interface-typed codecs, most specific registered first
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{
		byPrefix: make(map[string]Codec),
		exact:    make(map[reflect.Type]Codec),
	}
}

// Register adds a codec to the table.
// Panics on a prefix or type collision: both indicate a wiring bug.
func (r *Registry) Register(c Codec) {
	prefix := c.Prefix()
	if prefix == "" {
		panic("refcodec: codec has empty prefix")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPrefix[prefix]; exists {
		panic(fmt.Sprintf("refcodec: prefix collision for %q", prefix))
	}
	r.byPrefix[prefix] = c

	t := c.Type()
	if t == nil {
		panic(fmt.Sprintf("refcodec: codec %q has nil type", prefix))
	}
	if t.Kind() == reflect.Interface {
		r.ifaces = append(r.ifaces, c)
		return
	}
	if _, exists := r.exact[t]; exists {
		panic(fmt.Sprintf("refcodec: type %v already registered", t))
	}
	r.exact[t] = c
}

// Lookup finds the codec for a value: exact concrete type first, then the
// first registered interface type the value implements. Returns nil when
// no codec claims the value.
func (r *Registry) Lookup(v any) Codec {
	if v == nil {
		return nil
	}

	t := reflect.TypeOf(v)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.exact[t]; ok {
		return c
	}
	for _, c := range r.ifaces {
		if t.Implements(c.Type()) {
			return c
		}
	}
	return nil
}

// ByPrefix returns the codec registered under a prefix.
func (r *Registry) ByPrefix(prefix string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byPrefix[prefix]
	return c, ok
}

// Decode dispatches descriptor bytes to the codec registered for prefix.
// An unknown prefix fails with ErrUnknownPrefix.
func (r *Registry) Decode(ctx context.Context, prefix string, data []byte) (any, error) {
	c, ok := r.ByPrefix(prefix)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrefix, prefix)
	}
	return c.Decode(ctx, data)
}

// Prefixes returns the registered prefixes. Intended for diagnostics.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byPrefix))
	for p := range r.byPrefix {
		out = append(out, p)
	}
	return out
}
