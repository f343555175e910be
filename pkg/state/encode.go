package state

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/tetra-web/tetra/pkg/state/refcodec"
)

// Wire tags. Every non-primitive value in the persisted payload is a map
// carrying one of these under tagKey; the deserializer dispatches on the
// tag and rejects anything it does not recognize.
const (
	tagKey = "$t"

	tagRef          = "ref"
	tagRaw          = "raw"
	tagTime         = "time"
	tagDuration     = "dur"
	tagDecimal      = "dec"
	tagPath         = "path"
	tagUUID         = "uuid"
	tagSafeHTML     = "safe"
	tagOrderedMap   = "omap"
	tagDefaultMap   = "dmap"
	tagNotification = "note"
	tagComponent    = "comp"
	tagObject       = "obj"
)

// Encoder converts snapshots to the generic wire structure serialized into
// tokens. Reference kinds dispatch through the codec registry; component
// and value-object types through their type tables.
type Encoder struct {
	Refs       *refcodec.Registry
	Components *TypeTable
	Objects    *TypeTable
}

// EncodeSnapshot converts a snapshot to its wire structure.
// Values no rule covers fail with UnserializableError naming the
// offending attribute.
func (e *Encoder) EncodeSnapshot(s *Snapshot) (map[string]any, error) {
	attrs := make(map[string]any, len(s.Attrs))
	for k, v := range s.Attrs {
		ev, err := e.encodeValue(v, s.Component, k)
		if err != nil {
			return nil, err
		}
		attrs[k] = ev
	}

	wire := map[string]any{
		"c": s.Component,
		"i": s.InstanceID,
		"a": attrs,
	}
	if len(s.LoadDeps) > 0 {
		deps := make([]any, len(s.LoadDeps))
		for i, d := range s.LoadDeps {
			deps[i] = d
		}
		wire["d"] = deps
	}
	return wire, nil
}

func (e *Encoder) encodeValue(v any, component, key string) (any, error) {
	// Lazy wrappers resolve before any dispatch.
	if lz, ok := v.(refcodec.Lazy); ok {
		v = lz.ResolveLazy()
	}

	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val, nil
	case time.Time:
		return map[string]any{tagKey: tagTime, "v": val.Format(time.RFC3339Nano)}, nil
	case time.Duration:
		return map[string]any{tagKey: tagDuration, "v": int64(val)}, nil
	case Decimal:
		return map[string]any{tagKey: tagDecimal, "v": string(val)}, nil
	case Path:
		return map[string]any{tagKey: tagPath, "v": string(val)}, nil
	case SafeHTML:
		return map[string]any{tagKey: tagSafeHTML, "v": string(val)}, nil
	case uuid.UUID:
		return map[string]any{tagKey: tagUUID, "v": val.String()}, nil
	case *OrderedMap:
		return e.encodeOrderedMap(val, component, key)
	case *DefaultMap:
		return e.encodeDefaultMap(val, component, key)
	case *Notification:
		return e.encodeNotification(val, component, key)
	}

	// Registered reference kinds: exact type, then first matching
	// supertype. A codec may decline by returning (nil, nil).
	if c := e.Refs.Lookup(v); c != nil {
		data, err := c.Encode(v)
		if err != nil {
			return nil, err
		}
		if data != nil {
			return map[string]any{tagKey: tagRef, "p": c.Prefix(), "d": data}, nil
		}
	}

	// Nested component state.
	if comp, ok := v.(Component); ok {
		if _, registered := e.Components.New(comp.ComponentName()); registered {
			stateWire, err := e.encodeStringMap(comp.StateMap(), component, key)
			if err != nil {
				return nil, err
			}
			return map[string]any{tagKey: tagComponent, "n": comp.ComponentName(), "s": stateWire}, nil
		}
	}

	// Registered value objects (entity/form models used as plain values).
	if name, ok := e.Objects.NameFor(v); ok {
		fc, ok := v.(FieldCarrier)
		if !ok {
			return nil, &UnserializableError{Component: component, Key: key, Value: v}
		}
		fieldsWire, err := e.encodeStringMap(fc.Fields(), component, key)
		if err != nil {
			return nil, err
		}
		return map[string]any{tagKey: tagObject, "n": name, "f": fieldsWire}, nil
	}

	// Generic containers.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := e.encodeValue(rv.Index(i).Interface(), component, key)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &UnserializableError{Component: component, Key: key, Value: v}
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ev, err := e.encodeValue(iter.Value().Interface(), component, key)
			if err != nil {
				return nil, err
			}
			m[iter.Key().String()] = ev
		}
		// A user map holding the tag key must not be mistaken for a
		// tagged wire value.
		if _, clash := m[tagKey]; clash {
			return map[string]any{tagKey: tagRaw, "v": m}, nil
		}
		return m, nil
	}

	return nil, &UnserializableError{Component: component, Key: key, Value: v}
}

func (e *Encoder) encodeStringMap(m map[string]any, component, key string) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		ev, err := e.encodeValue(v, component, key)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

func (e *Encoder) encodeOrderedMap(m *OrderedMap, component, key string) (any, error) {
	keys := m.Keys()
	wireKeys := make([]any, len(keys))
	values := make(map[string]any, len(keys))
	for i, k := range keys {
		wireKeys[i] = k
		v, _ := m.Get(k)
		ev, err := e.encodeValue(v, component, key)
		if err != nil {
			return nil, err
		}
		values[k] = ev
	}
	return map[string]any{tagKey: tagOrderedMap, "k": wireKeys, "v": values}, nil
}

func (e *Encoder) encodeDefaultMap(m *DefaultMap, component, key string) (any, error) {
	def, err := e.encodeValue(m.Default, component, key)
	if err != nil {
		return nil, err
	}
	values, err := e.encodeStringMap(m.Values(), component, key)
	if err != nil {
		return nil, err
	}
	return map[string]any{tagKey: tagDefaultMap, "d": def, "v": values}, nil
}

func (e *Encoder) encodeNotification(n *Notification, component, key string) (any, error) {
	data, err := e.encodeStringMap(n.Data, component, key)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		tagKey: tagNotification,
		"e":    n.Event,
		"ti":   n.Title,
		"b":    n.Body,
		"l":    n.Level,
		"d":    data,
	}, nil
}
