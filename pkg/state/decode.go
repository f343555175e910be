package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tetra-web/tetra/pkg/state/refcodec"
)

// Decoder reconstructs snapshots from the generic wire structure. Every
// non-primitive value resolves through an explicit allowlist, in order:
// registered reference prefixes, builtin containers, safe value types, the
// notification type, registered component types (verified against the
// Component marker interface, not by name), and registered value-object
// types. Any other type reference aborts with PolicyViolationError: a
// token can never cause construction of a type the server did not
// explicitly allow.
type Decoder struct {
	Refs       *refcodec.Registry
	Components *TypeTable
	Objects    *TypeTable
}

// DecodeSnapshot reconstructs a snapshot from its wire structure.
func (d *Decoder) DecodeSnapshot(ctx context.Context, wire map[string]any) (*Snapshot, error) {
	component, _ := wire["c"].(string)
	instanceID, _ := wire["i"].(string)

	attrsWire, ok := wire["a"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("state: snapshot has no attribute map")
	}

	attrs := make(map[string]any, len(attrsWire))
	for k, v := range attrsWire {
		dv, err := d.decodeValue(ctx, v)
		if err != nil {
			return nil, err
		}
		attrs[k] = dv
	}

	var deps []string
	if depsWire, ok := wire["d"].([]any); ok {
		for _, dep := range depsWire {
			if s, ok := dep.(string); ok {
				deps = append(deps, s)
			}
		}
	}

	// A load-dependency attribute that resolved to nothing means the
	// snapshot cannot be used: the component's load phase needs that
	// entity. This is an expected outcome under concurrent edits, so it
	// has its own error.
	for _, dep := range deps {
		if v, present := attrs[dep]; present && v == nil {
			return nil, ErrStateRefresh
		}
	}

	return &Snapshot{
		Component:  component,
		InstanceID: instanceID,
		Attrs:      attrs,
		LoadDeps:   deps,
	}, nil
}

func (d *Decoder) decodeValue(ctx context.Context, v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if tag, tagged := val[tagKey].(string); tagged {
			return d.decodeTagged(ctx, tag, val)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			dv, err := d.decodeValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			dv, err := d.decodeValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	default:
		// Primitive as decoded by msgpack.
		return v, nil
	}
}

func (d *Decoder) decodeTagged(ctx context.Context, tag string, val map[string]any) (any, error) {
	switch tag {
	case tagRef:
		prefix, _ := val["p"].(string)
		data, _ := val["d"].([]byte)
		out, err := d.Refs.Decode(ctx, prefix, data)
		if err != nil {
			if prefix == "" || errors.Is(err, refcodec.ErrUnknownPrefix) {
				// Unrecognized prefixes are tamper evidence.
				return nil, &PolicyViolationError{Tag: prefix}
			}
			return nil, err
		}
		return out, nil

	case tagRaw:
		inner, ok := val["v"].(map[string]any)
		if !ok {
			return nil, malformed(tag)
		}
		out := make(map[string]any, len(inner))
		for k, item := range inner {
			dv, err := d.decodeValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil

	case tagTime:
		s, ok := val["v"].(string)
		if !ok {
			return nil, malformed(tag)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, malformed(tag)
		}
		return t, nil

	case tagDuration:
		n, ok := asInt64(val["v"])
		if !ok {
			return nil, malformed(tag)
		}
		return time.Duration(n), nil

	case tagDecimal:
		s, ok := val["v"].(string)
		if !ok {
			return nil, malformed(tag)
		}
		return Decimal(s), nil

	case tagPath:
		s, ok := val["v"].(string)
		if !ok {
			return nil, malformed(tag)
		}
		return Path(s), nil

	case tagSafeHTML:
		s, ok := val["v"].(string)
		if !ok {
			return nil, malformed(tag)
		}
		return SafeHTML(s), nil

	case tagUUID:
		s, ok := val["v"].(string)
		if !ok {
			return nil, malformed(tag)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, malformed(tag)
		}
		return id, nil

	case tagOrderedMap:
		return d.decodeOrderedMap(ctx, val)

	case tagDefaultMap:
		return d.decodeDefaultMap(ctx, val)

	case tagNotification:
		return d.decodeNotification(ctx, val)

	case tagComponent:
		return d.decodeComponent(ctx, val)

	case tagObject:
		return d.decodeObject(ctx, val)
	}

	return nil, &PolicyViolationError{Tag: tag}
}

func (d *Decoder) decodeOrderedMap(ctx context.Context, val map[string]any) (any, error) {
	keysWire, ok := val["k"].([]any)
	if !ok {
		return nil, malformed(tagOrderedMap)
	}
	valuesWire, ok := val["v"].(map[string]any)
	if !ok {
		return nil, malformed(tagOrderedMap)
	}

	m := NewOrderedMap()
	for _, kw := range keysWire {
		k, ok := kw.(string)
		if !ok {
			return nil, malformed(tagOrderedMap)
		}
		dv, err := d.decodeValue(ctx, valuesWire[k])
		if err != nil {
			return nil, err
		}
		m.Set(k, dv)
	}
	return m, nil
}

func (d *Decoder) decodeDefaultMap(ctx context.Context, val map[string]any) (any, error) {
	def, err := d.decodeValue(ctx, val["d"])
	if err != nil {
		return nil, err
	}
	valuesWire, ok := val["v"].(map[string]any)
	if !ok {
		return nil, malformed(tagDefaultMap)
	}

	m := NewDefaultMap(def)
	for k, item := range valuesWire {
		dv, err := d.decodeValue(ctx, item)
		if err != nil {
			return nil, err
		}
		m.Set(k, dv)
	}
	return m, nil
}

func (d *Decoder) decodeNotification(ctx context.Context, val map[string]any) (any, error) {
	n := &Notification{}
	n.Event, _ = val["e"].(string)
	n.Title, _ = val["ti"].(string)
	n.Body, _ = val["b"].(string)
	n.Level, _ = val["l"].(string)

	if dataWire, ok := val["d"].(map[string]any); ok && len(dataWire) > 0 {
		data := make(map[string]any, len(dataWire))
		for k, item := range dataWire {
			dv, err := d.decodeValue(ctx, item)
			if err != nil {
				return nil, err
			}
			data[k] = dv
		}
		n.Data = data
	}
	return n, nil
}

func (d *Decoder) decodeComponent(ctx context.Context, val map[string]any) (any, error) {
	name, _ := val["n"].(string)

	instance, registered := d.Components.New(name)
	if !registered {
		return nil, &PolicyViolationError{Tag: name}
	}
	// The factory must produce an actual framework component. Names
	// alone are not trusted; the marker interface is the base check.
	comp, ok := instance.(Component)
	if !ok {
		return nil, &PolicyViolationError{Tag: name}
	}

	stateWire, ok := val["s"].(map[string]any)
	if !ok {
		return nil, malformed(tagComponent)
	}
	stateMap := make(map[string]any, len(stateWire))
	for k, item := range stateWire {
		dv, err := d.decodeValue(ctx, item)
		if err != nil {
			return nil, err
		}
		stateMap[k] = dv
	}
	comp.SetStateMap(stateMap)
	return comp, nil
}

func (d *Decoder) decodeObject(ctx context.Context, val map[string]any) (any, error) {
	name, _ := val["n"].(string)

	instance, registered := d.Objects.New(name)
	if !registered {
		return nil, &PolicyViolationError{Tag: name}
	}
	fc, ok := instance.(FieldCarrier)
	if !ok {
		return nil, &PolicyViolationError{Tag: name}
	}

	fieldsWire, ok := val["f"].(map[string]any)
	if !ok {
		return nil, malformed(tagObject)
	}
	fields := make(map[string]any, len(fieldsWire))
	for k, item := range fieldsWire {
		dv, err := d.decodeValue(ctx, item)
		if err != nil {
			return nil, err
		}
		fields[k] = dv
	}
	fc.SetFields(fields)
	return fc, nil
}

func malformed(tag string) error {
	return fmt.Errorf("state: malformed %q value in payload", tag)
}

// asInt64 normalizes the integer widths msgpack may produce.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
