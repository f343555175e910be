package refcodec

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type widget struct{ id string }

type widgetCodec struct{}

func (widgetCodec) Prefix() string     { return "widget" }
func (widgetCodec) Type() reflect.Type { return reflect.TypeOf((*widget)(nil)) }

func (widgetCodec) Encode(v any) ([]byte, error) {
	w, ok := v.(*widget)
	if !ok {
		return nil, nil
	}
	return []byte(w.id), nil
}

func (widgetCodec) Decode(ctx context.Context, data []byte) (any, error) {
	return &widget{id: string(data)}, nil
}

type named interface{ Name() string }

type gadget struct{}

func (gadget) Name() string { return "gadget" }

type namedCodec struct{}

func (namedCodec) Prefix() string     { return "named" }
func (namedCodec) Type() reflect.Type { return reflect.TypeOf((*named)(nil)).Elem() }
func (namedCodec) Encode(v any) ([]byte, error) {
	n, ok := v.(named)
	if !ok {
		return nil, nil
	}
	return []byte(n.Name()), nil
}
func (namedCodec) Decode(ctx context.Context, data []byte) (any, error) {
	return string(data), nil
}

// namedWidget satisfies both the exact widget codec's type and the named
// interface; exact registration must win.
type namedWidget struct{ widget }

func (namedWidget) Name() string { return "named widget" }

func TestRegistryLookupExact(t *testing.T) {
	r := NewRegistry()
	r.Register(widgetCodec{})

	c := r.Lookup(&widget{id: "w1"})
	if c == nil {
		t.Fatal("Lookup returned nil for registered type")
	}
	if c.Prefix() != "widget" {
		t.Fatalf("Prefix() = %q, want widget", c.Prefix())
	}

	if r.Lookup("a string") != nil {
		t.Fatal("Lookup claimed an unregistered type")
	}
	if r.Lookup(nil) != nil {
		t.Fatal("Lookup claimed nil")
	}
}

func TestRegistryLookupInterface(t *testing.T) {
	r := NewRegistry()
	r.Register(namedCodec{})

	c := r.Lookup(gadget{})
	if c == nil || c.Prefix() != "named" {
		t.Fatalf("Lookup(gadget) = %v, want named codec", c)
	}
}

func TestRegistryExactBeatsInterface(t *testing.T) {
	r := NewRegistry()
	r.Register(namedCodec{})

	exact := exactNamedWidgetCodec{}
	r.Register(exact)

	c := r.Lookup(&namedWidget{})
	if c == nil || c.Prefix() != "nwidget" {
		t.Fatalf("Lookup(*namedWidget) picked %v, want exact codec", c)
	}
}

type exactNamedWidgetCodec struct{}

func (exactNamedWidgetCodec) Prefix() string     { return "nwidget" }
func (exactNamedWidgetCodec) Type() reflect.Type { return reflect.TypeOf((*namedWidget)(nil)) }
func (exactNamedWidgetCodec) Encode(v any) ([]byte, error) {
	return []byte("exact"), nil
}
func (exactNamedWidgetCodec) Decode(ctx context.Context, data []byte) (any, error) {
	return &namedWidget{}, nil
}

func TestRegistryDecodeDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register(widgetCodec{})

	v, err := r.Decode(context.Background(), "widget", []byte("w9"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	w, ok := v.(*widget)
	if !ok || w.id != "w9" {
		t.Fatalf("Decode = %#v", v)
	}
}

func TestRegistryDecodeUnknownPrefix(t *testing.T) {
	r := NewRegistry()
	r.Register(widgetCodec{})

	if _, err := r.Decode(context.Background(), "pickle", []byte("x")); !errors.Is(err, ErrUnknownPrefix) {
		t.Fatalf("Decode(pickle): %v, want ErrUnknownPrefix", err)
	}
}

func TestRegistryPrefixCollisionPanics(t *testing.T) {
	r := NewRegistry()
	r.Register(widgetCodec{})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on prefix collision")
		}
	}()
	r.Register(widgetCodec{})
}
