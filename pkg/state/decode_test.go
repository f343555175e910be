package state

import (
	"context"
	"errors"
	"testing"

	"github.com/tetra-web/tetra/pkg/state/refcodec"
)

type plainStruct struct {
	Name string
}

// notAComponent is registered under a component name but does not satisfy
// the component contract.
type notAComponent struct{}

func newTestDecoder() *Decoder {
	components := NewTypeTable()
	components.Register("counter", func() any { return &counterComponent{} })
	components.Register("impostor", func() any { return &notAComponent{} })
	return &Decoder{
		Refs:       refcodec.NewRegistry(),
		Components: components,
		Objects:    NewTypeTable(),
	}
}

func wireSnapshot(attrs map[string]any) map[string]any {
	return map[string]any{"c": "x", "i": "x-1", "a": attrs}
}

func TestDecoder_UnknownTagIsPolicyViolation(t *testing.T) {
	d := newTestDecoder()

	_, err := d.DecodeSnapshot(context.Background(), wireSnapshot(map[string]any{
		"v": map[string]any{"$t": "pickle", "v": "gASV"},
	}))
	if !IsPolicyViolation(err) {
		t.Fatalf("got %v, want PolicyViolationError", err)
	}
	var pv *PolicyViolationError
	if errors.As(err, &pv) && pv.Tag != "pickle" {
		t.Fatalf("violation names %q, want pickle", pv.Tag)
	}
}

func TestDecoder_UnknownRefPrefixIsPolicyViolation(t *testing.T) {
	d := newTestDecoder()

	_, err := d.DecodeSnapshot(context.Background(), wireSnapshot(map[string]any{
		"v": map[string]any{"$t": "ref", "p": "gadget", "d": []byte("x")},
	}))
	if !IsPolicyViolation(err) {
		t.Fatalf("got %v, want PolicyViolationError", err)
	}
}

func TestDecoder_UnregisteredComponentRejected(t *testing.T) {
	d := newTestDecoder()

	_, err := d.DecodeSnapshot(context.Background(), wireSnapshot(map[string]any{
		"v": map[string]any{"$t": "comp", "n": "os_exec", "s": map[string]any{}},
	}))
	if !IsPolicyViolation(err) {
		t.Fatalf("got %v, want PolicyViolationError", err)
	}
}

func TestDecoder_ComponentContractVerified(t *testing.T) {
	d := newTestDecoder()

	// Registered name, but the factory's product is not a component. The
	// name being on the list is not enough.
	_, err := d.DecodeSnapshot(context.Background(), wireSnapshot(map[string]any{
		"v": map[string]any{"$t": "comp", "n": "impostor", "s": map[string]any{}},
	}))
	if !IsPolicyViolation(err) {
		t.Fatalf("got %v, want PolicyViolationError", err)
	}
}

func TestDecoder_UnregisteredObjectRejected(t *testing.T) {
	d := newTestDecoder()

	_, err := d.DecodeSnapshot(context.Background(), wireSnapshot(map[string]any{
		"v": map[string]any{"$t": "obj", "n": "plain", "f": map[string]any{}},
	}))
	if !IsPolicyViolation(err) {
		t.Fatalf("got %v, want PolicyViolationError", err)
	}
}

func TestDecoder_NestedViolationAborts(t *testing.T) {
	d := newTestDecoder()

	// A violation buried inside valid container structure still rejects
	// the whole snapshot.
	_, err := d.DecodeSnapshot(context.Background(), wireSnapshot(map[string]any{
		"items": []any{
			"fine",
			map[string]any{"deep": map[string]any{"$t": "evil"}},
		},
	}))
	if !IsPolicyViolation(err) {
		t.Fatalf("got %v, want PolicyViolationError", err)
	}
}

func TestDecoder_RawEscapePreservesUserMap(t *testing.T) {
	d := newTestDecoder()

	got, err := d.DecodeSnapshot(context.Background(), wireSnapshot(map[string]any{
		"m": map[string]any{"$t": "raw", "v": map[string]any{"$t": "user data"}},
	}))
	if err != nil {
		t.Fatalf("DecodeSnapshot() error: %v", err)
	}
	m, ok := got.Attrs["m"].(map[string]any)
	if !ok || m["$t"] != "user data" {
		t.Fatalf("raw map mismatch: got %v", got.Attrs["m"])
	}
}

func TestDecoder_OrderedMapKeepsInsertionOrder(t *testing.T) {
	e := &Encoder{Refs: refcodec.NewRegistry(), Components: NewTypeTable(), Objects: NewTypeTable()}
	d := newTestDecoder()

	om := NewOrderedMap()
	om.Set("zebra", 1)
	om.Set("apple", 2)
	om.Set("mango", 3)

	wire, err := e.EncodeSnapshot(&Snapshot{Component: "x", InstanceID: "x-1", Attrs: map[string]any{"m": om}})
	if err != nil {
		t.Fatalf("EncodeSnapshot() error: %v", err)
	}
	got, err := d.DecodeSnapshot(context.Background(), wire)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error: %v", err)
	}

	decoded, ok := got.Attrs["m"].(*OrderedMap)
	if !ok {
		t.Fatalf("type mismatch: got %T", got.Attrs["m"])
	}
	want := []string{"zebra", "apple", "mango"}
	keys := decoded.Keys()
	if len(keys) != len(want) {
		t.Fatalf("key count mismatch: got %v", keys)
	}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("order mismatch at %d: got %v want %v", i, keys, want)
		}
	}
}

func TestDecoder_DefaultMapFallback(t *testing.T) {
	e := &Encoder{Refs: refcodec.NewRegistry(), Components: NewTypeTable(), Objects: NewTypeTable()}
	d := newTestDecoder()

	dm := NewDefaultMap("n/a")
	dm.Set("known", "value")

	wire, err := e.EncodeSnapshot(&Snapshot{Component: "x", InstanceID: "x-1", Attrs: map[string]any{"m": dm}})
	if err != nil {
		t.Fatalf("EncodeSnapshot() error: %v", err)
	}
	got, err := d.DecodeSnapshot(context.Background(), wire)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error: %v", err)
	}

	decoded, ok := got.Attrs["m"].(*DefaultMap)
	if !ok {
		t.Fatalf("type mismatch: got %T", got.Attrs["m"])
	}
	if decoded.Get("known") != "value" {
		t.Fatalf("known key mismatch: got %v", decoded.Get("known"))
	}
	if decoded.Get("missing") != "n/a" {
		t.Fatalf("default mismatch: got %v", decoded.Get("missing"))
	}
}

func TestDecoder_NotificationRoundTrip(t *testing.T) {
	e := &Encoder{Refs: refcodec.NewRegistry(), Components: NewTypeTable(), Objects: NewTypeTable()}
	d := newTestDecoder()

	n := &Notification{
		Event: "export.finished",
		Title: "Export ready",
		Body:  "Your CSV export finished.",
		Level: "info",
		Data:  map[string]any{"rows": "1042"},
	}
	wire, err := e.EncodeSnapshot(&Snapshot{Component: "x", InstanceID: "x-1", Attrs: map[string]any{"n": n}})
	if err != nil {
		t.Fatalf("EncodeSnapshot() error: %v", err)
	}
	got, err := d.DecodeSnapshot(context.Background(), wire)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error: %v", err)
	}

	decoded, ok := got.Attrs["n"].(*Notification)
	if !ok {
		t.Fatalf("type mismatch: got %T", got.Attrs["n"])
	}
	if decoded.Event != n.Event || decoded.Title != n.Title || decoded.Level != n.Level {
		t.Fatalf("notification mismatch: got %+v", decoded)
	}
	if decoded.Data["rows"] != "1042" {
		t.Fatalf("data mismatch: got %v", decoded.Data)
	}
}

type addressObject struct {
	City string
	Zip  string
}

func (a *addressObject) Fields() map[string]any {
	return map[string]any{"city": a.City, "zip": a.Zip}
}

func (a *addressObject) SetFields(m map[string]any) {
	if s, ok := m["city"].(string); ok {
		a.City = s
	}
	if s, ok := m["zip"].(string); ok {
		a.Zip = s
	}
}

func TestDecoder_RegisteredObjectRoundTrip(t *testing.T) {
	objects := NewTypeTable()
	objects.Register("address", func() any { return &addressObject{} })

	e := &Encoder{Refs: refcodec.NewRegistry(), Components: NewTypeTable(), Objects: objects}
	d := &Decoder{Refs: refcodec.NewRegistry(), Components: NewTypeTable(), Objects: objects}

	wire, err := e.EncodeSnapshot(&Snapshot{
		Component:  "x",
		InstanceID: "x-1",
		Attrs:      map[string]any{"addr": &addressObject{City: "Oslo", Zip: "0150"}},
	})
	if err != nil {
		t.Fatalf("EncodeSnapshot() error: %v", err)
	}
	got, err := d.DecodeSnapshot(context.Background(), wire)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error: %v", err)
	}

	addr, ok := got.Attrs["addr"].(*addressObject)
	if !ok {
		t.Fatalf("type mismatch: got %T", got.Attrs["addr"])
	}
	if addr.City != "Oslo" || addr.Zip != "0150" {
		t.Fatalf("fields mismatch: got %+v", addr)
	}
}

func TestEncoder_UnregisteredStructRejected(t *testing.T) {
	e := &Encoder{Refs: refcodec.NewRegistry(), Components: NewTypeTable(), Objects: NewTypeTable()}

	_, err := e.EncodeSnapshot(&Snapshot{
		Component:  "x",
		InstanceID: "x-1",
		Attrs:      map[string]any{"v": plainStruct{Name: "nope"}},
	})
	var ue *UnserializableError
	if !errors.As(err, &ue) {
		t.Fatalf("got %v, want UnserializableError", err)
	}
}
