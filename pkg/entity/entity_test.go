package entity

import (
	"testing"
)

func TestRecordBasics(t *testing.T) {
	r := NewRecord("invoice", "inv-1")
	if got := r.EntityType(); got != "invoice" {
		t.Fatalf("EntityType() = %q, want %q", got, "invoice")
	}
	if got := r.EntityID(); got != "inv-1" {
		t.Fatalf("EntityID() = %q, want %q", got, "inv-1")
	}

	r.Set("total", 42)
	v, ok := r.Field("total")
	if !ok || v != 42 {
		t.Fatalf("Field(total) = %v, %v; want 42, true", v, ok)
	}
	if _, ok := r.Field("missing"); ok {
		t.Fatal("Field(missing) reported ok")
	}
}

func TestBaseFieldsReturnsCopy(t *testing.T) {
	r := NewRecord("invoice", "inv-1")
	r.Set("total", 42)

	fields := r.Fields()
	fields["total"] = 99

	v, _ := r.Field("total")
	if v != 42 {
		t.Fatalf("mutating Fields() copy leaked into entity: got %v", v)
	}
}

func TestBaseFieldNamesSorted(t *testing.T) {
	r := NewRecord("invoice", "inv-1")
	r.Set("zeta", 1)
	r.Set("alpha", 2)
	r.Set("mid", 3)

	names := r.FieldNames()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("FieldNames() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("FieldNames()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRegistryNew(t *testing.T) {
	reg := NewRegistry()
	reg.Register("invoice", func(id string) Entity { return NewRecord("invoice", id) })

	e, ok := reg.New("invoice", "inv-7")
	if !ok {
		t.Fatal("New(invoice) reported unknown type")
	}
	if e.EntityType() != "invoice" || e.EntityID() != "inv-7" {
		t.Fatalf("New(invoice, inv-7) = (%s, %s)", e.EntityType(), e.EntityID())
	}

	if _, ok := reg.New("receipt", "r-1"); ok {
		t.Fatal("New(receipt) succeeded for unregistered type")
	}
	if reg.Known("receipt") {
		t.Fatal("Known(receipt) = true for unregistered type")
	}
	if !reg.Known("invoice") {
		t.Fatal("Known(invoice) = false")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	reg.Register("invoice", func(id string) Entity { return NewRecord("invoice", id) })

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg.Register("invoice", func(id string) Entity { return NewRecord("invoice", id) })
}

func TestRegistryRejectsDottedNames(t *testing.T) {
	reg := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on dotted type name")
		}
	}()
	reg.Register("invoice.archived", func(id string) Entity { return NewRecord("invoice", id) })
}

func TestRegistryTypesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("receipt", func(id string) Entity { return NewRecord("receipt", id) })
	reg.Register("invoice", func(id string) Entity { return NewRecord("invoice", id) })

	types := reg.Types()
	if len(types) != 2 || types[0] != "invoice" || types[1] != "receipt" {
		t.Fatalf("Types() = %v, want [invoice receipt]", types)
	}
}
