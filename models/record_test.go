package models

import (
	"encoding/json"
	"testing"
)

func TestRecordMarshalJSONKeepsFieldOrder(t *testing.T) {
	r := NewRecord(
		Field{Name: "title", Value: "A Light in the Attic"},
		Field{Name: "price", Value: 51.77},
		Field{Name: "rating", Value: 3},
		Field{Name: "availability", Value: nil},
	)

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"title":"A Light in the Attic","price":51.77,"rating":3,"availability":null}`
	if string(data) != want {
		t.Fatalf("json = %s, want %s", data, want)
	}
}

func TestRecordIsImmutable(t *testing.T) {
	fields := []Field{{Name: "a", Value: "1"}}
	r := NewRecord(fields...)
	fields[0].Value = "changed"

	out := r.Fields()
	out[0].Value = "changed too"

	if got := r.String("a"); got != "1" {
		t.Fatalf("record changed to %q", got)
	}
}

func TestRecordAccessors(t *testing.T) {
	r := NewRecord(Field{Name: "a", Value: "x"}, Field{Name: "b", Value: nil})

	if r.Len() != 2 {
		t.Fatalf("len = %d", r.Len())
	}
	if names := r.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v", names)
	}
	if v, ok := r.Get("b"); !ok || v != nil {
		t.Fatalf("get b = %v, %v", v, ok)
	}
	if _, ok := r.Get("c"); ok {
		t.Fatal("expected c to be absent")
	}
}

func TestRecordEqual(t *testing.T) {
	a := NewRecord(Field{Name: "a", Value: 1.5}, Field{Name: "b", Value: "x"})
	b := NewRecord(Field{Name: "a", Value: 1.5}, Field{Name: "b", Value: "x"})
	c := NewRecord(Field{Name: "b", Value: "x"}, Field{Name: "a", Value: 1.5})

	if !a.Equal(b) {
		t.Fatal("expected equal records")
	}
	if a.Equal(c) {
		t.Fatal("field order must matter")
	}
}

func TestRecordEqualWithUncomparableValues(t *testing.T) {
	a := NewRecord(Field{Name: "tags", Value: []any{}}, Field{Name: "meta", Value: map[string]any{"k": 1.0}})
	b := NewRecord(Field{Name: "tags", Value: []any{}}, Field{Name: "meta", Value: map[string]any{"k": 1.0}})
	c := NewRecord(Field{Name: "tags", Value: []any{"x"}}, Field{Name: "meta", Value: map[string]any{"k": 1.0}})
	d := NewRecord(Field{Name: "tags", Value: "x"}, Field{Name: "meta", Value: nil})

	if !a.Equal(b) {
		t.Fatal("expected equal records with slice and map values")
	}
	if a.Equal(c) {
		t.Fatal("different slice contents must not be equal")
	}
	if a.Equal(d) || d.Equal(a) {
		t.Fatal("values of different types must not be equal")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{51.77, "51.77"},
		{10.0, "10"},
		{4, "4"},
		{true, "true"},
	}

	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Fatalf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
