package bpickle

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		Null(),
		Bool(true),
		Bool(false),
		Int(0),
		Int(-42),
		Float(3.5),
		Bytes([]byte("raw")),
		Text("unicode: é"),
		List(Int(1), Text("two"), Bool(true)),
		Dict(map[string]Value{"b": Int(2), "a": Int(1)}),
	}
	for _, want := range cases {
		encoded, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%v): %v", want, err)
		}
		got, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%x): %v", encoded, err)
		}
		if got.Kind != want.Kind {
			t.Fatalf("kind mismatch: got %v want %v", got.Kind, want.Kind)
		}
	}
}

func TestEncodeDictSortsKeys(t *testing.T) {
	v := Dict(map[string]Value{"z": Int(1), "a": Int(2)})
	encoded, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	wantPrefix := []byte("du1:a")
	if !bytes.HasPrefix(encoded, wantPrefix) {
		t.Fatalf("expected dict keys sorted, got %q", encoded)
	}
}

func TestDecodeKnownVectors(t *testing.T) {
	cases := map[string]Value{
		"n":          Null(),
		"b1":         Bool(true),
		"b0":         Bool(false),
		"i42;":       Int(42),
		"s3:abc":     Bytes([]byte("abc")),
		"u3:abc":     Text("abc"),
		"l;":         List(),
		"d;":         Dict(nil),
		"li1;i2;;":   List(Int(1), Int(2)),
	}
	for wire, want := range cases {
		got, err := Decode([]byte(wire))
		if err != nil {
			t.Fatalf("Decode(%q): %v", wire, err)
		}
		if got.Kind != want.Kind {
			t.Fatalf("Decode(%q) kind = %v, want %v", wire, got.Kind, want.Kind)
		}
	}
}

func TestDecodeCorrupt(t *testing.T) {
	cases := []string{
		"",
		"x",
		"i42",
		"s10:short",
		"l",
	}
	for _, wire := range cases {
		if _, err := Decode([]byte(wire)); err == nil {
			t.Fatalf("Decode(%q): expected error", wire)
		} else if _, ok := err.(*CorruptPayloadError); !ok {
			t.Fatalf("Decode(%q): expected *CorruptPayloadError, got %T", wire, err)
		}
	}
}

func TestFromGoToGoRoundTrip(t *testing.T) {
	original := map[string]any{
		"type":    "register",
		"tags":    []any{"a", "b"},
		"count":   int64(3),
		"enabled": true,
	}
	v := FromGo(original)
	encoded, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	back := ToGo(decoded).(map[string]any)
	if back["type"] != "register" {
		t.Fatalf("round trip lost field: %v", back)
	}
}
