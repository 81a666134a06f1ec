package kvstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New()
	if err := s.SetInt("message-store.sequence", 42); err != nil {
		t.Fatal(err)
	}
	if got := s.GetInt("message-store.sequence", -1); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bpickle")

	s := New()
	s.filename = path
	if err := s.SetText("registration.secure-id", "abc123"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.GetText("registration.secure-id", ""); got != "abc123" {
		t.Fatalf("got %q, want abc123", got)
	}
}

func TestLoadFallsBackToOld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bpickle")

	s := New()
	s.filename = path
	_ = s.SetInt("x", 1)
	_ = s.Save()
	_ = s.SetInt("x", 2)
	_ = s.Save() // primary now holds x=2, .old holds x=1

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.GetInt("x", -1); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}

	// An emptied primary (a crashed write) must fall back to .old.
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	loaded, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.GetInt("x", -1); got != 1 {
		t.Fatalf("got %d from .old fallback, want 1", got)
	}
}

func TestScopedGetSet(t *testing.T) {
	s := New()
	scoped := s.RootAt("registration")
	if err := scoped.SetInt("attempts", 3); err != nil {
		t.Fatal(err)
	}
	if got := scoped.GetInt("attempts", -1); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
	if got := s.GetInt("registration.attempts", -1); got != 3 {
		t.Fatalf("direct path access got %d, want 3", got)
	}
}

func TestGetTextPtrDistinguishesAbsentFromEmpty(t *testing.T) {
	s := New()
	if p := s.GetTextPtr("registration.secure-id"); p != nil {
		t.Fatalf("expected nil for absent key, got %v", p)
	}
	empty := ""
	_ = s.SetTextPtr("registration.secure-id", &empty)
	if p := s.GetTextPtr("registration.secure-id"); p == nil || *p != "" {
		t.Fatalf("expected empty string pointer, got %v", p)
	}
}
