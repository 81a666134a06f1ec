package exchangestore

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "exchange.database"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mc, err := s.Add(ctx, 1, "secure-abc", "exec-request")
	if err != nil {
		t.Fatal(err)
	}
	if mc.OperationID != 1 {
		t.Fatalf("got operation id %d, want 1", mc.OperationID)
	}

	got, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.SecureID != "secure-abc" || got.MessageType != "exec-request" {
		t.Fatalf("unexpected context: %+v", got)
	}
}

func TestAddDuplicateOperation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Add(ctx, 5, "secure-1", "type-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, 5, "secure-2", "type-b"); err != ErrDuplicateOperation {
		t.Fatalf("got %v, want ErrDuplicateOperation", err)
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Get(ctx, 999); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRemoveAndAllOperationIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mc1, _ := s.Add(ctx, 1, "s1", "t1")
	_, _ = s.Add(ctx, 2, "s2", "t2")

	ids, err := s.AllOperationIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}

	if err := s.Remove(ctx, mc1.ID); err != nil {
		t.Fatal(err)
	}
	ids, err = s.AllOperationIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("got %v, want [2]", ids)
	}
}
