package messagestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/oriys/courier/internal/bpickle"
	"github.com/oriys/courier/internal/kvstore"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dir := t.TempDir()
	persist := kvstore.New()
	s, err := New(persist, filepath.Join(dir, "messages"), NewRegistry(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAddAndGetPendingMessages(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetAcceptedTypes([]string{"test"}); err != nil {
		t.Fatal(err)
	}
	id, err := s.Add(NewMessage("test", map[string]any{"payload": "x"}))
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("expected nonzero message id")
	}

	msgs, err := s.GetPendingMessages(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d pending messages, want 1", len(msgs))
	}
	if Type(msgs[0]) != "test" {
		t.Fatalf("got type %q, want test", Type(msgs[0]))
	}
}

func TestAddHoldsUnacceptedType(t *testing.T) {
	s := newTestStore(t)
	// no accepted types registered
	if _, err := s.Add(NewMessage("test", nil)); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.GetPendingMessages(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected held message to be excluded, got %d", len(msgs))
	}
}

func TestSetAcceptedTypesUnholdsMatchingMessages(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Add(NewMessage("test", nil)); err != nil {
		t.Fatal(err)
	}
	if msgs, _ := s.GetPendingMessages(10); len(msgs) != 0 {
		t.Fatalf("expected 0 pending before accept, got %d", len(msgs))
	}
	if err := s.SetAcceptedTypes([]string{"test"}); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.GetPendingMessages(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected message unheld after accept, got %d", len(msgs))
	}
}

func TestGotNextExpectedRegularCase(t *testing.T) {
	s := newTestStore(t)
	_ = s.SetAcceptedTypes([]string{"test"})
	for i := 0; i < 3; i++ {
		if _, err := s.Add(NewMessage("test", nil)); err != nil {
			t.Fatal(err)
		}
	}
	outcome := GotNextExpected(s, 3)
	if outcome.Resync {
		t.Fatal("expected no resync for regular case")
	}
	if s.GetSequence() != 3 {
		t.Fatalf("got sequence %d, want 3", s.GetSequence())
	}
	if s.GetPendingOffset() != 3 {
		t.Fatalf("got pending offset %d, want 3", s.GetPendingOffset())
	}
}

func TestGotNextExpectedFutureCaseAlwaysResyncs(t *testing.T) {
	s := newTestStore(t)
	outcome := GotNextExpected(s, 100)
	if !outcome.Resync {
		t.Fatal("expected resync when peer expects far more than we hold")
	}
}

func TestGotNextExpectedAncientCase(t *testing.T) {
	s := newTestStore(t)
	_ = s.SetSequence(10)
	_ = s.SetPendingOffset(2)
	outcome := GotNextExpected(s, 1)
	if !outcome.Resync {
		t.Fatal("expected resync for ancient next-expected-sequence")
	}
	if s.GetPendingOffset() != 0 {
		t.Fatalf("got pending offset %d, want 0", s.GetPendingOffset())
	}
}

func TestRecordFailureBlackholesAfterAWeek(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := newTestStore(t, WithClock(clock))

	if err := s.RecordFailure(); err != nil {
		t.Fatal(err)
	}
	clock.now = clock.now.Add(8 * 24 * time.Hour)
	if err := s.RecordFailure(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Add(NewMessage("custom", nil)); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.GetPendingMessages(10)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		if Type(m) == "custom" {
			t.Fatal("expected new messages to be dropped while blackholed")
		}
	}
}

func TestSessionIDsArePersistentPerScope(t *testing.T) {
	s := newTestStore(t)
	id1 := s.GetSessionID("monitor")
	id2 := s.GetSessionID("monitor")
	if id1 != id2 {
		t.Fatalf("expected stable session id for same scope, got %q and %q", id1, id2)
	}
	if !s.IsValidSessionID(id1) {
		t.Fatal("expected session id to be valid")
	}
	id3 := s.GetSessionID("other")
	if id3 == id1 {
		t.Fatal("expected distinct session ids for distinct scopes")
	}
}

func TestDeleteAllMessages(t *testing.T) {
	s := newTestStore(t)
	_ = s.SetAcceptedTypes([]string{"test"})
	for i := 0; i < 3; i++ {
		if _, err := s.Add(NewMessage("test", nil)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeleteAllMessages(); err != nil {
		t.Fatal(err)
	}
	if n := s.CountPendingMessages(); n != 0 {
		t.Fatalf("got %d pending after delete-all, want 0", n)
	}
}

func TestMessageCoercionAppliesHighestCompatibleSchema(t *testing.T) {
	registry := NewRegistry()
	registry.Register("ping", "3.2", func(m Message) (Message, error) {
		return WithField(m, "seen", bpickle.Text("v3.2")), nil
	})
	registry.Register("ping", "3.3", func(m Message) (Message, error) {
		return WithField(m, "seen", bpickle.Text("v3.3")), nil
	})

	dir := t.TempDir()
	persist := kvstore.New()
	s, err := New(persist, filepath.Join(dir, "messages"), registry)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.SetServerAPI("3.3")
	_ = s.SetAcceptedTypes([]string{"ping"})

	if _, err := s.Add(NewMessage("ping", nil)); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.GetPendingMessages(10)
	if err != nil {
		t.Fatal(err)
	}
	seen, _ := msgs[0].Get("seen")
	if seen.Text != "v3.3" {
		t.Fatalf("got %q, want v3.3", seen.Text)
	}
}
