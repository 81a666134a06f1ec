package registration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oriys/courier/internal/bpickle"
	"github.com/oriys/courier/internal/exchange"
	"github.com/oriys/courier/internal/exchangestore"
	"github.com/oriys/courier/internal/kvstore"
	"github.com/oriys/courier/internal/messagestore"
	"github.com/oriys/courier/internal/reactor"
	"github.com/oriys/courier/internal/transport"
)

type fakeReg struct{ secureID string }

func (f fakeReg) SecureID() string { return f.secureID }

func newTestHandler(t *testing.T, handler http.HandlerFunc) (*Handler, *Identity, *reactor.Reactor) {
	t.Helper()
	dir := t.TempDir()
	persist := kvstore.New()
	store, err := messagestore.New(persist, filepath.Join(dir, "messages"), messagestore.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetAcceptedTypes([]string{"register"}); err != nil {
		t.Fatal(err)
	}
	exStore, err := exchangestore.Open(filepath.Join(dir, "exchange.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { exStore.Close() })

	if handler == nil {
		handler = func(w http.ResponseWriter, req *http.Request) {
			resp, _ := bpickle.Encode(bpickle.Dict(nil))
			w.Write(resp)
		}
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr := transport.New(srv.URL, "1.0.0")

	r := reactor.New()
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() { cancel(); r.Stop() })

	cfg := &exchange.Config{ExchangeInterval: time.Hour, UrgentExchangeInterval: time.Minute, MaxMessages: 10}
	ex := exchange.New(r, store, exStore, tr, fakeReg{secureID: "secure-1"}, cfg, nil, exchange.NewMetrics(prometheus.NewRegistry()))

	identity := NewIdentity(persist, "my-computer", "my-account", "s3cret", "", "")
	h := New(identity, r, ex, store)
	return h, identity, r
}

func TestShouldRegisterRequiresAccountAndTitle(t *testing.T) {
	h, identity, _ := newTestHandler(t, nil)
	if !h.ShouldRegister() {
		t.Fatal("expected ShouldRegister to be true with account name and title set")
	}
	identity.SetSecureID("already-registered")
	if h.ShouldRegister() {
		t.Fatal("expected ShouldRegister to be false once a secure id is set")
	}
	identity.SetSecureID("")
	identity.AccountName = ""
	if h.ShouldRegister() {
		t.Fatal("expected ShouldRegister to be false without an account name")
	}
	identity.AccountName = "account"
	identity.ComputerTitle = ""
	if h.ShouldRegister() {
		t.Fatal("expected ShouldRegister to be false without a computer title")
	}
}

func TestHandleSetIDFiresRegistrationDone(t *testing.T) {
	h, identity, r := newTestHandler(t, nil)
	done := make(chan struct{})
	r.CallOn("registration-done", func(map[string]any) { close(done) })

	h.handleSetID(messagestore.NewMessage("set-id", map[string]any{
		"id":          "secure-xyz",
		"insecure-id": "insecure-xyz",
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registration-done never fired")
	}
	if identity.SecureID() != "secure-xyz" {
		t.Fatalf("got secure id %q, want secure-xyz", identity.SecureID())
	}
	if identity.InsecureID() != "insecure-xyz" {
		t.Fatalf("got insecure id %q, want insecure-xyz", identity.InsecureID())
	}
}

func TestHandleUnknownIDClearsIdentity(t *testing.T) {
	h, identity, _ := newTestHandler(t, nil)
	identity.SetSecureID("old-secure")
	identity.SetInsecureID("old-insecure")

	h.handleUnknownID(messagestore.NewMessage("unknown-id", nil))

	if identity.SecureID() != "" {
		t.Fatal("expected secure id to be cleared")
	}
	if identity.InsecureID() != "" {
		t.Fatal("expected insecure id to be cleared")
	}
}

func TestHandleUnknownIDSetsCloneTitle(t *testing.T) {
	h, identity, _ := newTestHandler(t, nil)

	h.handleUnknownID(messagestore.NewMessage("unknown-id", map[string]any{"clone-of": "other-computer"}))

	want := "my-computer (clone of other-computer)"
	if identity.ComputerTitle != want {
		t.Fatalf("got title %q, want %q", identity.ComputerTitle, want)
	}
}

func TestHandleRegistrationFiresFailedOnUnknownAccount(t *testing.T) {
	h, _, r := newTestHandler(t, nil)
	failed := make(chan map[string]any, 1)
	r.CallOn("registration-failed", func(args map[string]any) { failed <- args })

	h.handleRegistration(messagestore.NewMessage("registration", map[string]any{"info": "unknown-account"}))

	select {
	case args := <-failed:
		if args["reason"] != "unknown-account" {
			t.Fatalf("unexpected reason: %v", args["reason"])
		}
	case <-time.After(time.Second):
		t.Fatal("registration-failed never fired")
	}
}
