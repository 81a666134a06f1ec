package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oriys/courier/internal/bpickle"
)

func TestExchangeSendsExpectedHeaders(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Error("expected non-empty request body")
		}
		resp, _ := bpickle.Encode(bpickle.Dict(map[string]bpickle.Value{
			"next-expected-sequence": bpickle.Int(1),
		}))
		w.Write(resp)
	}))
	defer srv.Close()

	tr := New(srv.URL, "1.0.0")
	payload, _ := bpickle.Encode(bpickle.Dict(nil))
	result, err := tr.Exchange(context.Background(), payload, Options{
		ComputerID:    "computer-1",
		ExchangeToken: "token-xyz",
		MessageAPI:    "3.3",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotHeaders.Get("X-Message-API") != "3.3" {
		t.Fatalf("got X-Message-API %q, want 3.3", gotHeaders.Get("X-Message-API"))
	}
	if gotHeaders.Get("X-Computer-ID") != "computer-1" {
		t.Fatalf("got X-Computer-ID %q, want computer-1", gotHeaders.Get("X-Computer-ID"))
	}
	if gotHeaders.Get("X-Exchange-Token") != "token-xyz" {
		t.Fatalf("got X-Exchange-Token %q, want token-xyz", gotHeaders.Get("X-Exchange-Token"))
	}
	if gotHeaders.Get("Content-Type") != "application/octet-stream" {
		t.Fatalf("got Content-Type %q, want application/octet-stream", gotHeaders.Get("Content-Type"))
	}

	seq, ok := result.Get("next-expected-sequence")
	if !ok || seq.Int != 1 {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestExchangeOmitsOptionalHeadersWhenEmpty(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		resp, _ := bpickle.Encode(bpickle.Dict(nil))
		w.Write(resp)
	}))
	defer srv.Close()

	tr := New(srv.URL, "1.0.0")
	payload, _ := bpickle.Encode(bpickle.Dict(nil))
	if _, err := tr.Exchange(context.Background(), payload, Options{}); err != nil {
		t.Fatal(err)
	}
	if gotHeaders.Get("X-Computer-ID") != "" {
		t.Fatal("expected no X-Computer-ID header when ComputerID is empty")
	}
	if gotHeaders.Get("X-Exchange-Token") != "" {
		t.Fatal("expected no X-Exchange-Token header when ExchangeToken is empty")
	}
}

func TestExchangeReturnsHTTPCodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("down for maintenance"))
	}))
	defer srv.Close()

	tr := New(srv.URL, "1.0.0")
	payload, _ := bpickle.Encode(bpickle.Dict(nil))
	_, err := tr.Exchange(context.Background(), payload, Options{})
	var codeErr *HTTPCodeError
	if err == nil {
		t.Fatal("expected error")
	}
	if !isHTTPCodeError(err, &codeErr) {
		t.Fatalf("expected *HTTPCodeError, got %T: %v", err, err)
	}
	if codeErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got code %d, want 503", codeErr.Code)
	}
}

func TestExchangeConnectTimeoutFailsFastOnBlackholeAddress(t *testing.T) {
	// 10.255.255.1 is routed but silently drops SYNs, the standard
	// black-hole address for exercising a dial timeout without a real
	// unreachable network.
	tr := newWithTimeouts("http://10.255.255.1:81", "1.0.0", 200*time.Millisecond, 5*time.Second)
	payload, _ := bpickle.Encode(bpickle.Dict(nil))

	start := time.Now()
	_, err := tr.Exchange(context.Background(), payload, Options{})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected a dial error")
	}
	if elapsed > 4*time.Second {
		t.Fatalf("exchange took %s, want it bounded by the connect timeout rather than the total timeout", elapsed)
	}
}

func TestExchangeHonorsPerCallConnectTimeoutOverride(t *testing.T) {
	tr := New("http://10.255.255.1:81", "1.0.0")
	payload, _ := bpickle.Encode(bpickle.Dict(nil))

	start := time.Now()
	_, err := tr.Exchange(context.Background(), payload, Options{ConnectTimeout: 150 * time.Millisecond, TotalTimeout: 5 * time.Second})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected a dial error")
	}
	if elapsed > 4*time.Second {
		t.Fatalf("exchange took %s, want the per-call ConnectTimeout override honored", elapsed)
	}
}

func isHTTPCodeError(err error, target **HTTPCodeError) bool {
	if e, ok := err.(*HTTPCodeError); ok {
		*target = e
		return true
	}
	return false
}
