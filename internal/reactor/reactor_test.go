package reactor

import (
	"context"
	"sync"
	"testing"
	"time"
)

func startTestReactor(t *testing.T, opts ...Option) *Reactor {
	t.Helper()
	r := New(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		r.Stop()
	})
	return r
}

func TestCallLaterFiresOnce(t *testing.T) {
	r := startTestReactor(t)
	var mu sync.Mutex
	count := 0
	r.CallLater(10*time.Millisecond, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("got %d fires, want 1", count)
	}
}

func TestCallEveryFiresRepeatedly(t *testing.T) {
	r := startTestReactor(t)
	var mu sync.Mutex
	count := 0
	id := r.CallEvery(10*time.Millisecond, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})
	time.Sleep(55 * time.Millisecond)
	r.CancelCall(id)
	mu.Lock()
	got := count
	mu.Unlock()
	if got < 3 {
		t.Fatalf("got %d fires in 55ms at 10ms interval, want >= 3", got)
	}
}

func TestCancelCallPreventsFiring(t *testing.T) {
	r := startTestReactor(t)
	fired := false
	id := r.CallLater(20*time.Millisecond, func() { fired = true })
	r.CancelCall(id)
	time.Sleep(60 * time.Millisecond)
	if fired {
		t.Fatal("expected cancelled call not to fire")
	}
}

func TestCallOnAndFire(t *testing.T) {
	r := startTestReactor(t)
	received := make(chan map[string]any, 1)
	r.CallOn("pre-exchange", func(args map[string]any) {
		received <- args
	})
	r.Fire("pre-exchange", map[string]any{"urgent": true})
	select {
	case args := <-received:
		if args["urgent"] != true {
			t.Fatalf("unexpected args: %v", args)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestCancelCallUnsubscribesHandler(t *testing.T) {
	r := startTestReactor(t)
	calls := 0
	id := r.CallOn("exchange-done", func(map[string]any) { calls++ })
	r.CancelCall(id)
	r.Fire("exchange-done", nil)
	if calls != 0 {
		t.Fatalf("expected unsubscribed handler not to fire, got %d calls", calls)
	}
}

func TestCallInThreadPostsResultOnLoop(t *testing.T) {
	r := startTestReactor(t)
	done := make(chan struct{})
	var result any
	r.CallInThread(func() (any, error) {
		return 42, nil
	}, func(res any, err error) {
		result = res
		close(done)
	})
	select {
	case <-done:
		if result != 42 {
			t.Fatalf("got %v, want 42", result)
		}
	case <-time.After(time.Second):
		t.Fatal("CallInThread callback never ran")
	}
}
