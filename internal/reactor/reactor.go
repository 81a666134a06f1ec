// Package reactor implements the single-threaded cooperative event loop
// that drives courier: delayed and periodic calls, an in-process event
// bus ("pre-exchange", "message", ...), and a worker pool for
// call-in-thread-style offload of blocking I/O back onto the loop
// goroutine. It is the Go-idiomatic reshaping of the teacher's cron
// wrapper (internal/scheduler) and worker-pool dispatch
// (internal/eventbus/worker.go) into Twisted's simpler reactor API,
// since the scheduling primitives this core needs are relative delays
// and recurring intervals, not calendar cron expressions.
package reactor

import (
	"container/heap"
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/oriys/courier/internal/logging"
)

// Clock abstracts time so tests can drive the reactor without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CallID identifies a scheduled call for later cancellation.
type CallID int64

type timedCall struct {
	id       CallID
	fire     time.Time
	interval time.Duration // 0 for one-shot
	fn       func()
	index    int // heap index
}

type callHeap []*timedCall

func (h callHeap) Len() int            { return len(h) }
func (h callHeap) Less(i, j int) bool  { return h[i].fire.Before(h[j].fire) }
func (h callHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *callHeap) Push(x any)         { c := x.(*timedCall); c.index = len(*h); *h = append(*h, c) }
func (h *callHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Handler is an event-bus subscriber. args carries event-specific payload.
type Handler func(args map[string]any)

// Reactor is courier's cooperative single-threaded event loop. All
// mutation of its internal state happens on the loop goroutine; public
// methods communicate with it over channels so callers never need their
// own locking.
type Reactor struct {
	clock Clock

	cmd     chan func()
	stop    chan struct{}
	stopped chan struct{}

	calls        callHeap
	byID         map[CallID]*timedCall
	handlers     map[string][]taggedHandler
	handlerEvent map[CallID]string
	nextID       CallID

	workers chan struct{} // semaphore bounding CallInThread concurrency
	wg      sync.WaitGroup
}

// Option configures a Reactor at construction.
type Option func(*Reactor)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(r *Reactor) { r.clock = c }
}

// WithWorkerPoolSize overrides the default GOMAXPROCS-sized worker pool
// used by CallInThread.
func WithWorkerPoolSize(n int) Option {
	return func(r *Reactor) {
		if n < 1 {
			n = 1
		}
		r.workers = make(chan struct{}, n)
	}
}

// New creates a Reactor. Call Run to start its loop goroutine.
func New(opts ...Option) *Reactor {
	r := &Reactor{
		clock:        realClock{},
		cmd:          make(chan func(), 64),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
		byID:         make(map[CallID]*timedCall),
		handlers:     make(map[string][]taggedHandler),
		handlerEvent: make(map[CallID]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers == nil {
		n := runtime.GOMAXPROCS(0)
		if n < 1 {
			n = 1
		}
		r.workers = make(chan struct{}, n)
	}
	return r
}

// Run executes the event loop until ctx is cancelled or Stop is called.
// It is meant to be run in its own goroutine; Run blocks until exit.
func (r *Reactor) Run(ctx context.Context) {
	defer close(r.stopped)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if len(r.calls) == 0 {
			timer.Reset(time.Hour)
			return
		}
		d := time.Until(r.calls[0].fire)
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
	}

	resetTimer()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case fn := <-r.cmd:
			fn()
			resetTimer()
		case <-timer.C:
			r.fireDue()
			resetTimer()
		}
	}
}

// Stop halts the loop goroutine and waits for in-flight CallInThread
// workers to finish.
func (r *Reactor) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.stopped
	r.wg.Wait()
}

func (r *Reactor) fireDue() {
	now := r.clock.Now()
	for len(r.calls) > 0 && !r.calls[0].fire.After(now) {
		c := heap.Pop(&r.calls).(*timedCall)
		delete(r.byID, c.id)
		if c.interval > 0 {
			c.fire = now.Add(c.interval)
			heap.Push(&r.calls, c)
			r.byID[c.id] = c
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Op().Error("reactor: scheduled call panicked", "panic", fmt.Sprint(rec))
				}
			}()
			c.fn()
		}()
	}
}

// run submits fn to the loop goroutine and blocks until it has executed,
// the synchronous-dispatch primitive every public method builds on.
func (r *Reactor) run(fn func()) {
	done := make(chan struct{})
	select {
	case r.cmd <- func() { fn(); close(done) }:
	case <-r.stop:
		return
	}
	select {
	case <-done:
	case <-r.stop:
	}
}

// CallLater schedules fn to run once, delay from now.
func (r *Reactor) CallLater(delay time.Duration, fn func()) CallID {
	var id CallID
	r.run(func() {
		id = r.schedule(delay, 0, fn)
	})
	return id
}

// CallEvery schedules fn to run repeatedly, every interval, starting
// after the first interval elapses.
func (r *Reactor) CallEvery(interval time.Duration, fn func()) CallID {
	var id CallID
	r.run(func() {
		id = r.schedule(interval, interval, fn)
	})
	return id
}

func (r *Reactor) schedule(delay, interval time.Duration, fn func()) CallID {
	r.nextID++
	c := &timedCall{
		id:       r.nextID,
		fire:     r.clock.Now().Add(delay),
		interval: interval,
		fn:       fn,
	}
	heap.Push(&r.calls, c)
	r.byID[c.id] = c
	return c.id
}

// CancelCall removes a previously scheduled call or event subscription,
// if it hasn't fired/been removed yet.
func (r *Reactor) CancelCall(id CallID) {
	r.run(func() {
		if c, ok := r.byID[id]; ok {
			heap.Remove(&r.calls, c.index)
			delete(r.byID, id)
			return
		}
		if event, ok := r.handlerEvent[id]; ok {
			handlers := r.handlers[event]
			for i, h := range handlers {
				if h.id == id {
					r.handlers[event] = append(handlers[:i], handlers[i+1:]...)
					break
				}
			}
			delete(r.handlerEvent, id)
		}
	})
}

type taggedHandler struct {
	id CallID
	fn Handler
}

// CallOn subscribes handler to the named event, returning a CallID usable
// with CancelCall to unsubscribe.
func (r *Reactor) CallOn(event string, handler Handler) CallID {
	var id CallID
	r.run(func() {
		r.nextID++
		id = r.nextID
		r.handlers[event] = append(r.handlers[event], taggedHandler{id: id, fn: handler})
		r.handlerEvent[id] = event
	})
	return id
}

// Fire synchronously invokes every handler subscribed to event, in
// subscription order, on the loop goroutine.
func (r *Reactor) Fire(event string, args map[string]any) {
	r.run(func() {
		for _, h := range r.handlers[event] {
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						logging.Op().Error("reactor: event handler panicked", "event", event, "panic", fmt.Sprint(rec))
					}
				}()
				h.fn(args)
			}()
		}
	})
}

// CallInThread runs fn on a bounded worker goroutine and posts onDone
// back onto the loop goroutine once fn returns, so callback code never
// has to worry about concurrent access to reactor-owned state.
func (r *Reactor) CallInThread(fn func() (any, error), onDone func(result any, err error)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.workers <- struct{}{}
		result, err := fn()
		<-r.workers
		r.run(func() { onDone(result, err) })
	}()
}
