package gateway

import (
	"context"
	"sync"
	"time"
)

// EventKind identifies a lifecycle event.
type EventKind int

const (
	EventHello EventKind = iota
	EventReady
	EventResumed
	EventHeartbeatComplete
	EventError
	EventClosed
)

// String returns the string representation of an EventKind.
func (k EventKind) String() string {
	switch k {
	case EventHello:
		return "hello"
	case EventReady:
		return "ready"
	case EventResumed:
		return "resumed"
	case EventHeartbeatComplete:
		return "heartbeat_complete"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a lifecycle event emitted by a Client. The concrete type is one of
// HelloEvent, ReadyEvent, ResumedEvent, HeartbeatCompleteEvent, ErrorEvent or
// ClosedEvent.
type Event interface {
	Kind() EventKind
}

// HelloEvent fires when the gateway greets a new socket.
type HelloEvent struct {
	HeartbeatInterval time.Duration
}

// ReadyEvent fires when a fresh session is established.
type ReadyEvent struct {
	Data ReadyData
}

// ResumedEvent fires when a session resume completes.
type ResumedEvent struct {
	Replayed int // Dispatches received while resuming
}

// HeartbeatCompleteEvent fires on every heartbeat acknowledgment.
type HeartbeatCompleteEvent struct {
	AckAt       time.Time
	HeartbeatAt time.Time
	Latency     time.Duration
}

// ErrorEvent carries a connection or protocol error.
type ErrorEvent struct {
	Err error
}

// ClosedEvent fires after a socket teardown completes.
type ClosedEvent struct {
	Code int
}

func (HelloEvent) Kind() EventKind             { return EventHello }
func (ReadyEvent) Kind() EventKind             { return EventReady }
func (ResumedEvent) Kind() EventKind           { return EventResumed }
func (HeartbeatCompleteEvent) Kind() EventKind { return EventHeartbeatComplete }
func (ErrorEvent) Kind() EventKind             { return EventError }
func (ClosedEvent) Kind() EventKind            { return EventClosed }

// Listener receives events. Listeners run on the emitting goroutine and must
// not block.
type Listener func(Event)

// emitter is a per-client listener registry.
type emitter struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[EventKind]map[uint64]Listener
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[EventKind]map[uint64]Listener)}
}

// subscribe registers fn for kind and returns a function that removes it.
func (e *emitter) subscribe(kind EventKind, fn Listener) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	if e.listeners[kind] == nil {
		e.listeners[kind] = make(map[uint64]Listener)
	}
	e.listeners[kind][id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners[kind], id)
			e.mu.Unlock()
		})
	}
}

// emit delivers ev to every listener registered for its kind.
func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	fns := make([]Listener, 0, len(e.listeners[ev.Kind()]))
	for _, fn := range e.listeners[ev.Kind()] {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// count returns the number of listeners registered for kind.
func (e *emitter) count(kind EventKind) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[kind])
}

// waiter captures the first matching event. It subscribes on creation so a
// caller can arm it before triggering the action that produces the event.
type waiter struct {
	ch           chan Event
	unsubs       []func()
	abortOnClose bool
	stopOnce     sync.Once
}

func (e *emitter) waiter(abortOnClose bool, kinds ...EventKind) *waiter {
	w := &waiter{
		ch:           make(chan Event, 1),
		abortOnClose: abortOnClose,
	}
	deliver := func(ev Event) {
		select {
		case w.ch <- ev:
		default:
		}
	}
	for _, kind := range kinds {
		w.unsubs = append(w.unsubs, e.subscribe(kind, deliver))
	}
	if abortOnClose {
		w.unsubs = append(w.unsubs, e.subscribe(EventClosed, deliver))
	}
	return w
}

// wait blocks until a matching event, a timeout (0 disables it), a closed
// event (when armed with abortOnClose) or ctx cancellation. Listeners are
// always removed before returning.
func (w *waiter) wait(ctx context.Context, timeout time.Duration) (Event, error) {
	defer w.stop()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case ev := <-w.ch:
		if w.abortOnClose && ev.Kind() == EventClosed {
			return nil, ErrConnectionClosed
		}
		return ev, nil
	case <-timer:
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *waiter) stop() {
	w.stopOnce.Do(func() {
		for _, unsub := range w.unsubs {
			unsub()
		}
	})
}
