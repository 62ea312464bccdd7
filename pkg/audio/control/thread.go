package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by [Thread.Flush] once the thread has stopped.
var ErrClosed = errors.New("control: thread closed")

// DefaultTickInterval is the state refresh period used when no explicit
// interval is configured via [WithTickInterval].
const DefaultTickInterval = 10 * time.Millisecond

// Component is refreshed once per tick on the control goroutine.
type Component interface {
	UpdateState()
}

// Option configures a [Thread] during construction.
type Option func(*Thread)

// WithTickInterval sets how often registered components are refreshed.
// Non-positive values are ignored.
func WithTickInterval(d time.Duration) Option {
	return func(t *Thread) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithLogger sets the logger used for dropped and panicking actions.
func WithLogger(l *slog.Logger) Option {
	return func(t *Thread) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithDrainHook registers fn to be called after every non-empty drain with
// the number of actions that ran and how long they took. fn runs on the
// control goroutine and must not block.
func WithDrainHook(fn func(actions int, took time.Duration)) Option {
	return func(t *Thread) {
		t.drainHook = fn
	}
}

type registration struct {
	id uint64
	c  Component
}

// Thread is the control execution context. It drains its [Queue] whenever
// work is enqueued and on every tick, then calls [Component.UpdateState] on
// every registered component in registration order.
//
// All exported methods are safe for concurrent use.
type Thread struct {
	queue     *Queue
	interval  time.Duration
	logger    *slog.Logger
	drainHook func(int, time.Duration)

	mu         sync.Mutex
	components []registration
	nextID     uint64

	notify    chan struct{} // signalled when an action is enqueued
	done      chan struct{} // closed by Close to stop the goroutine
	stopped   chan struct{} // closed when the goroutine has exited
	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a [Thread] and starts its goroutine immediately. Call
// [Thread.Close] to stop it.
func New(opts ...Option) *Thread {
	t := &Thread{
		interval: DefaultTickInterval,
		logger:   slog.Default(),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	t.queue = NewQueue(t.logger)
	go t.run()
	return t
}

// Enqueue schedules fn to run on the control goroutine after every action
// enqueued before it. Actions enqueued after Close are dropped.
func (t *Thread) Enqueue(fn func()) {
	if t.closed.Load() {
		t.logger.Debug("control: dropping action enqueued after close")
		return
	}
	t.queue.Enqueue(fn)

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of actions waiting to run.
func (t *Thread) Pending() int {
	return t.queue.Len()
}

// Register adds c to the per-tick refresh list. The returned function removes
// it again; calling it more than once is harmless.
func (t *Thread) Register(c Component) (unregister func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.components = append(t.components, registration{id: id, c: c})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, r := range t.components {
				if r.id == id {
					t.components = append(t.components[:i], t.components[i+1:]...)
					return
				}
			}
		})
	}
}

// Flush blocks until every action enqueued before the call has run, ctx is
// done, or the thread stops.
func (t *Thread) Flush(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}
	reached := make(chan struct{})
	t.Enqueue(func() { close(reached) })

	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopped:
		// The final drain in run may still have reached the marker.
		select {
		case <-reached:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Closed reports whether Close has been called.
func (t *Thread) Closed() bool {
	return t.closed.Load()
}

// Done returns a channel that is closed once the goroutine has exited.
// Actions enqueued after that never run.
func (t *Thread) Done() <-chan struct{} {
	return t.stopped
}

// Close stops the goroutine after a final drain of already-enqueued actions.
// Close is idempotent; subsequent calls return nil.
func (t *Thread) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
	})
	<-t.stopped
	return nil
}

// run is the control goroutine.
func (t *Thread) run() {
	defer close(t.stopped)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			t.drain()
			return
		case <-t.notify:
			t.drain()
		case <-ticker.C:
			t.drain()
			t.tick()
		}
	}
}

func (t *Thread) drain() {
	start := time.Now()
	n := t.queue.Drain()
	if n > 0 && t.drainHook != nil {
		t.drainHook(n, time.Since(start))
	}
}

// tick refreshes a snapshot of the registered components so that
// UpdateState may register or unregister without deadlocking.
func (t *Thread) tick() {
	t.mu.Lock()
	comps := make([]Component, len(t.components))
	for i, r := range t.components {
		comps[i] = r.c
	}
	t.mu.Unlock()

	for _, c := range comps {
		c.UpdateState()
	}
}
