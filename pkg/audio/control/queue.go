// Package control provides the single execution context that owns every
// engine voice: a FIFO of deferred actions ([Queue]) and a background
// goroutine ([Thread]) that drains it and ticks registered components.
//
// Callers on any goroutine enqueue work; only the control goroutine runs it.
// This removes races between user-initiated Play/Stop calls and the periodic
// state polling that reads the engine.
package control

import (
	"log/slog"
	"sync"
)

// Queue is an unbounded FIFO of deferred actions.
//
// Enqueue is safe for concurrent use. Drain must only be called from one
// goroutine at a time; that goroutine is the queue's execution context.
type Queue struct {
	mu      sync.Mutex
	actions []func()
	logger  *slog.Logger
}

// NewQueue creates an empty queue. A nil logger selects [slog.Default].
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{logger: logger}
}

// Enqueue appends fn. Actions run in submission order; an enqueued action is
// never cancelled.
func (q *Queue) Enqueue(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.actions = append(q.actions, fn)
	q.mu.Unlock()
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Drain runs pending actions until the queue is empty, including actions
// enqueued by the actions themselves, and returns how many ran. A panicking
// action is logged and skipped.
func (q *Queue) Drain() int {
	n := 0
	for {
		q.mu.Lock()
		batch := q.actions
		q.actions = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			q.run(fn)
			n++
		}
	}
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("control: deferred action panicked", "panic", r)
		}
	}()
	fn()
}
