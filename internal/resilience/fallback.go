package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all candidates failed")

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary value and fallbacks of the same type, each
// behind its own [CircuitBreaker]. Entries are tried in registration order.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     CircuitBreakerConfig
}

// NewFallbackGroup creates a group with primary as its first entry. cfg is
// the template for every entry's breaker; its Name is replaced per entry.
func NewFallbackGroup[T any](primaryName string, primary T, cfg CircuitBreakerConfig) *FallbackGroup[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cfg := fg.cfg
	cfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cfg),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Execute calls fn with each entry until one succeeds and returns the
// entry's name and value. Entries with an open breaker are skipped. If every
// entry fails the error wraps [ErrAllFailed] and the last failure.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) (string, T, error) {
	logger := fg.cfg.Logger
	var lastErr error
	for i := range fg.entries {
		e := &fg.entries[i]
		err := e.breaker.Execute(func() error { return fn(e.value) })
		if err == nil {
			return e.name, e.value, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			logger.Debug("skipping candidate with open circuit", "candidate", e.name)
			continue
		}
		logger.Warn("candidate failed, trying next", "candidate", e.name, "err", err)
	}
	var zero T
	return "", zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
