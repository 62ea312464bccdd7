// Package adjust provides hierarchical playback adjustments. An
// [Adjustments] value holds a local volume, balance and frequency and
// aggregates them with its parent chain, so a master bus can scale every
// channel below it.
//
// Aggregation rules:
//
//	volume    = product of volumes, root to leaf
//	balance   = sum of balances, clamped to [-1, 1]
//	frequency = product of frequencies
//
// Subscribers are notified after every local change and after every change
// of an ancestor. Notifications run synchronously on the goroutine that made
// the change and must not block.
package adjust

import (
	"math"
	"sync"
)

// Adjustments is a node in an adjustment tree. The zero value is not usable;
// create nodes with [New].
type Adjustments struct {
	mu        sync.RWMutex
	parent    *Adjustments
	volume    float64
	balance   float64
	frequency float64

	subsMu  sync.Mutex
	subs    map[uint64]func()
	nextSub uint64

	// detach removes this node's subscription on its parent.
	detach func()
}

// New creates a node with unity volume and frequency and centred balance.
// parent may be nil.
func New(parent *Adjustments) *Adjustments {
	a := &Adjustments{
		volume:    1,
		frequency: 1,
		subs:      make(map[uint64]func()),
	}
	a.SetParent(parent)
	return a
}

// SetParent re-parents the node and notifies subscribers. Cycles are not
// detected; callers must not create them.
func (a *Adjustments) SetParent(parent *Adjustments) {
	a.mu.Lock()
	if a.detach != nil {
		a.detach()
		a.detach = nil
	}
	a.parent = parent
	if parent != nil {
		a.detach = parent.Subscribe(a.notify)
	}
	a.mu.Unlock()
	a.notify()
}

// Parent returns the node's parent or nil.
func (a *Adjustments) Parent() *Adjustments {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.parent
}

// Volume returns the local volume.
func (a *Adjustments) Volume() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.volume
}

// SetVolume sets the local volume. Negative values are clamped to zero.
func (a *Adjustments) SetVolume(v float64) {
	a.set(&a.volume, math.Max(v, 0))
}

// Balance returns the local balance.
func (a *Adjustments) Balance() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance
}

// SetBalance sets the local balance, clamped to [-1, 1].
func (a *Adjustments) SetBalance(v float64) {
	a.set(&a.balance, clampBalance(v))
}

// Frequency returns the local frequency multiplier.
func (a *Adjustments) Frequency() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frequency
}

// SetFrequency sets the local frequency multiplier. Zero holds playback;
// negative values are treated by their magnitude downstream.
func (a *Adjustments) SetFrequency(v float64) {
	a.set(&a.frequency, v)
}

// AggregateVolume returns the product of volumes along the parent chain.
func (a *Adjustments) AggregateVolume() float64 {
	v := 1.0
	for n := a; n != nil; n = n.Parent() {
		v *= n.Volume()
	}
	return v
}

// AggregateBalance returns the clamped sum of balances along the parent
// chain.
func (a *Adjustments) AggregateBalance() float64 {
	var b float64
	for n := a; n != nil; n = n.Parent() {
		b += n.Balance()
	}
	return clampBalance(b)
}

// AggregateFrequency returns the product of frequency multipliers along the
// parent chain.
func (a *Adjustments) AggregateFrequency() float64 {
	f := 1.0
	for n := a; n != nil; n = n.Parent() {
		f *= n.Frequency()
	}
	return f
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. The returned function is idempotent.
func (a *Adjustments) Subscribe(fn func()) (unsubscribe func()) {
	a.subsMu.Lock()
	a.nextSub++
	id := a.nextSub
	a.subs[id] = fn
	a.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.subsMu.Lock()
			delete(a.subs, id)
			a.subsMu.Unlock()
		})
	}
}

// Close detaches the node from its parent. Subscribers are kept.
func (a *Adjustments) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detach != nil {
		a.detach()
		a.detach = nil
	}
}

func (a *Adjustments) set(field *float64, v float64) {
	a.mu.Lock()
	if *field == v {
		a.mu.Unlock()
		return
	}
	*field = v
	a.mu.Unlock()
	a.notify()
}

func (a *Adjustments) notify() {
	a.subsMu.Lock()
	subs := make([]func(), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.subsMu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

func clampBalance(v float64) float64 {
	return math.Min(math.Max(v, -1), 1)
}
