package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/samplechan/pkg/audio"
	"github.com/MrWong99/samplechan/pkg/audio/control"
)

// ErrNoDeviceSwitching is returned by [Manager.SwitchDevice] when the engine
// does not implement [audio.DeviceSwitcher].
var ErrNoDeviceSwitching = errors.New("channel: engine does not support device switching")

// Recorder receives channel lifecycle events for metrics. All methods must be
// cheap and non-blocking.
type Recorder interface {
	ChannelPlayed(name string)
	ChannelStopped(name string)
	ChannelsActive(delta int)
	DeviceSwitched(index int, err error)
}

// ManagerOption configures a [Manager] during construction.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger. Channels created by the
// manager inherit it unless they are given their own.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithDefaultChannelOptions sets options applied to every channel created by
// the manager, before the per-call options.
func WithDefaultChannelOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.defaults = append(m.defaults, opts...) }
}

// stopper is implemented by schedulers that can stop running actions, such
// as [control.Thread].
type stopper interface {
	Done() <-chan struct{}
}

// Manager is the host for a set of [SampleChannel]s sharing one engine and
// one control goroutine. Register it on the control thread so that every
// channel is refreshed per tick, and route device changes through it so that
// every channel drops its invalidated voice.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	engine   audio.Engine
	sched    Scheduler
	logger   *slog.Logger
	recorder Recorder
	defaults []Option

	mu        sync.Mutex
	channels  []*SampleChannel
	listeners map[uint64]func(int)
	nextID    uint64
	closed    bool
}

// NewManager creates a manager whose channels use engine and sched.
func NewManager(engine audio.Engine, sched Scheduler, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine:    engine,
		sched:     sched,
		logger:    slog.Default(),
		listeners: make(map[uint64]func(int)),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// NewChannel creates and tracks a channel for sample. After Close the
// channel is returned already closed and is not tracked.
func (m *Manager) NewChannel(sample audio.Sample, opts ...Option) *SampleChannel {
	all := make([]Option, 0, len(m.defaults)+len(opts)+2)
	all = append(all, WithLogger(m.logger))
	all = append(all, m.defaults...)
	all = append(all, opts...)
	if m.recorder != nil {
		all = append(all, WithHooks(Hooks{
			OnPlay: func(c *SampleChannel) { m.recorder.ChannelPlayed(c.Name()) },
			OnStop: func(c *SampleChannel) { m.recorder.ChannelStopped(c.Name()) },
		}))
	}
	c := New(sample, m.engine, m.sched, all...)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = c.Close()
		m.logger.Warn("channel created after manager close", "channel", c.Name())
		return c
	}
	m.channels = append(m.channels, c)
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.ChannelsActive(1)
	}
	return c
}

// Channels returns the tracked channels in creation order.
func (m *Manager) Channels() []*SampleChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SampleChannel, len(m.channels))
	copy(out, m.channels)
	return out
}

// Channel returns the tracked channel with the given name.
func (m *Manager) Channel(name string) (*SampleChannel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Remove closes c and stops tracking it. Unknown channels are ignored.
func (m *Manager) Remove(c *SampleChannel) {
	m.mu.Lock()
	found := false
	for i, tracked := range m.channels {
		if tracked == c {
			m.channels = append(m.channels[:i], m.channels[i+1:]...)
			found = true
			break
		}
	}
	m.mu.Unlock()

	if !found {
		return
	}
	_ = c.Close()
	if m.recorder != nil {
		m.recorder.ChannelsActive(-1)
	}
}

// UpdateState refreshes every tracked channel. It implements
// [control.Component] and runs on the control goroutine.
func (m *Manager) UpdateState() {
	for _, c := range m.Channels() {
		c.UpdateState()
	}
}

// OnDeviceChange registers fn to be called on the control goroutine after
// every device change. The returned function removes the registration.
func (m *Manager) OnDeviceChange(fn func(index int)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// SwitchDevice moves the engine to the device at index on the control
// goroutine and migrates every channel. It blocks until the switch ran, ctx
// is done or the scheduler stopped, in which case the error wraps
// [control.ErrClosed].
func (m *Manager) SwitchDevice(ctx context.Context, index int) error {
	switcher, ok := m.engine.(audio.DeviceSwitcher)
	if !ok {
		return ErrNoDeviceSwitching
	}
	var stopped <-chan struct{}
	if s, ok := m.sched.(stopper); ok {
		stopped = s.Done()
	}

	result := make(chan error, 1)
	m.sched.Enqueue(func() {
		err := switcher.SetDevice(index)
		if m.recorder != nil {
			m.recorder.DeviceSwitched(index, err)
		}
		if err != nil {
			result <- fmt.Errorf("channel: switch to device %d: %w", index, err)
			return
		}
		m.DeviceChanged(index)
		result <- nil
	})

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		// The final drain may still have run the switch.
		select {
		case err := <-result:
			return err
		default:
			return fmt.Errorf("channel: switch to device %d: %w", index, control.ErrClosed)
		}
	}
}

// DeviceChanged is the device-migration hook: it tells every channel that
// its voice was invalidated by a switch to the device at index, then notifies
// listeners. Call it on the control goroutine, also when the engine changed
// device on its own.
func (m *Manager) DeviceChanged(index int) {
	channels := m.Channels()
	for _, c := range channels {
		c.UpdateDevice(index)
	}

	m.mu.Lock()
	listeners := make([]func(int), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(index)
	}
	m.logger.Info("output device changed", "device", index, "channels", len(channels))
}

// Close closes every tracked channel. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	channels := m.channels
	m.channels = nil
	m.mu.Unlock()

	for _, c := range channels {
		_ = c.Close()
	}
	if m.recorder != nil && len(channels) > 0 {
		m.recorder.ChannelsActive(-len(channels))
	}
	return nil
}
