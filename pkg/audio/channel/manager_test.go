package channel_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/samplechan/pkg/audio"
	"github.com/MrWong99/samplechan/pkg/audio/channel"
	"github.com/MrWong99/samplechan/pkg/audio/control"
	"github.com/MrWong99/samplechan/pkg/audio/mock"
)

// recorder is a [channel.Recorder] that counts events.
type recorder struct {
	mu       sync.Mutex
	played   []string
	stopped  []string
	active   int
	switches []int
	errs     []error
}

func (r *recorder) ChannelPlayed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.played = append(r.played, name)
}

func (r *recorder) ChannelStopped(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, name)
}

func (r *recorder) ChannelsActive(delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active += delta
}

func (r *recorder) DeviceSwitched(index int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switches = append(r.switches, index)
	r.errs = append(r.errs, err)
}

func (r *recorder) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// noSwitchEngine hides the mock's device switching.
type noSwitchEngine struct{ audio.Engine }

func newThread(t *testing.T) *control.Thread {
	t.Helper()
	th := control.New(control.WithTickInterval(time.Hour))
	t.Cleanup(func() { _ = th.Close() })
	return th
}

func flush(t *testing.T, th *control.Thread) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := th.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestManager_TracksChannels(t *testing.T) {
	t.Parallel()

	eng := mock.NewEngine()
	q := control.NewQueue(nil)
	rec := &recorder{}
	m := channel.NewManager(eng, q, channel.WithRecorder(rec))

	a := m.NewChannel(mock.NewSample(eng, true), channel.WithName("a"))
	b := m.NewChannel(mock.NewSample(eng, true), channel.WithName("b"))

	if got := m.Channels(); len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("Channels = %v, want [a b]", got)
	}
	if c, ok := m.Channel("b"); !ok || c != b {
		t.Error("Channel(b) not found")
	}
	if _, ok := m.Channel("missing"); ok {
		t.Error("Channel(missing) found")
	}
	if rec.activeCount() != 2 {
		t.Errorf("active = %d, want 2", rec.activeCount())
	}

	m.Remove(a)
	m.Remove(a)
	if got := m.Channels(); len(got) != 1 || got[0] != b {
		t.Errorf("Channels after Remove = %v, want [b]", got)
	}
	if rec.activeCount() != 1 {
		t.Errorf("active after Remove = %d, want 1", rec.activeCount())
	}

	_ = m.Close()
	_ = m.Close()
	if rec.activeCount() != 0 {
		t.Errorf("active after Close = %d, want 0", rec.activeCount())
	}
}

func TestManager_RecordsPlayAndStop(t *testing.T) {
	t.Parallel()

	eng := mock.NewEngine()
	rec := &recorder{}
	m := channel.NewManager(eng, control.NewQueue(nil), channel.WithRecorder(rec))
	c := m.NewChannel(mock.NewSample(eng, true), channel.WithName("kick"))

	c.Play(true)
	c.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.played) != 1 || rec.played[0] != "kick" {
		t.Errorf("played = %v, want [kick]", rec.played)
	}
	if len(rec.stopped) != 1 || rec.stopped[0] != "kick" {
		t.Errorf("stopped = %v, want [kick]", rec.stopped)
	}
}

func TestManager_UpdateStateTicksAllChannels(t *testing.T) {
	t.Parallel()

	eng := mock.NewEngine()
	q := control.NewQueue(nil)
	m := channel.NewManager(eng, q)
	a := m.NewChannel(mock.NewSample(eng, true))
	b := m.NewChannel(mock.NewSample(eng, true))

	a.Play(true)
	b.Play(true)
	q.Drain()

	eng.Finish(a.Handle())
	m.UpdateState()

	if a.Playing() {
		t.Error("a.Playing = true after its voice finished")
	}
	if !b.Playing() {
		t.Error("b.Playing = false")
	}
}

func TestManager_SwitchDeviceMigratesChannels(t *testing.T) {
	t.Parallel()

	eng := mock.NewEngine()
	th := newThread(t)
	rec := &recorder{}
	m := channel.NewManager(eng, th, channel.WithRecorder(rec))
	c := m.NewChannel(mock.NewSample(eng, true))

	var notified []int
	unsubscribe := m.OnDeviceChange(func(index int) { notified = append(notified, index) })

	c.Play(true)
	flush(t, th)
	if !c.Handle().Valid() {
		t.Fatal("no voice after Play")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.SwitchDevice(ctx, 1); err != nil {
		t.Fatalf("SwitchDevice: %v", err)
	}

	if c.Handle().Valid() {
		t.Errorf("Handle = %d after device switch, want none", c.Handle())
	}
	if eng.Device() != 1 {
		t.Errorf("Device = %d, want 1", eng.Device())
	}

	unsubscribe()
	if err := m.SwitchDevice(ctx, 0); err != nil {
		t.Fatalf("second SwitchDevice: %v", err)
	}
	flush(t, th)
	if len(notified) != 1 || notified[0] != 1 {
		t.Errorf("notified = %v, want [1]", notified)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.switches) != 2 {
		t.Errorf("recorded switches = %v, want 2", rec.switches)
	}
}

func TestManager_SwitchDeviceFailureKeepsVoices(t *testing.T) {
	t.Parallel()

	eng := mock.NewEngine()
	eng.SetDeviceError = errors.New("device busy")
	th := newThread(t)
	m := channel.NewManager(eng, th)
	c := m.NewChannel(mock.NewSample(eng, true))

	c.Play(true)
	flush(t, th)
	h := c.Handle()

	err := m.SwitchDevice(context.Background(), 3)
	if !errors.Is(err, eng.SetDeviceError) {
		t.Fatalf("SwitchDevice error = %v, want %v", err, eng.SetDeviceError)
	}
	if c.Handle() != h {
		t.Errorf("Handle = %d after failed switch, want %d", c.Handle(), h)
	}
}

func TestManager_SwitchDeviceUnsupported(t *testing.T) {
	t.Parallel()

	m := channel.NewManager(noSwitchEngine{mock.NewEngine()}, control.NewQueue(nil))
	if err := m.SwitchDevice(context.Background(), 1); !errors.Is(err, channel.ErrNoDeviceSwitching) {
		t.Errorf("SwitchDevice error = %v, want ErrNoDeviceSwitching", err)
	}
}

func TestManager_SwitchDeviceHonoursContext(t *testing.T) {
	t.Parallel()

	// A queue that is never drained stands in for a stalled control thread.
	m := channel.NewManager(mock.NewEngine(), control.NewQueue(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.SwitchDevice(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("SwitchDevice error = %v, want deadline exceeded", err)
	}
}

func TestManager_NewChannelAfterClose(t *testing.T) {
	t.Parallel()

	eng := mock.NewEngine()
	q := control.NewQueue(nil)
	rec := &recorder{}
	m := channel.NewManager(eng, q, channel.WithRecorder(rec))
	_ = m.Close()

	c := m.NewChannel(mock.NewSample(eng, true), channel.WithName("late"))
	if got := len(m.Channels()); got != 0 {
		t.Errorf("tracked channels = %d, want 0", got)
	}
	if rec.activeCount() != 0 {
		t.Errorf("active = %d, want 0", rec.activeCount())
	}

	c.Play(true)
	q.Drain()
	if got := len(eng.Live()); got != 0 {
		t.Errorf("live voices = %d, want 0 for a closed channel", got)
	}
}

func TestManager_SwitchDeviceAfterThreadClose(t *testing.T) {
	t.Parallel()

	th := control.New(control.WithTickInterval(time.Hour))
	m := channel.NewManager(mock.NewEngine(), th)
	_ = th.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.SwitchDevice(ctx, 1)
	if !errors.Is(err, control.ErrClosed) {
		t.Errorf("SwitchDevice error = %v, want control.ErrClosed", err)
	}
	if ctx.Err() != nil {
		t.Error("SwitchDevice waited for the context instead of returning")
	}
}
