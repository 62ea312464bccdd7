// Package mock provides in-memory mock implementations of [audio.Engine],
// [audio.DeviceSwitcher] and [audio.Sample] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every engine call so that
// tests can assert on call order and arguments, and they keep a small voice
// table so that stale-handle behaviour matches a real engine.
//
// Typical usage:
//
//	eng := mock.NewEngine()
//	smp := mock.NewSample(eng, true)
//	h := smp.CreateChannel()
//	eng.Play(h, true)
//	calls := eng.CallsFor("Play")
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/samplechan/pkg/audio"
)

// DefaultFrequency is the native rate assigned to new voices when
// [Engine.DefaultFrequency] is zero.
const DefaultFrequency = 44100

// Compile-time interface assertions.
var (
	_ audio.Engine         = (*Engine)(nil)
	_ audio.DeviceSwitcher = (*Engine)(nil)
	_ audio.Sample         = (*Sample)(nil)
)

// ─── Engine ───────────────────────────────────────────────────────────────────

// Call records a single engine method invocation. Only the fields relevant to
// Method are set.
type Call struct {
	// Method is the engine method name, e.g. "Play" or "SetAttribute".
	// Voice creation is recorded as "Create".
	Method string

	Handle  audio.Handle
	Attr    audio.Attribute
	Value   float64
	Flags   audio.Flags
	Mask    audio.Flags
	Restart bool

	// Live reports whether the handle referred to a live voice at call time.
	Live bool
}

// Voice is the mock's view of one voice.
type Voice struct {
	Attributes map[audio.Attribute]float64
	Flags      audio.Flags
	Activity   audio.Activity
}

// Engine is a mock implementation of [audio.Engine] and
// [audio.DeviceSwitcher].
type Engine struct {
	mu sync.Mutex

	// DefaultFrequency is the frequency attribute of new voices. Defaults to
	// [DefaultFrequency] if left zero.
	DefaultFrequency float64

	// LevelsResult is returned by Level for live voices.
	LevelsResult audio.Levels

	// DataResult is copied into dst by Data for live voices.
	DataResult []float32

	// SetDeviceError is returned by SetDevice.
	SetDeviceError error

	// DeviceList is returned by Devices. Defaults to two devices.
	DeviceList []audio.DeviceInfo

	// Calls records all engine invocations in order.
	Calls []Call

	voices map[audio.Handle]*Voice
	next   audio.Handle
	device int
}

// NewEngine returns an empty mock engine.
func NewEngine() *Engine {
	return &Engine{voices: make(map[audio.Handle]*Voice)}
}

// NewVoice allocates a stopped voice and returns its handle. It is what
// [Sample.CreateChannel] calls.
func (e *Engine) NewVoice() audio.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.voices == nil {
		e.voices = make(map[audio.Handle]*Voice)
	}
	e.next++
	h := e.next
	freq := e.DefaultFrequency
	if freq == 0 {
		freq = DefaultFrequency
	}
	e.voices[h] = &Voice{
		Attributes: map[audio.Attribute]float64{
			audio.AttrVolume:    1,
			audio.AttrFrequency: freq,
		},
	}
	e.Calls = append(e.Calls, Call{Method: "Create", Handle: h, Live: true})
	return h
}

// Voice returns a copy of the voice state for h.
func (e *Engine) Voice(h audio.Handle) (Voice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.voices[h]
	if !ok {
		return Voice{}, false
	}
	cp := Voice{Attributes: make(map[audio.Attribute]float64, len(v.Attributes)), Flags: v.Flags, Activity: v.Activity}
	for k, val := range v.Attributes {
		cp.Attributes[k] = val
	}
	return cp, true
}

// Live returns the handles of all live voices in ascending order.
func (e *Engine) Live() []audio.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]audio.Handle, 0, len(e.voices))
	for h := range e.voices {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Active returns the handles of voices that are currently playing.
func (e *Engine) Active() []audio.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []audio.Handle
	for h, v := range e.voices {
		if v.Activity == audio.ActivityPlaying {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}

// CallsFor returns the recorded calls with the given method name.
func (e *Engine) CallsFor(method string) []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Call
	for _, c := range e.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the recorded calls.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = nil
}

// Finish simulates a voice reaching its end: it keeps existing but stops.
func (e *Engine) Finish(h audio.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.voices[h]; ok {
		v.Activity = audio.ActivityStopped
	}
}

// InvalidateAll drops every voice, as a device loss or voice stealing would.
func (e *Engine) InvalidateAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voices = make(map[audio.Handle]*Voice)
}

// record appends a call and reports whether its handle is live. Must be
// called with e.mu held.
func (e *Engine) record(c Call) (*Voice, bool) {
	v, ok := e.voices[c.Handle]
	c.Live = ok
	e.Calls = append(e.Calls, c)
	return v, ok
}

// SetAttribute implements [audio.Engine].
func (e *Engine) SetAttribute(h audio.Handle, attr audio.Attribute, value float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.record(Call{Method: "SetAttribute", Handle: h, Attr: attr, Value: value})
	if ok {
		v.Attributes[attr] = value
	}
	return ok
}

// Attribute implements [audio.Engine].
func (e *Engine) Attribute(h audio.Handle, attr audio.Attribute) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.voices[h]
	if !ok {
		return 0, false
	}
	return v.Attributes[attr], true
}

// Activity implements [audio.Engine].
func (e *Engine) Activity(h audio.Handle) audio.Activity {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.voices[h]; ok {
		return v.Activity
	}
	return audio.ActivityStopped
}

// Play implements [audio.Engine].
func (e *Engine) Play(h audio.Handle, restart bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.record(Call{Method: "Play", Handle: h, Restart: restart})
	if ok {
		v.Activity = audio.ActivityPlaying
	}
	return ok
}

// Pause implements [audio.Engine].
func (e *Engine) Pause(h audio.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.record(Call{Method: "Pause", Handle: h})
	if ok {
		v.Activity = audio.ActivityPaused
	}
	return ok
}

// Stop implements [audio.Engine]. The voice is freed.
func (e *Engine) Stop(h audio.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.record(Call{Method: "Stop", Handle: h})
	delete(e.voices, h)
	return ok
}

// SetFlags implements [audio.Engine].
func (e *Engine) SetFlags(h audio.Handle, flags, mask audio.Flags) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.record(Call{Method: "SetFlags", Handle: h, Flags: flags, Mask: mask})
	if ok {
		v.Flags = (v.Flags &^ mask) | (flags & mask)
	}
	return ok
}

// Level implements [audio.Engine]. Live voices report LevelsResult.
func (e *Engine) Level(h audio.Handle) (audio.Levels, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.voices[h]; !ok {
		return audio.Levels{}, false
	}
	return e.LevelsResult, true
}

// Data implements [audio.Engine]. Live voices copy DataResult.
func (e *Engine) Data(h audio.Handle, dst []float32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.voices[h]; !ok {
		return 0
	}
	return copy(dst, e.DataResult)
}

// Devices implements [audio.DeviceSwitcher].
func (e *Engine) Devices() []audio.DeviceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.DeviceList != nil {
		return slices.Clone(e.DeviceList)
	}
	return []audio.DeviceInfo{{Index: 0, Name: "mock-0"}, {Index: 1, Name: "mock-1"}}
}

// Device implements [audio.DeviceSwitcher].
func (e *Engine) Device() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// SetDevice implements [audio.DeviceSwitcher]. On success every voice is
// invalidated. Returns SetDeviceError.
func (e *Engine) SetDevice(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, Call{Method: "SetDevice", Value: float64(index)})
	if e.SetDeviceError != nil {
		return e.SetDeviceError
	}
	e.device = index
	e.voices = make(map[audio.Handle]*Voice)
	return nil
}

// ─── Sample ───────────────────────────────────────────────────────────────────

// Sample is a mock implementation of [audio.Sample] backed by an [Engine].
type Sample struct {
	mu sync.Mutex

	engine *Engine
	loaded bool

	// CallCountCreateChannel records how many times CreateChannel was called.
	CallCountCreateChannel int
}

// NewSample returns a sample whose voices are allocated on engine.
func NewSample(engine *Engine, loaded bool) *Sample {
	return &Sample{engine: engine, loaded: loaded}
}

// SetLoaded changes the value reported by IsLoaded.
func (s *Sample) SetLoaded(loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = loaded
}

// IsLoaded implements [audio.Sample].
func (s *Sample) IsLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// CreateChannel implements [audio.Sample].
func (s *Sample) CreateChannel() audio.Handle {
	s.mu.Lock()
	s.CallCountCreateChannel++
	s.mu.Unlock()
	return s.engine.NewVoice()
}

// CreateCount returns CallCountCreateChannel under the lock.
func (s *Sample) CreateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountCreateChannel
}
