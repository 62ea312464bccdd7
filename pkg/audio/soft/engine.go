// Package soft is a pure-Go software implementation of [audio.Engine]. It
// mixes any number of voices into interleaved float32 stereo and feeds the
// result to a pluggable output [Device].
//
// Handles are allocated from a monotonically increasing counter and never
// reused, so a handle that was stopped or invalidated by a device switch
// stays invalid forever and every operation on it is a harmless no-op.
package soft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/MrWong99/samplechan/pkg/audio"
)

// DefaultSampleRate is the output rate used when none is configured.
const DefaultSampleRate = 48000

const (
	// historySize is the number of recent mono output samples kept per voice
	// for [Engine.Data]. It must be a power of two.
	historySize = 2048

	// rampFrames is the length of the volume ramp applied to voices that do
	// not have [audio.AttrNoRamp] set.
	rampFrames = 64
)

// ErrUnknownDevice is returned by [Engine.SetDevice] for an index outside
// [Engine.Devices].
var ErrUnknownDevice = errors.New("soft: unknown output device")

// Compile-time interface assertions.
var (
	_ audio.Engine         = (*Engine)(nil)
	_ audio.DeviceSwitcher = (*Engine)(nil)
)

// Option configures an [Engine].
type Option func(*Engine)

// WithSampleRate sets the output sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(e *Engine) {
		if rate > 0 {
			e.rate = rate
		}
	}
}

// WithDevices sets the selectable output devices. Defaults to a single
// non-pulling [NullDevice].
func WithDevices(devices ...Device) Option {
	return func(e *Engine) { e.devices = devices }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// voice is one playing instance of decoded audio.
type voice struct {
	data *Decoded

	pos       float64 // position in source frames
	frequency float64 // playback rate in source frames per second
	volume    float64
	pan       float64
	noRamp    bool
	flags     audio.Flags
	activity  audio.Activity

	gain float64 // ramped volume actually applied

	levels  audio.Levels
	history [historySize]float32
	written uint64 // total samples written to history
}

// Engine mixes voices in software. All methods are safe for concurrent use.
type Engine struct {
	rate    int
	devices []Device
	logger  *slog.Logger

	mu      sync.Mutex
	voices  map[audio.Handle]*voice
	next    audio.Handle
	device  int
	current Device
	scratch []float32
}

// New creates an engine. No device is started until [Engine.SetDevice].
func New(opts ...Option) *Engine {
	e := &Engine{
		rate:   DefaultSampleRate,
		logger: slog.Default(),
		voices: make(map[audio.Handle]*voice),
		device: -1,
	}
	for _, o := range opts {
		o(e)
	}
	if len(e.devices) == 0 {
		e.devices = []Device{NewNullDevice("null", 0)}
	}
	return e
}

// SampleRate returns the output sample rate.
func (e *Engine) SampleRate() int { return e.rate }

// NewVoice allocates a stopped voice playing d at its native rate and
// returns its handle. A nil d yields [audio.HandleNone].
func (e *Engine) NewVoice(d *Decoded) audio.Handle {
	if d == nil {
		return audio.HandleNone
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.next == math.MaxUint32 {
		return audio.HandleNone
	}
	e.next++
	e.voices[e.next] = &voice{
		data:      d,
		frequency: float64(d.SampleRate),
		volume:    1,
		activity:  audio.ActivityStopped,
	}
	return e.next
}

// Voices returns the number of live voices.
func (e *Engine) Voices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.voices)
}

// SetAttribute implements [audio.Engine].
func (e *Engine) SetAttribute(h audio.Handle, attr audio.Attribute, value float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.voices[h]
	if !ok {
		return false
	}
	switch attr {
	case audio.AttrVolume:
		v.volume = math.Max(value, 0)
	case audio.AttrPan:
		v.pan = math.Min(math.Max(value, -1), 1)
	case audio.AttrFrequency:
		if value <= 0 {
			return false
		}
		v.frequency = value
	case audio.AttrNoRamp:
		v.noRamp = value != 0
	default:
		return false
	}
	return true
}

// Attribute implements [audio.Engine].
func (e *Engine) Attribute(h audio.Handle, attr audio.Attribute) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.voices[h]
	if !ok {
		return 0, false
	}
	switch attr {
	case audio.AttrVolume:
		return v.volume, true
	case audio.AttrPan:
		return v.pan, true
	case audio.AttrFrequency:
		return v.frequency, true
	case audio.AttrNoRamp:
		if v.noRamp {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Activity implements [audio.Engine].
func (e *Engine) Activity(h audio.Handle) audio.Activity {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.voices[h]; ok {
		return v.activity
	}
	return audio.ActivityStopped
}

// Play implements [audio.Engine]. A finished voice always restarts.
func (e *Engine) Play(h audio.Handle, restart bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.voices[h]
	if !ok {
		return false
	}
	if restart || v.pos >= float64(v.data.Frames()) {
		v.pos = 0
	}
	if v.activity != audio.ActivityPlaying && !v.noRamp {
		v.gain = 0
	}
	v.activity = audio.ActivityPlaying
	return true
}

// Pause implements [audio.Engine].
func (e *Engine) Pause(h audio.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.voices[h]
	if !ok {
		return false
	}
	if v.activity == audio.ActivityPlaying {
		v.activity = audio.ActivityPaused
		v.levels = audio.Levels{}
	}
	return true
}

// Stop implements [audio.Engine]. The voice is freed and h becomes invalid.
func (e *Engine) Stop(h audio.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.voices[h]; !ok {
		return false
	}
	delete(e.voices, h)
	return true
}

// SetFlags implements [audio.Engine].
func (e *Engine) SetFlags(h audio.Handle, flags, mask audio.Flags) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.voices[h]
	if !ok {
		return false
	}
	v.flags = (v.flags &^ mask) | (flags & mask)
	return true
}

// Level implements [audio.Engine]. It reports the peak levels of the last
// rendered block.
func (e *Engine) Level(h audio.Handle) (audio.Levels, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.voices[h]
	if !ok {
		return audio.Levels{}, false
	}
	return v.levels, true
}

// Data implements [audio.Engine]. It copies the most recent mono output
// samples, oldest first, and returns how many were written.
func (e *Engine) Data(h audio.Handle, dst []float32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.voices[h]
	if !ok {
		return 0
	}
	n := min(len(dst), historySize, int(min(v.written, historySize)))
	start := v.written - uint64(n)
	for i := range n {
		dst[i] = v.history[(start+uint64(i))&(historySize-1)]
	}
	return n
}

// Devices implements [audio.DeviceSwitcher].
func (e *Engine) Devices() []audio.DeviceInfo {
	out := make([]audio.DeviceInfo, len(e.devices))
	for i, d := range e.devices {
		out[i] = audio.DeviceInfo{Index: i, Name: d.Name()}
	}
	return out
}

// Device implements [audio.DeviceSwitcher]. It returns -1 before the first
// successful SetDevice.
func (e *Engine) Device() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// SetDevice implements [audio.DeviceSwitcher]. It closes the current device,
// invalidates every voice and starts the device at index. On a start failure
// the engine is left without an output device.
func (e *Engine) SetDevice(index int) error {
	if index < 0 || index >= len(e.devices) {
		return fmt.Errorf("soft: set device %d: %w", index, ErrUnknownDevice)
	}

	e.mu.Lock()
	prev := e.current
	e.current = nil
	e.device = -1
	dropped := len(e.voices)
	clear(e.voices)
	e.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			e.logger.Warn("close output device", "err", err)
		}
	}

	next := e.devices[index]
	if err := next.Start(e, e.rate); err != nil {
		return fmt.Errorf("soft: start device %q: %w", next.Name(), err)
	}

	e.mu.Lock()
	e.current = next
	e.device = index
	e.mu.Unlock()

	e.logger.Info("output device started", "device", index, "name", next.Name(), "voices_dropped", dropped)
	return nil
}

// Close stops the output device and frees every voice.
func (e *Engine) Close() error {
	e.mu.Lock()
	dev := e.current
	e.current = nil
	e.device = -1
	clear(e.voices)
	e.mu.Unlock()

	if dev == nil {
		return nil
	}
	if err := dev.Close(); err != nil {
		return fmt.Errorf("soft: close device %q: %w", dev.Name(), err)
	}
	return nil
}

// Render mixes len(dst)/2 stereo frames into dst, overwriting it.
func (e *Engine) Render(dst []float32) {
	clear(dst)
	frames := len(dst) / 2

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range e.voices {
		if v.activity != audio.ActivityPlaying {
			continue
		}
		e.mix(v, dst[:frames*2])
	}
}

// Read renders float32 little-endian stereo into p so that the engine can be
// handed to a device as an io.Reader. Read never fails.
func (e *Engine) Read(p []byte) (int, error) {
	const frameBytes = 8
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}

	e.mu.Lock()
	if cap(e.scratch) < frames*2 {
		e.scratch = make([]float32, frames*2)
	}
	buf := e.scratch[:frames*2]
	e.mu.Unlock()

	e.Render(buf)
	for i, s := range buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return frames * frameBytes, nil
}

// mix adds v's output to dst. Must be called with e.mu held.
func (e *Engine) mix(v *voice, dst []float32) {
	src := v.data.Samples
	n := v.data.Frames()
	if n == 0 {
		v.activity = audio.ActivityStopped
		return
	}

	step := v.frequency / float64(e.rate)
	loop := v.flags&audio.FlagLoop != 0
	leftGain := math.Min(1, 1-v.pan)
	rightGain := math.Min(1, 1+v.pan)

	var peakL, peakR float32
	for i := 0; i < len(dst); i += 2 {
		if v.pos >= float64(n) {
			if !loop {
				v.activity = audio.ActivityStopped
				break
			}
			v.pos = math.Mod(v.pos, float64(n))
		}

		idx := int(v.pos)
		frac := v.pos - float64(idx)
		next := idx + 1
		if next >= n {
			if loop {
				next = 0
			} else {
				next = idx
			}
		}
		l := lerp(src[idx*2], src[next*2], frac)
		r := lerp(src[idx*2+1], src[next*2+1], frac)

		if v.noRamp {
			v.gain = v.volume
		} else {
			v.gain = rampToward(v.gain, v.volume)
		}
		outL := float32(l * v.gain * leftGain)
		outR := float32(r * v.gain * rightGain)
		dst[i] += outL
		dst[i+1] += outR

		peakL = max(peakL, float32(math.Abs(float64(outL))))
		peakR = max(peakR, float32(math.Abs(float64(outR))))
		v.history[v.written&(historySize-1)] = (outL + outR) / 2
		v.written++

		v.pos += step
	}
	v.levels = audio.Levels{Left: peakL, Right: peakR}
}

func lerp(a, b float32, frac float64) float64 {
	return float64(a)*(1-frac) + float64(b)*frac
}

func rampToward(current, target float64) float64 {
	const step = 1.0 / rampFrames
	switch {
	case current < target:
		return math.Min(current+step, target)
	case current > target:
		return math.Max(current-step, target)
	}
	return current
}
