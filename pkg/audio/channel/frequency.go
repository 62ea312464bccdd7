package channel

import (
	"math"

	"github.com/MrWong99/samplechan/pkg/audio"
)

// Engine frequency limits in Hz. Writes are clamped into this range.
const (
	MinFrequency = 100
	MaxFrequency = 100000
)

// ZeroTolerance is the largest multiplier magnitude treated as zero.
const ZeroTolerance = 1e-7

// Pauser lets a [FrequencyHandler] hold a voice silently at zero frequency
// and release it again, without touching the owning channel's transport
// state.
type Pauser interface {
	Pause()
	Resume()
}

// FrequencyHandler translates a relative frequency multiplier into absolute
// engine frequency writes. A multiplier of zero means "hold position
// silently" and is realised as an engine pause through the injected
// [Pauser], since engines treat a zero rate as undefined.
//
// FrequencyHandler is not safe for concurrent use; it lives on the control
// goroutine.
type FrequencyHandler struct {
	engine audio.Engine
	pauser Pauser

	handle     audio.Handle
	initial    float64 // native frequency of the bound voice
	multiplier float64
	zero       bool
}

// NewFrequencyHandler creates a handler that writes to engine and delegates
// zero-frequency transitions to pauser. The initial multiplier is 1.
func NewFrequencyHandler(engine audio.Engine, pauser Pauser) *FrequencyHandler {
	return &FrequencyHandler{
		engine:     engine,
		pauser:     pauser,
		multiplier: 1,
	}
}

// SetChannel binds the handler to a new voice, captures the voice's native
// frequency, and reapplies the last known multiplier. A zero multiplier
// pauses the new voice immediately.
func (f *FrequencyHandler) SetChannel(h audio.Handle) {
	f.handle = h
	f.initial = 0
	f.zero = false
	if !h.Valid() {
		return
	}
	if freq, ok := f.engine.Attribute(h, audio.AttrFrequency); ok {
		f.initial = freq
	}
	f.UpdateChannelFrequency(f.multiplier)
}

// UpdateChannelFrequency applies multiplier to the bound voice.
//
// Multipliers within [ZeroTolerance] of zero count as zero. Entering zero
// pauses the voice once; leaving zero resumes it once. Repeated
// calls within the same zero/non-zero class never re-invoke the [Pauser].
// Without a bound voice the multiplier is only remembered.
func (f *FrequencyHandler) UpdateChannelFrequency(multiplier float64) {
	f.multiplier = multiplier
	if !f.handle.Valid() {
		return
	}

	if math.Abs(multiplier) <= ZeroTolerance {
		if !f.zero {
			f.zero = true
			f.pauser.Pause()
		}
		return
	}

	freq := math.Abs(f.initial * multiplier)
	freq = math.Min(math.Max(freq, MinFrequency), MaxFrequency)
	f.engine.SetAttribute(f.handle, audio.AttrFrequency, freq)

	if f.zero {
		f.zero = false
		f.pauser.Resume()
	}
}

// IsFrequencyZero reports whether the handler currently holds the voice in a
// zero-frequency pause.
func (f *FrequencyHandler) IsFrequencyZero() bool {
	return f.zero
}

// Multiplier returns the last multiplier passed to UpdateChannelFrequency.
func (f *FrequencyHandler) Multiplier() float64 {
	return f.multiplier
}
