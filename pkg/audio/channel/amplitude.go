package channel

import (
	"math"
	"math/cmplx"
	"sync/atomic"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/MrWong99/samplechan/pkg/audio"
)

// fftSize is the number of output samples analysed per update. It yields
// fftSize/2 == [audio.FrequencyBins] spectrum bins.
const fftSize = audio.FrequencyBins * 2

// DefaultSmoothing is the weight given to the previous spectrum when a new
// one is computed.
const DefaultSmoothing = 0.5

// AmplitudeOption configures an [AmplitudeProcessor].
type AmplitudeOption func(*AmplitudeProcessor)

// WithSmoothing sets the temporal smoothing factor in [0, 1). Zero disables
// smoothing.
func WithSmoothing(factor float64) AmplitudeOption {
	return func(p *AmplitudeProcessor) {
		if factor >= 0 && factor < 1 {
			p.smoothing = factor
		}
	}
}

// AmplitudeProcessor samples a voice's output and keeps the latest
// [audio.Amplitudes] snapshot.
//
// Update and SetChannel run on the control goroutine; Current may be called
// from any goroutine.
type AmplitudeProcessor struct {
	engine    audio.Engine
	smoothing float64

	handle  atomic.Uint32
	current atomic.Pointer[audio.Amplitudes]

	// control goroutine only
	buf    []float32
	input  []float64
	window []float64
	bins   []float64
}

// NewAmplitudeProcessor creates a processor bound to h, which may be
// [audio.HandleNone]. The initial snapshot is all zero.
func NewAmplitudeProcessor(engine audio.Engine, h audio.Handle, opts ...AmplitudeOption) *AmplitudeProcessor {
	p := &AmplitudeProcessor{
		engine:    engine,
		smoothing: DefaultSmoothing,
		buf:       make([]float32, fftSize),
		input:     make([]float64, fftSize),
		window:    window.Hann(fftSize),
		bins:      make([]float64, audio.FrequencyBins),
	}
	for _, o := range opts {
		o(p)
	}
	p.handle.Store(uint32(h))
	empty := audio.EmptyAmplitudes()
	p.current.Store(&empty)
	return p
}

// SetChannel rebinds the processor to h. The current snapshot is kept until
// the next Update.
func (p *AmplitudeProcessor) SetChannel(h audio.Handle) {
	p.handle.Store(uint32(h))
}

// Channel returns the bound handle.
func (p *AmplitudeProcessor) Channel() audio.Handle {
	return audio.Handle(p.handle.Load())
}

// Current returns the latest snapshot. The returned value must be treated as
// read-only.
func (p *AmplitudeProcessor) Current() audio.Amplitudes {
	return *p.current.Load()
}

// Update refreshes the snapshot from the engine. Without a bound voice the
// snapshot is left untouched; a stale voice yields an all-zero snapshot.
func (p *AmplitudeProcessor) Update() {
	h := p.Channel()
	if !h.Valid() {
		return
	}

	levels, ok := p.engine.Level(h)
	if !ok {
		clear(p.bins)
		empty := audio.EmptyAmplitudes()
		p.current.Store(&empty)
		return
	}

	n := p.engine.Data(h, p.buf)
	for i := range p.input {
		var s float64
		if i < n {
			s = float64(p.buf[i])
		}
		p.input[i] = s * p.window[i]
	}

	spectrum := fft.FFTReal(p.input)
	freqs := make([]float32, audio.FrequencyBins)
	for i := range freqs {
		mag := cmplx.Abs(spectrum[i]) * 2 / fftSize
		p.bins[i] = p.smoothing*p.bins[i] + (1-p.smoothing)*mag
		freqs[i] = float32(math.Min(p.bins[i], 1))
	}

	p.current.Store(&audio.Amplitudes{
		Left:        clamp01(levels.Left),
		Right:       clamp01(levels.Right),
		Frequencies: freqs,
	})
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
