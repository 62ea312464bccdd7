package channel_test

import (
	"math"
	"testing"

	"github.com/MrWong99/samplechan/pkg/audio"
	"github.com/MrWong99/samplechan/pkg/audio/channel"
	"github.com/MrWong99/samplechan/pkg/audio/mock"
)

// sine returns n samples of a unit sine that completes cycles periods.
func sine(n, cycles int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * float64(cycles) * float64(i) / float64(n)))
	}
	return out
}

func TestAmplitudeProcessor_UnboundStartsEmpty(t *testing.T) {
	t.Parallel()

	p := channel.NewAmplitudeProcessor(mock.NewEngine(), audio.HandleNone)
	p.Update()

	got := p.Current()
	if !got.IsSilent() {
		t.Errorf("snapshot = %+v, want silent", got)
	}
	if len(got.Frequencies) != audio.FrequencyBins {
		t.Errorf("len(Frequencies) = %d, want %d", len(got.Frequencies), audio.FrequencyBins)
	}
}

func TestAmplitudeProcessor_ReadsLevelsAndSpectrum(t *testing.T) {
	t.Parallel()

	eng := mock.NewEngine()
	eng.LevelsResult = audio.Levels{Left: 0.25, Right: 0.75}
	eng.DataResult = sine(2*audio.FrequencyBins, 32)
	h := eng.NewVoice()

	p := channel.NewAmplitudeProcessor(eng, h, channel.WithSmoothing(0))
	p.Update()

	got := p.Current()
	if got.Left != 0.25 || got.Right != 0.75 {
		t.Errorf("levels = %v/%v, want 0.25/0.75", got.Left, got.Right)
	}
	if got.Maximum() != 0.75 {
		t.Errorf("Maximum = %v, want 0.75", got.Maximum())
	}
	if got.Average() != 0.5 {
		t.Errorf("Average = %v, want 0.5", got.Average())
	}

	peak := 0
	for i, v := range got.Frequencies {
		if v > got.Frequencies[peak] {
			peak = i
		}
	}
	if peak != 32 {
		t.Errorf("spectrum peak at bin %d, want 32", peak)
	}
}

func TestAmplitudeProcessor_StaleHandleYieldsZero(t *testing.T) {
	t.Parallel()

	eng := mock.NewEngine()
	eng.LevelsResult = audio.Levels{Left: 1, Right: 1}
	eng.DataResult = sine(2*audio.FrequencyBins, 8)
	h := eng.NewVoice()

	p := channel.NewAmplitudeProcessor(eng, h)
	p.Update()
	if p.Current().IsSilent() {
		t.Fatal("expected non-silent snapshot from live voice")
	}

	eng.InvalidateAll()
	p.Update()
	if got := p.Current(); !got.IsSilent() {
		t.Errorf("snapshot after invalidation = %+v, want silent", got)
	}
}

func TestAmplitudeProcessor_NoneHandleKeepsLastSnapshot(t *testing.T) {
	t.Parallel()

	eng := mock.NewEngine()
	eng.LevelsResult = audio.Levels{Left: 0.5, Right: 0.5}
	h := eng.NewVoice()

	p := channel.NewAmplitudeProcessor(eng, h)
	p.Update()

	p.SetChannel(audio.HandleNone)
	p.Update()
	if got := p.Current(); got.Left != 0.5 {
		t.Errorf("Left = %v after unbinding, want last value 0.5", got.Left)
	}
}

func TestAmplitudeProcessor_Smoothing(t *testing.T) {
	t.Parallel()

	eng := mock.NewEngine()
	eng.DataResult = sine(2*audio.FrequencyBins, 16)
	h := eng.NewVoice()

	raw := channel.NewAmplitudeProcessor(eng, h, channel.WithSmoothing(0))
	smooth := channel.NewAmplitudeProcessor(eng, h, channel.WithSmoothing(0.5))
	raw.Update()
	smooth.Update()

	r := raw.Current().Frequencies[16]
	s := smooth.Current().Frequencies[16]
	if math.Abs(float64(s)-float64(r)/2) > 1e-6 {
		t.Errorf("smoothed bin = %v, want half of raw %v", s, r)
	}
}
