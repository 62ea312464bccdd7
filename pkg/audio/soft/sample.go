package soft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/samplechan/pkg/audio"
)

var _ audio.Sample = (*Sample)(nil)

// ErrLoading is returned by [Sample.Err] while the loader is still running.
var ErrLoading = errors.New("soft: sample still loading")

// Loader produces decoded audio. It is called once per [Sample.Load].
type Loader func(ctx context.Context) (*Decoded, error)

// FileLoader returns a Loader that decodes the file at path.
func FileLoader(path, format string) Loader {
	return func(context.Context) (*Decoded, error) {
		return DecodeFile(path, format)
	}
}

// ToneLoader returns a Loader that synthesises a sine tone.
func ToneLoader(frequency float64, duration time.Duration, sampleRate int) Loader {
	return func(context.Context) (*Decoded, error) {
		return Tone(frequency, duration, sampleRate, 0.5), nil
	}
}

// Sample is decoded audio that voices can be spawned from. It reports
// loaded only after its data is in memory, so channels may be created and
// played before loading completes.
type Sample struct {
	name   string
	engine *Engine
	logger *slog.Logger

	data atomic.Pointer[Decoded]

	once sync.Once
	done chan struct{}
	err  error
}

// NewSample creates an unloaded sample whose voices are allocated on engine.
func NewSample(engine *Engine, name string) *Sample {
	return &Sample{
		name:   name,
		engine: engine,
		logger: engine.logger,
		done:   make(chan struct{}),
	}
}

// NewLoadedSample creates a sample that is loaded with d.
func NewLoadedSample(engine *Engine, name string, d *Decoded) *Sample {
	s := NewSample(engine, name)
	s.finish(d, nil)
	return s
}

// Name returns the sample name.
func (s *Sample) Name() string { return s.name }

// Load runs load in the background. Only the first call has an effect.
func (s *Sample) Load(ctx context.Context, load Loader) {
	go func() { _ = s.LoadSync(ctx, load) }()
}

// LoadSync runs load on the calling goroutine and returns its error. Only
// the first Load or LoadSync call runs the loader; later calls wait for it.
func (s *Sample) LoadSync(ctx context.Context, load Loader) error {
	ran := false
	s.once.Do(func() {
		ran = true
		start := time.Now()
		d, err := load(ctx)
		if err != nil {
			s.logger.Warn("sample load failed", "sample", s.name, "err", err)
			s.finish(nil, fmt.Errorf("soft: load sample %q: %w", s.name, err))
			return
		}
		s.logger.Debug("sample loaded", "sample", s.name, "format", d.String(), "took", time.Since(start))
		s.finish(d, nil)
	})
	if !ran {
		return s.Wait(ctx)
	}
	return s.err
}

func (s *Sample) finish(d *Decoded, err error) {
	if d != nil {
		s.data.Store(d)
	}
	s.err = err
	close(s.done)
}

// Wait blocks until loading finished or ctx is done and returns the load
// error.
func (s *Sample) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the load error without blocking, or [ErrLoading] while the
// loader has not finished.
func (s *Sample) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return ErrLoading
	}
}

// Data returns the decoded audio or nil while unloaded.
func (s *Sample) Data() *Decoded { return s.data.Load() }

// IsLoaded implements [audio.Sample].
func (s *Sample) IsLoaded() bool { return s.data.Load() != nil }

// CreateChannel implements [audio.Sample].
func (s *Sample) CreateChannel() audio.Handle {
	return s.engine.NewVoice(s.data.Load())
}

// BankEntry names one sample for [LoadBank].
type BankEntry struct {
	Name string
	Load Loader
}

// LoadBank loads entries concurrently, at most limit at a time (no limit if
// limit <= 0). It returns every sample, including ones that failed, and the
// first load error.
func LoadBank(ctx context.Context, engine *Engine, entries []BankEntry, limit int) (map[string]*Sample, error) {
	samples := make(map[string]*Sample, len(entries))
	for _, e := range entries {
		samples[e.Name] = NewSample(engine, e.Name)
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, e := range entries {
		s := samples[e.Name]
		g.Go(func() error {
			return s.LoadSync(gctx, e.Load)
		})
	}
	return samples, g.Wait()
}
