package soft

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Device is an output sink that pulls rendered audio from the engine.
// Start begins pulling interleaved float32 little-endian stereo from src at
// sampleRate; Close stops pulling and releases the device. A device may be
// started again after Close.
type Device interface {
	Name() string
	Start(src io.Reader, sampleRate int) error
	Close() error
}

// NullDevice discards output. With a positive period it pulls from the
// engine in real time, which keeps voices advancing on headless hosts; with
// a zero period it never pulls and the caller drives [Engine.Render].
type NullDevice struct {
	name   string
	period time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewNullDevice creates a null device that pulls every period.
func NewNullDevice(name string, period time.Duration) *NullDevice {
	return &NullDevice{name: name, period: period}
}

// Name implements [Device].
func (d *NullDevice) Name() string { return d.name }

// Start implements [Device].
func (d *NullDevice) Start(src io.Reader, sampleRate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return errors.New("soft: null device already started")
	}
	if d.period <= 0 {
		return nil
	}

	frames := int(int64(sampleRate) * int64(d.period) / int64(time.Second))
	buf := make([]byte, max(frames, 1)*8)
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.pull(src, buf, d.stop, d.done)
	return nil
}

func (d *NullDevice) pull(src io.Reader, buf []byte, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_, _ = src.Read(buf)
		}
	}
}

// Close implements [Device].
func (d *NullDevice) Close() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// The oto context can be created once per process and fixes the sample rate
// for its lifetime, so it is shared by every OtoDevice.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

func otoContext(sampleRate int, bufferSize time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatFloat32LE,
			BufferSize:   bufferSize,
		})
		if err != nil {
			otoErr = fmt.Errorf("soft: create oto context: %w", err)
			return
		}
		<-ready
		otoCtx, otoRate = ctx, sampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("soft: oto context runs at %d Hz, cannot open at %d Hz", otoRate, sampleRate)
	}
	return otoCtx, nil
}

// OtoDevice plays through the system's default audio output using oto.
type OtoDevice struct {
	name       string
	bufferSize time.Duration

	mu     sync.Mutex
	player *oto.Player
}

// NewOtoDevice creates an oto-backed device. bufferSize is passed to oto; zero
// lets oto choose.
func NewOtoDevice(name string, bufferSize time.Duration) *OtoDevice {
	return &OtoDevice{name: name, bufferSize: bufferSize}
}

// Name implements [Device].
func (d *OtoDevice) Name() string { return d.name }

// Start implements [Device].
func (d *OtoDevice) Start(src io.Reader, sampleRate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		return errors.New("soft: oto device already started")
	}
	ctx, err := otoContext(sampleRate, d.bufferSize)
	if err != nil {
		return err
	}
	d.player = ctx.NewPlayer(src)
	d.player.Play()
	return nil
}

// Close implements [Device].
func (d *OtoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return nil
	}
	err := d.player.Close()
	d.player = nil
	if err != nil {
		return fmt.Errorf("soft: close oto player: %w", err)
	}
	return nil
}
