// Package app wires all samplechan subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and the meter stream until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject a registry or metrics via functional options. Configs
// using the "discard" driver without a period and tone samples need neither
// audio hardware nor files.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/samplechan/internal/config"
	"github.com/MrWong99/samplechan/internal/health"
	"github.com/MrWong99/samplechan/internal/meter"
	"github.com/MrWong99/samplechan/internal/observe"
	"github.com/MrWong99/samplechan/internal/resilience"
	"github.com/MrWong99/samplechan/pkg/audio/adjust"
	"github.com/MrWong99/samplechan/pkg/audio/channel"
	"github.com/MrWong99/samplechan/pkg/audio/control"
	"github.com/MrWong99/samplechan/pkg/audio/soft"
)

// switchTimeout bounds how long a device switch may wait for the control
// thread.
const switchTimeout = 5 * time.Second

// Breaker settings for devices with a fallback.
const (
	deviceMaxFailures  = 2
	deviceResetTimeout = 30 * time.Second
)

// channelEntry is a configured channel and its adjustment node.
type channelEntry struct {
	ch     *channel.SampleChannel
	params *adjust.Adjustments
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	level    *slog.LevelVar
	logger   *slog.Logger

	// Subsystems, initialised in New and torn down in Shutdown.
	engine   *soft.Engine
	thread   *control.Thread
	manager  *channel.Manager
	master   *adjust.Adjustments
	samples  map[string]*soft.Sample
	meter    *meter.Broadcaster
	handler  http.Handler
	listener net.Listener

	mu       sync.Mutex
	channels map[string]channelEntry

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRegistry replaces the default device and loader registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable of the process logger so
// that config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithLogger sets the logger passed to every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Samples are loaded
// synchronously; a sample that fails to load is logged, its channels stay
// silent and /readyz reports it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		channels: make(map[string]channelEntry),
	}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewDefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(cfg.Server.LogLevel.SlogLevel())
	if a.logger == nil {
		a.logger = slog.Default()
	}

	// ── 1. Engine + devices ──────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 2. Samples ───────────────────────────────────────────────────────
	if err := a.initSamples(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init samples: %w", err)
	}

	// ── 3. Control thread + manager ──────────────────────────────────────
	a.initControl()

	// ── 4. Output device ─────────────────────────────────────────────────
	if err := a.switchDevice(ctx, cfg.Engine.Device); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: start device: %w", err)
	}

	// ── 5. Channels ──────────────────────────────────────────────────────
	a.initChannels()

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initEngine() error {
	devices := make([]soft.Device, 0, len(a.cfg.Engine.Devices))
	for _, dc := range a.cfg.Engine.Devices {
		dev, err := a.createDevice(dc)
		if err != nil {
			return err
		}
		devices = append(devices, dev)
	}

	a.engine = soft.New(
		soft.WithSampleRate(a.cfg.Engine.SampleRate),
		soft.WithDevices(devices...),
		soft.WithLogger(a.logger),
	)
	a.closers = append(a.closers, a.engine.Close)
	return nil
}

// createDevice instantiates dc. A device with a fallback is wrapped so that
// a fresh instance of the fallback is started when dc fails to open.
func (a *App) createDevice(dc config.DeviceConfig) (soft.Device, error) {
	dev, err := a.registry.CreateDevice(dc, a.cfg.Engine)
	if err != nil || dc.Fallback == "" {
		return dev, err
	}
	idx := slices.IndexFunc(a.cfg.Engine.Devices, func(d config.DeviceConfig) bool {
		return d.Name == dc.Fallback
	})
	if idx < 0 {
		return nil, fmt.Errorf("app: device %q: unknown fallback %q", dc.Name, dc.Fallback)
	}
	fc := a.cfg.Engine.Devices[idx]
	fc.Fallback = ""
	fb, err := a.registry.CreateDevice(fc, a.cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("app: device %q fallback: %w", dc.Name, err)
	}
	return resilience.NewFallbackDevice(dev, resilience.CircuitBreakerConfig{
		MaxFailures:  deviceMaxFailures,
		ResetTimeout: deviceResetTimeout,
		Logger:       a.logger.With("device", dc.Name),
	}, fb), nil
}

// initSamples decodes every configured sample. Unregistered formats are
// configuration errors; decode failures are not.
func (a *App) initSamples(ctx context.Context) error {
	entries := make([]soft.BankEntry, 0, len(a.cfg.Samples))
	for _, sc := range a.cfg.Samples {
		load, err := a.registry.CreateLoader(sc, a.cfg.Engine)
		if err != nil {
			return err
		}
		entries = append(entries, soft.BankEntry{Name: sc.Name, Load: a.timed(sc.Name, load)})
	}

	start := time.Now()
	samples, err := soft.LoadBank(ctx, a.engine, entries, a.cfg.Engine.LoadParallelism)
	if err != nil {
		a.logger.Warn("some samples failed to load", "err", err)
	}
	a.samples = samples
	a.logger.Info("samples loaded", "count", len(samples), "took", time.Since(start))
	return nil
}

// timed wraps load so that its duration is recorded.
func (a *App) timed(name string, load soft.Loader) soft.Loader {
	return func(ctx context.Context) (*soft.Decoded, error) {
		start := time.Now()
		d, err := load(ctx)
		a.metrics.RecordSampleLoad(ctx, name, time.Since(start), err)
		return d, err
	}
}

func (a *App) initControl() {
	a.thread = control.New(
		control.WithTickInterval(a.cfg.Engine.TickInterval),
		control.WithLogger(a.logger),
		control.WithDrainHook(a.metrics.RecordDrain),
	)
	a.manager = channel.NewManager(a.engine, a.thread,
		channel.WithManagerLogger(a.logger),
		channel.WithRecorder(a.metrics),
	)
	unregister := a.thread.Register(a.manager)

	// Closers run in order: channels release their voices on the control
	// thread before it stops.
	a.closers = append([]func() error{
		func() error {
			unregister()
			if err := a.manager.Close(); err != nil {
				return err
			}
			a.mu.Lock()
			for _, e := range a.channels {
				e.params.Close()
			}
			a.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return a.thread.Flush(ctx)
		},
		a.thread.Close,
	}, a.closers...)
}

func (a *App) initChannels() {
	a.master = adjust.New(nil)
	applyAdjustment(a.master, a.cfg.Master)

	for _, cc := range a.cfg.Channels {
		sample, ok := a.samples[cc.Sample]
		if !ok {
			a.logger.Warn("channel references unknown sample", "channel", cc.Name, "sample", cc.Sample)
			continue
		}
		params := adjust.New(a.master)
		applyAdjustment(params, cc.AdjustmentConfig)

		ch := a.manager.NewChannel(sample,
			channel.WithName(cc.Name),
			channel.WithParameters(params),
		)
		ch.SetLooping(cc.Looping)
		if cc.Autoplay {
			ch.Play(true)
		}
		a.channels[cc.Name] = channelEntry{ch: ch, params: params}
	}
	a.logger.Info("channels ready", "count", len(a.channels))
}

func (a *App) initHTTP() {
	a.meter = meter.New(a.manager,
		meter.WithInterval(a.cfg.Meter.Interval),
		meter.WithLogger(a.logger),
	)

	mux := http.NewServeMux()
	health.New(
		health.ControlThread(a.thread.Closed),
		health.Samples(a.samples),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /meter", a.meter)
	a.registerAPI(mux)

	a.handler = observe.Middleware(a.metrics)(mux)
}

// applyAdjustment copies the configured values onto adj.
func applyAdjustment(adj *adjust.Adjustments, c config.AdjustmentConfig) {
	adj.SetVolume(c.VolumeOrDefault())
	adj.SetBalance(c.Balance)
	adj.SetFrequency(c.FrequencyOrDefault())
}

func (a *App) switchDevice(ctx context.Context, index int) (err error) {
	ctx, span := observe.StartSpan(ctx, "samplechan.device.switch", observe.DeviceKey.Int(index))
	defer func() { observe.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, switchTimeout)
	defer cancel()
	return a.manager.SwitchDevice(ctx, index)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving health, metrics, the meter stream
// and the channel API.
func (a *App) Handler() http.Handler { return a.handler }

// Manager returns the channel manager.
func (a *App) Manager() *channel.Manager { return a.manager }

// Engine returns the software engine.
func (a *App) Engine() *soft.Engine { return a.engine }

// Channel returns the configured channel with the given name.
func (a *App) Channel(name string) (*channel.SampleChannel, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.channels[name]
	return e.ch, ok
}

// Flush waits until every command queued so far ran on the control thread.
func (a *App) Flush(ctx context.Context) error { return a.thread.Flush(ctx) }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured listen address and drives the meter
// stream until ctx is cancelled. It returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()
	a.logger.Info("http server listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.meter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Addr returns the address Run listens on, or nil before Run started.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			a.logger.Warn("closer error", "index", i, "err", err)
		}
	}
}
