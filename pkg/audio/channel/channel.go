// Package channel implements the long-lived, user-facing playback object that
// sits above an [audio.Engine]: [SampleChannel].
//
// A SampleChannel turns an unreliable, device-bound voice handle into a
// stable, observable playback object. Every mutation is deferred to the
// control goroutine through a [Scheduler]; state queries read atomic fields
// that the control goroutine refreshes on each tick. The package also
// provides the two helpers a channel composes, [FrequencyHandler] and
// [AmplitudeProcessor], and [Manager], the host that ticks channels and
// migrates them across device switches.
package channel

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/samplechan/pkg/audio"
)

// Scheduler runs deferred actions on the control goroutine in submission
// order. [control.Thread] and [control.Queue] both satisfy it.
type Scheduler interface {
	Enqueue(fn func())
}

// Parameters supplies the aggregate volume, balance and frequency a channel
// pushes to its voice. Subscribe registers fn to be called whenever any of
// them changes and returns a function that removes the registration.
type Parameters interface {
	AggregateVolume() float64
	AggregateBalance() float64
	AggregateFrequency() float64
	Subscribe(fn func()) (unsubscribe func())
}

// fixedParameters is used when no [Parameters] are configured.
type fixedParameters struct{}

func (fixedParameters) AggregateVolume() float64    { return 1 }
func (fixedParameters) AggregateBalance() float64   { return 0 }
func (fixedParameters) AggregateFrequency() float64 { return 1 }
func (fixedParameters) Subscribe(func()) func()     { return func() {} }

// Hooks are optional callbacks invoked synchronously on the caller's
// goroutine when the corresponding operation is requested.
type Hooks struct {
	OnPlay func(c *SampleChannel)
	OnStop func(c *SampleChannel)
}

// Option configures a [SampleChannel] during construction.
type Option func(*SampleChannel)

// WithParameters sets the aggregate parameter source. The channel subscribes
// immediately and unsubscribes on Close.
func WithParameters(p Parameters) Option {
	return func(c *SampleChannel) {
		if p != nil {
			c.params = p
		}
	}
}

// WithName sets a human-readable name used in logs.
func WithName(name string) Option {
	return func(c *SampleChannel) { c.name = name }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *SampleChannel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHooks installs operation hooks.
func WithHooks(h Hooks) Option {
	return func(c *SampleChannel) { c.hooks = h }
}

// WithAmplitudeOptions configures the amplitude processor created on the
// first call to [SampleChannel.CurrentAmplitudes].
func WithAmplitudeOptions(opts ...AmplitudeOption) Option {
	return func(c *SampleChannel) { c.ampOpts = append(c.ampOpts, opts...) }
}

// SampleChannel plays one [audio.Sample] through at most one engine voice at a
// time.
//
// Play, Stop, SetLooping and Close only enqueue work and never block. Playing
// and CurrentAmplitudes read cached values and are safe from any goroutine.
// OnStateChanged, UpdateDevice and UpdateState must run on the control
// goroutine.
//
// Concurrent Play/Stop calls on the same channel from different goroutines
// execute in queue order but their relative order is whatever the queue
// received; callers that need a specific order must serialise them.
type SampleChannel struct {
	id      string
	name    string
	sample  audio.Sample
	engine  audio.Engine
	sched   Scheduler
	params  Parameters
	logger  *slog.Logger
	hooks   Hooks
	ampOpts []AmplitudeOption

	handle    atomic.Uint32
	playing   atomic.Bool
	looping   atomic.Bool
	requested atomic.Bool  // a Play is outstanding and no Stop followed it
	starting  atomic.Int32 // queued Play calls whose start has not run yet
	closed    atomic.Bool
	amp       atomic.Pointer[AmplitudeProcessor]

	freq *FrequencyHandler // control goroutine only

	unsubscribe func()
	closeOnce   sync.Once
}

// New creates a channel for sample. Voices are created on engine and all
// mutations are deferred through sched.
func New(sample audio.Sample, engine audio.Engine, sched Scheduler, opts ...Option) *SampleChannel {
	c := &SampleChannel{
		id:     uuid.NewString(),
		sample: sample,
		engine: engine,
		sched:  sched,
		params: fixedParameters{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("channel_id", c.id, "channel", c.name)
	c.freq = NewFrequencyHandler(engine, voicePauser{c: c})
	c.unsubscribe = c.params.Subscribe(c.InvalidateState)
	return c
}

// ID returns the channel's unique identifier.
func (c *SampleChannel) ID() string { return c.id }

// Name returns the name configured with [WithName].
func (c *SampleChannel) Name() string { return c.name }

// Handle returns the currently bound voice, or [audio.HandleNone].
func (c *SampleChannel) Handle() audio.Handle {
	return audio.Handle(c.handle.Load())
}

// IsLoaded reports whether the channel's sample finished loading.
func (c *SampleChannel) IsLoaded() bool {
	return c.sample.IsLoaded()
}

// Playing reports the transport state as of the last tick, or true if Play
// was called since. It never blocks.
func (c *SampleChannel) Playing() bool {
	return c.playing.Load()
}

// Looping reports whether the channel loops its sample.
func (c *SampleChannel) Looping() bool {
	return c.looping.Load()
}

// SetLooping changes the loop flag and reapplies it to the current voice.
func (c *SampleChannel) SetLooping(looping bool) {
	c.looping.Store(looping)
	c.sched.Enqueue(c.applyLooping)
}

// Play starts playback on a fresh voice. Playing reports true immediately;
// the engine work happens on the control goroutine. When restart is false an
// engine that supports resuming continues from the voice's position.
func (c *SampleChannel) Play(restart bool) {
	if c.closed.Load() {
		return
	}
	c.requested.Store(true)
	c.starting.Add(1)
	c.playing.Store(true)

	c.sched.Enqueue(c.createVoice)
	c.InvalidateState()
	c.sched.Enqueue(func() { c.startVoice(restart) })

	if c.hooks.OnPlay != nil {
		c.hooks.OnPlay(c)
	}
}

// PlayFromStart is Play(true).
func (c *SampleChannel) PlayFromStart() {
	c.Play(true)
}

// Stop stops and frees the current voice, if any.
func (c *SampleChannel) Stop() {
	c.requested.Store(false)
	c.sched.Enqueue(c.releaseVoice)

	if c.hooks.OnStop != nil {
		c.hooks.OnStop(c)
	}
}

// InvalidateState schedules OnStateChanged on the control goroutine.
func (c *SampleChannel) InvalidateState() {
	c.sched.Enqueue(c.OnStateChanged)
}

// OnStateChanged pushes the aggregate volume and balance to the voice and
// reconciles its frequency. It is a no-op without a voice.
func (c *SampleChannel) OnStateChanged() {
	h := c.Handle()
	if !h.Valid() {
		return
	}
	c.engine.SetAttribute(h, audio.AttrVolume, c.params.AggregateVolume())
	c.engine.SetAttribute(h, audio.AttrPan, c.params.AggregateBalance())
	c.freq.UpdateChannelFrequency(c.params.AggregateFrequency())
}

// UpdateDevice is called by the host after the engine switched to the device
// at index. The engine has already invalidated every voice, so the handle is
// dropped without being freed. No voice is created until the next Play.
func (c *SampleChannel) UpdateDevice(index int) {
	old := audio.Handle(c.handle.Swap(uint32(audio.HandleNone)))
	c.freq.SetChannel(audio.HandleNone)
	if old.Valid() {
		c.logger.Debug("voice dropped after device switch", "device", index, "handle", old)
	}
}

// UpdateState refreshes the cached transport state from the engine and
// updates the amplitude snapshot if a processor exists. While a Play is
// still queued the transport state stays playing.
func (c *SampleChannel) UpdateState() {
	if c.starting.Load() == 0 {
		h := c.Handle()
		c.playing.Store(h.Valid() && c.engine.Activity(h) != audio.ActivityStopped)
	}

	if p := c.amp.Load(); p != nil {
		p.Update()
	}
}

// CurrentAmplitudes returns the latest amplitude snapshot, creating the
// amplitude processor on first use.
func (c *SampleChannel) CurrentAmplitudes() audio.Amplitudes {
	return c.ensureAmplitudeProcessor().Current()
}

// Close stops the active voice and detaches the channel from its
// parameters. Close is idempotent and always returns nil.
func (c *SampleChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.requested.Store(false)
		c.unsubscribe()
		c.sched.Enqueue(c.releaseVoice)
	})
	return nil
}

// ensureAmplitudeProcessor returns the processor, creating it bound to the
// current voice if absent. The bind loop closes the window in which the
// control goroutine swaps the voice between creation and publication.
func (c *SampleChannel) ensureAmplitudeProcessor() *AmplitudeProcessor {
	if p := c.amp.Load(); p != nil {
		return p
	}
	p := NewAmplitudeProcessor(c.engine, c.Handle(), c.ampOpts...)
	if !c.amp.CompareAndSwap(nil, p) {
		return c.amp.Load()
	}
	for {
		h := c.Handle()
		p.SetChannel(h)
		if c.Handle() == h {
			return p
		}
	}
}

// createVoice replaces the current voice with a fresh one. Control goroutine.
func (c *SampleChannel) createVoice() {
	c.releaseVoice()

	if !c.sample.IsLoaded() {
		c.logger.Debug("play requested before sample finished loading")
		c.freq.SetChannel(audio.HandleNone)
		return
	}

	h := c.sample.CreateChannel()
	c.handle.Store(uint32(h))
	if !h.Valid() {
		c.logger.Warn("engine could not allocate a voice")
	} else {
		c.engine.SetAttribute(h, audio.AttrNoRamp, 1)
		c.applyLooping()
	}

	c.freq.SetChannel(h)
	if p := c.amp.Load(); p != nil {
		p.SetChannel(h)
	}
}

// startVoice starts the current voice unless it is held at zero frequency;
// in that case the frequency handler already paused it and will resume it.
// Control goroutine.
func (c *SampleChannel) startVoice(restart bool) {
	defer c.starting.Add(-1)
	h := c.Handle()
	if !h.Valid() || c.freq.IsFrequencyZero() {
		return
	}
	c.engine.Play(h, restart)
}

// releaseVoice stops and frees the current voice. Control goroutine.
func (c *SampleChannel) releaseVoice() {
	h := audio.Handle(c.handle.Swap(uint32(audio.HandleNone)))
	if h.Valid() {
		c.engine.Stop(h)
	}
}

// applyLooping writes the loop flag to the current voice. Control goroutine.
func (c *SampleChannel) applyLooping() {
	h := c.Handle()
	if !h.Valid() {
		return
	}
	var flags audio.Flags
	if c.looping.Load() {
		flags = audio.FlagLoop
	}
	c.engine.SetFlags(h, flags, audio.FlagLoop)
}

// voicePauser implements [Pauser] against the channel's current voice.
type voicePauser struct {
	c *SampleChannel
}

func (p voicePauser) Pause() {
	p.c.engine.Pause(p.c.Handle())
}

// Resume only restarts output if the user still wants the channel to play.
func (p voicePauser) Resume() {
	if p.c.requested.Load() {
		p.c.engine.Play(p.c.Handle(), false)
	}
}
