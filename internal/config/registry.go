package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/samplechan/pkg/audio/soft"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: not registered")

// DeviceFactory builds an output device from its config. engine carries the
// engine-wide settings such as the buffer size.
type DeviceFactory func(dev DeviceConfig, engine EngineConfig) (soft.Device, error)

// LoaderFactory builds a sample loader from its config.
type LoaderFactory func(sample SampleConfig, engine EngineConfig) (soft.Loader, error)

// Registry maps device driver names and sample formats to their
// constructors. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceFactory
	loaders map[string]LoaderFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]DeviceFactory),
		loaders: make(map[string]LoaderFactory),
	}
}

// NewDefaultRegistry returns a registry with the built-in drivers ("discard",
// "oto") and every format in [KnownFormats].
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterDevice(DriverDiscard, func(dev DeviceConfig, _ EngineConfig) (soft.Device, error) {
		return soft.NewNullDevice(dev.Name, dev.Period), nil
	})
	r.RegisterDevice(DriverOto, func(dev DeviceConfig, engine EngineConfig) (soft.Device, error) {
		return soft.NewOtoDevice(dev.Name, engine.BufferSize), nil
	})

	file := func(s SampleConfig, _ EngineConfig) (soft.Loader, error) {
		return soft.FileLoader(s.Path, SampleFormat(s)), nil
	}
	for _, f := range KnownFormats {
		if f != FormatTone {
			r.RegisterLoader(f, file)
		}
	}
	r.RegisterLoader(FormatTone, func(s SampleConfig, engine EngineConfig) (soft.Loader, error) {
		if s.Tone.Frequency <= 0 || s.Tone.Duration <= 0 {
			return nil, fmt.Errorf("config: tone sample %q needs a positive frequency and duration", s.Name)
		}
		return soft.ToneLoader(s.Tone.Frequency, s.Tone.Duration, engine.SampleRate), nil
	})
	return r
}

// RegisterDevice registers a device factory under driver.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(driver string, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[driver] = factory
}

// RegisterLoader registers a sample loader factory under format.
func (r *Registry) RegisterLoader(format string, factory LoaderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[format] = factory
}

// CreateDevice instantiates the device using the factory registered under
// dev.Driver. Returns [ErrNotRegistered] if there is none.
func (r *Registry) CreateDevice(dev DeviceConfig, engine EngineConfig) (soft.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[dev.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device driver %q", ErrNotRegistered, dev.Driver)
	}
	return factory(dev, engine)
}

// CreateLoader instantiates a loader for s using the factory registered
// under its format.
func (r *Registry) CreateLoader(s SampleConfig, engine EngineConfig) (soft.Loader, error) {
	format := SampleFormat(s)
	r.mu.RLock()
	factory, ok := r.loaders[format]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sample format %q", ErrNotRegistered, format)
	}
	return factory(s, engine)
}
