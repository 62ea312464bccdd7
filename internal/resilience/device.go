package resilience

import (
	"io"
	"sync"

	"github.com/MrWong99/samplechan/pkg/audio/soft"
)

var _ soft.Device = (*FallbackDevice)(nil)

// FallbackDevice is a [soft.Device] that starts the first healthy device of
// a primary and its fallbacks. A primary that repeatedly fails to start is
// skipped until its breaker resets.
type FallbackDevice struct {
	group *FallbackGroup[soft.Device]

	mu     sync.Mutex
	active soft.Device
}

// NewFallbackDevice guards primary with a breaker configured by cfg.
// Fallbacks are tried in order when primary cannot start.
func NewFallbackDevice(primary soft.Device, cfg CircuitBreakerConfig, fallbacks ...soft.Device) *FallbackDevice {
	g := NewFallbackGroup(primary.Name(), primary, cfg)
	for _, fb := range fallbacks {
		g.AddFallback(fb.Name(), fb)
	}
	return &FallbackDevice{group: g}
}

// Name returns the primary device's name.
func (d *FallbackDevice) Name() string { return d.group.entries[0].name }

// Active returns the name of the started device, or "" when stopped.
func (d *FallbackDevice) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return ""
	}
	return d.active.Name()
}

// Start starts the first device that accepts src.
func (d *FallbackDevice) Start(src io.Reader, sampleRate int) error {
	name, dev, err := d.group.Execute(func(dev soft.Device) error {
		return dev.Start(src, sampleRate)
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.active = dev
	d.mu.Unlock()
	if name != d.Name() {
		d.group.cfg.Logger.Warn("output device fell back", "primary", d.Name(), "active", name)
	}
	return nil
}

// Close closes the started device.
func (d *FallbackDevice) Close() error {
	d.mu.Lock()
	dev := d.active
	d.active = nil
	d.mu.Unlock()
	if dev == nil {
		return nil
	}
	return dev.Close()
}
