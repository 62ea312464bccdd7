package resilience

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// fakeDevice records Start and Close calls and fails Start on demand.
type fakeDevice struct {
	name string
	err  error

	mu     sync.Mutex
	starts int
	closes int
	rate   int
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) Start(_ io.Reader, sampleRate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	if d.err != nil {
		return d.err
	}
	d.rate = sampleRate
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func TestFallbackDevice_StartsPrimary(t *testing.T) {
	t.Parallel()
	primary := &fakeDevice{name: "speakers"}
	backup := &fakeDevice{name: "headless"}
	d := NewFallbackDevice(primary, CircuitBreakerConfig{Logger: discard}, backup)

	if d.Name() != "speakers" {
		t.Errorf("Name = %q", d.Name())
	}
	if err := d.Start(strings.NewReader(""), 48000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.Active() != "speakers" || primary.rate != 48000 {
		t.Errorf("active = %q rate = %d", d.Active(), primary.rate)
	}
	if backup.starts != 0 {
		t.Error("backup should not start")
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if primary.closes != 1 || d.Active() != "" {
		t.Errorf("closes = %d active = %q", primary.closes, d.Active())
	}
}

func TestFallbackDevice_FallsBack(t *testing.T) {
	t.Parallel()
	primary := &fakeDevice{name: "speakers", err: errors.New("no audio server")}
	backup := &fakeDevice{name: "headless"}
	d := NewFallbackDevice(primary, CircuitBreakerConfig{Logger: discard}, backup)

	if err := d.Start(strings.NewReader(""), 8000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.Active() != "headless" {
		t.Errorf("active = %q, want headless", d.Active())
	}
	_ = d.Close()
	if backup.closes != 1 || primary.closes != 0 {
		t.Errorf("closes primary=%d backup=%d", primary.closes, backup.closes)
	}
}

func TestFallbackDevice_AllFail(t *testing.T) {
	t.Parallel()
	primary := &fakeDevice{name: "speakers", err: errTest}
	backup := &fakeDevice{name: "headless", err: errTest}
	d := NewFallbackDevice(primary, CircuitBreakerConfig{Logger: discard}, backup)

	if err := d.Start(strings.NewReader(""), 8000); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if d.Active() != "" {
		t.Errorf("active = %q, want none", d.Active())
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close without start: %v", err)
	}
}
