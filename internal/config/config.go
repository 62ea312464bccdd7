// Package config provides the configuration schema, loader, and driver registry
// for the samplechan server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the samplechan server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Built-in output device drivers.
const (
	DriverDiscard = "discard"
	DriverOto     = "oto"
)

// FormatTone selects a synthesised sine tone instead of a file.
const FormatTone = "tone"

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultSampleRate    = 48000
	DefaultTickInterval  = 10 * time.Millisecond
	DefaultMeterInterval = 50 * time.Millisecond
	DefaultLoadParallel  = 4
)

// Config is the root configuration structure for samplechan.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Engine   EngineConfig     `yaml:"engine"`
	Samples  []SampleConfig   `yaml:"samples"`
	Channels []ChannelConfig  `yaml:"channels"`
	Master   AdjustmentConfig `yaml:"master"`
	Meter    MeterConfig      `yaml:"meter"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// EngineConfig configures the software mixer and its output devices.
type EngineConfig struct {
	// SampleRate is the output rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Device is the index into Devices of the device to start with. It can be
	// changed at runtime by editing the file.
	Device int `yaml:"device"`

	// TickInterval is how often the control thread refreshes channel state.
	TickInterval time.Duration `yaml:"tick_interval"`

	// BufferSize is the output buffer length handed to hardware devices.
	// Zero lets the driver choose.
	BufferSize time.Duration `yaml:"buffer_size"`

	// LoadParallelism bounds how many samples are decoded at once.
	LoadParallelism int `yaml:"load_parallelism"`

	// Devices lists the selectable outputs. When empty a single headless
	// device is configured.
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one selectable output device.
type DeviceConfig struct {
	// Name is shown in logs and device listings.
	Name string `yaml:"name"`

	// Driver selects the registered implementation ("discard", "oto").
	Driver string `yaml:"driver"`

	// Period is the pull interval of the discard driver. Zero disables pulling.
	Period time.Duration `yaml:"period"`

	// Fallback names another configured device that is started when this
	// one fails to open. The fallback gets its own instance.
	Fallback string `yaml:"fallback"`
}

// SampleConfig declares a sample to load at startup.
type SampleConfig struct {
	// Name is referenced by channels.
	Name string `yaml:"name"`

	// Path is the audio file. Ignored for tone samples.
	Path string `yaml:"path"`

	// Format overrides detection from the file extension: wav, ogg, mp3,
	// flac, dca or tone.
	Format string `yaml:"format"`

	// Tone configures a synthesised sample when Format is "tone".
	Tone ToneConfig `yaml:"tone"`
}

// ToneConfig describes a sine tone.
type ToneConfig struct {
	Frequency float64       `yaml:"frequency"`
	Duration  time.Duration `yaml:"duration"`
}

// ChannelConfig declares a named sample channel.
type ChannelConfig struct {
	Name     string `yaml:"name"`
	Sample   string `yaml:"sample"`
	Looping  bool   `yaml:"looping"`
	Autoplay bool   `yaml:"autoplay"`

	AdjustmentConfig `yaml:",inline"`
}

// AdjustmentConfig holds relative playback parameters. Unset volume and
// frequency mean 1; a frequency of 0 holds playback.
type AdjustmentConfig struct {
	Volume    *float64 `yaml:"volume"`
	Balance   float64  `yaml:"balance"`
	Frequency *float64 `yaml:"frequency"`
}

// VolumeOrDefault returns Volume or 1 if unset.
func (a AdjustmentConfig) VolumeOrDefault() float64 {
	if a.Volume == nil {
		return 1
	}
	return *a.Volume
}

// FrequencyOrDefault returns Frequency or 1 if unset.
func (a AdjustmentConfig) FrequencyOrDefault() float64 {
	if a.Frequency == nil {
		return 1
	}
	return *a.Frequency
}

// Equal reports whether a and b resolve to the same values.
func (a AdjustmentConfig) Equal(b AdjustmentConfig) bool {
	return a.VolumeOrDefault() == b.VolumeOrDefault() &&
		a.Balance == b.Balance &&
		a.FrequencyOrDefault() == b.FrequencyOrDefault()
}

// MeterConfig configures the live amplitude stream.
type MeterConfig struct {
	// Interval between snapshots pushed to meter clients.
	Interval time.Duration `yaml:"interval"`
}
