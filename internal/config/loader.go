package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/samplechan/pkg/audio/soft"
)

// KnownFormats lists the sample formats accepted by [Validate].
var KnownFormats = []string{
	soft.FormatWAV, soft.FormatOGG, soft.FormatMP3, soft.FormatFLAC, soft.FormatDCA, FormatTone,
}

// KnownDrivers lists the built-in device drivers. Unknown drivers only
// produce a warning since a [Registry] may provide more.
var KnownDrivers = []string{DriverDiscard, DriverOto}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Engine.SampleRate == 0 {
		cfg.Engine.SampleRate = DefaultSampleRate
	}
	if cfg.Engine.TickInterval == 0 {
		cfg.Engine.TickInterval = DefaultTickInterval
	}
	if cfg.Engine.LoadParallelism == 0 {
		cfg.Engine.LoadParallelism = DefaultLoadParallel
	}
	if len(cfg.Engine.Devices) == 0 {
		cfg.Engine.Devices = []DeviceConfig{{Name: "headless", Driver: DriverDiscard, Period: DefaultTickInterval}}
	}
	if cfg.Meter.Interval == 0 {
		cfg.Meter.Interval = DefaultMeterInterval
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engine
	if cfg.Engine.SampleRate < 8000 || cfg.Engine.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("engine.sample_rate %d is out of range [8000, 192000]", cfg.Engine.SampleRate))
	}
	if cfg.Engine.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("engine.tick_interval %s must not be negative", cfg.Engine.TickInterval))
	}
	if cfg.Engine.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("engine.buffer_size %s must not be negative", cfg.Engine.BufferSize))
	}
	if cfg.Engine.LoadParallelism < 0 {
		errs = append(errs, fmt.Errorf("engine.load_parallelism %d must not be negative", cfg.Engine.LoadParallelism))
	}
	if n := len(cfg.Engine.Devices); n > 0 && (cfg.Engine.Device < 0 || cfg.Engine.Device >= n) {
		errs = append(errs, fmt.Errorf("engine.device %d is out of range; %d devices configured", cfg.Engine.Device, n))
	}
	deviceNames := make(map[string]int, len(cfg.Engine.Devices))
	for i, dev := range cfg.Engine.Devices {
		prefix := fmt.Sprintf("engine.devices[%d]", i)
		if dev.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := deviceNames[dev.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of engine.devices[%d]", prefix, dev.Name, prev))
			}
			deviceNames[dev.Name] = i
		}
		if dev.Driver == "" {
			errs = append(errs, fmt.Errorf("%s.driver is required", prefix))
		} else if !slices.Contains(KnownDrivers, dev.Driver) {
			slog.Warn("unknown device driver; it must be registered before startup",
				"device", dev.Name,
				"driver", dev.Driver,
				"known", KnownDrivers,
			)
		}
		if dev.Period < 0 {
			errs = append(errs, fmt.Errorf("%s.period %s must not be negative", prefix, dev.Period))
		}
	}
	for i, dev := range cfg.Engine.Devices {
		if dev.Fallback == "" {
			continue
		}
		if dev.Fallback == dev.Name {
			errs = append(errs, fmt.Errorf("engine.devices[%d].fallback must not name the device itself", i))
		} else if _, ok := deviceNames[dev.Fallback]; !ok {
			errs = append(errs, fmt.Errorf("engine.devices[%d].fallback references unknown device %q", i, dev.Fallback))
		}
	}

	// Samples
	sampleNames := make(map[string]int, len(cfg.Samples))
	for i, s := range cfg.Samples {
		prefix := fmt.Sprintf("samples[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := sampleNames[s.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of samples[%d]", prefix, s.Name, prev))
			}
			sampleNames[s.Name] = i
		}

		format := SampleFormat(s)
		switch {
		case format == FormatTone:
			if s.Tone.Frequency <= 0 {
				errs = append(errs, fmt.Errorf("%s.tone.frequency must be positive", prefix))
			}
			if s.Tone.Duration <= 0 {
				errs = append(errs, fmt.Errorf("%s.tone.duration must be positive", prefix))
			}
		case s.Path == "":
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		case !slices.Contains(KnownFormats, format):
			errs = append(errs, fmt.Errorf("%s.format %q is invalid; valid values: %v", prefix, format, KnownFormats))
		}
	}

	// Channels
	channelNames := make(map[string]int, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		prefix := fmt.Sprintf("channels[%d]", i)
		if ch.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := channelNames[ch.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of channels[%d]", prefix, ch.Name, prev))
			}
			channelNames[ch.Name] = i
		}
		if ch.Sample == "" {
			errs = append(errs, fmt.Errorf("%s.sample is required", prefix))
		} else if _, ok := sampleNames[ch.Sample]; !ok {
			errs = append(errs, fmt.Errorf("%s.sample %q does not name a configured sample", prefix, ch.Sample))
		}
		errs = append(errs, validateAdjustment(prefix, ch.AdjustmentConfig)...)

		if ch.Autoplay && ch.FrequencyOrDefault() == 0 {
			slog.Warn("channel autoplays at zero frequency and will stay silent until the frequency changes",
				"channel", ch.Name,
			)
		}
	}

	// Master
	errs = append(errs, validateAdjustment("master", cfg.Master)...)

	// Meter
	if cfg.Meter.Interval < 0 {
		errs = append(errs, fmt.Errorf("meter.interval %s must not be negative", cfg.Meter.Interval))
	}

	return errors.Join(errs...)
}

// SampleFormat returns the sample's explicit format or the one derived from
// its path.
func SampleFormat(s SampleConfig) string {
	if s.Format != "" {
		return s.Format
	}
	return soft.FormatFromPath(s.Path)
}

func validateAdjustment(prefix string, a AdjustmentConfig) []error {
	var errs []error
	if v := a.VolumeOrDefault(); v < 0 {
		errs = append(errs, fmt.Errorf("%s.volume %.2f must not be negative", prefix, v))
	}
	if a.Balance < -1 || a.Balance > 1 {
		errs = append(errs, fmt.Errorf("%s.balance %.2f is out of range [-1, 1]", prefix, a.Balance))
	}
	if f := a.FrequencyOrDefault(); f < 0 {
		errs = append(errs, fmt.Errorf("%s.frequency %.2f must not be negative", prefix, f))
	}
	return errs
}
