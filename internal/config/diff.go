package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MasterChanged bool
	NewMaster     AdjustmentConfig

	DeviceChanged bool
	NewDevice     int

	ChannelsChanged bool          // true if any channel adjustment or loop flag changed
	ChannelChanges  []ChannelDiff // per-channel diffs

	// RestartRequired is set when fields that cannot be hot-reloaded
	// changed (samples, sample rate, device list, listen address, channel
	// set). Those changes are ignored until restart.
	RestartRequired bool
}

// ChannelDiff describes what changed for a single channel between two configs.
type ChannelDiff struct {
	Name              string
	AdjustmentChanged bool
	LoopingChanged    bool
	New               ChannelConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Master adjustments
	if !old.Master.Equal(new.Master) {
		d.MasterChanged = true
		d.NewMaster = new.Master
	}

	// Output device
	if old.Engine.Device != new.Engine.Device {
		d.DeviceChanged = true
		d.NewDevice = new.Engine.Device
	}

	// Build channel lookup maps keyed by name.
	oldChannels := make(map[string]*ChannelConfig, len(old.Channels))
	for i := range old.Channels {
		oldChannels[old.Channels[i].Name] = &old.Channels[i]
	}
	newChannels := make(map[string]*ChannelConfig, len(new.Channels))
	for i := range new.Channels {
		newChannels[new.Channels[i].Name] = &new.Channels[i]
	}

	for name, oldCh := range oldChannels {
		newCh, exists := newChannels[name]
		if !exists || oldCh.Sample != newCh.Sample {
			d.RestartRequired = true
			continue
		}
		cd := diffChannel(name, oldCh, newCh)
		if cd.AdjustmentChanged || cd.LoopingChanged {
			d.ChannelChanges = append(d.ChannelChanges, cd)
			d.ChannelsChanged = true
		}
	}
	for name := range newChannels {
		if _, exists := oldChannels[name]; !exists {
			d.RestartRequired = true
		}
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Engine.SampleRate != new.Engine.SampleRate ||
		!slices.Equal(old.Engine.Devices, new.Engine.Devices) ||
		!slices.Equal(old.Samples, new.Samples) {
		d.RestartRequired = true
	}

	return d
}

// diffChannel compares two channel configs with the same name.
func diffChannel(name string, old, new *ChannelConfig) ChannelDiff {
	cd := ChannelDiff{Name: name, New: *new}

	if !old.AdjustmentConfig.Equal(new.AdjustmentConfig) {
		cd.AdjustmentChanged = true
	}

	if old.Looping != new.Looping {
		cd.LoopingChanged = true
	}

	return cd
}
