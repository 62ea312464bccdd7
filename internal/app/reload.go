package app

import (
	"context"

	"github.com/MrWong99/samplechan/internal/config"
)

// OnConfigChange applies the hot-reloadable part of a config change. Its
// signature matches [config.ChangeFunc]. Changes that need a restart are
// logged and otherwise ignored.
func (a *App) OnConfigChange(_, _ *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged {
		a.level.Set(diff.NewLogLevel.SlogLevel())
		a.logger.Info("log level changed", "level", diff.NewLogLevel)
	}

	if diff.MasterChanged {
		applyAdjustment(a.master, diff.NewMaster)
		a.logger.Info("master adjustments changed",
			"volume", diff.NewMaster.VolumeOrDefault(),
			"balance", diff.NewMaster.Balance,
			"frequency", diff.NewMaster.FrequencyOrDefault(),
		)
	}

	for _, cd := range diff.ChannelChanges {
		a.mu.Lock()
		e, ok := a.channels[cd.Name]
		a.mu.Unlock()
		if !ok {
			continue
		}
		if cd.AdjustmentChanged {
			applyAdjustment(e.params, cd.New.AdjustmentConfig)
		}
		if cd.LoopingChanged {
			e.ch.SetLooping(cd.New.Looping)
		}
		a.logger.Info("channel reconfigured", "channel", cd.Name)
	}

	if diff.DeviceChanged {
		if err := a.switchDevice(context.Background(), diff.NewDevice); err != nil {
			a.logger.Error("device switch failed", "device", diff.NewDevice, "err", err)
		}
	}

	if diff.RestartRequired {
		a.logger.Warn("config change requires a restart to take full effect")
	}
}
