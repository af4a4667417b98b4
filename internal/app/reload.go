package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/roverlink/internal/config"
)

// watchConfig loads the config file for watching. The caller runs the
// returned watcher.
func (a *App) watchConfig() (*config.Watcher, error) {
	var opts []config.WatcherOption
	if a.watchInterval > 0 {
		opts = append(opts, config.WithInterval(a.watchInterval))
	}
	w, err := config.NewWatcher(a.configPath, a.ApplyConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: watch config: %w", err)
	}
	slog.Info("config watcher started", "path", a.configPath)
	return w, nil
}

// ApplyConfig applies the live-reloadable differences between old and new:
// log level, interlock thresholds and the segmenter energy threshold. Other
// changes are logged as needing a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.SafetyChanged && a.interlock != nil {
		a.interlock.SetThresholds(thresholds(d.NewSafety))
		slog.Info("config reload: safety thresholds changed",
			"min_front_cm", d.NewSafety.MinFrontCM,
			"fresh_timeout", d.NewSafety.FreshTimeout(),
		)
	}
	if d.EnergyThresholdChanged && a.seg != nil {
		if a.seg.SetThreshold(d.NewEnergyThreshold) {
			slog.Info("config reload: energy threshold changed", "threshold", d.NewEnergyThreshold)
		} else {
			slog.Warn("config reload: vad does not support live threshold changes")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes need a restart", "sections", d.RestartRequired)
	}
}
