package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SafetyChanged is true when the interlock thresholds changed.
	SafetyChanged bool
	NewSafety     SafetyConfig

	// EnergyThresholdChanged is true when the segmenter speech threshold
	// changed.
	EnergyThresholdChanged bool
	NewEnergyThreshold     float64

	// RestartRequired lists settings that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether d carries any live change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SafetyChanged || d.EnergyThresholdChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; everything
// else that differs is named in RestartRequired.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Safety
	if old.Safety != new.Safety {
		d.SafetyChanged = true
		d.NewSafety = new.Safety
	}

	// VAD
	if old.VAD.EnergyThreshold != new.VAD.EnergyThreshold {
		d.EnergyThresholdChanged = true
		d.NewEnergyThreshold = new.VAD.EnergyThreshold
	}
	oldVAD, newVAD := old.VAD, new.VAD
	oldVAD.EnergyThreshold, newVAD.EnergyThreshold = 0, 0
	if oldVAD != newVAD {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.TraceSampleRatio != new.Server.TraceSampleRatio {
		d.RestartRequired = append(d.RestartRequired, "server.trace_sample_ratio")
	}
	if old.Server.JournalPath != new.Server.JournalPath {
		d.RestartRequired = append(d.RestartRequired, "server.journal_path")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Serial != new.Serial {
		d.RestartRequired = append(d.RestartRequired, "serial")
	}
	if old.Network != new.Network {
		d.RestartRequired = append(d.RestartRequired, "network")
	}
	if old.Speech != new.Speech {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	if old.Orchestrator != new.Orchestrator {
		d.RestartRequired = append(d.RestartRequired, "orchestrator")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}

	return d
}
