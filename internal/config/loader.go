package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"slices"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper", "whisper-native"},
	"llm": {"ollama", "openai", "anyllm"},
	"tts": {"deepgram", "coqui", "espeak"},
}

// LoadDotEnv loads variables from the .env files at paths (default ".env")
// into the process environment. Variables that are already set win. Missing
// files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path on top of [Defaults],
// applies environment overrides and validates the result. A missing file is
// not an error; the defaults are used.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		slog.Info("config: file not found, using defaults", "path", path)
		data = nil
	}

	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Defaults] and
// validates the result. Environment overrides are not applied.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse is the shared path of [Load] and the [Watcher].
func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from environment variables found by lookup
// (normally [os.LookupEnv]). Empty values are ignored. API keys and the
// Ollama URL are applied to every provider entry of the matching name.
// Malformed numbers are reported together.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := get(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %q is not a number", key, v))
				return
			}
			*dst = f
		}
	}

	str("ROVER_SERIAL_PORT", &cfg.Serial.Port)
	integer("ROVER_SERIAL_BAUD", &cfg.Serial.Baud)
	integer("ROVER_SAMPLE_RATE", &cfg.Audio.SampleRate)
	float("ROVER_ENERGY_THRESHOLD", &cfg.VAD.EnergyThreshold)
	integer("ROVER_SILENCE_FRAMES", &cfg.VAD.SilenceFrames)
	float("ROVER_MIN_UTTERANCE_SEC", &cfg.VAD.MinUtteranceSec)
	float("ROVER_MAX_UTTERANCE_SEC", &cfg.VAD.MaxUtteranceSec)
	float("ROVER_POST_TTS_COOLDOWN_SEC", &cfg.VAD.PostTTSCooldownSec)
	float("SAFETY_MIN_FRONT_CM", &cfg.Safety.MinFrontCM)
	float("TELEM_FRESH_TIMEOUT", &cfg.Safety.FreshTimeoutSec)
	str("ROVER_BRIDGE_HOST", &cfg.Network.BridgeHost)
	str("ROVER_BRAIN_HOST", &cfg.Network.BrainHost)
	integer("ROVER_AUDIO_PORT", &cfg.Network.AudioPort)
	integer("ROVER_COMMAND_PORT", &cfg.Network.CommandPort)
	integer("ROVER_TTS_PORT", &cfg.Network.TTSPort)
	if v, ok := get("ROVER_LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}

	if v, ok := get("DEEPGRAM_API_KEY"); ok {
		forEachEntry(cfg, "deepgram", func(e *ProviderEntry) { e.APIKey = v })
	}
	if v, ok := get("OPENAI_API_KEY"); ok {
		forEachEntry(cfg, "openai", func(e *ProviderEntry) { e.APIKey = v })
	}
	if v, ok := get("OLLAMA_URL"); ok {
		forEachEntry(cfg, "ollama", func(e *ProviderEntry) { e.BaseURL = v })
	}

	return errors.Join(errs...)
}

func forEachEntry(cfg *Config, name string, fn func(*ProviderEntry)) {
	for _, list := range [][]ProviderEntry{cfg.Providers.STT, cfg.Providers.LLM, cfg.Providers.TTS} {
		for i := range list {
			if list[i].Name == name {
				fn(&list[i])
			}
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Missing credentials are not errors; the provider is skipped when the
// pipeline is built.
func Validate(cfg *Config) error {
	var errs []error

	// NaN compares false against every bound below.
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"server.trace_sample_ratio", cfg.Server.TraceSampleRatio},
		{"vad.energy_threshold", cfg.VAD.EnergyThreshold},
		{"vad.min_utterance_sec", cfg.VAD.MinUtteranceSec},
		{"vad.max_utterance_sec", cfg.VAD.MaxUtteranceSec},
		{"vad.post_tts_cooldown_sec", cfg.VAD.PostTTSCooldownSec},
		{"vad.barge_in_threshold", cfg.VAD.BargeInThreshold},
		{"safety.min_front_cm", cfg.Safety.MinFrontCM},
		{"safety.fresh_timeout_sec", cfg.Safety.FreshTimeoutSec},
		{"orchestrator.temperature", cfg.Orchestrator.Temperature},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			errs = append(errs, fmt.Errorf("%s must be a finite number, got %g", f.name, f.v))
		}
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio must be within [0, 1], got %g", r))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size must be positive, got %d", cfg.Audio.BlockSize))
	}
	if cfg.Audio.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size must be positive, got %d", cfg.Audio.QueueSize))
	}

	// VAD
	if cfg.VAD.EnergyThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold must be positive, got %g", cfg.VAD.EnergyThreshold))
	}
	if cfg.VAD.SilenceFrames <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_frames must be positive, got %d", cfg.VAD.SilenceFrames))
	}
	if cfg.VAD.MinUtteranceSec < 0 {
		errs = append(errs, fmt.Errorf("vad.min_utterance_sec must not be negative, got %g", cfg.VAD.MinUtteranceSec))
	}
	if cfg.VAD.MaxUtteranceSec <= 0 {
		errs = append(errs, fmt.Errorf("vad.max_utterance_sec must be positive, got %g", cfg.VAD.MaxUtteranceSec))
	} else if cfg.VAD.MaxUtteranceSec < cfg.VAD.MinUtteranceSec {
		errs = append(errs, fmt.Errorf("vad.max_utterance_sec %g is below vad.min_utterance_sec %g", cfg.VAD.MaxUtteranceSec, cfg.VAD.MinUtteranceSec))
	}
	if cfg.VAD.PostTTSCooldownSec < 0 {
		errs = append(errs, fmt.Errorf("vad.post_tts_cooldown_sec must not be negative, got %g", cfg.VAD.PostTTSCooldownSec))
	}
	if cfg.VAD.BargeInThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.barge_in_threshold must not be negative, got %g", cfg.VAD.BargeInThreshold))
	}

	// Safety
	if cfg.Safety.MinFrontCM < 0 {
		errs = append(errs, fmt.Errorf("safety.min_front_cm must not be negative, got %g", cfg.Safety.MinFrontCM))
	}
	if cfg.Safety.FreshTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("safety.fresh_timeout_sec must be positive, got %g", cfg.Safety.FreshTimeoutSec))
	}

	// Serial
	if cfg.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", cfg.Serial.Baud))
	}
	if !cfg.Serial.Format.IsValid() {
		errs = append(errs, fmt.Errorf("serial.format %q is invalid; valid values: word, json", cfg.Serial.Format))
	}
	if cfg.Serial.ReconnectMin <= 0 || cfg.Serial.ReconnectMax < cfg.Serial.ReconnectMin {
		errs = append(errs, fmt.Errorf("serial.reconnect_min/max must satisfy 0 < min <= max, got %s/%s", cfg.Serial.ReconnectMin, cfg.Serial.ReconnectMax))
	}

	// Network
	for name, port := range map[string]int{
		"network.audio_port":   cfg.Network.AudioPort,
		"network.command_port": cfg.Network.CommandPort,
		"network.tts_port":     cfg.Network.TTSPort,
	} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is out of range [1, 65535]", name, port))
		}
	}

	// Speech
	if cfg.Speech.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("speech.sample_rate must be positive, got %d", cfg.Speech.SampleRate))
	}
	if cfg.Speech.PrimeSamples < 0 {
		errs = append(errs, fmt.Errorf("speech.prime_samples must not be negative, got %d", cfg.Speech.PrimeSamples))
	}

	// Orchestrator
	if cfg.Orchestrator.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.history_size must not be negative, got %d", cfg.Orchestrator.HistorySize))
	}

	// Providers
	for kind, entries := range map[string][]ProviderEntry{
		"stt": cfg.Providers.STT,
		"llm": cfg.Providers.LLM,
		"tts": cfg.Providers.TTS,
	} {
		for i, e := range entries {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, e.Name)
		}
	}
	if len(cfg.Providers.STT) == 0 {
		slog.Warn("config: no STT provider configured; the brain cannot transcribe speech")
	}
	if len(cfg.Providers.LLM) == 0 {
		slog.Warn("config: no LLM provider configured; only built-in phrases will be answered")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
