// Package config provides the configuration schema, loader, and provider registry
// for the roverlink voice control pipeline.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/roverlink/internal/command"
)

// LogLevel controls log verbosity for roverlink.
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

// SlogLevel maps l to the matching [slog.Level]. Unknown values map to info.
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

// Config is the root configuration structure for roverlink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	VAD          VADConfig          `yaml:"vad"`
	Safety       SafetyConfig       `yaml:"safety"`
	Serial       SerialConfig       `yaml:"serial"`
	Network      NetworkConfig      `yaml:"network"`
	Speech       SpeechConfig       `yaml:"speech"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Providers    ProvidersConfig    `yaml:"providers"`
}

// ServerConfig holds the status server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP status server (e.g., ":8080").
	// Empty disables the status server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// JournalPath is a JSON-lines file receiving every dispatched command
	// and its verdict. Empty disables the journal.
	JournalPath string `yaml:"journal_path"`

	// TraceSampleRatio is the fraction of turns traced, 0 to 1.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// AudioConfig describes microphone capture.
type AudioConfig struct {
	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of float32 samples per frame.
	BlockSize int `yaml:"block_size"`

	// QueueSize bounds the capture queue in frames. The oldest frame is
	// dropped when it is full.
	QueueSize int `yaml:"queue_size"`

	// Device is the ALSA device passed to arecord/aplay. Empty uses the
	// system default.
	Device string `yaml:"device"`
}

// VADConfig holds the voice segmentation thresholds.
type VADConfig struct {
	EnergyThreshold    float64 `yaml:"energy_threshold"`
	SilenceFrames      int     `yaml:"silence_frames"`
	MinUtteranceSec    float64 `yaml:"min_utterance_sec"`
	MaxUtteranceSec    float64 `yaml:"max_utterance_sec"`
	PostTTSCooldownSec float64 `yaml:"post_tts_cooldown_sec"`

	// BargeInThreshold is the energy a frame needs to interrupt a reply
	// that is still playing. Zero disables barge-in.
	BargeInThreshold float64 `yaml:"barge_in_threshold"`
}

// MinUtterance returns MinUtteranceSec as a duration.
func (v VADConfig) MinUtterance() time.Duration { return seconds(v.MinUtteranceSec) }

// MaxUtterance returns MaxUtteranceSec as a duration.
func (v VADConfig) MaxUtterance() time.Duration { return seconds(v.MaxUtteranceSec) }

// Cooldown returns PostTTSCooldownSec as a duration.
func (v VADConfig) Cooldown() time.Duration { return seconds(v.PostTTSCooldownSec) }

// SafetyConfig holds the interlock thresholds.
type SafetyConfig struct {
	// MinFrontCM is the smallest front distance at which forward motion is
	// allowed.
	MinFrontCM float64 `yaml:"min_front_cm"`

	// FreshTimeoutSec is the maximum telemetry age trusted for a decision.
	FreshTimeoutSec float64 `yaml:"fresh_timeout_sec"`
}

// FreshTimeout returns FreshTimeoutSec as a duration.
func (s SafetyConfig) FreshTimeout() time.Duration { return seconds(s.FreshTimeoutSec) }

// SerialConfig describes the link to the actuator board.
type SerialConfig struct {
	Port   string         `yaml:"port"`
	Baud   int            `yaml:"baud"`
	Format command.Format `yaml:"format"`

	// ReconnectMin and ReconnectMax bound the reconnect backoff.
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

// NetworkConfig holds the addresses of the split brain/bridge deployment.
type NetworkConfig struct {
	// BridgeHost is the robot host the brain connects to for commands.
	BridgeHost string `yaml:"bridge_host"`

	// BrainHost is the laptop the bridge streams microphone audio to.
	BrainHost string `yaml:"brain_host"`

	AudioPort   int `yaml:"audio_port"`
	CommandPort int `yaml:"command_port"`
	TTSPort     int `yaml:"tts_port"`
}

// SpeechConfig describes synthesized speech playback.
type SpeechConfig struct {
	// SampleRate is the rate every TTS provider produces and playback uses.
	SampleRate int `yaml:"sample_rate"`

	// PrimeSamples of silence are played before each reply.
	PrimeSamples int `yaml:"prime_samples"`
}

// OrchestratorConfig tunes the per-utterance loop.
type OrchestratorConfig struct {
	// SystemPrompt replaces the built-in prompt when non-empty.
	SystemPrompt string `yaml:"system_prompt"`

	// HistorySize is the number of previous turns sent to the LLM.
	HistorySize int `yaml:"history_size"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ProvidersConfig lists the backends for each pipeline stage in fallback
// order. The first entry is the primary; later ones are tried when it fails.
type ProvidersConfig struct {
	STT []ProviderEntry `yaml:"stt"`
	LLM []ProviderEntry `yaml:"llm"`
	TTS []ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "ollama", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "phi3:latest", "nova-3").
	Model string `yaml:"model"`

	// Language is a BCP-47 code for STT and TTS providers.
	Language string `yaml:"language"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// Option returns the string value of key in e.Options, or "" when absent.
func (e ProviderEntry) Option(key string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Defaults returns the stock configuration: Deepgram
// for STT and TTS, a local Ollama model for the LLM, and espeak as the
// offline voice.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       ":8080",
			LogLevel:         LogInfo,
			TraceSampleRatio: 1,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			BlockSize:  1024,
			QueueSize:  300,
		},
		VAD: VADConfig{
			EnergyThreshold:    0.03,
			SilenceFrames:      10,
			MinUtteranceSec:    0.7,
			MaxUtteranceSec:    4.0,
			PostTTSCooldownSec: 0.8,
			BargeInThreshold:   0.06,
		},
		Safety: SafetyConfig{
			MinFrontCM:      15.0,
			FreshTimeoutSec: 2.0,
		},
		Serial: SerialConfig{
			Port:         "/dev/ttyUSB0",
			Baud:         115200,
			Format:       command.FormatWord,
			ReconnectMin: time.Second,
			ReconnectMax: 30 * time.Second,
		},
		Network: NetworkConfig{
			BridgeHost:  "127.0.0.1",
			BrainHost:   "127.0.0.1",
			AudioPort:   50005,
			CommandPort: 50006,
			TTSPort:     50007,
		},
		Speech: SpeechConfig{
			SampleRate:   24000,
			PrimeSamples: 2400,
		},
		Orchestrator: OrchestratorConfig{
			HistorySize: 10,
			Temperature: 0.1,
			MaxTokens:   256,
		},
		Providers: ProvidersConfig{
			STT: []ProviderEntry{{Name: "deepgram"}},
			LLM: []ProviderEntry{{Name: "ollama", Model: "phi3:latest"}},
			TTS: []ProviderEntry{{Name: "deepgram"}, {Name: "espeak"}},
		},
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
