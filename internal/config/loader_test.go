package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/roverlink/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Providers.STT = []config.ProviderEntry{{Name: "deepgram"}, {Name: "whisper"}}
	cfg.Providers.LLM = []config.ProviderEntry{{Name: "ollama"}, {Name: "openai"}}
	cfg.Providers.TTS = []config.ProviderEntry{{Name: "deepgram"}, {Name: "espeak"}}

	err := config.ApplyEnv(cfg, envMap(map[string]string{
		"ROVER_SERIAL_PORT":           "/dev/ttyACM1",
		"ROVER_SERIAL_BAUD":           "57600",
		"ROVER_SAMPLE_RATE":           "48000",
		"ROVER_ENERGY_THRESHOLD":      "0.02",
		"ROVER_SILENCE_FRAMES":        "12",
		"ROVER_MIN_UTTERANCE_SEC":     "0.5",
		"ROVER_MAX_UTTERANCE_SEC":     "6",
		"ROVER_POST_TTS_COOLDOWN_SEC": "1",
		"SAFETY_MIN_FRONT_CM":         "30",
		"TELEM_FRESH_TIMEOUT":         "3.5",
		"ROVER_BRIDGE_HOST":           "10.0.0.2",
		"ROVER_BRAIN_HOST":            "10.0.0.3",
		"ROVER_AUDIO_PORT":            "6000",
		"ROVER_COMMAND_PORT":          "6001",
		"ROVER_TTS_PORT":              "6002",
		"ROVER_LOG_LEVEL":             "warn",
		"DEEPGRAM_API_KEY":            "dg-env",
		"OPENAI_API_KEY":              "sk-env",
		"OLLAMA_URL":                  "http://laptop:11434",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	checks := []struct {
		name      string
		got, want any
	}{
		{"serial.port", cfg.Serial.Port, "/dev/ttyACM1"},
		{"serial.baud", cfg.Serial.Baud, 57600},
		{"audio.sample_rate", cfg.Audio.SampleRate, 48000},
		{"vad.energy_threshold", cfg.VAD.EnergyThreshold, 0.02},
		{"vad.silence_frames", cfg.VAD.SilenceFrames, 12},
		{"vad.min_utterance_sec", cfg.VAD.MinUtteranceSec, 0.5},
		{"vad.max_utterance_sec", cfg.VAD.MaxUtteranceSec, 6.0},
		{"vad.post_tts_cooldown_sec", cfg.VAD.PostTTSCooldownSec, 1.0},
		{"safety.min_front_cm", cfg.Safety.MinFrontCM, 30.0},
		{"safety.fresh_timeout_sec", cfg.Safety.FreshTimeoutSec, 3.5},
		{"network.bridge_host", cfg.Network.BridgeHost, "10.0.0.2"},
		{"network.brain_host", cfg.Network.BrainHost, "10.0.0.3"},
		{"network.audio_port", cfg.Network.AudioPort, 6000},
		{"network.command_port", cfg.Network.CommandPort, 6001},
		{"network.tts_port", cfg.Network.TTSPort, 6002},
		{"server.log_level", cfg.Server.LogLevel, config.LogWarn},
		{"stt deepgram key", cfg.Providers.STT[0].APIKey, "dg-env"},
		{"stt whisper key", cfg.Providers.STT[1].APIKey, ""},
		{"tts deepgram key", cfg.Providers.TTS[0].APIKey, "dg-env"},
		{"llm openai key", cfg.Providers.LLM[1].APIKey, "sk-env"},
		{"llm ollama url", cfg.Providers.LLM[0].BaseURL, "http://laptop:11434"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnv_EmptyValuesIgnored(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	if err := config.ApplyEnv(cfg, envMap(map[string]string{"ROVER_SERIAL_PORT": ""})); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyUSB0" {
		t.Errorf("serial.port: got %q, want default", cfg.Serial.Port)
	}
}

func TestApplyEnv_MalformedNumbers(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	err := config.ApplyEnv(cfg, envMap(map[string]string{
		"ROVER_SERIAL_BAUD":   "fast",
		"SAFETY_MIN_FRONT_CM": "ten",
	}))
	if err == nil {
		t.Fatal("expected error for malformed numbers")
	}
	for _, want := range []string{"ROVER_SERIAL_BAUD", "SAFETY_MIN_FRONT_CM"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("baud changed to %d on malformed input", cfg.Serial.Baud)
	}
}

func TestValidate_RejectsNonFinite(t *testing.T) {
	t.Parallel()
	for env, field := range map[string]string{
		"SAFETY_MIN_FRONT_CM":    "safety.min_front_cm",
		"TELEM_FRESH_TIMEOUT":    "safety.fresh_timeout_sec",
		"ROVER_ENERGY_THRESHOLD": "vad.energy_threshold",
	} {
		for _, v := range []string{"NaN", "+Inf"} {
			cfg := config.Defaults()
			if err := config.ApplyEnv(cfg, envMap(map[string]string{env: v})); err != nil {
				t.Fatalf("ApplyEnv %s=%s: %v", env, v, err)
			}
			err := config.Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), field+" must be a finite number") {
				t.Errorf("%s=%s: err = %v", env, v, err)
			}
		}
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Serial.Baud != config.Defaults().Serial.Baud {
		t.Errorf("baud = %d, want default", cfg.Serial.Baud)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roverlink.yaml")
	writeFile(t, path, "safety:\n  min_front_cm: 20\nserial:\n  port: /dev/ttyS0\n")
	t.Setenv("SAFETY_MIN_FRONT_CM", "25")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Safety.MinFrontCM != 25 {
		t.Errorf("min_front_cm = %g, want env value 25", cfg.Safety.MinFrontCM)
	}
	if cfg.Serial.Port != "/dev/ttyS0" {
		t.Errorf("serial.port = %q, want file value", cfg.Serial.Port)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roverlink.yaml")
	writeFile(t, path, "vad:\n  silence_frames: 0\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	writeFile(t, path, "ROVER_TEST_DOTENV=from-file\nROVER_TEST_DOTENV_SET=from-file\n")
	t.Setenv("ROVER_TEST_DOTENV_SET", "from-env")
	// Registered so the variable is cleared after the test.
	t.Setenv("ROVER_TEST_DOTENV", "")
	os.Unsetenv("ROVER_TEST_DOTENV")

	if err := config.LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("ROVER_TEST_DOTENV"); got != "from-file" {
		t.Errorf("ROVER_TEST_DOTENV = %q, want from-file", got)
	}
	if got := os.Getenv("ROVER_TEST_DOTENV_SET"); got != "from-env" {
		t.Errorf("existing variable overwritten: %q", got)
	}
}
