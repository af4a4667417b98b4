package main

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/roverlink/internal/command"
	"github.com/MrWong99/roverlink/internal/config"
	"github.com/MrWong99/roverlink/pkg/provider/llm"
	"github.com/MrWong99/roverlink/pkg/provider/llm/anyllm"
	"github.com/MrWong99/roverlink/pkg/provider/llm/ollama"
	"github.com/MrWong99/roverlink/pkg/provider/llm/openai"
	"github.com/MrWong99/roverlink/pkg/provider/stt"
	sttdeepgram "github.com/MrWong99/roverlink/pkg/provider/stt/deepgram"
	"github.com/MrWong99/roverlink/pkg/provider/stt/whisper"
	"github.com/MrWong99/roverlink/pkg/provider/tts"
	"github.com/MrWong99/roverlink/pkg/provider/tts/coqui"
	ttsdeepgram "github.com/MrWong99/roverlink/pkg/provider/tts/deepgram"
	"github.com/MrWong99/roverlink/pkg/provider/tts/espeak"
)

// commandVocabulary lists the motion and stop words for priming STT.
func commandVocabulary() []string {
	words := make([]string, 0, len(command.Actions)+len(command.StopWords))
	for _, a := range command.Actions {
		words = append(words, string(a))
	}
	for _, w := range command.StopWords {
		if !slices.Contains(words, w) {
			words = append(words, w)
		}
	}
	return words
}

// buildTagProviders holds registrations from files behind build tags.
var buildTagProviders []func(*config.Registry)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Every TTS provider is configured to produce speechRate audio so playback
// needs no per-provider rate handling.
func registerBuiltinProviders(reg *config.Registry, speechRate int) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		if e.APIKey == "" {
			return nil, config.ErrMissingCredentials
		}
		opts := []sttdeepgram.Option{sttdeepgram.WithKeyterms(commandVocabulary()...)}
		if e.Model != "" {
			opts = append(opts, sttdeepgram.WithModel(e.Model))
		}
		if e.Language != "" {
			opts = append(opts, sttdeepgram.WithLanguage(e.Language))
		}
		if e.BaseURL != "" {
			opts = append(opts, sttdeepgram.WithBaseURL(e.BaseURL))
		}
		return sttdeepgram.New(e.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if e.Language != "" {
			opts = append(opts, whisper.WithLanguage(e.Language))
		}
		prompt := e.Option("prompt")
		if prompt == "" {
			prompt = strings.Join(commandVocabulary(), ", ")
		}
		opts = append(opts, whisper.WithPrompt(prompt))
		return whisper.New(e.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []ollama.Option
		if ka := e.Option("keep_alive"); ka != "" {
			opts = append(opts, ollama.WithKeepAlive(ka))
		}
		return ollama.New(e.BaseURL, e.Model, opts...)
	})

	// openai also serves any OpenAI-compatible endpoint, such as Ollama's /v1;
	// a BaseURL without a key is accepted for those.
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		if e.APIKey == "" && e.BaseURL == "" {
			return nil, config.ErrMissingCredentials
		}
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		if org := e.Option("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d, err := time.ParseDuration(e.Option("timeout")); err == nil {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})

	// anyllm reaches every any-llm-go backend; options.backend picks it and
	// defaults to ollama.
	reg.RegisterLLM("anyllm", func(e config.ProviderEntry) (llm.Provider, error) {
		backend := e.Option("backend")
		if backend == "" {
			backend = "ollama"
		}
		var opts []anyllmlib.Option
		if e.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
		}
		if e.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
		}
		return anyllm.New(backend, e.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("deepgram", func(e config.ProviderEntry) (tts.Provider, error) {
		if e.APIKey == "" {
			return nil, config.ErrMissingCredentials
		}
		opts := []ttsdeepgram.Option{ttsdeepgram.WithSampleRate(speechRate)}
		if e.Model != "" {
			opts = append(opts, ttsdeepgram.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, ttsdeepgram.WithBaseURL(e.BaseURL))
		}
		return ttsdeepgram.New(e.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithOutputSampleRate(speechRate)}
		if e.Language != "" {
			opts = append(opts, coqui.WithLanguage(e.Language))
		}
		if mode := e.Option("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if sp := e.Option("speaker"); sp != "" {
			opts = append(opts, coqui.WithSpeaker(sp))
		}
		return coqui.New(e.BaseURL, opts...)
	})

	reg.RegisterTTS("espeak", func(e config.ProviderEntry) (tts.Provider, error) {
		opts := []espeak.Option{espeak.WithOutputSampleRate(speechRate)}
		if cmd := e.Option("command"); cmd != "" {
			opts = append(opts, espeak.WithCommand(cmd))
		}
		voice := e.Option("voice")
		if voice == "" {
			voice = e.Language
		}
		if voice != "" {
			opts = append(opts, espeak.WithVoice(voice))
		}
		if wpm, err := strconv.Atoi(e.Option("rate")); err == nil {
			opts = append(opts, espeak.WithRate(wpm))
		}
		return espeak.New(opts...)
	})

	for _, register := range buildTagProviders {
		register(reg)
	}

	for _, kind := range []string{"stt", "llm", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}
