package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/roverlink/internal/config"
	"github.com/MrWong99/roverlink/internal/health"
	"github.com/MrWong99/roverlink/internal/observe"
	"github.com/MrWong99/roverlink/internal/resilience"
	"github.com/MrWong99/roverlink/pkg/provider/llm"
	"github.com/MrWong99/roverlink/pkg/provider/stt"
	"github.com/MrWong99/roverlink/pkg/provider/tts"
)

// Providers holds one interface value per pipeline stage. Nil means no entry
// of that stage could be built.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// Chains records the provider names of each stage in try order, keyed by
	// "stt", "llm" and "tts". Used for the startup summary.
	Chains map[string][]string

	// stages are the built chains, reported by the status server.
	stages []health.Stage
}

// BuildProviders instantiates every configured provider through reg and puts
// each stage behind a [resilience.Chain]. Entries whose factory fails, most
// often with [config.ErrMissingCredentials], are skipped with a warning so the
// chain degrades to what remains. Only an unregistered name is fatal.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	ps := &Providers{Chains: make(map[string][]string)}

	sttChain := resilience.NewSTTChain(chainConfig("stt", m))
	if err := fill(sttChain.Chain, cfg.Providers.STT, reg.CreateSTT); err != nil {
		return nil, err
	}
	if sttChain.Len() > 0 {
		ps.STT = sttChain
		ps.add(sttChain.Chain)
	}

	llmChain := resilience.NewLLMChain(chainConfig("llm", m))
	if err := fill(llmChain.Chain, cfg.Providers.LLM, reg.CreateLLM); err != nil {
		return nil, err
	}
	if llmChain.Len() > 0 {
		ps.LLM = llmChain
		ps.add(llmChain.Chain)
	}

	ttsChain := resilience.NewTTSChain(chainConfig("tts", m))
	if err := fill(ttsChain.Chain, cfg.Providers.TTS, reg.CreateTTS); err != nil {
		return nil, err
	}
	if ttsChain.Len() > 0 {
		ps.TTS = ttsChain
		ps.add(ttsChain.Chain)
	}

	return ps, nil
}

// add records a built chain for the summary and the status server.
func (ps *Providers) add(c interface {
	health.Stage
	Names() []string
}) {
	ps.Chains[c.Stage()] = c.Names()
	ps.stages = append(ps.stages, c)
}

// chainConfig feeds provider errors and breaker changes of stage into m.
func chainConfig(stage string, m *observe.Metrics) resilience.ChainConfig {
	return resilience.ChainConfig{
		Breaker: []resilience.BreakerOption{
			resilience.OnStateChange(func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, stage, to.String())
			}),
		},
		OnError: func(name string, _ error) {
			m.RecordProviderError(context.Background(), name, stage)
		},
	}
}

// fill creates every entry with create and adds the usable ones to c.
func fill[T any](c *resilience.Chain[T], entries []config.ProviderEntry, create func(config.ProviderEntry) (T, error)) error {
	for _, e := range entries {
		p, err := create(e)
		switch {
		case err == nil:
			slog.Info("provider created", "kind", c.Stage(), "name", e.Name)
			c.Add(e.Name, p)
		case errors.Is(err, config.ErrProviderNotRegistered):
			return fmt.Errorf("app: create %s provider %q: %w", c.Stage(), e.Name, err)
		case errors.Is(err, config.ErrMissingCredentials):
			slog.Warn("provider skipped: missing credentials", "kind", c.Stage(), "name", e.Name)
		default:
			slog.Warn("provider skipped", "kind", c.Stage(), "name", e.Name, "err", err)
		}
	}
	return nil
}
