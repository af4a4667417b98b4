package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/roverlink/pkg/provider/llm"
	"github.com/MrWong99/roverlink/pkg/provider/stt"
	"github.com/MrWong99/roverlink/pkg/provider/tts"
)

var (
	// ErrProviderNotRegistered means no factory carries the entry's name.
	ErrProviderNotRegistered = errors.New("config: provider not registered")

	// ErrMissingCredentials is returned by factories of hosted providers whose
	// API key is unset. Callers leave such providers out of the chain.
	ErrMissingCredentials = errors.New("config: missing credentials")
)

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

// create looks the factory up under mu and runs it outside the lock.
func (f *factories[T]) create(mu *sync.RWMutex, e ProviderEntry) (T, error) {
	mu.RLock()
	fn, ok := f.m[e.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, e.Name)
	}
	return fn(e)
}

// Registry resolves the provider names used in the config file to
// constructors. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt factories[stt.Provider]
	llm factories[llm.Provider]
	tts factories[tts.Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		stt: factories[stt.Provider]{kind: "stt", m: map[string]Factory[stt.Provider]{}},
		llm: factories[llm.Provider]{kind: "llm", m: map[string]Factory[llm.Provider]{}},
		tts: factories[tts.Provider]{kind: "tts", m: map[string]Factory[tts.Provider]{}},
	}
}

// RegisterSTT adds or replaces the STT factory called name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt.m[name] = f
	r.mu.Unlock()
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm.m[name] = f
	r.mu.Unlock()
}

func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	r.tts.m[name] = f
	r.mu.Unlock()
}

// CreateSTT runs the STT factory named by e.Name.
func (r *Registry) CreateSTT(e ProviderEntry) (stt.Provider, error) {
	return r.stt.create(&r.mu, e)
}

func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) {
	return r.llm.create(&r.mu, e)
}

func (r *Registry) CreateTTS(e ProviderEntry) (tts.Provider, error) {
	return r.tts.create(&r.mu, e)
}

// Names lists the registered names of kind "stt", "llm" or "tts", sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return slices.Sorted(maps.Keys(r.stt.m))
	case "llm":
		return slices.Sorted(maps.Keys(r.llm.m))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts.m))
	}
	return nil
}
