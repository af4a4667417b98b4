package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MrWong99/roverlink/internal/resilience"
)

// Stage is the read side of one provider chain.
type Stage interface {
	Stage() string
	Available() bool
	Members() []resilience.Member
	Serving() string
}

// StageStatus is the JSON view of one provider chain.
type StageStatus struct {
	Stage     string              `json:"stage"`
	Serving   string              `json:"serving,omitempty"`
	Available bool                `json:"available"`
	Providers []resilience.Member `json:"providers"`
}

// Providers serves /providers.
type Providers struct {
	stages []Stage
}

// NewProviders returns a handler reporting stages in the given order.
func NewProviders(stages ...Stage) *Providers {
	return &Providers{stages: append([]Stage(nil), stages...)}
}

// Register adds /providers to mux.
func (p *Providers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /providers", p.Serve)
}

func (p *Providers) Serve(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, p.Status())
}

// Status returns the current view of every stage.
func (p *Providers) Status() []StageStatus {
	out := make([]StageStatus, 0, len(p.stages))
	for _, s := range p.stages {
		out = append(out, StageStatus{
			Stage:     s.Stage(),
			Serving:   s.Serving(),
			Available: s.Available(),
			Providers: s.Members(),
		})
	}
	return out
}

// ProviderChecker fails while every provider of s has an open breaker.
func ProviderChecker(s Stage) Checker {
	return Checker{
		Name: "providers." + s.Stage(),
		Check: func(context.Context) error {
			if s.Available() {
				return nil
			}
			return fmt.Errorf("every %s provider is tripped", s.Stage())
		},
	}
}
