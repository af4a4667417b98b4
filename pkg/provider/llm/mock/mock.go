// Package mock is a scripted [llm.Provider] for orchestrator and chain tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/roverlink/pkg/provider/llm"
)

// Call is one recorded Complete.
type Call struct {
	Req llm.CompletionRequest
}

// Provider answers with Replies in order, repeating the last one. With no
// replies it returns an empty completion. CompleteErr fails every call;
// Respond, when set, replaces both.
type Provider struct {
	Replies     []string
	CompleteErr error
	Respond     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	mu    sync.Mutex
	calls []Call
}

var _ llm.Provider = (*Provider)(nil)

// Reply returns a provider that always answers content.
func Reply(content string) *Provider {
	return &Provider{Replies: []string{content}}
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	n := len(p.calls)
	p.calls = append(p.calls, Call{Req: req})
	p.mu.Unlock()

	switch {
	case p.Respond != nil:
		return p.Respond(ctx, req)
	case p.CompleteErr != nil:
		return nil, p.CompleteErr
	case len(p.Replies) == 0:
		return &llm.CompletionResponse{}, nil
	}
	content := p.Replies[min(n, len(p.Replies)-1)]
	return &llm.CompletionResponse{
		Content: content,
		Usage:   llm.Usage{CompletionTokens: len(content) / 4},
	}, nil
}

// Calls returns the recorded calls, oldest first.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
