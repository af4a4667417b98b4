// Package openai talks to the OpenAI chat completions API and to any server
// that speaks it, such as Ollama's /v1 surface or a llama.cpp server.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/roverlink/pkg/provider/llm"
)

// localKey stands in for the API key of local servers, which ignore it while
// the client insists on one.
const localKey = "local"

// Provider sends completions to an OpenAI-compatible endpoint.
type Provider struct {
	client oai.Client
	model  string

	baseURL string
	reqOpts []option.RequestOption
	hc      *http.Client
}

var _ llm.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithOrganization sends org as the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(p *Provider) { p.reqOpts = append(p.reqOpts, option.WithOrganization(org)) }
}

// WithTimeout bounds every request. Ignored when [WithHTTPClient] is given.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if p.hc == nil && d > 0 {
			p.hc = &http.Client{Timeout: d}
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.hc = hc }
}

// New returns a provider for model. apiKey may be empty only together with
// [WithBaseURL], for local servers.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	p := &Provider{model: model}
	for _, opt := range opts {
		opt(p)
	}

	switch {
	case apiKey != "":
	case p.baseURL != "":
		apiKey = localKey
	default:
		return nil, errors.New("openai: apiKey must not be empty")
	}

	// The resilience chain retries on another provider; the SDK must not
	// retry on its own and hold up the voice turn.
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, p.reqOpts...)
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	if p.hc != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(p.hc))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Complete implements [llm.Provider]. req.JSONMode maps to the json_object
// response format.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: reply has no choices")
	}
	msg := resp.Choices[0].Message
	if msg.Content == "" && msg.Refusal != "" {
		return nil, fmt.Errorf("openai: model refused: %s", msg.Refusal)
	}
	return &llm.CompletionResponse{
		Content: msg.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := llm.Flatten(req)
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs)),
	}
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			params.Messages = append(params.Messages, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			params.Messages = append(params.Messages, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			params.Messages = append(params.Messages, oai.AssistantMessage(m.Content))
		default:
			return params, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}
