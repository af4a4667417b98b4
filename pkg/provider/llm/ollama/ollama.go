// Package ollama provides an LLM provider that talks to Ollama's native
// /api/chat endpoint. Unlike the OpenAI-compatible surface it supports the
// "format": "json" constraint, which keeps small local models on the reply
// envelope.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/roverlink/pkg/provider/llm"
)

const (
	// DefaultURL is the address of a local Ollama server.
	DefaultURL     = "http://localhost:11434"
	defaultTimeout = 30 * time.Second
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithKeepAlive sets how long Ollama keeps the model loaded after a request
// (e.g. "10m"). Empty leaves the server default.
func WithKeepAlive(d string) Option {
	return func(p *Provider) {
		p.keepAlive = d
	}
}

// Provider implements llm.Provider against a native Ollama server.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	keepAlive  string
	httpClient *http.Client
}

// New creates a Provider for model on the server at baseURL. An empty
// baseURL selects [DefaultURL].
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	Format    string        `json:"format,omitempty"`
	KeepAlive string        `json:"keep_alive,omitempty"`
	Options   chatOptions   `json:"options"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response body: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ollama: server returned HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("ollama: parse JSON response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, fmt.Errorf("ollama: server returned HTTP %d: %s", resp.StatusCode, out.Error)
	}

	return &llm.CompletionResponse{
		Content: out.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

func (p *Provider) buildRequest(req llm.CompletionRequest) chatRequest {
	flat := llm.Flatten(req)
	msgs := make([]chatMessage, 0, len(flat))
	for _, m := range flat {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	out := chatRequest{
		Model:     p.model,
		Messages:  msgs,
		KeepAlive: p.keepAlive,
		Options:   chatOptions{NumPredict: req.MaxTokens},
	}
	if req.Temperature != 0 {
		t := req.Temperature
		out.Options.Temperature = &t
	}
	if req.JSONMode {
		out.Format = "json"
	}
	return out
}
