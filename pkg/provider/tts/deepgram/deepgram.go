// Package deepgram voices replies with Deepgram Aura through the /speak API.
// A reply is rendered by one request as linear16 WAV and then streamed out in
// frames.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/internal/deepgramapi"
	"github.com/MrWong99/roverlink/pkg/provider/tts"
)

const (
	defaultModel = "aura-asteria-en"
	defaultRate  = 24000
)

type Provider struct {
	api   *deepgramapi.Client
	model string
	rate  int
}

var _ tts.Provider = (*Provider)(nil)

type settings struct {
	model string
	rate  int
	base  string
	hc    *http.Client
}

type Option func(*settings)

// WithModel picks the Aura voice. Default "aura-asteria-en".
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithSampleRate sets the rate Deepgram renders at. Default 24000.
func WithSampleRate(rate int) Option {
	return func(s *settings) { s.rate = rate }
}

// WithBaseURL replaces the API base, e.g. for a proxy or a test server.
func WithBaseURL(base string) Option {
	return func(s *settings) { s.base = base }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.hc = c }
}

func New(apiKey string, opts ...Option) (*Provider, error) {
	s := settings{model: defaultModel, rate: defaultRate}
	for _, opt := range opts {
		opt(&s)
	}
	if s.rate <= 0 {
		return nil, fmt.Errorf("deepgram: sample rate must be positive, got %d", s.rate)
	}
	api, err := deepgramapi.New(apiKey, s.base, s.hc)
	if err != nil {
		return nil, err
	}
	return &Provider{api: api, model: s.model, rate: s.rate}, nil
}

type speakRequest struct {
	Text string `json:"text"`
}

// Synthesize implements [tts.Provider]. Request failures are returned before
// the first frame.
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan audio.Frame, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("deepgram: nothing to synthesize")
	}
	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("deepgram: encode request: %w", err)
	}
	wav, err := p.api.Post(ctx, "/speak", p.query(), "application/json", body)
	if err != nil {
		return nil, err
	}
	samples, rate, err := audio.DecodeWAVMono(wav, p.rate)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	return tts.Stream(ctx, samples, rate, tts.DefaultBlockSize), nil
}

func (p *Provider) query() url.Values {
	return url.Values{
		"model":       {p.model},
		"encoding":    {"linear16"},
		"container":   {"wav"},
		"sample_rate": {strconv.Itoa(p.rate)},
	}
}
