// Package deepgram transcribes utterances with Deepgram's pre-recorded
// /listen API, one WAV upload per utterance.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/internal/deepgramapi"
	"github.com/MrWong99/roverlink/pkg/provider/stt"
)

const (
	defaultModel    = "nova-3"
	defaultLanguage = "en"

	transcriptPath = "results.channels.0.alternatives.0.transcript"
)

type Provider struct {
	api      *deepgramapi.Client
	model    string
	language string
	keywords []string
}

var _ stt.Provider = (*Provider)(nil)

type settings struct {
	model, language, base string
	keywords              []string
	hc                    *http.Client
}

type Option func(*settings)

// WithModel picks the model. Default "nova-3".
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithLanguage sets the language code, such as "en" or "de-DE".
func WithLanguage(language string) Option {
	return func(s *settings) { s.language = language }
}

// WithKeyterms boosts recognition of the given words, typically the command
// vocabulary.
func WithKeyterms(words ...string) Option {
	return func(s *settings) { s.keywords = append(s.keywords, words...) }
}

// WithBaseURL replaces the API base, e.g. for a proxy or a test server.
func WithBaseURL(base string) Option {
	return func(s *settings) { s.base = base }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.hc = c }
}

func New(apiKey string, opts ...Option) (*Provider, error) {
	s := settings{model: defaultModel, language: defaultLanguage}
	for _, opt := range opts {
		opt(&s)
	}
	api, err := deepgramapi.New(apiKey, s.base, s.hc)
	if err != nil {
		return nil, err
	}
	return &Provider{api: api, model: s.model, language: s.language, keywords: s.keywords}, nil
}

// Transcribe implements [stt.Provider]. Silence yields "" and no error.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	data, err := p.api.Post(ctx, "/listen", p.query(), "audio/wav", audio.EncodeFloat32WAV(samples, sampleRate))
	if err != nil {
		return "", err
	}
	return transcript(data)
}

func (p *Provider) query() url.Values {
	q := url.Values{
		"model":        {p.model},
		"language":     {p.language},
		"punctuate":    {"true"},
		"smart_format": {"true"},
	}
	if len(p.keywords) > 0 {
		q["keyterm"] = p.keywords
	}
	return q
}

// transcript reads the best alternative of the first channel. A reply
// without channels or alternatives is an empty transcript.
func transcript(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", errors.New("deepgram: reply is not JSON")
	}
	r := gjson.GetBytes(data, transcriptPath)
	if r.Exists() && r.Type != gjson.String {
		return "", fmt.Errorf("deepgram: transcript is %s, not a string", r.Type)
	}
	return strings.TrimSpace(r.String()), nil
}
