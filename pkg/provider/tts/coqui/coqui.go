// Package coqui speaks through a Coqui TTS server: the stock tts-server
// (GET /api/tts, [APIModeStandard]) or the XTTS v2 API server
// (POST /tts_to_audio/, [APIModeXTTS]).
//
// Both servers render a whole request before answering, so a reply is sent
// sentence by sentence with a few sentences rendering ahead of playback.
//
//	p, err := coqui.New("http://laptop:5002", coqui.WithSpeaker("p225"))
//	frames, err := p.Synthesize(ctx, "Moving forward. Watch out!")
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/tts"
)

const (
	standardPath = "/api/tts"
	xttsPath     = "/tts_to_audio/"

	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 24000

	// lookahead is how many sentences may render while one plays.
	lookahead   = 4
	frameBuffer = 16

	errorBodyLimit = 256
)

// APIMode selects the server API.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	// APIModeXTTS needs a speaker reference, see [WithSpeaker].
	APIModeXTTS APIMode = "xtts"
)

// Provider is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	apiMode    APIMode
	outputRate int
	blockSize  int
	client     *http.Client
}

var _ tts.Provider = (*Provider)(nil)

type Option func(*Provider)

// WithLanguage sets the language code sent with each request. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each sentence request. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithSpeaker picks the voice: the speaker_id of a multi-speaker model in
// standard mode, the speaker_wav reference in XTTS mode.
func WithSpeaker(speaker string) Option {
	return func(p *Provider) { p.speaker = speaker }
}

// WithOutputSampleRate sets the rate of the emitted frames. Default 24000.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

func WithBlockSize(n int) Option {
	return func(p *Provider) { p.blockSize = n }
}

// New returns a provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		outputRate: defaultOutputRate,
		blockSize:  tts.DefaultBlockSize,
		client:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	switch p.apiMode {
	case APIModeStandard:
	case APIModeXTTS:
		if p.speaker == "" {
			return nil, errors.New("coqui: xtts mode needs a speaker")
		}
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

type rendered struct {
	samples []float32
	err     error
}

// Synthesize renders the first sentence before returning, so an unreachable
// server is reported here and the caller can fall back. A later sentence
// that fails ends the stream early.
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan audio.Frame, error) {
	parts := sentences(text)
	if len(parts) == 0 {
		return nil, errors.New("coqui: nothing to synthesize")
	}
	first, err := p.render(ctx, parts[0])
	if err != nil {
		return nil, err
	}

	pending := make(chan chan rendered, lookahead)
	done := make(chan struct{})
	out := make(chan audio.Frame, frameBuffer)
	go p.prefetch(ctx, parts[1:], pending, done)
	go func() {
		defer close(out)
		defer close(done)
		p.play(ctx, first, pending, out)
	}()
	return out, nil
}

// prefetch starts rendering each sentence and queues the results in order.
func (p *Provider) prefetch(ctx context.Context, parts []string, pending chan<- chan rendered, done <-chan struct{}) {
	defer close(pending)
	for _, s := range parts {
		next := make(chan rendered, 1)
		select {
		case pending <- next:
		case <-done:
			return
		case <-ctx.Done():
			return
		}
		go func() {
			samples, err := p.render(ctx, s)
			next <- rendered{samples, err}
		}()
	}
}

func (p *Provider) play(ctx context.Context, samples []float32, pending <-chan chan rendered, out chan<- audio.Frame) {
	var seq uint64
	for {
		for _, f := range audio.Chunk(samples, p.blockSize, p.outputRate, seq) {
			select {
			case out <- f:
				seq++
			case <-ctx.Done():
				return
			}
		}
		next, ok := <-pending
		if !ok {
			return
		}
		var r rendered
		select {
		case r = <-next:
		case <-ctx.Done():
			return
		}
		if r.err != nil {
			if ctx.Err() == nil {
				slog.Warn("coqui: sentence failed, reply cut short", "err", r.err)
			}
			return
		}
		samples = r.samples
	}
}

// render fetches one sentence as mono samples at the output rate.
func (p *Provider) render(ctx context.Context, sentence string) ([]float32, error) {
	req, err := p.request(ctx, sentence)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("coqui: %s %s: HTTP %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio: %w", err)
	}
	samples, _, err := audio.DecodeWAVMono(wav, p.outputRate)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	return samples, nil
}

type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

func (p *Provider) request(ctx context.Context, sentence string) (*http.Request, error) {
	if p.apiMode == APIModeXTTS {
		body, err := json.Marshal(xttsRequest{Text: sentence, SpeakerWav: p.speaker, Language: p.language})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	q := url.Values{"text": {sentence}}
	if p.speaker != "" {
		q.Set("speaker_id", p.speaker)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+standardPath+"?"+q.Encode(), nil)
}

// sentenceEnd matches a terminator followed by whitespace or the end of the
// text, so "3.5" stays whole.
var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)`)

// sentences splits text after each terminator. Trailing text without one is
// the last sentence.
func sentences(text string) []string {
	var out []string
	for text != "" {
		cut := len(text)
		if loc := sentenceEnd.FindStringIndex(text); loc != nil {
			cut = loc[0] + 1
		}
		if s := strings.TrimSpace(text[:cut]); s != "" {
			out = append(out, s)
		}
		text = text[cut:]
	}
	return out
}
