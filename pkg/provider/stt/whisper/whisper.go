// Package whisper transcribes utterances with whisper.cpp, either through a
// running whisper-server ([Provider]) or linked in directly ([NativeProvider],
// build tag whispercpp).
//
//	p, err := whisper.New("http://laptop:8081", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, samples, 48000)
//
// Both resample their input to the 16 kHz whisper works at.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/stt"
)

// SampleRate is the rate whisper models are trained on.
const SampleRate = 16000

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// errorBodyLimit caps how much of a failed response ends up in the error.
	errorBodyLimit = 256
)

// Provider posts each utterance as a WAV upload to a whisper-server's
// /inference endpoint. It is safe for concurrent use.
type Provider struct {
	endpoint string
	model    string
	language string
	prompt   string
	client   *http.Client
}

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model for servers that host several. Empty leaves the
// server's own choice.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the spoken language ("en", "de", ...). Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithPrompt primes the decoder with text, typically the command vocabulary,
// so short utterances like "stop" are not heard as "top".
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a provider for the whisper-server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		endpoint: strings.TrimRight(serverURL, "/") + "/inference",
		language: defaultLanguage,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	wav := audio.EncodeFloat32WAV(audio.Resample(samples, sampleRate, SampleRate), SampleRate)
	body, contentType, err := p.form(wav)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return "", fmt.Errorf("whisper: inference: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode reply: %w", err)
	}
	return cleanTranscript(out.Text), nil
}

// form encodes wav and the decoding options as multipart/form-data.
func (p *Provider) form(wav []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"response_format", "json"},
		{"language", p.language},
		{"model", p.model},
		{"prompt", p.prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// nonSpeech are the annotations whisper emits for audio without words.
var nonSpeech = strings.NewReplacer(
	"[BLANK_AUDIO]", "",
	"[ Silence ]", "",
	"[silence]", "",
	"(silence)", "",
)

// cleanTranscript strips non-speech annotations, so silence yields "".
func cleanTranscript(s string) string {
	return strings.TrimSpace(nonSpeech.Replace(s))
}
