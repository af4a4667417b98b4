//go:build whispercpp

// Linking needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/stt"
)

// NativeProvider runs whisper.cpp in process. The model is loaded once;
// utterances are decoded one at a time, each in a fresh context.
type NativeProvider struct {
	language string

	mu        sync.Mutex
	model     whisperlib.Model
	closeOnce sync.Once
	closeErr  error
}

var _ stt.Provider = (*NativeProvider)(nil)

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the spoken language. Default "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the ggml model at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &NativeProvider{language: defaultLanguage}
	for _, opt := range opts {
		opt(p)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p.model = model
	return p, nil
}

// Close frees the model. Further calls return the first result.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closeErr = p.model.Close()
		p.model = nil
	})
	return p.closeErr
}

// Transcribe implements [stt.Provider]. Cancelling ctx aborts decoding at the
// next encoder pass.
func (p *NativeProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	samples = audio.Resample(samples, sampleRate, SampleRate)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return "", errors.New("whisper: provider closed")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: language rejected, model default used", "language", p.language, "err", err)
	}

	if err := wctx.Process(samples, func() bool { return ctx.Err() == nil }, nil, nil); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("whisper: decode: %w", err)
	}

	var text strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: segment: %w", err)
		}
		text.WriteString(seg.Text)
		text.WriteByte(' ')
	}
	return cleanTranscript(strings.Join(strings.Fields(text.String()), " ")), nil
}
