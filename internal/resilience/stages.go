package resilience

import (
	"context"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/llm"
	"github.com/MrWong99/roverlink/pkg/provider/stt"
	"github.com/MrWong99/roverlink/pkg/provider/tts"
)

// STTChain is an [stt.Provider] that fails over across speech-to-text
// backends. An empty transcript is an answer, not a failure.
type STTChain struct{ *Chain[stt.Provider] }

var _ stt.Provider = STTChain{}

// NewSTTChain returns an empty STT chain.
func NewSTTChain(cfg ChainConfig) STTChain {
	return STTChain{NewChain[stt.Provider]("stt", cfg)}
}

func (c STTChain) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return Call(c.Chain, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, samples, sampleRate)
	})
}

// LLMChain is an [llm.Provider] that fails over across language model
// backends.
type LLMChain struct{ *Chain[llm.Provider] }

var _ llm.Provider = LLMChain{}

// NewLLMChain returns an empty LLM chain.
func NewLLMChain(cfg ChainConfig) LLMChain {
	return LLMChain{NewChain[llm.Provider]("llm", cfg)}
}

func (c LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(c.Chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// TTSChain is a [tts.Provider] that fails over across synthesis backends.
// Only starting synthesis fails over; once frames flow, a backend that dies
// mid-reply ends the reply early.
type TTSChain struct{ *Chain[tts.Provider] }

var _ tts.Provider = TTSChain{}

// NewTTSChain returns an empty TTS chain.
func NewTTSChain(cfg ChainConfig) TTSChain {
	return TTSChain{NewChain[tts.Provider]("tts", cfg)}
}

func (c TTSChain) Synthesize(ctx context.Context, text string) (<-chan audio.Frame, error) {
	return Call(c.Chain, func(p tts.Provider) (<-chan audio.Frame, error) {
		return p.Synthesize(ctx, text)
	})
}
