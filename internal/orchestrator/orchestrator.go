// Package orchestrator runs the per-utterance conversation loop: transcribe
// the utterance, decide on a reply and an optional motion command, pass the
// command through the dispatcher, and speak the reply.
//
// Each utterance is handled to completion before the next is taken. A
// failure in any external call degrades to a spoken apology and the loop
// keeps listening.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/roverlink/internal/command"
	"github.com/MrWong99/roverlink/internal/observe"
	"github.com/MrWong99/roverlink/internal/transport"
	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/llm"
	"github.com/MrWong99/roverlink/pkg/provider/stt"
	"github.com/MrWong99/roverlink/pkg/provider/tts"
)

// DefaultSystemPrompt instructs the model to answer in the reply envelope
// understood by [command.ParseReply].
const DefaultSystemPrompt = `You are the voice of a small wheeled robot rover. Keep answers short and friendly.
Always reply with a single JSON object and nothing else:
{"speech":"<what to say>","command":{"action":"forward|backward|left|right|stop|turn","params":{}}}
Set "command" to null when no motion is needed.
For turns use {"action":"turn","params":{"direction":"left"}} or "right".`

// Fixed replies.
const (
	SpeechApology       = "Sorry, please repeat."
	SpeechUnknownAction = "Sorry, I can't do that."
	SpeechStopping      = "Stopping."
	SpeechSendFailed    = "Sorry, I couldn't reach the motors."
	rejectionPrefix     = "Cannot perform action: "
)

const (
	defaultHistorySize = 10
	defaultTemperature = 0.1
	defaultMaxTokens   = 256
)

// Config holds conversation settings.
type Config struct {
	// SystemPrompt replaces [DefaultSystemPrompt] when non-empty.
	SystemPrompt string

	// HistorySize is the number of turns replayed to the model. Default: 10.
	HistorySize int

	// Temperature for completions. Default: 0.1.
	Temperature float64

	// MaxTokens caps the completion length. Default: 256.
	MaxTokens int

	// Cooldown keeps the segmenter gate closed after a reply ends.
	Cooldown time.Duration
}

// Result describes how one utterance was handled.
type Result struct {
	// UtteranceID is the ID of the handled utterance, if any.
	UtteranceID string

	// Transcript is the trimmed transcription. Empty when the cycle was
	// abandoned.
	Transcript string

	// Speech is the text that was (or would have been) spoken.
	Speech string

	// Outcome is set when a command was dispatched.
	Outcome *command.Outcome

	// Interrupted reports that the reply was cut short by barge-in.
	Interrupted bool

	// Err is the last external-call failure seen while handling the
	// utterance. It never stops the loop.
	Err error
}

// Orchestrator ties the pipeline stages together. It is driven by a single
// goroutine through [Orchestrator.Run]; [Orchestrator.Playback] may be used
// concurrently by the segmenter.
type Orchestrator struct {
	stt     stt.Provider
	llm     llm.Provider
	tts     tts.Provider
	exec    command.Executor
	speaker transport.Speaker

	stop     *command.StopMatcher
	history  *History
	memory   *Memory
	playback *Playback
	metrics  *observe.Metrics
	cfg      Config
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithMetrics records stage latencies on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStopMatcher overrides the spoken stop shortcut.
func WithStopMatcher(m *command.StopMatcher) Option {
	return func(o *Orchestrator) { o.stop = m }
}

// New creates an Orchestrator. A nil synth or speaker disables speech
// output; replies are then only logged.
func New(transcriber stt.Provider, model llm.Provider, synth tts.Provider, exec command.Executor, speaker transport.Speaker, cfg Config, opts ...Option) *Orchestrator {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	o := &Orchestrator{
		stt:     transcriber,
		llm:     model,
		tts:     synth,
		exec:    exec,
		speaker: speaker,
		stop:    command.NewStopMatcher(),
		history: NewHistory(cfg.HistorySize, 0),
		memory:  NewMemory(),
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.playback = NewPlayback(cfg.Cooldown, o.metrics)
	return o
}

// Playback returns the reply tracker. It doubles as the segmenter gate and
// its BargeIn method is the segmenter's barge-in callback.
func (o *Orchestrator) Playback() *Playback { return o.playback }

// History returns the conversation history.
func (o *Orchestrator) History() *History { return o.history }

// Run handles utterances until the channel closes or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, utterances <-chan audio.Utterance) error {
	slog.Info("orchestrator: listening")
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-utterances:
			if !ok {
				return nil
			}
			o.Handle(ctx, u)
		}
	}
}

// Handle runs one full cycle for u. An empty transcript abandons the cycle
// with no side effects.
func (o *Orchestrator) Handle(ctx context.Context, u audio.Utterance) Result {
	ctx, span := observe.StartUtterance(ctx, u.ID)
	defer span.End()
	log := observe.Logger(ctx)

	res := Result{UtteranceID: u.ID}
	text, err := o.transcribe(ctx, u)
	if err != nil {
		log.Warn("orchestrator: transcription failed", "err", err)
		res.Err = err
		res.Speech = SpeechApology
		o.finish(ctx, log, &res)
		return res
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Debug("orchestrator: empty transcript")
		return res
	}
	res.Transcript = text
	log.Info("orchestrator: heard", "transcript", text)

	o.respond(ctx, log, &res)
	o.history.Add(text, res.Speech)
	o.finish(ctx, log, &res)
	return res
}

// Respond decides and performs the reply to an already transcribed text.
// It is the part of [Orchestrator.Handle] after transcription.
func (o *Orchestrator) Respond(ctx context.Context, text string) Result {
	log := observe.Logger(ctx)
	res := Result{Transcript: strings.TrimSpace(text)}
	if res.Transcript == "" {
		return res
	}
	o.respond(ctx, log, &res)
	o.history.Add(res.Transcript, res.Speech)
	o.finish(ctx, log, &res)
	return res
}

// respond fills res.Speech and res.Outcome for res.Transcript.
func (o *Orchestrator) respond(ctx context.Context, log *slog.Logger, res *Result) {
	if o.stop.Match(res.Transcript) {
		log.Info("orchestrator: stop shortcut")
		res.Speech = o.dispatch(ctx, log, res, command.New(command.Stop, nil), SpeechStopping)
		return
	}

	if answer, ok := o.memory.Answer(res.Transcript); ok {
		res.Speech = answer
		return
	}

	reply, err := o.GenerateReply(ctx, res.Transcript)
	if err != nil {
		log.Warn("orchestrator: reply generation failed", "err", err)
		res.Err = err
		res.Speech = SpeechApology
		return
	}

	switch {
	case reply.CommandErr != nil:
		log.Warn("orchestrator: unusable command", "err", reply.CommandErr)
		res.Speech = SpeechUnknownAction
	case reply.Command != nil:
		res.Speech = o.dispatch(ctx, log, res, *reply.Command, reply.Speech)
	default:
		res.Speech = reply.Speech
	}
}

// dispatch sends c through the executor and returns the speech to use:
// speech when the command went out, otherwise an explanation.
func (o *Orchestrator) dispatch(ctx context.Context, log *slog.Logger, res *Result, c command.Command, speech string) string {
	out := o.exec.Dispatch(ctx, c)
	res.Outcome = &out
	observe.AnnotateVerdict(ctx, string(c.Action), out.Verdict.Allowed, out.Verdict.Reason)
	switch {
	case !out.Verdict.Allowed:
		log.Info("orchestrator: command rejected", "command", c.String(), "reason", out.Verdict.Reason)
		return rejectionPrefix + out.Verdict.Reason
	case out.Err != nil:
		log.Warn("orchestrator: command not sent", "command", c.String(), "err", out.Err)
		res.Err = out.Err
		return SpeechSendFailed
	default:
		log.Info("orchestrator: command sent", "command", c.String())
		return speech
	}
}

// GenerateReply asks the language model for a structured reply to text,
// replaying the conversation history. Malformed model output is normalised
// by [command.ParseReply]; only a failed call returns an error.
func (o *Orchestrator) GenerateReply(ctx context.Context, text string) (_ command.Reply, err error) {
	ctx, span := observe.StartStage(ctx, "llm", "complete")
	defer func() { observe.EndSpan(span, err) }()

	msgs := append(o.history.Messages(), llm.Message{Role: llm.RoleUser, Content: text})
	req := llm.CompletionRequest{
		SystemPrompt: o.cfg.SystemPrompt,
		Messages:     msgs,
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.MaxTokens,
		JSONMode:     true,
	}

	start := time.Now()
	resp, err := o.llm.Complete(ctx, req)
	o.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return command.Reply{}, fmt.Errorf("orchestrator: complete: %w", err)
	}
	if resp == nil {
		return command.Reply{}, errors.New("orchestrator: complete: empty response")
	}
	return command.ParseReply(resp.Content), nil
}

func (o *Orchestrator) transcribe(ctx context.Context, u audio.Utterance) (_ string, err error) {
	ctx, span := observe.StartStage(ctx, "stt", "transcribe")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	text, err := o.stt.Transcribe(ctx, u.Samples(), u.SampleRate())
	o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("orchestrator: transcribe: %w", err)
	}
	return text, nil
}

// finish speaks res.Speech, if any, and records the speech outcome.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, res *Result) {
	if res.Speech == "" {
		return
	}
	log.Info("orchestrator: reply", "speech", res.Speech)
	if o.tts == nil || o.speaker == nil {
		return
	}
	interrupted, err := o.speak(ctx, res.Speech)
	res.Interrupted = interrupted
	if err != nil {
		log.Warn("orchestrator: speech failed", "err", err)
		res.Err = err
	}
}

// speak synthesizes text and plays it with a fresh cancellation flag. It
// reports whether playback was cut short by barge-in.
func (o *Orchestrator) speak(ctx context.Context, text string) (_ bool, err error) {
	ctx, span := observe.StartStage(ctx, "tts", "synthesize")
	defer func() { observe.EndSpan(span, err) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	flag := o.playback.Begin()
	defer o.playback.End(flag)

	start := time.Now()
	frames, err := o.tts.Synthesize(ctx, text)
	if err != nil {
		return false, fmt.Errorf("orchestrator: synthesize: %w", err)
	}
	frames = firstFrameTimer(ctx, frames, start, o.metrics)

	err = o.speaker.Speak(ctx, frames, flag)
	if errors.Is(err, transport.ErrCancelled) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("orchestrator: speak: %w", err)
	}
	return false, nil
}

// firstFrameTimer forwards frames and records the time to the first one.
func firstFrameTimer(ctx context.Context, in <-chan audio.Frame, start time.Time, m *observe.Metrics) <-chan audio.Frame {
	out := make(chan audio.Frame)
	go func() {
		defer close(out)
		first := true
		for f := range in {
			if first {
				m.TTSDuration.Record(ctx, time.Since(start).Seconds())
				first = false
			}
			select {
			case out <- f:
			case <-ctx.Done():
				audio.Drain(in)
				return
			}
		}
	}()
	return out
}
