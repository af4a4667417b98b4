// Package espeak provides an offline TTS provider that shells out to
// espeak-ng (or classic espeak). It needs no network and no API key, which
// makes it the last entry of the TTS fallback chain.
//
// The binary is run with --stdout so the WAV it renders is captured rather
// than played; the samples are then resampled to the speech channel rate.
package espeak

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/provider/tts"
)

const (
	// DefaultCommand is the binary looked up on PATH when none is configured.
	DefaultCommand = "espeak-ng"

	defaultOutputRate = 24000
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the espeak Provider.
type Option func(*Provider)

// WithCommand sets the binary name or path (e.g., "espeak").
func WithCommand(cmd string) Option {
	return func(p *Provider) {
		p.command = cmd
	}
}

// WithVoice sets the espeak voice (-v), e.g. "en-us".
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithRate sets the speaking rate in words per minute (-s).
func WithRate(wpm int) Option {
	return func(p *Provider) {
		p.wpm = wpm
	}
}

// WithOutputSampleRate sets the rate frames are resampled to.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// runFunc executes name with args and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Provider implements tts.Provider on top of the espeak command line.
type Provider struct {
	command    string
	voice      string
	wpm        int
	outputRate int
	run        runFunc
}

// New resolves the espeak binary on PATH and returns a Provider. It fails
// when the binary is not installed so the fallback chain can skip it.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		command:    DefaultCommand,
		outputRate: defaultOutputRate,
		run:        runCommand,
	}
	for _, o := range opts {
		o(p)
	}
	resolved, err := exec.LookPath(p.command)
	if err != nil {
		return nil, fmt.Errorf("espeak: %w", err)
	}
	p.command = resolved
	return p, nil
}

// Synthesize renders text with espeak and streams the result as frames.
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan audio.Frame, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("espeak: nothing to synthesize")
	}
	wav, err := p.run(ctx, p.command, p.args(text)...)
	if err != nil {
		return nil, fmt.Errorf("espeak: run %s: %w", p.command, err)
	}
	samples, rate, err := audio.DecodeWAVMono(wav, p.outputRate)
	if err != nil {
		return nil, fmt.Errorf("espeak: %w", err)
	}
	return tts.Stream(ctx, samples, rate, tts.DefaultBlockSize), nil
}

func (p *Provider) args(text string) []string {
	args := []string{"--stdout"}
	if p.voice != "" {
		args = append(args, "-v", p.voice)
	}
	if p.wpm > 0 {
		args = append(args, "-s", strconv.Itoa(p.wpm))
	}
	// "--" keeps a reply starting with '-' from being read as a flag.
	return append(args, "--", text)
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
