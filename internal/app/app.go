// Package app wires the roverlink components into a running process.
//
// One binary serves three topologies. Standalone runs the whole pipeline on
// the robot host. Brain runs speech understanding on a laptop and reaches the
// robot over TCP. Bridge runs on the robot next to the brain and owns the
// serial link, the telemetry store and the safety interlock; every command,
// local or remote, passes through its dispatcher.
//
// New builds the components for a topology, Run executes their workers under
// one errgroup, and Shutdown releases what New acquired. For testing, inject
// audio devices and the serial opener via functional options.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/roverlink/internal/command"
	"github.com/MrWong99/roverlink/internal/config"
	"github.com/MrWong99/roverlink/internal/journal"
	"github.com/MrWong99/roverlink/internal/observe"
	"github.com/MrWong99/roverlink/internal/orchestrator"
	"github.com/MrWong99/roverlink/internal/safety"
	"github.com/MrWong99/roverlink/internal/segment"
	"github.com/MrWong99/roverlink/internal/serial"
	"github.com/MrWong99/roverlink/internal/telemetry"
	"github.com/MrWong99/roverlink/internal/transport"
	"github.com/MrWong99/roverlink/pkg/audio"
	"github.com/MrWong99/roverlink/pkg/audio/alsa"
	"github.com/MrWong99/roverlink/pkg/provider/vad/energy"
)

// Topology selects which workers a process runs.
type Topology string

const (
	Standalone Topology = "standalone"
	Brain      Topology = "brain"
	Bridge     Topology = "bridge"
)

// IsValid reports whether t is a known topology.
func (t Topology) IsValid() bool {
	switch t {
	case Standalone, Brain, Bridge:
		return true
	}
	return false
}

// ownsRobot reports whether t drives the serial link.
func (t Topology) ownsRobot() bool { return t == Standalone || t == Bridge }

// hearsSpeech reports whether t runs the segmenter and orchestrator.
func (t Topology) hearsSpeech() bool { return t == Standalone || t == Brain }

// utteranceBuffer lets the segmenter keep emitting while a reply is handled.
const utteranceBuffer = 4

// commandTimeout bounds one remote dispatch from brain to bridge.
const commandTimeout = 5 * time.Second

// App owns all component lifetimes of one roverlink process.
type App struct {
	cfg       *config.Config
	topology  Topology
	providers *Providers
	metrics   *observe.Metrics

	source audio.Source
	sink   audio.Sink
	opener serial.Opener

	metricsHandler http.Handler
	level          *slog.LevelVar
	configPath     string
	watchInterval  time.Duration

	// Robot side; nil on a brain.
	store      *telemetry.Store
	link       *serial.Link
	interlock  *safety.Interlock
	dispatcher *command.Dispatcher

	// Speech side; nil on a bridge.
	orch *orchestrator.Orchestrator
	seg  *segment.Segmenter

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAudioSource replaces the ALSA capture device.
func WithAudioSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithAudioSink replaces the ALSA playback device.
func WithAudioSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithSerialOpener replaces the serial device opener.
func WithSerialOpener(o serial.Opener) Option {
	return func(a *App) { a.opener = o }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics of the status server.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads change the level of the root logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigWatch polls path every interval and applies live-reloadable
// changes. A zero interval keeps the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// New builds the components topology needs. Providers may be nil for a bridge;
// the other topologies need at least an STT and an LLM provider.
func New(cfg *config.Config, topology Topology, providers *Providers, opts ...Option) (*App, error) {
	if !topology.IsValid() {
		return nil, fmt.Errorf("app: unknown topology %q", topology)
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		topology:  topology,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if topology.ownsRobot() {
		a.initRobot()
	}
	if topology.hearsSpeech() {
		if err := a.initSpeech(); err != nil {
			return nil, err
		}
	}
	a.initDevices()
	return a, nil
}

// initRobot builds the telemetry store, serial link, interlock and dispatcher.
func (a *App) initRobot() {
	sc := a.cfg.Serial
	if a.opener == nil {
		a.opener = serial.Device(sc.Port, sc.Baud)
	}
	a.store = telemetry.NewStore()
	a.link = serial.New(a.opener, a.store,
		serial.WithFormat(sc.Format),
		serial.WithBackoff(sc.ReconnectMin, sc.ReconnectMax),
		serial.WithMetrics(a.metrics),
	)
	a.interlock = safety.New(a.store, thresholds(a.cfg.Safety))
	dopts := []command.DispatcherOption{command.WithMetrics(a.metrics)}
	if path := a.cfg.Server.JournalPath; path != "" {
		dopts = append(dopts, command.WithRecorder(journal.NewFileStore(path)))
	}
	a.dispatcher = command.NewDispatcher(a.interlock, a.link, dopts...)
}

// initSpeech builds the orchestrator and the segmenter feeding it.
func (a *App) initSpeech() error {
	if a.providers.STT == nil {
		return fmt.Errorf("app: %s needs a usable stt provider", a.topology)
	}
	if a.providers.LLM == nil {
		return fmt.Errorf("app: %s needs a usable llm provider", a.topology)
	}
	if a.providers.TTS == nil {
		slog.Warn("app: no usable tts provider, replies will only be logged")
	}

	var (
		exec    command.Executor
		speaker transport.Speaker
		nc      = a.cfg.Network
		sp      = a.cfg.Speech
	)
	switch a.topology {
	case Standalone:
		exec = a.dispatcher
		if a.sink == nil {
			a.sink = alsa.NewPlayer(a.alsaOptions()...)
		}
		speaker = transport.NewSinkPlayer(a.sink, sp.SampleRate, sp.PrimeSamples)
	case Brain:
		exec = command.NewClient(hostPort(nc.BridgeHost, nc.CommandPort), commandTimeout)
		speaker = transport.NewSpeechSender(hostPort(nc.BridgeHost, nc.TTSPort), sp.SampleRate, sp.PrimeSamples)
	}

	oc := a.cfg.Orchestrator
	a.orch = orchestrator.New(a.providers.STT, a.providers.LLM, a.providers.TTS, exec, speaker,
		orchestrator.Config{
			SystemPrompt: oc.SystemPrompt,
			HistorySize:  oc.HistorySize,
			Temperature:  oc.Temperature,
			MaxTokens:    oc.MaxTokens,
			Cooldown:     a.cfg.VAD.Cooldown(),
		},
		orchestrator.WithMetrics(a.metrics),
	)

	vc := a.cfg.VAD
	playback := a.orch.Playback()
	seg, err := segment.New(energy.New(),
		segment.Config{
			SampleRate:      a.cfg.Audio.SampleRate,
			EnergyThreshold: vc.EnergyThreshold,
			SilenceFrames:   vc.SilenceFrames,
			MinUtterance:    vc.MinUtterance(),
			MaxUtterance:    vc.MaxUtterance(),
		},
		segment.WithGate(playback),
		segment.WithBargeIn(vc.BargeInThreshold, func() { playback.BargeIn() }),
		segment.WithMetrics(a.metrics),
	)
	if err != nil {
		return fmt.Errorf("app: init segmenter: %w", err)
	}
	a.seg = seg
	a.closers = append(a.closers, seg.Close)
	return nil
}

// initDevices fills in the ALSA devices a topology needs but was not given.
func (a *App) initDevices() {
	if a.topology != Brain && a.source == nil {
		a.source = alsa.NewCapture(a.cfg.Audio.SampleRate, a.cfg.Audio.BlockSize, a.alsaOptions()...)
	}
	if a.topology == Bridge && a.sink == nil {
		a.sink = alsa.NewPlayer(a.alsaOptions()...)
	}
}

func (a *App) alsaOptions() []alsa.Option {
	if a.cfg.Audio.Device == "" {
		return nil
	}
	return []alsa.Option{alsa.WithDevice(a.cfg.Audio.Device)}
}

// Orchestrator returns the speech orchestrator, or nil on a bridge.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Dispatcher returns the command dispatcher, or nil on a brain.
func (a *App) Dispatcher() *command.Dispatcher { return a.dispatcher }

// Telemetry returns the telemetry store, or nil on a brain.
func (a *App) Telemetry() *telemetry.Store { return a.store }

// Connected reports whether the serial link is open. Always false on a brain.
func (a *App) Connected() bool { return a.link != nil && a.link.Connected() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every worker of the topology and blocks until ctx is cancelled
// or a worker fails. A cancelled ctx is a clean stop and returns nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// fail stops the workers already started before returning a setup error.
	fail := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}

	if a.configPath != "" {
		w, err := a.watchConfig()
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}
	if a.cfg.Server.ListenAddr != "" {
		g.Go(func() error { return a.serveStatus(ctx) })
	}
	if a.topology.ownsRobot() {
		g.Go(func() error { return a.link.Run(ctx) })
	}

	switch a.topology {
	case Standalone:
		frames, err := a.capture(ctx, g)
		if err != nil {
			return fail(err)
		}
		a.runSpeech(ctx, g, frames)

	case Brain:
		frames := a.receiveAudio(ctx, g)
		a.runSpeech(ctx, g, frames)

	case Bridge:
		frames, err := a.capture(ctx, g)
		if err != nil {
			return fail(err)
		}
		nc := a.cfg.Network
		sender := transport.NewAudioSender(hostPort(nc.BrainHost, nc.AudioPort),
			transport.WithReconnectBackoff(a.cfg.Serial.ReconnectMin, a.cfg.Serial.ReconnectMax),
			transport.WithSenderMetrics(a.metrics),
		)
		server := command.NewServer(a.dispatcher)
		speech := transport.NewSpeechReceiver(a.sink, a.cfg.Audio.BlockSize, a.cfg.Speech.SampleRate)

		g.Go(func() error { return sender.Run(ctx, frames) })
		g.Go(func() error { return server.ListenAndServe(ctx, listenAddr(nc.CommandPort)) })
		g.Go(func() error { return speech.ListenAndServe(ctx, listenAddr(nc.TTSPort)) })
	}

	slog.Info("app running", "topology", a.topology)
	return g.Wait()
}

// capture starts the microphone and decouples it from downstream through a
// bounded queue. Capture never blocks; overflow drops the oldest frame.
func (a *App) capture(ctx context.Context, g *errgroup.Group) (<-chan audio.Frame, error) {
	src, err := a.source.Frames(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: start capture: %w", err)
	}
	queue := audio.NewFrameQueue(a.cfg.Audio.QueueSize)
	g.Go(func() error {
		defer queue.Close()
		for f := range src {
			if queue.Push(f) {
				a.metrics.RecordFramesDropped(ctx, "capture", 1)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("app: audio capture ended")
	})
	return queue.C(), nil
}

// receiveAudio serves the audio-in port and queues every reassembled frame.
func (a *App) receiveAudio(ctx context.Context, g *errgroup.Group) <-chan audio.Frame {
	queue := audio.NewFrameQueue(a.cfg.Audio.QueueSize)
	recv := transport.NewAudioReceiver(a.cfg.Audio.BlockSize, a.cfg.Audio.SampleRate)
	g.Go(func() error {
		defer queue.Close()
		return recv.ListenAndServe(ctx, listenAddr(a.cfg.Network.AudioPort), func(f audio.Frame) {
			if queue.Push(f) {
				a.metrics.RecordFramesDropped(ctx, "network", 1)
			}
		})
	})
	return queue.C()
}

// runSpeech starts the segmenter and the orchestrator loop on frames.
func (a *App) runSpeech(ctx context.Context, g *errgroup.Group, frames <-chan audio.Frame) {
	utterances := make(chan audio.Utterance, utteranceBuffer)
	g.Go(func() error {
		defer close(utterances)
		return a.seg.Run(ctx, frames, utterances)
	})
	g.Go(func() error { return a.orch.Run(ctx, utterances) })
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases resources acquired by New. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// thresholds converts the safety config section to interlock thresholds.
func thresholds(sc config.SafetyConfig) safety.Thresholds {
	return safety.Thresholds{
		MinFrontClearance: sc.MinFrontCM,
		FreshnessTimeout:  sc.FreshTimeout(),
	}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// listenAddr binds port on every interface.
func listenAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
