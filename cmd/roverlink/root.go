package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/roverlink/internal/app"
	"github.com/MrWong99/roverlink/internal/config"
	"github.com/MrWong99/roverlink/internal/observe"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	envPath    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "roverlink",
		Short: "Voice remote control for a serial-driven rover",
		Long: `roverlink turns spoken instructions into motion commands for a rover.

Speech is segmented, transcribed, interpreted by an LLM and checked by a
safety interlock before anything reaches the actuator board over serial.

Deployments:
  standalone  everything on the robot host
  brain       speech understanding on a laptop, connected to a bridge
  bridge      microphone, speaker and serial link on the robot host

Configuration is read from roverlink.yaml (if present), then .env and the
environment override it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "roverlink.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&flags.envPath, "env", ".env", "path to a dotenv file loaded before the environment")

	root.AddCommand(
		newServeCmd(flags, app.Standalone, "Run the whole pipeline on the robot host"),
		newServeCmd(flags, app.Brain, "Run speech understanding and forward commands to a bridge"),
		newServeCmd(flags, app.Bridge, "Run capture, playback and the serial link for a remote brain"),
		newSendCmd(flags),
		newPortsCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads the dotenv file and then the YAML config with environment
// overrides applied.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(flags.envPath); err != nil {
		return nil, err
	}
	return config.Load(flags.configPath)
}

func newServeCmd(flags *rootFlags, topology app.Topology, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(topology),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags, topology, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// serve runs one long-lived topology until SIGINT or SIGTERM.
func serve(ctx context.Context, flags *rootFlags, topology app.Topology, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(stderr, level))

	slog.Info("roverlink starting",
		"topology", topology,
		"config", flags.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observe.Setup(ctx,
		observe.WithService("roverlink", version),
		observe.WithSampleRatio(cfg.Server.TraceSampleRatio),
	)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := obs.Shutdown(sctx); err != nil {
			slog.Warn("otel shutdown error", "err", err)
		}
	}()

	var providers *app.Providers
	if topology != app.Bridge {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg, cfg.Speech.SampleRate)
		providers, err = app.BuildProviders(cfg, reg, obs.Metrics)
		if err != nil {
			return err
		}
	}

	opts := []app.Option{
		app.WithMetrics(obs.Metrics),
		app.WithMetricsHandler(obs.Handler),
		app.WithLogLevel(level),
		app.WithConfigWatch(flags.configPath, 0),
	}

	printStartupSummary(stdout, cfg, topology, providers)

	application, err := app.New(cfg, topology, providers, opts...)
	if err != nil {
		return err
	}

	slog.Info("ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// newLogger builds the root text logger. level can be changed later by a
// config reload.
func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
