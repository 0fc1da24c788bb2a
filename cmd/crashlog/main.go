package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/vk-rv/crashlog/internal/crashlog"
	"github.com/vk-rv/crashlog/internal/stdlog"
	"github.com/vk-rv/crashlog/internal/svc/notify"
	"github.com/vk-rv/crashlog/internal/svcotel"
)

var version = "dev"

//nolint:tagalign // later
type config struct {
	Log struct {
		Output string `env:"LOG_OUTPUT" env-default:"stdout"`
		Text   bool   `env:"LOG_TEXT"   env-default:"true"`
	}
	Tracing  tracingConfig
	CrashLog crashlog.Configuration
}

func main() {
	const failed = 1

	term, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(term); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(failed)
	}
}

// app is what every command needs, built once the environment is read.
type app struct {
	logger  *slog.Logger
	service *notify.Service
	tp      svcotel.TracerProvider
}

func newRootCmd() *cobra.Command {
	var (
		stage string
		a     app
	)

	rootCmd := &cobra.Command{
		Use:   "crashlog",
		Short: "Report errors to CrashLog and check a client configuration",
		Long: `crashlog reads its configuration from CRASHLOG_* environment variables.
Use it to verify that an api key authenticates and that events reach CrashLog.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init(cmd.Context(), stage)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.tp == nil {
				return nil
			}
			return svcotel.Close(context.WithoutCancel(cmd.Context()), a.tp)
		},
	}

	rootCmd.PersistentFlags().StringVar(&stage, "stage", "", "Release stage to report from (overrides CRASHLOG_STAGE)")

	rootCmd.AddCommand(
		newAnnounceCmd(&a),
		newTestCmd(&a),
		newVersionCmd(),
	)

	return rootCmd
}

func (a *app) init(ctx context.Context, stage string) error {
	cfg := &config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("read config from env: %w", err)
	}
	if stage != "" {
		cfg.CrashLog.Stage = stage
	}

	w, err := output(cfg.Log.Output)
	if err != nil {
		return err
	}
	a.logger = stdlog.NewSlogLogger(w, cfg.Log.Text)
	slog.SetDefault(a.logger)
	cfg.CrashLog.Logger = a.logger

	if cfg.Tracing.ReporterURI != "" {
		p, err := startTracing(ctx, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("start tracing: %w", err)
		}
		a.tp = p
	} else {
		a.tp = svcotel.NewNoopProvider()
	}

	a.service = notify.NewService(&cfg.CrashLog, notify.Options{
		Registerer:     prometheus.NewRegistry(),
		TracerProvider: a.tp,
	})

	return nil
}

func output(name string) (io.Writer, error) {
	switch name {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return nil, fmt.Errorf("unknown LOG_OUTPUT %q, expected stdout or stderr", name)
	}
}
