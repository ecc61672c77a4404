// Command agency runs a configured agency as a server, a one-shot chat or an
// interactive session.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/agency/internal/app"
	"github.com/aixgo-dev/agency/internal/logging"
	"github.com/aixgo-dev/agency/internal/observability"
	"github.com/aixgo-dev/agency/pkg/config"
	metrics "github.com/aixgo-dev/agency/pkg/observability"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "agency",
		Short:         "Multi-agent message router",
		Long:          "agency routes messages between LLM-backed agents along declared communication flows.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", getEnv("CONFIG_FILE", "config/market_insight.yaml"), "agency configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newReplCmd(opts),
		newAgentsCmd(opts),
		newVersionCmd(),
	)
	return root
}

// start loads the configuration and assembles the agency. The returned
// cleanup closes the app, flushes traces and releases the log file.
func start(ctx context.Context, opts *rootOptions, quiet bool) (*app.App, func(), error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	var (
		logger    *slog.Logger
		closeLogs = func() error { return nil }
	)
	if quiet && cfg.Logging.Output == "" {
		logger = slog.New(logging.NewHandler(io.Discard, cfg.Logging))
	} else if logger, closeLogs, err = logging.New(cfg.Logging); err != nil {
		return nil, nil, err
	}

	traceCfg := observability.ConfigFromEnv()
	traceCfg.ServiceVersion = Version
	if err := observability.Init(ctx, traceCfg, logger); err != nil {
		_ = closeLogs()
		return nil, nil, fmt.Errorf("init tracing: %w", err)
	}
	metrics.SetVersion(Version)

	a, err := app.Build(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		_ = closeLogs()
		return nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			logger.Warn("trace shutdown failed", "error", err)
		}
		_ = closeLogs()
	}
	return a, cleanup, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agency %s\n", Version)
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
