// Package cli provides the visionq command line: the API server, the worker
// pool and an end-to-end system check.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/visionq/config"
	"github.com/vnmchuo/visionq/internal/telemetry"
)

const serviceName = "visionq"

var (
	// Version is set at build time.
	Version = "0.2.0"

	cfg    *config.Config
	logger *slog.Logger

	closeLog       func() error
	shutdownTracer func()
)

var rootCmd = &cobra.Command{
	Use:   "visionq",
	Short: "Asynchronous image and text description pipeline",
	Long: `visionq accepts image/text description jobs over HTTP, records them in
PostgreSQL, queues them durably and lets a pool of workers answer them with a
multimodal model. Results are polled from Redis.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// systemtest only talks to a running API
		if cmd.Name() == "systemtest" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, closeLog = telemetry.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		shutdownTracer, err = telemetry.InitTracer(serviceName+"-"+cmd.Name(), cfg, logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdownTracer != nil {
			shutdownTracer()
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(systemtestCmd)
}
