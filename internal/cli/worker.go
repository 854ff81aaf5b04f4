package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/visionq/internal/processor"
	"github.com/vnmchuo/visionq/internal/provider"
	"github.com/vnmchuo/visionq/internal/results"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the processor pool (consumer side)",
	Long: `Run the processor pool. Each worker takes one job at a time from the
queue, fetches the image if any, asks the model for a description and writes
the outcome to PostgreSQL and Redis before acknowledging the message.

At least one of GEMINI_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY must be set.

Examples:
  visionq worker
  visionq worker --workers 8`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVarP(&workerCount, "workers", "w", 0, "number of worker loops (overrides WORKER_COUNT)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers := newProviders()
	if len(providers) == 0 {
		return errors.New("no inference provider configured: set GEMINI_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}

	pool, rdb, audit, err := connectStores(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer rdb.Close()

	n := cfg.WorkerCount
	if workerCount > 0 {
		n = workerCount
	}
	consumers, err := newConsumers(ctx, rdb, n)
	if err != nil {
		return err
	}

	proc := processor.New(
		audit,
		results.NewRedisStore(rdb, cfg.ResultTTL),
		provider.NewRouter(providers),
		processor.NewImageFetcher(cfg.ImageFetchTimeout, cfg.MaxImageBytes),
		processor.Options{
			Model:               cfg.Model,
			InferenceTimeout:    cfg.InferenceTimeout,
			StoreTimeout:        cfg.StoreTimeout,
			RecordFetchFailures: cfg.RecordFetchFailures,
		},
		logger.With("worker_id", cfg.WorkerID),
		otel.GetTracerProvider().Tracer(serviceName),
	)

	logger.Info("worker pool starting", "workers", n, "model", cfg.Model, "providers", len(providers), "queue", cfg.QueueBackend)
	err = proc.Run(ctx, consumers...)
	logger.Info("worker pool stopped")
	return err
}
