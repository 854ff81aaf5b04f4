package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/visionq/internal/api"
	"github.com/vnmchuo/visionq/internal/detect"
	"github.com/vnmchuo/visionq/internal/dispatcher"
	"github.com/vnmchuo/visionq/internal/results"
	"github.com/vnmchuo/visionq/pkg/ratelimit"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (producer side)",
	Long: `Run the HTTP API. Submitted jobs are written to the audit log and
published to the queue; results are read back from Redis.

Examples:
  visionq serve
  visionq serve --port 9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (overrides PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, rdb, audit, err := connectStores(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer rdb.Close()

	publisher, err := newPublisher(ctx, rdb)
	if err != nil {
		return err
	}

	tracer := otel.GetTracerProvider().Tracer(serviceName)
	disp := dispatcher.New(audit, publisher, cfg.Model, cfg.DefaultPrompt, logger, tracer)
	resultStore := results.NewRedisStore(rdb, cfg.ResultTTL)

	var limiter *ratelimit.Limiter
	if cfg.SubmitRateLimitPerMin > 0 {
		limiter = ratelimit.NewLimiter(rdb, cfg.SubmitRateLimitPerMin)
	}

	detector := detect.NewStub(cfg.DetectModel, cfg.DetectWeightsPath)
	if !detector.Loaded() {
		logger.Warn("detection model not loaded, /api/v1/detect will return 503", "weights", cfg.DetectWeightsPath)
	}

	handler := api.NewHandler(disp, resultStore, audit, detector, limiter, logger)

	port := cfg.Port
	if servePort != "" {
		port = servePort
	}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("visionq API starting", "port", port, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
