// Package processor consumes job messages, calls the inference provider and
// publishes the outcome to the audit log and the result store.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/visionq/internal/auditlog"
	"github.com/vnmchuo/visionq/internal/job"
	"github.com/vnmchuo/visionq/internal/provider"
	"github.com/vnmchuo/visionq/internal/queue"
	"github.com/vnmchuo/visionq/internal/results"
)

type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeInferenceFailed Outcome = "inference_failed"
	OutcomeFetchFailed     Outcome = "fetch_failed"
	OutcomeRejected        Outcome = "rejected"
	OutcomePanicked        Outcome = "panicked"
)

const defaultStoreTimeout = 10 * time.Second

type Inference interface {
	Complete(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

type Options struct {
	Model               string
	InferenceTimeout    time.Duration
	RecordFetchFailures bool
	// StoreTimeout bounds each store write and the ack. Zero means 10s.
	StoreTimeout time.Duration
	// ReceiveBackoff is the pause after a failed receive.
	ReceiveBackoff time.Duration
}

type Processor struct {
	audit     auditlog.Store
	results   results.Store
	inference Inference
	fetcher   Fetcher
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func New(audit auditlog.Store, res results.Store, inference Inference, fetcher Fetcher, opts Options, logger *slog.Logger, tracer trace.Tracer) *Processor {
	if opts.ReceiveBackoff <= 0 {
		opts.ReceiveBackoff = time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	return &Processor{
		audit:     audit,
		results:   res,
		inference: inference,
		fetcher:   fetcher,
		opts:      opts,
		logger:    logger,
		tracer:    tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run starts one worker loop per consumer and blocks until ctx is cancelled
// and every in-flight job has finished.
func (p *Processor) Run(ctx context.Context, consumers ...queue.Consumer) error {
	if len(consumers) == 0 {
		return errors.New("processor: no consumers")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, c := range consumers {
		worker, consumer := i, c
		g.Go(func() error {
			p.loop(ctx, worker, consumer)
			return nil
		})
	}
	p.logger.Info("processor started", "workers", len(consumers))
	return g.Wait()
}

func (p *Processor) loop(ctx context.Context, worker int, consumer queue.Consumer) {
	logger := p.logger.With("worker", worker)
	for {
		if ctx.Err() != nil {
			logger.Info("worker stopping")
			return
		}

		d, err := consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("receive failed", "error", err)
			select {
			case <-time.After(p.opts.ReceiveBackoff):
			case <-ctx.Done():
			}
			continue
		}
		if d == nil {
			continue
		}

		p.dispatch(ctx, logger, d)
	}
}

// dispatch runs the job on its own goroutine so the loop only waits on a
// channel. Jobs outlive shutdown so they can finish and ack.
func (p *Processor) dispatch(ctx context.Context, logger *slog.Logger, d *queue.Delivery) {
	done := make(chan Outcome, 1)
	go func() {
		done <- p.Handle(context.WithoutCancel(ctx), d)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Info("shutdown requested, waiting for in-flight job", "delivery", d.ID)
		<-done
	}
}

// Handle processes a single delivery and always acknowledges it.
func (p *Processor) Handle(ctx context.Context, d *queue.Delivery) (outcome Outcome) {
	defer func() {
		ackCtx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
		defer cancel()
		if err := d.Ack(ackCtx); err != nil {
			p.logger.Error("ack failed", "delivery", d.ID, "error", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "delivery", d.ID, "panic", r, "stack", string(debug.Stack()))
			outcome = OutcomePanicked
		}
	}()

	msg, err := job.DecodeMessage(d.Body)
	if err != nil {
		p.logger.Error("dropping malformed message", "delivery", d.ID, "error", err)
		return OutcomeRejected
	}

	start := time.Now()
	outcome = p.process(ctx, msg)
	p.logger.Info("job finished",
		"record_id", msg.RecordID,
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome
}

func (p *Processor) process(ctx context.Context, msg *job.Message) Outcome {
	ctx, span := p.tracer.Start(ctx, "processor.job")
	defer span.End()
	span.SetAttributes(attribute.Int64("record_id", msg.RecordID))

	var img *provider.Image
	if msg.ImageURL != "" {
		var err error
		img, err = p.fetchImage(ctx, msg.ImageURL)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			p.logger.Warn("image fetch failed", "record_id", msg.RecordID, "url", msg.ImageURL, "error", err)
			if p.opts.RecordFetchFailures {
				p.persist(ctx, msg, job.FetchErrorText(err), "")
			}
			return OutcomeFetchFailed
		}
	}

	outcome := OutcomeCompleted
	description, model, err := p.infer(ctx, msg, img)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("inference failed", "record_id", msg.RecordID, "error", err)
		description = job.InferenceErrorText(err)
		outcome = OutcomeInferenceFailed
	}

	p.persist(ctx, msg, description, model)
	return outcome
}

func (p *Processor) fetchImage(ctx context.Context, url string) (*provider.Image, error) {
	ctx, span := p.tracer.Start(ctx, "processor.fetch_image")
	defer span.End()

	img, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("mime_type", img.MIMEType),
		attribute.Int("size_bytes", len(img.Data)),
	)
	return img, nil
}

func (p *Processor) infer(ctx context.Context, msg *job.Message, img *provider.Image) (string, string, error) {
	ctx, span := p.tracer.Start(ctx, "processor.infer")
	defer span.End()

	if p.opts.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.InferenceTimeout)
		defer cancel()
	}

	resp, err := p.inference.Complete(ctx, &provider.Request{
		Model:    p.opts.Model,
		Prompt:   msg.TextPrompt,
		Image:    img,
		RecordID: msg.RecordID,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", "", fmt.Errorf("%w: timed out after %s", job.ErrInference, p.opts.InferenceTimeout)
		}
		return "", "", fmt.Errorf("%w: %w", job.ErrInference, err)
	}
	if resp.Content == "" {
		return "", "", fmt.Errorf("%w: empty response from %s", job.ErrInference, resp.Provider)
	}

	span.SetAttributes(
		attribute.String("provider", resp.Provider),
		attribute.String("model", resp.Model),
		attribute.Int("output_tokens", resp.OutputTokens),
	)

	model := resp.Model
	if model == "" {
		model = p.opts.Model
	}
	return resp.Content, model, nil
}

// persist writes the audit log first and the result store second. Neither
// failure stops the other write or the ack.
func (p *Processor) persist(ctx context.Context, msg *job.Message, description, model string) {
	auditCtx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	err := p.audit.UpdateOutput(auditCtx, msg.RecordID, description, model)
	cancel()
	switch {
	case errors.Is(err, job.ErrNotFound):
		p.logger.Warn("audit record missing, skipping update", "record_id", msg.RecordID)
	case err != nil:
		p.logger.Error("audit update failed", "record_id", msg.RecordID, "error", err)
	}

	resultCtx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	doc := &job.Result{
		PostgresID:  msg.RecordID,
		TextPrompt:  msg.TextPrompt,
		Description: description,
		ProcessedAt: p.now(),
	}
	if msg.ImageURL != "" {
		doc.ImageURL = &msg.ImageURL
	}
	if err := p.results.Put(resultCtx, doc); err != nil {
		p.logger.Error("result write failed", "record_id", msg.RecordID, "error", err)
	}
}
