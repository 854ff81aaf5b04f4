// Package dispatcher accepts job requests: it records them in the audit log and
// enqueues them for the processor. No inference happens on this path.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/visionq/internal/auditlog"
	"github.com/vnmchuo/visionq/internal/job"
	"github.com/vnmchuo/visionq/internal/queue"
)

// publishTimeout bounds the enqueue once the audit record exists.
const publishTimeout = 10 * time.Second

type Dispatcher struct {
	audit         auditlog.Store
	publisher     queue.Publisher
	model         string
	defaultPrompt string
	logger        *slog.Logger
	tracer        trace.Tracer
}

func New(audit auditlog.Store, publisher queue.Publisher, model, defaultPrompt string, logger *slog.Logger, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{
		audit:         audit,
		publisher:     publisher,
		model:         model,
		defaultPrompt: defaultPrompt,
		logger:        logger,
		tracer:        tracer,
	}
}

// Submit inserts the audit record before publishing. A publish failure leaves
// that record in the processing state with no message behind it. The publish
// does not follow the caller's cancellation, so a client that disconnects
// after the insert still gets its job enqueued.
func (d *Dispatcher) Submit(ctx context.Context, req job.Request) (*job.Receipt, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.submit")
	defer span.End()

	req, err := req.Normalize(d.defaultPrompt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sentinel := job.ProcessingSentinel
	rec := &auditlog.Record{
		TextPrompt: req.TextPrompt,
		Output:     &sentinel,
		ModelUsed:  d.model,
	}
	if req.ImageURL != "" {
		rec.ImageURL = &req.ImageURL
	}

	if err := d.audit.Create(ctx, rec); err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("audit insert failed", "error", err)
		return nil, fmt.Errorf("%w: %v", job.ErrPersistence, err)
	}
	span.SetAttributes(
		attribute.Int64("record_id", rec.ID),
		attribute.Bool("has_image", req.ImageURL != ""),
	)

	body, err := (&job.Message{
		RecordID:   rec.ID,
		ImageURL:   req.ImageURL,
		TextPrompt: req.TextPrompt,
	}).Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding job %d: %w", rec.ID, err)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := d.publisher.Publish(pubCtx, body); err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("publish failed, audit record left pending", "record_id", rec.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", job.ErrQueueUnavailable, err)
	}

	d.logger.Info("job queued", "record_id", rec.ID)
	return &job.Receipt{Status: job.StatusQueued, RecordID: rec.ID}, nil
}
