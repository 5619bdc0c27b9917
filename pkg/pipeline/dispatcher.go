package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/payload"
	"github.com/wehubfusion/Daedalus/pkg/record"
	"github.com/wehubfusion/Daedalus/pkg/retry"
	"github.com/wehubfusion/Daedalus/pkg/service"
)

// PayloadBuilder turns a record into a payload. It must be safe for concurrent
// use and free of side effects.
type PayloadBuilder interface {
	Build(rec record.Record) (payload.Payload, error)
}

// Dispatcher drives a fixed pool of workers over a batch of records. A
// dispatcher serves one run at a time.
type Dispatcher struct {
	builder PayloadBuilder
	client  service.Client
	policy  retry.Policy
	breaker *concurrency.CircuitBreaker
	metrics *MetricsCollector
	logger  *zap.Logger
	tracer  trace.Tracer

	limiter *concurrency.Limiter
}

// NewDispatcher creates a dispatcher. A nil breaker disables circuit breaking and
// a nil metrics collector is replaced by a fresh one.
func NewDispatcher(builder PayloadBuilder, client service.Client, policy retry.Policy, breaker *concurrency.CircuitBreaker, metrics *MetricsCollector, logger *zap.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		builder: builder,
		client:  client,
		policy:  policy,
		breaker: breaker,
		metrics: metrics,
		logger:  logger,
		tracer:  otel.Tracer("daedalus/pipeline"),
	}
}

// Limiter returns the limiter of the last Run, or nil before the first one.
func (d *Dispatcher) Limiter() *concurrency.Limiter {
	return d.limiter
}

// Run starts workers goroutines that process every record exactly once and
// returns the stream of outcomes, which is closed after the last one. Outcomes
// arrive in completion order. A non-positive workers count is rejected before
// any record is touched. Records left unclaimed when ctx is cancelled still get
// a cancelled outcome.
func (d *Dispatcher) Run(ctx context.Context, records []record.Record, workers int) (<-chan Outcome, error) {
	if err := checkSettings(workers, d.policy); err != nil {
		return nil, err
	}

	d.limiter = concurrency.NewLimiterWithCircuitBreaker(workers, d.breaker)
	out := make(chan Outcome, len(records))

	var (
		cursor atomic.Int64
		g      errgroup.Group
	)
	for id := range workers {
		g.Go(func() error {
			d.worker(ctx, id, records, &cursor, out)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(out)
	}()

	return out, nil
}

func checkSettings(workers int, policy retry.Policy) error {
	if workers <= 0 {
		return sdkerrors.NewConfigError(fmt.Sprintf("concurrency must be positive, got %d", workers), sdkerrors.ErrInvalidConcurrency)
	}
	return policy.Validate()
}

func (d *Dispatcher) worker(ctx context.Context, id int, records []record.Record, cursor *atomic.Int64, out chan<- Outcome) {
	d.logger.Debug("Worker started", zap.Int("workerID", id))
	handled := 0
	for {
		i := int(cursor.Add(1) - 1)
		if i >= len(records) {
			break
		}
		rec := records[i]

		start := time.Now()
		var o Outcome
		if ctx.Err() != nil {
			o = Cancelled(rec.Position)
		} else {
			o = d.process(ctx, id, rec)
		}
		d.metrics.RecordOutcome(o, time.Since(start))
		out <- o
		handled++
	}
	d.logger.Debug("Worker finished", zap.Int("workerID", id), zap.Int("records", handled))
}

// process takes one record to its outcome.
func (d *Dispatcher) process(ctx context.Context, workerID int, rec record.Record) Outcome {
	ctx, span := d.tracer.Start(ctx, "pipeline.processRecord",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.Int("record.position", rec.Position),
		))
	defer span.End()

	p, err := d.builder.Build(rec)
	if err != nil {
		d.logger.Debug("Record failed validation",
			zap.Int("position", rec.Position),
			zap.Error(err))
		span.SetStatus(codes.Error, "validation failed")
		return ValidationFailure(rec.Position, err)
	}

	resp, state := d.policy.Do(ctx, d.call(p), func(attempt int, failure *service.Failure, delay time.Duration) {
		d.metrics.RecordRetry()
		d.logger.Debug("Retrying service call",
			zap.Int("position", rec.Position),
			zap.Int("attempt", attempt),
			zap.String("code", failure.Code),
			zap.Duration("delay", delay))
	})
	span.SetAttributes(attribute.Int("record.attempts", state.Attempts))

	if state.LastError == nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.SetStatus(codes.Ok, "")
		return Success(rec.Position, resp, state.Attempts)
	}

	failure := state.LastError
	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Reason)
	if !failure.Cancelled() {
		d.logger.Warn("Record failed",
			zap.Int("position", rec.Position),
			zap.Int("attempts", state.Attempts),
			zap.Int("statusCode", failure.StatusCode),
			zap.String("code", failure.Code),
			zap.Bool("retryable", failure.Retryable),
			zap.String("reason", failure.Reason))
	}
	return ServiceFailure(rec.Position, failure, state.Attempts)
}

// call wraps one service call in the limiter so in-flight calls are counted and
// the breaker sees each result.
func (d *Dispatcher) call(p payload.Payload) retry.Attempt {
	return func(ctx context.Context, attempt int) (*service.Response, error) {
		if err := d.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer d.limiter.Release()

		d.metrics.RecordCall()
		resp, err := d.client.Send(ctx, p)
		if err != nil {
			failure := service.Classify(err)
			d.limiter.Record(failure.Retryable)
			return nil, failure
		}
		d.limiter.Record(false)
		return resp, nil
	}
}
