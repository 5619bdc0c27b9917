package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/record"
	"github.com/wehubfusion/Daedalus/pkg/retry"
	"github.com/wehubfusion/Daedalus/pkg/service"
)

// Sink receives the ordered result of a run.
type Sink interface {
	Write(ctx context.Context, result RunResult) error
}

// Config holds the knobs of a run.
type Config struct {
	Concurrency      int
	Policy           retry.Policy
	BreakerThreshold int64
	BreakerReset     time.Duration
	Logger           *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Config)

// WithConcurrency sets the number of workers.
func WithConcurrency(workers int) Option {
	return func(c *Config) {
		c.Concurrency = workers
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Config) {
		c.Policy = p
	}
}

// WithCircuitBreaker enables the breaker around service calls. A threshold of
// zero disables it.
func WithCircuitBreaker(threshold int64, reset time.Duration) Option {
	return func(c *Config) {
		c.BreakerThreshold = threshold
		c.BreakerReset = reset
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Report summarises a finished run.
type Report struct {
	RunID            string        `json:"runId"`
	Source           string        `json:"source,omitempty"`
	Total            int           `json:"total"`
	Succeeded        int64         `json:"succeeded"`
	ValidationFailed int64         `json:"validationFailed"`
	ServiceFailed    int64         `json:"serviceFailed"`
	Cancelled        int64         `json:"cancelled"`
	ServiceCalls     int64         `json:"serviceCalls"`
	Retries          int64         `json:"retries"`
	PeakInFlight     int64         `json:"peakInFlight"`
	Duration         time.Duration `json:"duration"`
}

// Pipeline reads records, dispatches them, collates the outcomes and writes them
// to a sink. Each Process call is independent.
type Pipeline struct {
	builder PayloadBuilder
	client  service.Client
	config  Config
}

// New creates a pipeline. The concurrency is validated when a run starts.
func New(builder PayloadBuilder, client service.Client, opts ...Option) *Pipeline {
	cfg := Config{
		Concurrency: concurrency.LoadConfig().MaxConcurrent,
		Policy:      retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pipeline{builder: builder, client: client, config: cfg}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Process runs every record of src through the service and writes one row per
// record to sink in source order. Per-record failures become outcomes. Only
// configuration errors, source or sink errors, and internal consistency errors
// are returned; in the last case nothing is written.
func (p *Pipeline) Process(ctx context.Context, src record.Source, sink Sink) (*Report, error) {
	// reject bad settings before reading any input
	if err := checkSettings(p.config.Concurrency, p.config.Policy); err != nil {
		return nil, err
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := p.config.Logger.With(zap.String("runID", runID))

	ctx, span := otel.Tracer("daedalus/pipeline").Start(ctx, "pipeline.Process",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	var breaker *concurrency.CircuitBreaker
	if p.config.BreakerThreshold > 0 {
		breaker = concurrency.NewCircuitBreaker(p.config.BreakerThreshold, p.config.BreakerReset)
	}
	metrics := NewMetricsCollector()
	dispatcher := NewDispatcher(p.builder, p.client, p.config.Policy, breaker, metrics, logger)

	records, err := src.Read(ctx)
	span.SetAttributes(attribute.Int("run.records", len(records)))
	if err != nil {
		return nil, sdkerrors.NewError(sdkerrors.CodeSource, "read records", err)
	}

	logger.Info("Starting run",
		zap.Int("records", len(records)),
		zap.Int("concurrency", p.config.Concurrency),
		zap.Int("maxAttempts", p.config.Policy.MaxAttempts))

	stream, err := dispatcher.Run(ctx, records, p.config.Concurrency)
	if err != nil {
		return nil, err
	}

	result, err := Collect(stream, len(records))
	if err != nil {
		logger.Error("Run aborted, results not written", zap.Error(err))
		return nil, err
	}

	if err := sink.Write(ctx, result); err != nil {
		return nil, sdkerrors.NewError(sdkerrors.CodeSink, "write results", err)
	}

	m := metrics.GetMetrics()
	report := &Report{
		RunID:            runID,
		Total:            len(records),
		Succeeded:        m.Succeeded,
		ValidationFailed: m.ValidationFailed,
		ServiceFailed:    m.ServiceFailed,
		Cancelled:        m.Cancelled,
		ServiceCalls:     m.ServiceCalls,
		Retries:          m.Retries,
		PeakInFlight:     dispatcher.Limiter().GetMetrics().PeakConcurrent,
		Duration:         time.Since(start),
	}

	logger.Info("Run finished",
		zap.Int("records", report.Total),
		zap.Int64("succeeded", report.Succeeded),
		zap.Int64("validationFailed", report.ValidationFailed),
		zap.Int64("serviceFailed", report.ServiceFailed),
		zap.Int64("cancelled", report.Cancelled),
		zap.Int64("serviceCalls", report.ServiceCalls),
		zap.Int64("peakInFlight", report.PeakInFlight),
		zap.Duration("averageRecordTime", metrics.AverageProcessingTime()),
		zap.Float64("errorRate", metrics.ErrorRate()),
		zap.Duration("duration", report.Duration))

	return report, nil
}
