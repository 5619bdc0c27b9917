package main

import (
	"context"
	"errors"
	"os"

	"github.com/getsentry/sentry-go"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/internal/config"
	"github.com/wehubfusion/Daedalus/internal/nats"
	"github.com/wehubfusion/Daedalus/pkg/notify"
	"github.com/wehubfusion/Daedalus/pkg/payers"
	"github.com/wehubfusion/Daedalus/pkg/payload"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
	"github.com/wehubfusion/Daedalus/pkg/record"
	"github.com/wehubfusion/Daedalus/pkg/retry"
	"github.com/wehubfusion/Daedalus/pkg/service"
	"github.com/wehubfusion/Daedalus/pkg/sink"
	"github.com/wehubfusion/Daedalus/pkg/storage"
)

// app holds everything shared by the jobs of one invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
	uploader *storage.ResultUploader
	notifier *notify.Notifier
	conn     *natsgo.Conn
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	directory := a.loadDirectory(ctx)

	client, err := service.NewHTTPClient(service.Config{
		URL:     cfg.Service.URL,
		APIKey:  cfg.Service.APIKey,
		Timeout: cfg.Pipeline.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Service.APIKey == "" {
		logger.Warn("No service API key configured")
	}

	a.pipeline = pipeline.New(payload.NewBuilder(directory), client,
		pipeline.WithConcurrency(cfg.Pipeline.Concurrency),
		pipeline.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			BaseDelay:   cfg.Pipeline.BaseDelay,
			MaxDelay:    cfg.Pipeline.MaxDelay,
			Jitter:      cfg.Pipeline.Jitter,
		}),
		pipeline.WithCircuitBreaker(int64(cfg.Pipeline.BreakerThreshold), cfg.Pipeline.BreakerReset),
		pipeline.WithLogger(logger),
	)

	if cfg.Storage.ConnectionString != "" {
		blob, err := storage.NewAzureBlobClient(cfg.Storage.ConnectionString, cfg.Storage.Container, logger)
		if err != nil {
			return nil, err
		}
		a.uploader = storage.NewResultUploader(blob, logger)
	}

	if cfg.Notify.URL != "" {
		conn, err := nats.Connect(ctx, nats.DefaultConnectionConfig(cfg.Notify.URL), logger)
		if err != nil {
			// summaries are optional, results are still written
			logger.Warn("Run summaries disabled", zap.Error(err))
		} else {
			a.conn = conn
			a.notifier = notify.NewNotifier(conn, cfg.Notify.Subject, logger)
		}
	}

	return a, nil
}

// loadDirectory returns nil when no payer database is configured or it cannot be
// read; short payer ids are then sent as given.
func (a *app) loadDirectory(ctx context.Context) *payers.Directory {
	pc := a.cfg.Payers
	if pc.DSN == "" {
		return nil
	}

	db, err := payers.Open(ctx, pc.Driver, pc.DSN)
	if err != nil {
		a.logger.Warn("Payer directory unavailable", zap.Error(err))
		return nil
	}
	defer db.Close()

	dir, err := payers.LoadSQL(ctx, db, payers.Options{
		Driver:        pc.Driver,
		Table:         pc.Table,
		InquiryColumn: pc.InquiryColumn,
		Logger:        a.logger,
	})
	if err != nil {
		a.logger.Warn("Payer directory unavailable", zap.Error(err))
		return nil
	}
	return dir
}

// RunJobs processes every configured job in order and returns the number that
// failed. A cancelled context stops the remaining jobs.
func (a *app) RunJobs(ctx context.Context) int {
	failed := 0
	for i, job := range a.cfg.Jobs {
		if ctx.Err() != nil {
			a.logger.Warn("Cancelled, skipping remaining jobs", zap.Int("remaining", len(a.cfg.Jobs)-i))
			break
		}
		if _, err := os.Stat(job.Input); err != nil {
			a.logger.Warn("Skipping job, input not readable", zap.String("input", job.Input), zap.Error(err))
			continue
		}
		if err := a.runJob(ctx, job); err != nil {
			failed++
		}
	}
	return failed
}

func (a *app) runJob(ctx context.Context, job config.JobConfig) error {
	logger := a.logger.With(zap.String("input", job.Input), zap.String("output", job.Output))

	report, err := a.process(ctx, job)
	summary := notify.Summary{Input: job.Input, Output: job.Output, Status: notify.StatusCompleted}
	if err != nil {
		logger.Error("Job failed", zap.Error(err))
		sentry.CaptureException(err)
		summary.Status = notify.StatusFailed
		summary.Error = err.Error()
		a.publish(ctx, summary)
		return err
	}
	summary.RunID = report.RunID
	summary.Report = report

	if report.Total == 0 {
		logger.Warn("Input has no records, wrote an empty result")
	}

	if a.uploader != nil {
		loc, err := a.uploader.UploadRun(ctx, report.RunID, job.Output, report)
		if err != nil {
			// the local output is complete, only the copy is missing
			logger.Error("Failed to upload results", zap.Error(err))
			sentry.CaptureException(err)
		} else {
			summary.ResultURL = loc.ResultURL
			summary.ReportURL = loc.ReportURL
		}
	}

	a.publish(ctx, summary)
	return nil
}

func (a *app) process(ctx context.Context, job config.JobConfig) (*pipeline.Report, error) {
	src, err := record.Open(job.Input, job.Sheet)
	if err != nil {
		return nil, err
	}
	out, err := sink.Open(job.Output)
	if err != nil {
		return nil, err
	}

	report, err := a.pipeline.Process(ctx, src, out)
	if err != nil {
		return nil, err
	}
	report.Source = job.Input
	return report, nil
}

func (a *app) publish(ctx context.Context, s notify.Summary) {
	if a.notifier == nil {
		return
	}
	// a cancelled run still reports its outcome
	if err := a.notifier.Publish(context.WithoutCancel(ctx), s); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("Failed to publish run summary", zap.Error(err))
	}
}

// Close releases the NATS connection.
func (a *app) Close() {
	if err := nats.Close(a.conn); err != nil {
		a.logger.Warn("Failed to close NATS connection", zap.Error(err))
	}
}
