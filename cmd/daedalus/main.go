// Command daedalus submits every row of one or more spreadsheets to the
// eligibility service and writes one result row per input row, in input order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/internal/config"
	"github.com/wehubfusion/Daedalus/internal/logging"
	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "path to the YAML config file")
		input       = flag.String("input", "", "input spreadsheet (.xlsx or .csv), replaces configured jobs")
		output      = flag.String("output", "", "output file (.xlsx or .csv), defaults to <input>_results.xlsx")
		sheet       = flag.String("sheet", "", "worksheet to read, defaults to the first sheet")
		workers     = flag.Int("concurrency", 0, "number of concurrent workers")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}

	// an explicit -concurrency wins, including 0, which the pipeline rejects
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "concurrency" {
			cfg.Pipeline.Concurrency = *workers
		}
	})
	if *input != "" {
		cfg.Jobs = []config.JobConfig{{Input: *input, Output: *output, Sheet: *sheet}}
		if cfg.Jobs[0].Output == "" {
			cfg.Jobs[0].Output = defaultOutput(*input)
		}
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	undo := concurrency.InitializeForKubernetes(logger)
	defer undo()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Environment,
			Release:     cfg.AppName + "@" + version,
		}); err != nil {
			logger.Warn("Failed to initialize Sentry", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		tc := tracing.DefaultConfig(cfg.AppName)
		tc.ServiceVersion = version
		tc.Environment = cfg.Environment
		tc.OTLPEndpoint = cfg.Tracing.Endpoint
		tc.SampleRatio = cfg.Tracing.SampleRatio
		tc.Concurrency = cfg.Pipeline.Concurrency
		tc.Jobs = len(cfg.Jobs)
		shutdown, err := tracing.SetupTracing(ctx, tc, logger)
		if err != nil {
			logger.Warn("Tracing disabled", zap.Error(err))
		} else {
			defer func() { _ = tracing.ShutdownTracing(shutdown, logger) }()
		}
	}

	if len(cfg.Jobs) == 0 {
		logger.Error("No jobs configured, pass -input or set jobs in the config file")
		return 2
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		sentry.CaptureException(err)
		return 1
	}
	defer a.Close()

	failed := a.RunJobs(ctx)
	if failed > 0 {
		logger.Error("Some jobs failed", zap.Int("failed", failed), zap.Int("jobs", len(cfg.Jobs)))
		return 1
	}
	return 0
}

func defaultOutput(input string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + "_results.xlsx"
}
