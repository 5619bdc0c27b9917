// Package config provides YAML/environment configuration loading for Daedalus.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
)

// Config is the root application configuration.
type Config struct {
	AppName     string `mapstructure:"app_name"`
	Environment string `mapstructure:"environment"`

	Log      LogConfig      `mapstructure:"log"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Service  ServiceConfig  `mapstructure:"service"`
	Jobs     []JobConfig    `mapstructure:"jobs"`
	Payers   PayersConfig   `mapstructure:"payers"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// PipelineConfig is the configuration surface consumed by the pipeline core.
type PipelineConfig struct {
	// Concurrency is the number of workers. When absent from every source it is
	// derived from the host by concurrency.LoadConfig.
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Jitter         bool          `mapstructure:"jitter"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// BreakerThreshold enables the circuit breaker when positive.
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration `mapstructure:"breaker_reset"`
}

// ServiceConfig configures the eligibility service client.
type ServiceConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// JobConfig pairs one input spreadsheet with its output file.
type JobConfig struct {
	Input  string `mapstructure:"input"`
	Output string `mapstructure:"output"`
	Sheet  string `mapstructure:"sheet"`
}

// PayersConfig configures the payer directory used to resolve trading partner ids.
type PayersConfig struct {
	// Driver is "mysql" or "pgx"; an empty DSN disables the directory.
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	Table         string `mapstructure:"table"`
	InquiryColumn string `mapstructure:"inquiry_column"`
}

// StorageConfig enables uploading output files to Azure Blob Storage.
type StorageConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	Container        string `mapstructure:"container"`
}

// NotifyConfig enables publishing run summaries to NATS.
type NotifyConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// TracingConfig enables OTLP tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SentryConfig enables fatal error reporting.
type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		AppName:     "daedalus",
		Environment: "development",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: false,
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Pipeline: PipelineConfig{
			MaxAttempts:      3,
			BaseDelay:        500 * time.Millisecond,
			MaxDelay:         30 * time.Second,
			Jitter:           true,
			RequestTimeout:   5 * time.Minute,
			BreakerThreshold: 0,
			BreakerReset:     30 * time.Second,
		},
		Service: ServiceConfig{
			URL: "https://healthcare.us.stedi.com/2024-04-01/change/medicalnetwork/eligibility/v3",
		},
		Payers: PayersConfig{
			Driver:        "mysql",
			Table:         "StediPayers",
			InquiryColumn: "EligibilityInquiry",
		},
		Storage: StorageConfig{Container: "eligibility-results"},
		Notify:  NotifyConfig{Subject: "daedalus.runs"},
		Tracing: TracingConfig{Endpoint: "127.0.0.1:4318", SampleRatio: 1.0},
	}
}

// Load reads configuration from path (if non-empty), otherwise searches common
// locations. Environment variables use the prefix DAEDALUS with `.` replaced by
// `_`, e.g. DAEDALUS_PIPELINE_CONCURRENCY=8.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DAEDALUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("environment", cfg.Environment)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	// no default for pipeline.concurrency: IsSet must report whether a source provided it
	v.SetDefault("pipeline.max_attempts", cfg.Pipeline.MaxAttempts)
	v.SetDefault("pipeline.base_delay", cfg.Pipeline.BaseDelay)
	v.SetDefault("pipeline.max_delay", cfg.Pipeline.MaxDelay)
	v.SetDefault("pipeline.jitter", cfg.Pipeline.Jitter)
	v.SetDefault("pipeline.request_timeout", cfg.Pipeline.RequestTimeout)
	v.SetDefault("pipeline.breaker_threshold", cfg.Pipeline.BreakerThreshold)
	v.SetDefault("pipeline.breaker_reset", cfg.Pipeline.BreakerReset)
	v.SetDefault("service.url", cfg.Service.URL)
	v.SetDefault("service.api_key", "")
	v.SetDefault("payers.driver", cfg.Payers.Driver)
	v.SetDefault("payers.dsn", "")
	v.SetDefault("payers.table", cfg.Payers.Table)
	v.SetDefault("payers.inquiry_column", cfg.Payers.InquiryColumn)
	v.SetDefault("storage.connection_string", "")
	v.SetDefault("storage.container", cfg.Storage.Container)
	v.SetDefault("notify.url", "")
	v.SetDefault("notify.subject", cfg.Notify.Subject)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)
	v.SetDefault("sentry.dsn", "")

	if path == "" {
		path = os.Getenv("DAEDALUS_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("daedalus")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".daedalus"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if !v.IsSet("pipeline.concurrency") {
		cfg.Pipeline.Concurrency = concurrency.LoadConfig().MaxConcurrent
	}
	if cfg.Service.APIKey == "" {
		// legacy variable name
		cfg.Service.APIKey = os.Getenv("STEDI_API_KEY")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.BaseDelay < 0 || c.Pipeline.MaxDelay < 0 {
		return fmt.Errorf("pipeline delays must not be negative")
	}
	if c.Pipeline.MaxDelay > 0 && c.Pipeline.MaxDelay < c.Pipeline.BaseDelay {
		return fmt.Errorf("pipeline.max_delay %s is below pipeline.base_delay %s", c.Pipeline.MaxDelay, c.Pipeline.BaseDelay)
	}
	if c.Pipeline.RequestTimeout < 0 {
		return fmt.Errorf("pipeline.request_timeout must not be negative")
	}
	if strings.TrimSpace(c.Service.URL) == "" {
		return fmt.Errorf("service.url is required")
	}
	for i, job := range c.Jobs {
		if strings.TrimSpace(job.Input) == "" || strings.TrimSpace(job.Output) == "" {
			return fmt.Errorf("jobs[%d] requires both input and output", i)
		}
	}
	switch c.Payers.Driver {
	case "mysql", "pgx":
	default:
		return fmt.Errorf("invalid payers.driver: %q", c.Payers.Driver)
	}
	return nil
}
