package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("daedalus")

	if config.ServiceName != "daedalus" {
		t.Errorf("Expected service name daedalus, got %s", config.ServiceName)
	}
	if config.OTLPEndpoint != "127.0.0.1:4318" {
		t.Errorf("Expected OTLP endpoint 127.0.0.1:4318, got %s", config.OTLPEndpoint)
	}
	if config.SampleRatio != 1.0 {
		t.Errorf("Expected sample ratio 1.0, got %f", config.SampleRatio)
	}
}

func TestSetupTracingRequiresEndpoint(t *testing.T) {
	config := DefaultConfig("daedalus")
	config.OTLPEndpoint = ""

	if _, err := SetupTracing(context.Background(), config, nil); err == nil {
		t.Error("Expected an error for an empty endpoint")
	}
}

func TestSetupAndShutdownTracing(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), DefaultConfig("daedalus-test"), zap.NewNop())
	if err != nil {
		t.Fatalf("SetupTracing failed: %v", err)
	}
	if err := ShutdownTracing(shutdown, nil); err != nil {
		t.Errorf("ShutdownTracing failed: %v", err)
	}
}

func TestShutdownTracing(t *testing.T) {
	if err := ShutdownTracing(nil, nil); err != nil {
		t.Errorf("Expected nil for a nil shutdown function, got %v", err)
	}

	want := errors.New("exporter stuck")
	err := ShutdownTracing(func(context.Context) error { return want }, zap.NewNop())
	if !errors.Is(err, want) {
		t.Errorf("Expected %v, got %v", want, err)
	}
}

func TestResourceAttributes(t *testing.T) {
	config := DefaultConfig("daedalus")
	config.Concurrency = 8
	config.Jobs = 2

	got := map[attribute.Key]attribute.Value{}
	for _, kv := range resourceAttributes(config) {
		got[kv.Key] = kv.Value
	}
	if got[AttrConcurrency].AsInt64() != 8 {
		t.Errorf("Expected concurrency 8, got %v", got[AttrConcurrency])
	}
	if got[AttrJobs].AsInt64() != 2 {
		t.Errorf("Expected 2 jobs, got %v", got[AttrJobs])
	}
	if got["service.name"].AsString() != "daedalus" {
		t.Errorf("Expected service name daedalus, got %v", got["service.name"])
	}

	if n := len(resourceAttributes(DefaultConfig("daedalus"))); n != 3 {
		t.Errorf("Expected only service attributes when unset, got %d", n)
	}
}
