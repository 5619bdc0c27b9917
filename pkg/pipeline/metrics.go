package pipeline

import (
	"sync/atomic"
	"time"
)

// Metrics is a snapshot of run counters.
type Metrics struct {
	Succeeded        int64
	ValidationFailed int64
	ServiceFailed    int64
	Cancelled        int64
	ServiceCalls     int64
	Retries          int64
	ProcessingTimeNs int64
}

// MetricsCollector counts outcomes and service calls. It is safe for concurrent use.
type MetricsCollector struct {
	succeeded        atomic.Int64
	validationFailed atomic.Int64
	serviceFailed    atomic.Int64
	cancelled        atomic.Int64
	serviceCalls     atomic.Int64
	retries          atomic.Int64
	totalProcessTime atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordOutcome counts a finished record and the time spent on it.
func (m *MetricsCollector) RecordOutcome(o Outcome, elapsed time.Duration) {
	switch {
	case o.Kind == KindSuccess:
		m.succeeded.Add(1)
	case o.Kind == KindValidationFailure:
		m.validationFailed.Add(1)
	case o.IsCancelled():
		m.cancelled.Add(1)
	default:
		m.serviceFailed.Add(1)
	}
	m.totalProcessTime.Add(elapsed.Nanoseconds())
}

// RecordCall counts one service call.
func (m *MetricsCollector) RecordCall() {
	m.serviceCalls.Add(1)
}

// RecordRetry counts one scheduled retry.
func (m *MetricsCollector) RecordRetry() {
	m.retries.Add(1)
}

// GetMetrics returns the current metrics.
func (m *MetricsCollector) GetMetrics() Metrics {
	return Metrics{
		Succeeded:        m.succeeded.Load(),
		ValidationFailed: m.validationFailed.Load(),
		ServiceFailed:    m.serviceFailed.Load(),
		Cancelled:        m.cancelled.Load(),
		ServiceCalls:     m.serviceCalls.Load(),
		Retries:          m.retries.Load(),
		ProcessingTimeNs: m.totalProcessTime.Load(),
	}
}

// AverageProcessingTime returns the average time per finished record.
func (m *MetricsCollector) AverageProcessingTime() time.Duration {
	s := m.GetMetrics()
	total := s.Succeeded + s.ValidationFailed + s.ServiceFailed + s.Cancelled
	if total == 0 {
		return 0
	}
	return time.Duration(s.ProcessingTimeNs / total)
}

// ErrorRate returns the share of finished records that failed, as a percentage.
func (m *MetricsCollector) ErrorRate() float64 {
	s := m.GetMetrics()
	failed := s.ValidationFailed + s.ServiceFailed + s.Cancelled
	total := s.Succeeded + failed
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total) * 100
}
