// Package notify publishes run summaries to NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
	"github.com/wehubfusion/Daedalus/pkg/retry"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Summary is the message published after each job.
type Summary struct {
	RunID     string           `json:"runId"`
	Status    string           `json:"status"`
	Input     string           `json:"input"`
	Output    string           `json:"output"`
	ResultURL string           `json:"resultUrl,omitempty"`
	ReportURL string           `json:"reportUrl,omitempty"`
	Error     string           `json:"error,omitempty"`
	Report    *pipeline.Report `json:"report,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Notifier publishes summaries with a bounded number of retries.
type Notifier struct {
	publisher  Publisher
	subject    string
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewNotifier creates a notifier publishing on subject.
func NewNotifier(publisher Publisher, subject string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		publisher:  publisher,
		subject:    subject,
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     logger,
	}
}

// Publish sends the summary, retrying failed publishes.
func (n *Notifier) Publish(ctx context.Context, s Summary) error {
	if n.publisher == nil {
		return sdkerrors.ErrNotConnected
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			if err := retry.Wait(ctx, n.retryDelay); err != nil {
				return fmt.Errorf("%w: %w", sdkerrors.ErrPublishFailed, err)
			}
		}
		if lastErr = n.publisher.Publish(n.subject, data); lastErr == nil {
			n.logger.Info("Published run summary",
				zap.String("subject", n.subject),
				zap.String("runID", s.RunID),
				zap.String("status", s.Status))
			return nil
		}
		n.logger.Warn("Failed to publish run summary",
			zap.String("subject", n.subject),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("%w after %d attempts: %w", sdkerrors.ErrPublishFailed, n.maxRetries+1, lastErr)
}
