// Package retry bounds and paces repeated service calls for a single record.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/service"
)

// Policy is the retry configuration shared by all workers of a run.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter spreads each delay by up to ±50%.
	Jitter bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Validate reports configuration errors.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return sdkerrors.NewConfigError("max attempts must be at least 1", nil)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return sdkerrors.NewConfigError("retry delays must not be negative", nil)
	}
	return nil
}

// ShouldRetry decides whether attempt, which just failed with f, is followed by
// another one. It depends only on the classification and the attempt number.
func (p Policy) ShouldRetry(f *service.Failure, attempt int) bool {
	return f != nil && f.Retryable && attempt < p.MaxAttempts
}

// NewBackOff returns the delay generator for one record. The delay before
// attempt n+1 is BaseDelay*2^(n-1), capped at MaxDelay.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	maxDelay := p.MaxDelay
	if maxDelay < p.BaseDelay {
		maxDelay = p.BaseDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	if p.Jitter {
		b.RandomizationFactor = 0.5
	}
	b.Reset()
	return b
}

// Wait sleeps for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attempt performs one call. attempt starts at 1.
type Attempt func(ctx context.Context, attempt int) (*service.Response, error)

// Notify is called before each backoff wait.
type Notify func(attempt int, failure *service.Failure, delay time.Duration)

// State is the private retry state of one record.
type State struct {
	Attempts  int
	LastError *service.Failure
	NextDelay time.Duration
}

// Do runs fn until it succeeds, fails terminally, or MaxAttempts is reached.
// It returns the response or the last failure together with the number of calls
// made. Cancellation while waiting ends the loop with a cancelled failure.
func (p Policy) Do(ctx context.Context, fn Attempt, notify Notify) (*service.Response, State) {
	var state State
	b := p.NewBackOff()

	for {
		if err := ctx.Err(); err != nil {
			state.LastError = service.Classify(err)
			return nil, state
		}

		state.Attempts++
		resp, err := fn(ctx, state.Attempts)
		if err == nil {
			state.LastError = nil
			return resp, state
		}

		state.LastError = service.Classify(err)
		if !p.ShouldRetry(state.LastError, state.Attempts) {
			return nil, state
		}

		state.NextDelay = b.NextBackOff()
		if notify != nil {
			notify(state.Attempts, state.LastError, state.NextDelay)
		}
		if err := Wait(ctx, state.NextDelay); err != nil {
			state.LastError = service.Classify(err)
			return nil, state
		}
	}
}
