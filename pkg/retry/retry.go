// Package retry provides bounded retries with exponential backoff for
// transient external failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
)

// ErrMaxRetriesExceeded wraps the last error once the budget is spent.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy controls retry behavior.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        bool
	RetryableFunc func(error) bool // nil = domain retryable classification
}

// DefaultPolicy suits short external calls: 3 retries, 100ms → ~1s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p Policy) retryable(err error) bool {
	if p.RetryableFunc != nil {
		return p.RetryableFunc(err)
	}
	return domainerrors.IsRetryable(err)
}

func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.Jitter {
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

// Do executes the operation, retrying transient failures per the policy.
func Do(ctx context.Context, policy Policy, logger *zap.Logger, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retries",
					zap.Int("attempt", attempt))
			}
			return nil
		}
		if !policy.retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxRetries {
			break
		}

		backoff := policy.delay(attempt + 1)
		logger.Debug("retrying operation",
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}
