// Package settlement_retry re-drives completed-but-unsettled on-ramp
// transactions and settled-but-unpaid off-ramp transactions. Both operations
// are idempotent, so running a cycle concurrently with live traffic is safe.
package settlement_retry

import (
	"context"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	"github.com/sendramp/ramp-service/pkg/logger"
	"github.com/sendramp/ramp-service/pkg/retry"
)

// OnrampRetrier re-drives unsettled on-ramp distributions.
type OnrampRetrier interface {
	RetryUnsettled(ctx context.Context, limit int) error
}

// OfframpResumer re-drives settled off-ramp transactions awaiting payout.
type OfframpResumer interface {
	ResumePending(ctx context.Context, status entities.OfframpStatus, limit int) error
}

// Config holds worker configuration
type Config struct {
	BatchSize int
}

// Worker retries stalled settlement side effects.
type Worker struct {
	onramp    OnrampRetrier
	offramp   OfframpResumer
	batchSize int
	logger    *logger.Logger
}

// NewWorker creates a new settlement retry worker
func NewWorker(onramp OnrampRetrier, offramp OfframpResumer, config *Config, log *logger.Logger) *Worker {
	batch := 50
	if config != nil && config.BatchSize > 0 {
		batch = config.BatchSize
	}
	return &Worker{
		onramp:    onramp,
		offramp:   offramp,
		batchSize: batch,
		logger:    log,
	}
}

// Run performs one retry cycle.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("settlement retry cycle started")

	err := retry.Do(ctx, retry.DefaultPolicy(), w.logger.Zap(), func() error {
		return w.onramp.RetryUnsettled(ctx, w.batchSize)
	})
	if err != nil {
		w.logger.Error("failed to retry unsettled distributions", "error", err)
	}

	err = retry.Do(ctx, retry.DefaultPolicy(), w.logger.Zap(), func() error {
		return w.offramp.ResumePending(ctx, entities.OfframpStatusSettledStable, w.batchSize)
	})
	if err != nil {
		w.logger.Error("failed to re-drive pending payouts", "error", err)
	}
}
