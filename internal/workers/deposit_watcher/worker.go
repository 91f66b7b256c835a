// Package deposit_watcher polls off-ramp transactions waiting on chain
// activity: awaiting_deposit rows get a balance check, token_received rows a
// swap re-drive, swapping rows a stale-claim reclaim.
package deposit_watcher

import (
	"context"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	"github.com/sendramp/ramp-service/pkg/logger"
	"github.com/sendramp/ramp-service/pkg/retry"
)

// OfframpResumer re-drives non-terminal off-ramp transactions.
type OfframpResumer interface {
	ResumePending(ctx context.Context, status entities.OfframpStatus, limit int) error
}

// Config holds worker configuration
type Config struct {
	BatchSize int
}

// Worker scans stalled off-ramp transactions and advances them.
type Worker struct {
	offramp   OfframpResumer
	batchSize int
	logger    *logger.Logger
}

// NewWorker creates a new deposit watcher worker
func NewWorker(offramp OfframpResumer, config *Config, log *logger.Logger) *Worker {
	batch := 50
	if config != nil && config.BatchSize > 0 {
		batch = config.BatchSize
	}
	return &Worker{
		offramp:   offramp,
		batchSize: batch,
		logger:    log,
	}
}

// Run performs one scan cycle. Failures are logged per transaction inside
// the service; only listing errors surface here.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("deposit watcher scan started")

	w.resume(ctx, entities.OfframpStatusAwaitingDeposit)
	w.resume(ctx, entities.OfframpStatusTokenReceived)
	w.resume(ctx, entities.OfframpStatusSwapping)
}

// resume retries transient listing failures within the cycle; anything still
// failing waits for the next tick.
func (w *Worker) resume(ctx context.Context, status entities.OfframpStatus) {
	err := retry.Do(ctx, retry.DefaultPolicy(), w.logger.Zap(), func() error {
		return w.offramp.ResumePending(ctx, status, w.batchSize)
	})
	if err != nil {
		w.logger.Error("failed to re-drive off-ramp transactions",
			"status", string(status),
			"error", err,
		)
	}
}
