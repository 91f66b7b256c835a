package onramp

import (
	"context"
	"time"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/pkg/metrics"
	"github.com/sendramp/ramp-service/pkg/security"
)

const (
	distributionLockTTL  = 2 * time.Minute
	distributionLockWait = 10 * time.Second
)

// Distribute executes the settlement token transfer for a completed
// transaction. It is idempotent: if the settlement hash is already set the
// existing hash is returned and no second transfer is sent. Concurrent
// callers racing on the same id are serialized by a short-TTL lock, and the
// hash column's conditional update is the final at-most-once guard.
func (s *Service) Distribute(ctx context.Context, id string) (string, error) {
	lockKey := "onramp:distribute:" + id
	acquired, err := s.locker.Acquire(ctx, lockKey, distributionLockTTL, distributionLockWait)
	if err != nil {
		return "", domainerrors.TransientError("lock store", err)
	}
	if !acquired {
		// Another invocation holds the lock. Report what is known: the
		// winner's hash if it has landed, otherwise a conflict the caller
		// treats as in-progress.
		tx, getErr := s.repo.Get(ctx, id)
		if getErr == nil && tx.IsSettled() {
			return *tx.SettlementTxHash, nil
		}
		return "", domainerrors.ConflictError("onramp_transaction", "distribution in progress")
	}
	defer s.locker.Release(ctx, lockKey)

	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if tx.Status != entities.OnrampStatusCompleted {
		return "", domainerrors.ValidationError("status", "only completed transactions can be distributed")
	}

	// At-most-once guard: never re-send a settled transfer.
	if tx.IsSettled() {
		metrics.Distributions.WithLabelValues("duplicate").Inc()
		return *tx.SettlementTxHash, nil
	}

	hash, err := s.sender.Send(ctx, tx.DestinationAddress, tx.TokenAmount)
	if err != nil {
		metrics.Distributions.WithLabelValues("error").Inc()
		return "", err
	}

	if err := s.repo.SetSettlementHash(ctx, id, hash); err != nil {
		if domainerrors.IsConflict(err) {
			// A concurrent writer landed first; its hash is authoritative.
			if current, getErr := s.repo.Get(ctx, id); getErr == nil && current.IsSettled() {
				s.logger.Warn("settlement hash already recorded by concurrent writer",
					"transaction_id", id,
					"recorded_hash", *current.SettlementTxHash,
					"this_hash", hash,
				)
				return *current.SettlementTxHash, nil
			}
		}
		return "", err
	}

	metrics.Distributions.WithLabelValues("sent").Inc()
	s.logger.Info("settlement transfer executed",
		"transaction_id", id,
		"tx_hash", hash,
		"destination", security.MaskAddress(tx.DestinationAddress),
		"token_amount", tx.TokenAmount.String(),
	)

	return hash, nil
}

// RetryUnsettled re-drives the distribution trigger for completed
// transactions whose settlement transfer has not yet landed.
func (s *Service) RetryUnsettled(ctx context.Context, limit int) error {
	txs, err := s.repo.ListUnsettled(ctx, limit)
	if err != nil {
		return err
	}

	for _, tx := range txs {
		if _, err := s.Distribute(ctx, tx.ID); err != nil && !domainerrors.IsConflict(err) {
			s.logger.Error("settlement retry failed",
				"transaction_id", tx.ID,
				"error", err,
			)
		}
	}

	return nil
}
