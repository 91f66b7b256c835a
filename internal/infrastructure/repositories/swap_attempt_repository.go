package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sendramp/ramp-service/internal/domain/entities"
)

// SwapAttemptRepository persists the append-only swap audit trail.
type SwapAttemptRepository struct {
	db *sqlx.DB
}

// NewSwapAttemptRepository creates a new swap attempt repository
func NewSwapAttemptRepository(db *sqlx.DB) *SwapAttemptRepository {
	return &SwapAttemptRepository{db: db}
}

// Append inserts an attempt record. Records are never updated or deleted.
func (r *SwapAttemptRepository) Append(ctx context.Context, rec *entities.SwapAttemptRecord) error {
	query := `
		INSERT INTO swap_attempts (
			id, transaction_id, attempt_number, status, tx_hash, error_message, created_at
		) VALUES (
			:id, :transaction_id, :attempt_number, :status, :tx_hash, :error_message, :created_at
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to append swap attempt: %w", err)
	}

	return nil
}

// ListByTransaction returns a transaction's attempts in order.
func (r *SwapAttemptRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*entities.SwapAttemptRecord, error) {
	query := `
		SELECT * FROM swap_attempts
		WHERE transaction_id = $1
		ORDER BY attempt_number ASC
	`

	var recs []*entities.SwapAttemptRecord
	if err := r.db.SelectContext(ctx, &recs, query, transactionID); err != nil {
		return nil, fmt.Errorf("failed to list swap attempts: %w", err)
	}

	return recs, nil
}
