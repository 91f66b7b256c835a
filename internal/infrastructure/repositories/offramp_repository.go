package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
)

// OfframpRepository handles off-ramp transaction persistence
type OfframpRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewOfframpRepository creates a new off-ramp repository
func NewOfframpRepository(db *sqlx.DB, logger *zap.Logger) *OfframpRepository {
	return &OfframpRepository{db: db, logger: logger}
}

// Create inserts a new awaiting-deposit off-ramp transaction.
func (r *OfframpRepository) Create(ctx context.Context, tx *entities.OfframpTransaction) error {
	query := `
		INSERT INTO offramp_transactions (
			id, owner_identifier, deposit_address, deposit_asset_address,
			deposit_amount_raw, status, swap_tx_hash, stable_amount,
			swap_attempt_count, payout_bank_code, payout_account_number,
			payout_account_name, payout_reference, error_message,
			created_at, updated_at
		) VALUES (
			:id, :owner_identifier, :deposit_address, :deposit_asset_address,
			:deposit_amount_raw, :status, :swap_tx_hash, :stable_amount,
			:swap_attempt_count, :payout_bank_code, :payout_account_number,
			:payout_account_name, :payout_reference, :error_message,
			:created_at, :updated_at
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, tx); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pqUniqueViolation {
			return domainerrors.AlreadyExistsError("offramp_transaction")
		}
		r.logger.Error("failed to create offramp transaction",
			zap.Error(err),
			zap.String("transaction_id", tx.ID),
		)
		return fmt.Errorf("failed to create offramp transaction: %w", err)
	}

	return nil
}

// Get retrieves a transaction by id
func (r *OfframpRepository) Get(ctx context.Context, id string) (*entities.OfframpTransaction, error) {
	query := `SELECT * FROM offramp_transactions WHERE id = $1`

	tx := &entities.OfframpTransaction{}
	if err := r.db.GetContext(ctx, tx, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.NotFoundError("offramp_transaction")
		}
		return nil, fmt.Errorf("failed to get offramp transaction: %w", err)
	}

	return tx, nil
}

// OfframpMutation describes the fields applied by a status transition. The
// timestamp column matching the target status is stamped automatically.
type OfframpMutation struct {
	Status                entities.OfframpStatus
	DepositAmountRaw      *decimal.Decimal
	SwapTxHash            *string
	StableAmount          *decimal.Decimal
	ErrorMessage          *string
	IncrementSwapAttempts bool
}

// timestampColumn maps a target status to its transition timestamp column.
var timestampColumn = map[entities.OfframpStatus]string{
	entities.OfframpStatusTokenReceived: "token_received_at",
	entities.OfframpStatusSettledStable: "settled_at",
	entities.OfframpStatusCompleted:     "completed_at",
}

// Transition atomically moves a transaction from the expected status to the
// mutation's status, enforcing the state-machine edge set. At most one of a
// set of concurrent callers wins; the rest receive a Conflict.
func (r *OfframpRepository) Transition(ctx context.Context, id string, expected entities.OfframpStatus, m OfframpMutation) (*entities.OfframpTransaction, error) {
	if err := expected.ValidateTransition(m.Status); err != nil {
		return nil, domainerrors.ValidationError("status", err.Error())
	}

	attemptIncrement := 0
	if m.IncrementSwapAttempts {
		attemptIncrement = 1
	}

	query := `
		UPDATE offramp_transactions
		SET status = $3,
			deposit_amount_raw = COALESCE($4, deposit_amount_raw),
			swap_tx_hash = COALESCE($5, swap_tx_hash),
			stable_amount = COALESCE($6, stable_amount),
			error_message = COALESCE($7, error_message),
			swap_attempt_count = swap_attempt_count + $8,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`
	// The retry edge re-enters token_received, so the timestamp is only
	// stamped on first entry.
	if col, ok := timestampColumn[m.Status]; ok {
		query = fmt.Sprintf(`
		UPDATE offramp_transactions
		SET status = $3,
			deposit_amount_raw = COALESCE($4, deposit_amount_raw),
			swap_tx_hash = COALESCE($5, swap_tx_hash),
			stable_amount = COALESCE($6, stable_amount),
			error_message = COALESCE($7, error_message),
			swap_attempt_count = swap_attempt_count + $8,
			%s = COALESCE(%s, NOW()),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`, col, col)
	}

	tx := &entities.OfframpTransaction{}
	err := r.db.GetContext(ctx, tx, query,
		id, expected, m.Status,
		m.DepositAmountRaw, m.SwapTxHash, m.StableAmount, m.ErrorMessage,
		attemptIncrement,
	)
	if err == sql.ErrNoRows {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domainerrors.ConflictError("offramp_transaction", "status changed concurrently")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition offramp transaction: %w", err)
	}

	return tx, nil
}

// SetPayoutReference records the fiat payout reference. Immutable once set;
// a losing concurrent writer receives a Conflict and re-reads the winner's.
func (r *OfframpRepository) SetPayoutReference(ctx context.Context, id, reference string) error {
	query := `
		UPDATE offramp_transactions
		SET payout_reference = $2, updated_at = NOW()
		WHERE id = $1 AND payout_reference IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, reference)
	if err != nil {
		return fmt.Errorf("failed to set payout reference: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domainerrors.ConflictError("offramp_transaction", "payout reference already set")
	}

	return nil
}

// GetByPayoutReference looks up the transaction tied to a payout reference.
func (r *OfframpRepository) GetByPayoutReference(ctx context.Context, reference string) (*entities.OfframpTransaction, error) {
	query := `SELECT * FROM offramp_transactions WHERE payout_reference = $1`

	tx := &entities.OfframpTransaction{}
	if err := r.db.GetContext(ctx, tx, query, reference); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.NotFoundError("offramp_transaction")
		}
		return nil, fmt.Errorf("failed to get transaction by payout reference: %w", err)
	}

	return tx, nil
}

// ListByStatus returns transactions in the given status, oldest first.
func (r *OfframpRepository) ListByStatus(ctx context.Context, status entities.OfframpStatus, limit int) ([]*entities.OfframpTransaction, error) {
	query := `
		SELECT * FROM offramp_transactions
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	var txs []*entities.OfframpTransaction
	if err := r.db.SelectContext(ctx, &txs, query, status, limit); err != nil {
		return nil, fmt.Errorf("failed to list offramp transactions: %w", err)
	}

	return txs, nil
}
