// Package repositories implements the ledger store over Postgres. All status
// mutations go through conditional updates keyed on the caller's expected
// prior status, which is what makes concurrent webhook deliveries safe.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
)

const pqUniqueViolation = "23505"

// OnrampRepository handles on-ramp transaction persistence
type OnrampRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewOnrampRepository creates a new on-ramp repository
func NewOnrampRepository(db *sqlx.DB, logger *zap.Logger) *OnrampRepository {
	return &OnrampRepository{db: db, logger: logger}
}

// Create inserts a new pending on-ramp transaction. A duplicate id returns
// ErrAlreadyExists without mutating the existing row.
func (r *OnrampRepository) Create(ctx context.Context, tx *entities.OnrampTransaction) error {
	query := `
		INSERT INTO onramp_transactions (
			id, destination_address, fiat_amount, token_amount, exchange_rate,
			fee_fiat, fee_token, payment_reference, status, settlement_tx_hash,
			created_at, updated_at
		) VALUES (
			:id, :destination_address, :fiat_amount, :token_amount, :exchange_rate,
			:fee_fiat, :fee_token, :payment_reference, :status, :settlement_tx_hash,
			:created_at, :updated_at
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, tx); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pqUniqueViolation {
			return domainerrors.AlreadyExistsError("onramp_transaction")
		}
		r.logger.Error("failed to create onramp transaction",
			zap.Error(err),
			zap.String("transaction_id", tx.ID),
		)
		return fmt.Errorf("failed to create onramp transaction: %w", err)
	}

	return nil
}

// Get retrieves a transaction by id
func (r *OnrampRepository) Get(ctx context.Context, id string) (*entities.OnrampTransaction, error) {
	query := `SELECT * FROM onramp_transactions WHERE id = $1`

	tx := &entities.OnrampTransaction{}
	if err := r.db.GetContext(ctx, tx, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.NotFoundError("onramp_transaction")
		}
		return nil, fmt.Errorf("failed to get onramp transaction: %w", err)
	}

	return tx, nil
}

// OnrampMutation describes the fields applied by a status transition.
type OnrampMutation struct {
	Status           entities.OnrampStatus
	PaymentReference *string
	TokenAmount      *decimal.Decimal
	FeeFiat          *decimal.Decimal
	FeeToken         *decimal.Decimal
	CompletedAt      *time.Time
}

// Transition atomically moves a transaction from the expected status to the
// mutation's status. A concurrent caller that already moved the row causes a
// Conflict; idempotent callers treat that as a duplicate delivery.
func (r *OnrampRepository) Transition(ctx context.Context, id string, expected entities.OnrampStatus, m OnrampMutation) (*entities.OnrampTransaction, error) {
	if !expected.CanTransitionTo(m.Status) {
		return nil, domainerrors.ValidationError("status",
			fmt.Sprintf("illegal onramp transition %s -> %s", expected, m.Status))
	}

	query := `
		UPDATE onramp_transactions
		SET status = $3,
			payment_reference = COALESCE($4, payment_reference),
			token_amount = COALESCE($5, token_amount),
			fee_fiat = COALESCE($6, fee_fiat),
			fee_token = COALESCE($7, fee_token),
			completed_at = COALESCE($8, completed_at),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`

	tx := &entities.OnrampTransaction{}
	err := r.db.GetContext(ctx, tx, query,
		id, expected, m.Status,
		m.PaymentReference, m.TokenAmount, m.FeeFiat, m.FeeToken, m.CompletedAt,
	)
	if err == sql.ErrNoRows {
		// Distinguish a lost race from a missing row.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domainerrors.ConflictError("onramp_transaction", "status changed concurrently")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition onramp transaction: %w", err)
	}

	return tx, nil
}

// SetSettlementHash records the settlement transfer hash. The hash is
// immutable once set: a second writer loses the conditional update and
// receives a Conflict, and must re-read the winner's hash.
func (r *OnrampRepository) SetSettlementHash(ctx context.Context, id, txHash string) error {
	query := `
		UPDATE onramp_transactions
		SET settlement_tx_hash = $2, updated_at = NOW()
		WHERE id = $1 AND settlement_tx_hash IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, txHash)
	if err != nil {
		return fmt.Errorf("failed to set settlement hash: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domainerrors.ConflictError("onramp_transaction", "settlement hash already set")
	}

	return nil
}

// FindByReference returns the transaction holding the given gateway
// reference, if any.
func (r *OnrampRepository) FindByReference(ctx context.Context, reference string) (*entities.OnrampTransaction, error) {
	query := `SELECT * FROM onramp_transactions WHERE payment_reference = $1`

	tx := &entities.OnrampTransaction{}
	if err := r.db.GetContext(ctx, tx, query, reference); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.NotFoundError("onramp_transaction")
		}
		return nil, fmt.Errorf("failed to find transaction by reference: %w", err)
	}

	return tx, nil
}

// FindClaimable returns pending transactions matching the destination address
// and exact fiat amount, created within the lookback window, oldest first.
// This backs the claim path for sessions that lost their transaction id.
func (r *OnrampRepository) FindClaimable(ctx context.Context, destinationAddress string, fiatAmount decimal.Decimal, since time.Time) ([]*entities.OnrampTransaction, error) {
	query := `
		SELECT * FROM onramp_transactions
		WHERE status = $1
		  AND destination_address = $2
		  AND fiat_amount = $3
		  AND created_at >= $4
		ORDER BY created_at ASC
	`

	var txs []*entities.OnrampTransaction
	if err := r.db.SelectContext(ctx, &txs, query, entities.OnrampStatusPending, destinationAddress, fiatAmount, since); err != nil {
		return nil, fmt.Errorf("failed to find claimable transactions: %w", err)
	}

	return txs, nil
}

// ListUnsettled returns completed transactions whose settlement transfer has
// not yet been executed. These are re-driven by the settlement retry worker.
func (r *OnrampRepository) ListUnsettled(ctx context.Context, limit int) ([]*entities.OnrampTransaction, error) {
	query := `
		SELECT * FROM onramp_transactions
		WHERE status = $1 AND settlement_tx_hash IS NULL
		ORDER BY completed_at ASC
		LIMIT $2
	`

	var txs []*entities.OnrampTransaction
	if err := r.db.SelectContext(ctx, &txs, query, entities.OnrampStatusCompleted, limit); err != nil {
		return nil, fmt.Errorf("failed to list unsettled transactions: %w", err)
	}

	return txs, nil
}

// AppendVerification appends an entry to the transaction's verification log.
// The log is append-only and never mutated.
func (r *OnrampRepository) AppendVerification(ctx context.Context, rec *entities.VerificationRecord) error {
	query := `
		INSERT INTO onramp_verifications (
			id, transaction_id, reference, signature_ok, gateway_ok, amount_ok,
			error_message, created_at
		) VALUES (
			:id, :transaction_id, :reference, :signature_ok, :gateway_ok, :amount_ok,
			:error_message, :created_at
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to append verification record: %w", err)
	}

	return nil
}

// ListVerifications returns a transaction's verification log in order.
func (r *OnrampRepository) ListVerifications(ctx context.Context, transactionID string) ([]*entities.VerificationRecord, error) {
	query := `
		SELECT * FROM onramp_verifications
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`

	var recs []*entities.VerificationRecord
	if err := r.db.SelectContext(ctx, &recs, query, transactionID); err != nil {
		return nil, fmt.Errorf("failed to list verification records: %w", err)
	}

	return recs, nil
}
