package entities

import (
	"time"

	"github.com/google/uuid"
)

// SwapAttemptStatus is the outcome of a single swap attempt
type SwapAttemptStatus string

const (
	SwapAttemptStatusSuccess SwapAttemptStatus = "success"
	SwapAttemptStatusFailed  SwapAttemptStatus = "failed"
)

// SwapAttemptRecord is one entry of an off-ramp transaction's append-only
// swap audit trail. Records are never mutated or deleted.
type SwapAttemptRecord struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	TransactionID string            `db:"transaction_id" json:"transaction_id"`
	AttemptNumber int               `db:"attempt_number" json:"attempt_number"`
	Status        SwapAttemptStatus `db:"status" json:"status"`
	TxHash        *string           `db:"tx_hash" json:"tx_hash,omitempty"`
	ErrorMessage  *string           `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}

// NewSwapAttempt creates a successful attempt record.
func NewSwapAttempt(transactionID string, attempt int, txHash string) *SwapAttemptRecord {
	return &SwapAttemptRecord{
		ID:            uuid.New(),
		TransactionID: transactionID,
		AttemptNumber: attempt,
		Status:        SwapAttemptStatusSuccess,
		TxHash:        &txHash,
		CreatedAt:     time.Now().UTC(),
	}
}

// NewFailedSwapAttempt creates a failed attempt record with the given reason.
// txHash may be empty when the attempt failed before submission.
func NewFailedSwapAttempt(transactionID string, attempt int, txHash string, err error) *SwapAttemptRecord {
	rec := &SwapAttemptRecord{
		ID:            uuid.New(),
		TransactionID: transactionID,
		AttemptNumber: attempt,
		Status:        SwapAttemptStatusFailed,
		CreatedAt:     time.Now().UTC(),
	}
	if txHash != "" {
		rec.TxHash = &txHash
	}
	if err != nil {
		msg := err.Error()
		rec.ErrorMessage = &msg
	}
	return rec
}
