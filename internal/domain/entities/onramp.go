package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OnrampStatus represents the status of an on-ramp transaction
type OnrampStatus string

const (
	OnrampStatusPending   OnrampStatus = "pending"
	OnrampStatusCompleted OnrampStatus = "completed"
	OnrampStatusFailed    OnrampStatus = "failed"
)

// ValidOnrampTransitions defines allowed on-ramp status transitions. Completed
// and failed are terminal; a completed transaction never returns to pending.
var ValidOnrampTransitions = map[OnrampStatus][]OnrampStatus{
	OnrampStatusPending:   {OnrampStatusCompleted, OnrampStatusFailed},
	OnrampStatusCompleted: {},
	OnrampStatusFailed:    {},
}

// CanTransitionTo checks if transition to new status is allowed
func (s OnrampStatus) CanTransitionTo(newStatus OnrampStatus) bool {
	for _, status := range ValidOnrampTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// OnrampTransaction is a fiat → token conversion ledger entry. The id is
// caller-supplied and unique; the exchange rate is snapshotted at creation so
// the token amount can always be recomputed from persisted inputs alone.
type OnrampTransaction struct {
	ID                 string          `db:"id" json:"id"`
	DestinationAddress string          `db:"destination_address" json:"destination_address"`
	FiatAmount         decimal.Decimal `db:"fiat_amount" json:"fiat_amount"`
	TokenAmount        decimal.Decimal `db:"token_amount" json:"token_amount"`
	ExchangeRate       decimal.Decimal `db:"exchange_rate" json:"exchange_rate"`
	FeeFiat            decimal.Decimal `db:"fee_fiat" json:"fee_fiat"`
	FeeToken           decimal.Decimal `db:"fee_token" json:"fee_token"`
	PaymentReference   *string         `db:"payment_reference" json:"payment_reference,omitempty"`
	Status             OnrampStatus    `db:"status" json:"status"`
	SettlementTxHash   *string         `db:"settlement_tx_hash" json:"settlement_tx_hash,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	CompletedAt        *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// IsSettled reports whether the token transfer for this transaction has
// already been executed.
func (t *OnrampTransaction) IsSettled() bool {
	return t.SettlementTxHash != nil && *t.SettlementTxHash != ""
}

// VerificationRecord is one entry of an on-ramp transaction's append-only
// verification log. Each reconciliation attempt records which checkpoints
// passed so failed webhooks can be diagnosed from the ledger itself.
type VerificationRecord struct {
	ID            uuid.UUID `db:"id" json:"id"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	Reference     string    `db:"reference" json:"reference"`
	SignatureOK   bool      `db:"signature_ok" json:"signature_ok"`
	GatewayOK     bool      `db:"gateway_ok" json:"gateway_ok"`
	AmountOK      bool      `db:"amount_ok" json:"amount_ok"`
	ErrorMessage  *string   `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// NewVerificationRecord creates a verification log entry for a transaction.
func NewVerificationRecord(transactionID, reference string) *VerificationRecord {
	return &VerificationRecord{
		ID:            uuid.New(),
		TransactionID: transactionID,
		Reference:     reference,
		CreatedAt:     time.Now().UTC(),
	}
}

// WithError sets the error message on the record and returns it.
func (r *VerificationRecord) WithError(err error) *VerificationRecord {
	if err != nil {
		msg := err.Error()
		r.ErrorMessage = &msg
	}
	return r
}

// PaymentEvent is an inbound payment signal, either from the gateway webhook
// or from a user-initiated verify call. TransactionID may be empty when the
// paying session lost its id (client reload); such events go through the
// claim matcher instead of a direct load.
type PaymentEvent struct {
	EventType          string
	Reference          string
	AmountMinor        int64 // fiat amount in minor units (kobo)
	Currency           string
	Status             string
	TransactionID      string
	DestinationAddress string
	PaidAt             time.Time
}
