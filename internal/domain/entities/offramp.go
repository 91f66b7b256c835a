package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfframpTransaction is a token → fiat conversion ledger entry. The deposit
// address is a pure function of the owner identifier, so the same owner always
// deposits to the same address regardless of process restarts.
type OfframpTransaction struct {
	ID                  string          `db:"id" json:"id"`
	OwnerIdentifier     string          `db:"owner_identifier" json:"owner_identifier"`
	DepositAddress      string          `db:"deposit_address" json:"deposit_address"`
	DepositAssetAddress *string         `db:"deposit_asset_address" json:"deposit_asset_address,omitempty"` // nil = native asset
	DepositAmountRaw    decimal.Decimal `db:"deposit_amount_raw" json:"deposit_amount_raw"`                 // smallest unit
	Status              OfframpStatus   `db:"status" json:"status"`
	SwapTxHash          *string         `db:"swap_tx_hash" json:"swap_tx_hash,omitempty"`
	StableAmount        decimal.Decimal `db:"stable_amount" json:"stable_amount"`
	SwapAttemptCount    int             `db:"swap_attempt_count" json:"swap_attempt_count"`
	PayoutBankCode      string          `db:"payout_bank_code" json:"payout_bank_code"`
	PayoutAccountNumber string          `db:"payout_account_number" json:"payout_account_number"`
	PayoutAccountName   string          `db:"payout_account_name" json:"payout_account_name"`
	PayoutReference     *string         `db:"payout_reference" json:"payout_reference,omitempty"`
	ErrorMessage        *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	TokenReceivedAt     *time.Time      `db:"token_received_at" json:"token_received_at,omitempty"`
	SwappedAt           *time.Time      `db:"swapped_at" json:"swapped_at,omitempty"`
	SettledAt           *time.Time      `db:"settled_at" json:"settled_at,omitempty"`
	CompletedAt         *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// IsNativeDeposit reports whether the expected deposit is the chain's native
// asset rather than a token contract.
func (t *OfframpTransaction) IsNativeDeposit() bool {
	return t.DepositAssetAddress == nil || *t.DepositAssetAddress == ""
}

// HasPayout reports whether a fiat payout has already been initiated.
func (t *OfframpTransaction) HasPayout() bool {
	return t.PayoutReference != nil && *t.PayoutReference != ""
}
