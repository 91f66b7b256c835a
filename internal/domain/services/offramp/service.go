// Package offramp drives the token → fiat pipeline: session creation with a
// deterministic deposit address, deposit detection, the bounded swap retry
// loop, and the exactly-once fiat payout.
package offramp

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/internal/domain/services/swap"
	"github.com/sendramp/ramp-service/internal/infrastructure/chain"
	"github.com/sendramp/ramp-service/internal/infrastructure/paystack"
	"github.com/sendramp/ramp-service/internal/infrastructure/repositories"
	"github.com/sendramp/ramp-service/pkg/logger"
	"github.com/sendramp/ramp-service/pkg/metrics"
	"github.com/sendramp/ramp-service/pkg/security"
)

// Repository is the off-ramp slice of the ledger store.
type Repository interface {
	Create(ctx context.Context, tx *entities.OfframpTransaction) error
	Get(ctx context.Context, id string) (*entities.OfframpTransaction, error)
	Transition(ctx context.Context, id string, expected entities.OfframpStatus, m repositories.OfframpMutation) (*entities.OfframpTransaction, error)
	SetPayoutReference(ctx context.Context, id, reference string) error
	GetByPayoutReference(ctx context.Context, reference string) (*entities.OfframpTransaction, error)
	ListByStatus(ctx context.Context, status entities.OfframpStatus, limit int) ([]*entities.OfframpTransaction, error)
}

// Deriver produces the deposit wallet for an owner identifier.
type Deriver interface {
	Derive(ownerIdentifier string) (common.Address, *ecdsa.PrivateKey, error)
}

// SwapRunner executes one swap-and-forward attempt. sellAsset is the
// deposit's token contract, or nil for a native-asset deposit.
type SwapRunner interface {
	Execute(ctx context.Context, transactionID string, depositKey *ecdsa.PrivateKey, sellAsset *common.Address, sellAmount *big.Int, attempt int) (*swap.Result, error)
}

// BalanceReader reads deposit wallet balances for deposit detection.
type BalanceReader interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error)
}

// PayoutClient initiates bank transfers through the payment gateway.
type PayoutClient interface {
	InitiateTransfer(ctx context.Context, recipient paystack.TransferRecipient, amount decimal.Decimal, reference, reason string) (*paystack.TransferResult, error)
}

// RateProvider supplies the stable-asset → fiat rate used to price payouts.
type RateProvider interface {
	StableFiatRate(ctx context.Context) (decimal.Decimal, error)
}

// Locker provides short-TTL mutual exclusion for payout initiation.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

const (
	payoutLockTTL  = 2 * time.Minute
	payoutLockWait = 10 * time.Second
)

// Config holds off-ramp policy configuration.
type Config struct {
	// MaxSwapAttempts bounds the swapping → token_received retry edge.
	MaxSwapAttempts int
	// StableDecimals is the stable token's on-chain decimal count.
	StableDecimals int32
	// StaleSwapAge is how long a transaction may sit in swapping before it
	// is presumed orphaned by a crash and reclaimed.
	StaleSwapAge time.Duration
}

// Service is the off-ramp pipeline coordinator.
type Service struct {
	repo    Repository
	deriver Deriver
	swapper SwapRunner
	chain   BalanceReader
	payout  PayoutClient
	rates   RateProvider
	locker  Locker
	config  Config
	logger  *logger.Logger
}

// NewService creates the off-ramp service.
func NewService(
	repo Repository,
	deriver Deriver,
	swapper SwapRunner,
	balances BalanceReader,
	payout PayoutClient,
	rates RateProvider,
	locker Locker,
	config Config,
	log *logger.Logger,
) *Service {
	if config.MaxSwapAttempts <= 0 {
		config.MaxSwapAttempts = 3
	}
	if config.StableDecimals == 0 {
		config.StableDecimals = 6
	}
	if config.StaleSwapAge <= 0 {
		config.StaleSwapAge = 10 * time.Minute
	}
	return &Service{
		repo:    repo,
		deriver: deriver,
		swapper: swapper,
		chain:   balances,
		payout:  payout,
		rates:   rates,
		locker:  locker,
		config:  config,
		logger:  log,
	}
}

// StartRequest describes a new off-ramp session.
type StartRequest struct {
	ID                  string
	OwnerIdentifier     string
	AssetAddress        string // empty = native asset
	PayoutBankCode      string
	PayoutAccountNumber string
	PayoutAccountName   string
}

// StartSession derives the deposit address for the owner and records an
// awaiting_deposit transaction. The same owner always receives the same
// address, so a restarted session is harmless.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (*entities.OfframpTransaction, error) {
	if req.ID == "" {
		return nil, domainerrors.ValidationError("id", "transaction id is required")
	}
	if req.OwnerIdentifier == "" {
		return nil, domainerrors.ValidationError("owner_identifier", "owner identifier is required")
	}
	if req.PayoutBankCode == "" || req.PayoutAccountNumber == "" {
		return nil, domainerrors.ValidationError("payout_account", "payout bank code and account number are required")
	}
	if req.AssetAddress != "" && !common.IsHexAddress(req.AssetAddress) {
		return nil, domainerrors.ValidationError("asset_address", "asset address is not a valid hex address")
	}

	depositAddr, _, err := s.deriver.Derive(req.OwnerIdentifier)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tx := &entities.OfframpTransaction{
		ID:                  req.ID,
		OwnerIdentifier:     req.OwnerIdentifier,
		DepositAddress:      depositAddr.Hex(),
		Status:              entities.OfframpStatusAwaitingDeposit,
		DepositAmountRaw:    decimal.Zero,
		StableAmount:        decimal.Zero,
		PayoutBankCode:      req.PayoutBankCode,
		PayoutAccountNumber: req.PayoutAccountNumber,
		PayoutAccountName:   req.PayoutAccountName,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if req.AssetAddress != "" {
		asset := req.AssetAddress
		tx.DepositAssetAddress = &asset
	}

	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, err
	}

	s.logger.Info("offramp session started",
		"transaction_id", tx.ID,
		"deposit_address", tx.DepositAddress,
	)
	return tx, nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id string) (*entities.OfframpTransaction, error) {
	return s.repo.Get(ctx, id)
}

// CheckDeposit re-reads the deposit wallet and advances the pipeline from
// wherever the transaction currently is. Used both by the user-facing nudge
// endpoint and the polling worker; safe to call at any time.
func (s *Service) CheckDeposit(ctx context.Context, id string) (*entities.OfframpTransaction, error) {
	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch tx.Status {
	case entities.OfframpStatusAwaitingDeposit:
		if err := s.detectDeposit(ctx, tx); err != nil {
			return nil, err
		}
	case entities.OfframpStatusTokenReceived:
		if err := s.ProcessDeposit(ctx, id); err != nil && !domainerrors.IsRetryable(err) {
			return nil, err
		}
	case entities.OfframpStatusSwapping:
		if err := s.recoverStaleSwap(ctx, tx); err != nil && !domainerrors.IsRetryable(err) {
			return nil, err
		}
	case entities.OfframpStatusSettledStable:
		if err := s.InitiatePayout(ctx, id); err != nil && !domainerrors.IsConflict(err) {
			return nil, err
		}
	}

	return s.repo.Get(ctx, id)
}

// detectDeposit reads the wallet balance and, when funds have arrived,
// records the observed amount and runs the pipeline.
func (s *Service) detectDeposit(ctx context.Context, tx *entities.OfframpTransaction) error {
	addr := common.HexToAddress(tx.DepositAddress)

	var balance *big.Int
	var err error
	if tx.IsNativeDeposit() {
		balance, err = s.chain.NativeBalance(ctx, addr)
	} else {
		balance, err = s.chain.TokenBalance(ctx, common.HexToAddress(*tx.DepositAssetAddress), addr)
	}
	if err != nil {
		return domainerrors.TransientError("chain RPC", err)
	}
	if balance.Sign() <= 0 {
		return nil
	}

	amount := decimal.NewFromBigInt(balance, 0)
	_, err = s.repo.Transition(ctx, tx.ID, entities.OfframpStatusAwaitingDeposit, repositories.OfframpMutation{
		Status:           entities.OfframpStatusTokenReceived,
		DepositAmountRaw: &amount,
	})
	if err != nil {
		if domainerrors.IsConflict(err) {
			return nil // a concurrent check already advanced it
		}
		return err
	}

	s.logger.Info("deposit detected",
		"transaction_id", tx.ID,
		"deposit_address", tx.DepositAddress,
		"amount_raw", amount.String(),
	)

	if err := s.ProcessDeposit(ctx, tx.ID); err != nil && !domainerrors.IsRetryable(err) {
		return err
	}
	return nil
}

// ProcessDeposit runs one swap attempt for a token_received transaction. The
// transition into swapping is the work claim: a Conflict means another
// invocation holds the transaction and this one backs off. A failed attempt
// returns the transaction to token_received with the counter incremented, or
// to failed once the budget is exhausted.
func (s *Service) ProcessDeposit(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("offramp.service").Start(ctx, "ProcessDeposit")
	defer span.End()
	span.SetAttributes(attribute.String("transaction_id", id))

	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	switch tx.Status {
	case entities.OfframpStatusTokenReceived:
		// fall through to the swap
	case entities.OfframpStatusSettledStable:
		return s.InitiatePayout(ctx, id)
	case entities.OfframpStatusCompleted, entities.OfframpStatusFailed:
		return nil
	default:
		return nil
	}

	claimed, err := s.repo.Transition(ctx, id, entities.OfframpStatusTokenReceived, repositories.OfframpMutation{
		Status: entities.OfframpStatusSwapping,
	})
	if err != nil {
		if domainerrors.IsConflict(err) {
			return nil // lost the claim race
		}
		return err
	}

	addr, key, err := s.deriver.Derive(claimed.OwnerIdentifier)
	if err != nil {
		return s.failSwap(ctx, claimed, err)
	}
	if addr.Hex() != claimed.DepositAddress {
		return s.failSwap(ctx, claimed,
			fmt.Errorf("derived address %s does not match recorded deposit address %s", addr.Hex(), claimed.DepositAddress))
	}

	attempt := claimed.SwapAttemptCount + 1
	sellAmount := claimed.DepositAmountRaw.BigInt()
	var sellAsset *common.Address
	if !claimed.IsNativeDeposit() {
		asset := common.HexToAddress(*claimed.DepositAssetAddress)
		sellAsset = &asset
	}

	result, err := s.swapper.Execute(ctx, id, key, sellAsset, sellAmount, attempt)
	if err != nil {
		return s.failSwap(ctx, claimed, err)
	}

	stableAmount := chain.FromBaseUnits(result.StableReceived, s.config.StableDecimals)
	swapHash := result.SwapTxHash
	_, err = s.repo.Transition(ctx, id, entities.OfframpStatusSwapping, repositories.OfframpMutation{
		Status:       entities.OfframpStatusSettledStable,
		SwapTxHash:   &swapHash,
		StableAmount: &stableAmount,
	})
	if err != nil {
		return err
	}

	s.logger.Info("offramp settled in stable asset",
		"transaction_id", id,
		"swap_tx_hash", swapHash,
		"stable_amount", stableAmount.String(),
	)

	// A payout failure here leaves the transaction settled_stable; the
	// retry worker re-drives it.
	if err := s.InitiatePayout(ctx, id); err != nil && !domainerrors.IsConflict(err) {
		s.logger.Error("payout initiation failed, will retry",
			"transaction_id", id,
			"error", err,
		)
	}
	return nil
}

// failSwap records the failed attempt on the ledger: back to token_received
// while budget remains, terminal failed once it is exhausted. The attempt
// counter is incremented either way.
func (s *Service) failSwap(ctx context.Context, tx *entities.OfframpTransaction, cause error) error {
	attempt := tx.SwapAttemptCount + 1
	msg := cause.Error()

	target := entities.OfframpStatusTokenReceived
	if attempt >= s.config.MaxSwapAttempts {
		target = entities.OfframpStatusFailed
	}

	_, err := s.repo.Transition(ctx, tx.ID, entities.OfframpStatusSwapping, repositories.OfframpMutation{
		Status:                target,
		ErrorMessage:          &msg,
		IncrementSwapAttempts: true,
	})
	if err != nil {
		s.logger.Error("failed to record swap failure",
			"transaction_id", tx.ID,
			"error", err,
		)
		return err
	}

	if target == entities.OfframpStatusFailed {
		s.logger.Error("swap attempt budget exhausted",
			"transaction_id", tx.ID,
			"attempts", attempt,
			"cause", msg,
		)
		return domainerrors.PolicyError("SWAP_BUDGET_EXHAUSTED", "swap attempt budget exhausted")
	}

	s.logger.Warn("swap attempt failed, returned to token_received",
		"transaction_id", tx.ID,
		"attempt", attempt,
		"cause", msg,
	)
	return cause
}

// recoverStaleSwap handles rows orphaned in swapping by a crash mid-attempt.
// An in-flight attempt is indistinguishable from a dead one, so the row is
// only reclaimed once it has sat in swapping for StaleSwapAge, and the
// abandoned attempt is charged against the budget. The conditional transition
// keeps the reclaim safe: if the original attempt is still alive and finishes,
// it wins the row and this one no-ops.
func (s *Service) recoverStaleSwap(ctx context.Context, tx *entities.OfframpTransaction) error {
	age := time.Since(tx.UpdatedAt)
	if age < s.config.StaleSwapAge {
		return nil // an attempt may still be in flight
	}

	attempt := tx.SwapAttemptCount + 1
	msg := fmt.Sprintf("swap attempt abandoned after %s in swapping", age.Round(time.Second))

	target := entities.OfframpStatusTokenReceived
	if attempt >= s.config.MaxSwapAttempts {
		target = entities.OfframpStatusFailed
	}

	_, err := s.repo.Transition(ctx, tx.ID, entities.OfframpStatusSwapping, repositories.OfframpMutation{
		Status:                target,
		ErrorMessage:          &msg,
		IncrementSwapAttempts: true,
	})
	if err != nil {
		if domainerrors.IsConflict(err) {
			return nil // the original attempt finished first
		}
		return err
	}

	if target == entities.OfframpStatusFailed {
		s.logger.Error("stale swap exhausted the attempt budget",
			"transaction_id", tx.ID,
			"attempts", attempt,
		)
		return nil
	}

	s.logger.Warn("reclaimed stale swapping transaction",
		"transaction_id", tx.ID,
		"attempt", attempt,
		"age", age.String(),
	)
	return s.ProcessDeposit(ctx, tx.ID)
}

// InitiatePayout requests the fiat bank transfer for a settled_stable
// transaction. The transfer reference is a pure function of the transaction
// id, so a re-initiated transfer is deduplicated by the gateway; the ledger's
// conditional reference write is the local guard.
func (s *Service) InitiatePayout(ctx context.Context, id string) error {
	lockKey := "offramp:payout:" + id
	acquired, err := s.locker.Acquire(ctx, lockKey, payoutLockTTL, payoutLockWait)
	if err != nil {
		return domainerrors.TransientError("lock store", err)
	}
	if !acquired {
		return domainerrors.ConflictError("offramp_transaction", "payout initiation in progress")
	}
	defer s.locker.Release(ctx, lockKey)

	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if tx.Status != entities.OfframpStatusSettledStable {
		if tx.Status == entities.OfframpStatusCompleted {
			return nil
		}
		return domainerrors.ValidationError("status", "only settled transactions can be paid out")
	}
	if tx.HasPayout() {
		// Transfer already requested; the transfer webhook completes it.
		return nil
	}

	rate, err := s.rates.StableFiatRate(ctx)
	if err != nil {
		return err
	}
	if rate.Sign() <= 0 {
		return domainerrors.ValidationError("rate", "stable-to-fiat rate must be positive")
	}
	// Round down to the minor unit; the spread absorbs the remainder.
	fiatAmount := tx.StableAmount.Mul(rate).RoundDown(2)
	if fiatAmount.Sign() <= 0 {
		return domainerrors.ValidationError("amount", "payout amount rounds to zero")
	}

	reference := "offramp-" + id
	recipient := paystack.TransferRecipient{
		BankCode:      tx.PayoutBankCode,
		AccountNumber: tx.PayoutAccountNumber,
		AccountName:   tx.PayoutAccountName,
	}

	result, err := s.payout.InitiateTransfer(ctx, recipient, fiatAmount, reference, "token off-ramp settlement")
	if err != nil {
		metrics.Payouts.WithLabelValues("error").Inc()
		return err
	}

	if err := s.repo.SetPayoutReference(ctx, id, reference); err != nil && !domainerrors.IsConflict(err) {
		return err
	}

	metrics.Payouts.WithLabelValues("initiated").Inc()
	s.logger.Info("fiat payout initiated",
		"transaction_id", id,
		"reference", reference,
		"fiat_amount", fiatAmount.String(),
		"account_number", security.MaskAccountNumber(tx.PayoutAccountNumber),
		"gateway_status", result.Status,
	)
	return nil
}

// HandleTransferCompleted finalizes the transaction named by a successful
// transfer webhook. Unknown references and repeated deliveries are no-ops.
func (s *Service) HandleTransferCompleted(ctx context.Context, reference string) error {
	tx, err := s.repo.GetByPayoutReference(ctx, reference)
	if err != nil {
		if domainerrors.IsNotFound(err) {
			s.logger.Warn("transfer webhook for unknown reference", "reference", reference)
			return nil
		}
		return err
	}
	if tx.Status == entities.OfframpStatusCompleted {
		return nil
	}

	_, err = s.repo.Transition(ctx, tx.ID, entities.OfframpStatusSettledStable, repositories.OfframpMutation{
		Status: entities.OfframpStatusCompleted,
	})
	if err != nil {
		if domainerrors.IsConflict(err) {
			return nil
		}
		return err
	}

	metrics.Payouts.WithLabelValues("completed").Inc()
	s.logger.Info("offramp completed", "transaction_id", tx.ID, "reference", reference)
	return nil
}

// HandleTransferFailed marks the transaction failed when the gateway rejects
// the transfer. Bank-side rejections are not retried automatically; the
// payout account needs operator attention.
func (s *Service) HandleTransferFailed(ctx context.Context, reference, reason string) error {
	tx, err := s.repo.GetByPayoutReference(ctx, reference)
	if err != nil {
		if domainerrors.IsNotFound(err) {
			s.logger.Warn("transfer failure webhook for unknown reference", "reference", reference)
			return nil
		}
		return err
	}
	if tx.Status.IsTerminal() {
		return nil
	}

	msg := reason
	if msg == "" {
		msg = "fiat transfer failed"
	}
	_, err = s.repo.Transition(ctx, tx.ID, entities.OfframpStatusSettledStable, repositories.OfframpMutation{
		Status:       entities.OfframpStatusFailed,
		ErrorMessage: &msg,
	})
	if err != nil {
		if domainerrors.IsConflict(err) {
			return nil
		}
		return err
	}

	metrics.Payouts.WithLabelValues("failed").Inc()
	s.logger.Error("fiat payout failed",
		"transaction_id", tx.ID,
		"reference", reference,
		"reason", msg,
	)
	return nil
}

// ResumePending re-drives non-terminal transactions: awaiting_deposit rows
// get a balance check, token_received rows a swap attempt, swapping rows an
// age-bounded reclaim, settled_stable rows a payout re-check. Called by the
// polling workers.
func (s *Service) ResumePending(ctx context.Context, status entities.OfframpStatus, limit int) error {
	txs, err := s.repo.ListByStatus(ctx, status, limit)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if _, err := s.CheckDeposit(ctx, tx.ID); err != nil {
			s.logger.Error("resume failed",
				"transaction_id", tx.ID,
				"status", string(status),
				"error", err,
			)
		}
	}
	return nil
}
