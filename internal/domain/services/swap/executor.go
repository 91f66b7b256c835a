// Package swap executes token → stablecoin conversions through an external
// aggregator, from deposit wallets the service controls.
package swap

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sendramp/ramp-service/internal/domain/entities"
	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/internal/infrastructure/aggregator"
	"github.com/sendramp/ramp-service/internal/infrastructure/chain"
	"github.com/sendramp/ramp-service/pkg/logger"
	"github.com/sendramp/ramp-service/pkg/metrics"
)

// Quoter fetches executable swap quotes from the aggregator.
type Quoter interface {
	GetSwapQuote(ctx context.Context, req aggregator.QuoteRequest) (*aggregator.Quote, error)
}

// ChainClient is the slice of the chain client the executor needs.
type ChainClient interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error)
	TransferToken(ctx context.Context, key *ecdsa.PrivateKey, token, to common.Address, amount *big.Int) (common.Hash, error)
	SendNative(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (common.Hash, error)
	SendCalldata(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, data []byte, value *big.Int, gasLimit uint64) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// FuelManager prepares a deposit wallet for the swap transaction.
type FuelManager interface {
	EnsureFuel(ctx context.Context, wallet common.Address) error
	EnsureAllowance(ctx context.Context, walletKey *ecdsa.PrivateKey, token, spender common.Address, needed *big.Int) error
}

// AttemptLog records every swap attempt, successful or not.
type AttemptLog interface {
	Append(ctx context.Context, rec *entities.SwapAttemptRecord) error
}

// Config holds the swap route and execution policy.
type Config struct {
	StableAddress    common.Address // buy side
	SettlementWallet common.Address // stable proceeds destination
	MasterWallet     common.Address // leftover gas destination
	SweepHoldback    *big.Int       // native balance reserved to pay the wallet's own fees
	SlippageBps      int
}

// Result describes a completed swap-and-forward.
type Result struct {
	SwapTxHash     string
	StableReceived *big.Int // smallest units of the stable token
}

// Executor swaps a deposit wallet's token balance for the stable token and
// forwards the proceeds to the settlement wallet.
type Executor struct {
	quoter   Quoter
	chain    ChainClient
	fuel     FuelManager
	attempts AttemptLog
	config   Config
	logger   *logger.Logger
}

// NewExecutor creates the swap executor.
func NewExecutor(quoter Quoter, chainClient ChainClient, fuel FuelManager, attempts AttemptLog, config Config, log *logger.Logger) *Executor {
	return &Executor{
		quoter:   quoter,
		chain:    chainClient,
		fuel:     fuel,
		attempts: attempts,
		config:   config,
		logger:   log,
	}
}

// Execute runs one swap attempt for the transaction: fuel the wallet, quote
// the route, approve the router, send the swap calldata, then forward the
// stable proceeds to the settlement wallet. sellAsset is the deposit's token
// contract, or nil for a native-asset deposit. The attempt is recorded either
// way; the caller owns the retry budget.
func (e *Executor) Execute(ctx context.Context, transactionID string, depositKey *ecdsa.PrivateKey, sellAsset *common.Address, sellAmount *big.Int, attempt int) (*Result, error) {
	ctx, span := otel.Tracer("swap.executor").Start(ctx, "Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction_id", transactionID),
		attribute.Int("attempt", attempt),
	)

	result, err := e.execute(ctx, depositKey, sellAsset, sellAmount)
	if err != nil {
		metrics.SwapAttempts.WithLabelValues("failed").Inc()
		e.appendAttempt(ctx, entities.NewFailedSwapAttempt(transactionID, attempt, "", err))
		return nil, err
	}

	metrics.SwapAttempts.WithLabelValues("succeeded").Inc()
	e.appendAttempt(ctx, entities.NewSwapAttempt(transactionID, attempt, result.SwapTxHash))

	e.logger.Info("swap executed and proceeds forwarded",
		"transaction_id", transactionID,
		"attempt", attempt,
		"swap_tx_hash", result.SwapTxHash,
		"stable_received", result.StableReceived.String(),
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, depositKey *ecdsa.PrivateKey, sellAsset *common.Address, sellAmount *big.Int) (*Result, error) {
	if sellAmount == nil || sellAmount.Sign() <= 0 {
		return nil, domainerrors.ValidationError("sell_amount", "sell amount must be positive")
	}
	wallet := chain.KeyAddress(depositKey)

	sellToken := aggregator.NativeToken
	if sellAsset != nil {
		sellToken = sellAsset.Hex()

		// Token sales need sponsored gas and a router allowance. A native
		// sale pays its own gas out of the deposit, so the holdback is
		// carved out of the sell amount instead.
		if err := e.fuel.EnsureFuel(ctx, wallet); err != nil {
			return nil, err
		}
	} else if e.config.SweepHoldback != nil {
		sellAmount = new(big.Int).Sub(sellAmount, e.config.SweepHoldback)
		if sellAmount.Sign() <= 0 {
			return nil, domainerrors.ValidationError("sell_amount", "native deposit too small to cover gas")
		}
	}

	quote, err := e.quoter.GetSwapQuote(ctx, aggregator.QuoteRequest{
		SellToken:   sellToken,
		BuyToken:    e.config.StableAddress.Hex(),
		SellAmount:  sellAmount,
		Taker:       wallet.Hex(),
		SlippageBps: e.config.SlippageBps,
	})
	if err != nil {
		return nil, err
	}

	if sellAsset != nil {
		spender := common.HexToAddress(quote.AllowanceTarget)
		if err := e.fuel.EnsureAllowance(ctx, depositKey, *sellAsset, spender, sellAmount); err != nil {
			return nil, err
		}
	}

	before, err := e.chain.TokenBalance(ctx, e.config.StableAddress, wallet)
	if err != nil {
		return nil, domainerrors.TransientError("chain RPC", err)
	}

	swapHash, err := e.chain.SendCalldata(ctx, depositKey, common.HexToAddress(quote.To), quote.Data, quote.Value, quote.Gas)
	if err != nil {
		return nil, domainerrors.TransientError("chain RPC", err)
	}
	if _, err := e.chain.WaitMined(ctx, swapHash); err != nil {
		return nil, domainerrors.TransientError("chain RPC", err)
	}

	after, err := e.chain.TokenBalance(ctx, e.config.StableAddress, wallet)
	if err != nil {
		return nil, domainerrors.TransientError("chain RPC", err)
	}

	received := new(big.Int).Sub(after, before)
	if received.Sign() <= 0 {
		return nil, domainerrors.TransientError("aggregator", nil)
	}
	if quote.MinBuyAmount != nil && quote.MinBuyAmount.Sign() > 0 && received.Cmp(quote.MinBuyAmount) < 0 {
		e.logger.Warn("swap filled below the quoted minimum",
			"received", received.String(),
			"min_buy_amount", quote.MinBuyAmount.String(),
		)
	}

	forwardHash, err := e.chain.TransferToken(ctx, depositKey, e.config.StableAddress, e.config.SettlementWallet, received)
	if err != nil {
		return nil, domainerrors.TransientError("chain RPC", err)
	}
	if _, err := e.chain.WaitMined(ctx, forwardHash); err != nil {
		return nil, domainerrors.TransientError("chain RPC", err)
	}

	e.sweepGas(ctx, depositKey, wallet)

	return &Result{
		SwapTxHash:     swapHash.Hex(),
		StableReceived: received,
	}, nil
}

// sweepGas returns the deposit wallet's leftover native balance to the master
// wallet, minus the holdback that pays for the sweep itself. Best effort: a
// failed sweep strands some gas but never fails the settlement.
func (e *Executor) sweepGas(ctx context.Context, depositKey *ecdsa.PrivateKey, wallet common.Address) {
	if e.config.SweepHoldback == nil || (e.config.MasterWallet == common.Address{}) {
		return
	}

	balance, err := e.chain.NativeBalance(ctx, wallet)
	if err != nil {
		e.logger.Warn("gas sweep skipped: balance read failed", "wallet", wallet.Hex(), "error", err)
		return
	}
	leftover := new(big.Int).Sub(balance, e.config.SweepHoldback)
	if leftover.Sign() <= 0 {
		return
	}

	hash, err := e.chain.SendNative(ctx, depositKey, e.config.MasterWallet, leftover)
	if err != nil {
		e.logger.Warn("gas sweep failed", "wallet", wallet.Hex(), "error", err)
		return
	}
	if _, err := e.chain.WaitMined(ctx, hash); err != nil {
		e.logger.Warn("gas sweep not confirmed", "wallet", wallet.Hex(), "tx_hash", hash.Hex(), "error", err)
		return
	}
	e.logger.Debug("leftover gas swept to master wallet",
		"wallet", wallet.Hex(),
		"amount", leftover.String(),
	)
}

func (e *Executor) appendAttempt(ctx context.Context, rec *entities.SwapAttemptRecord) {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.attempts.Append(appendCtx, rec); err != nil {
		e.logger.Error("failed to record swap attempt",
			"transaction_id", rec.TransactionID,
			"error", err,
		)
	}
}
