// Package gas keeps derived deposit wallets fueled and approved. Deposit
// wallets start empty, so every swap is preceded by a native top-up from the
// master wallet and an ERC-20 allowance grant to the swap router.
package gas

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
	"github.com/sendramp/ramp-service/internal/infrastructure/chain"
	"github.com/sendramp/ramp-service/pkg/logger"
	"github.com/sendramp/ramp-service/pkg/metrics"
)

const (
	masterLockKey  = "gas:master-wallet"
	masterLockTTL  = time.Minute
	masterLockWait = 30 * time.Second
)

// ChainClient is the slice of the chain client the fuel manager needs.
type ChainClient interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error)
	SendNative(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Locker provides short-TTL mutual exclusion for master wallet debits.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Config holds the top-up policy in wei.
type Config struct {
	// TopUpAmount is sent to a deposit wallet per top-up.
	TopUpAmount *big.Int
	// Threshold is the native balance below which a wallet needs fuel.
	Threshold *big.Int
	// MasterReserve is the floor the master wallet never debits below.
	MasterReserve *big.Int
}

// Manager funds deposit wallets from the master wallet and manages router
// allowances. Master debits are serialized through a lock and rate limited
// so a burst of deposits cannot drain the wallet in one poll cycle.
type Manager struct {
	chain     ChainClient
	masterKey *ecdsa.PrivateKey
	locker    Locker
	limiter   *rate.Limiter
	config    Config
	logger    *logger.Logger
}

// NewManager creates the fuel manager. The limiter bounds master wallet
// debits to one per two seconds with a small burst.
func NewManager(chainClient ChainClient, masterKey *ecdsa.PrivateKey, locker Locker, config Config, log *logger.Logger) *Manager {
	return &Manager{
		chain:     chainClient,
		masterKey: masterKey,
		locker:    locker,
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 3),
		config:    config,
		logger:    log,
	}
}

// EnsureFuel tops up the wallet's native balance from the master wallet when
// it is below the threshold. A no-op when the wallet already holds enough.
func (m *Manager) EnsureFuel(ctx context.Context, wallet common.Address) error {
	balance, err := m.chain.NativeBalance(ctx, wallet)
	if err != nil {
		return domainerrors.TransientError("chain RPC", err)
	}
	if balance.Cmp(m.config.Threshold) >= 0 {
		return nil
	}

	acquired, err := m.locker.Acquire(ctx, masterLockKey, masterLockTTL, masterLockWait)
	if err != nil {
		return domainerrors.TransientError("lock store", err)
	}
	if !acquired {
		return domainerrors.TransientError("gas manager", nil)
	}
	defer m.locker.Release(ctx, masterLockKey)

	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	// Re-check under the lock; a concurrent top-up may have landed.
	balance, err = m.chain.NativeBalance(ctx, wallet)
	if err != nil {
		return domainerrors.TransientError("chain RPC", err)
	}
	if balance.Cmp(m.config.Threshold) >= 0 {
		return nil
	}

	master := chain.KeyAddress(m.masterKey)
	masterBalance, err := m.chain.NativeBalance(ctx, master)
	if err != nil {
		return domainerrors.TransientError("chain RPC", err)
	}

	remaining := new(big.Int).Sub(masterBalance, m.config.TopUpAmount)
	if remaining.Cmp(m.config.MasterReserve) < 0 {
		m.logger.Error("master wallet below reserve, refusing top-up",
			"master_balance", masterBalance.String(),
			"reserve", m.config.MasterReserve.String(),
		)
		return domainerrors.TransientError("master wallet depleted", nil)
	}

	hash, err := m.chain.SendNative(ctx, m.masterKey, wallet, m.config.TopUpAmount)
	if err != nil {
		return domainerrors.TransientError("chain RPC", err)
	}
	if _, err := m.chain.WaitMined(ctx, hash); err != nil {
		return domainerrors.TransientError("chain RPC", err)
	}

	metrics.GasTopUps.Inc()
	m.logger.Info("deposit wallet topped up",
		"wallet", wallet.Hex(),
		"amount_wei", m.config.TopUpAmount.String(),
		"tx_hash", hash.Hex(),
	)
	return nil
}

// EnsureAllowance grants the spender an unbounded allowance from the wallet
// when the current allowance cannot cover the needed amount. The allowance
// is re-read after the approval confirms; a still-insufficient read means the
// chain state is lagging and the caller should retry.
func (m *Manager) EnsureAllowance(ctx context.Context, walletKey *ecdsa.PrivateKey, token, spender common.Address, needed *big.Int) error {
	owner := chain.KeyAddress(walletKey)

	current, err := m.chain.Allowance(ctx, token, owner, spender)
	if err != nil {
		return domainerrors.TransientError("chain RPC", err)
	}
	if current.Cmp(needed) >= 0 {
		return nil
	}

	hash, err := m.chain.Approve(ctx, walletKey, token, spender, chain.MaxAllowance)
	if err != nil {
		return domainerrors.TransientError("chain RPC", err)
	}
	if _, err := m.chain.WaitMined(ctx, hash); err != nil {
		return domainerrors.TransientError("chain RPC", err)
	}

	current, err = m.chain.Allowance(ctx, token, owner, spender)
	if err != nil {
		return domainerrors.TransientError("chain RPC", err)
	}
	if current.Cmp(needed) < 0 {
		return domainerrors.TransientError("allowance not yet visible", nil)
	}

	m.logger.Info("router allowance granted",
		"owner", owner.Hex(),
		"token", token.Hex(),
		"spender", spender.Hex(),
	)
	return nil
}
