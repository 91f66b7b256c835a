// Package chain wraps the blockchain RPC surface used by the settlement
// core: balance reads, ERC-20 calls, transaction submission and confirmation
// waits. All waits are bounded by the configured confirmation timeout.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
)

const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// MaxAllowance is the practically-unlimited ERC-20 allowance granted to the
// swap router so repeated approvals are avoided.
var MaxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Client talks to an EVM chain over JSON-RPC.
type Client struct {
	eth            *ethclient.Client
	chainID        *big.Int
	erc20          abi.ABI
	confirmTimeout time.Duration
	logger         *zap.Logger
}

// NewClient dials the RPC endpoint and verifies the chain id matches.
func NewClient(rpcURL string, chainID int64, confirmTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	remoteID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if remoteID.Int64() != chainID {
		return nil, fmt.Errorf("chain id mismatch: configured %d, node reports %s", chainID, remoteID)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	if confirmTimeout == 0 {
		confirmTimeout = 3 * time.Minute
	}

	return &Client{
		eth:            eth,
		chainID:        big.NewInt(chainID),
		erc20:          parsed,
		confirmTimeout: confirmTimeout,
		logger:         logger,
	}, nil
}

// ParseKey decodes a hex-encoded secp256k1 private key.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

// KeyAddress returns the address controlled by the given key.
func KeyAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// NativeBalance returns the native-asset balance of an address.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, domainerrors.TransientError("chain RPC", err)
	}
	return balance, nil
}

// TokenBalance returns the ERC-20 balance of an address.
func (c *Client) TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error) {
	return c.callUint256(ctx, token, "balanceOf", addr)
}

// Allowance returns the ERC-20 allowance granted by owner to spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint256(ctx, token, "allowance", owner, spender)
}

func (c *Client) callUint256(ctx context.Context, contract common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := c.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, domainerrors.TransientError("chain RPC", err)
	}

	results, err := c.erc20.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}

	value, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, results[0])
	}
	return value, nil
}

// Approve grants spender an allowance on the token held by key's address.
func (c *Client) Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := c.erc20.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approve: %w", err)
	}
	return c.SendCalldata(ctx, key, token, data, nil, 0)
}

// TransferToken sends an ERC-20 transfer from key's address.
func (c *Client) TransferToken(ctx context.Context, key *ecdsa.PrivateKey, token, to common.Address, amount *big.Int) (common.Hash, error) {
	data, err := c.erc20.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack transfer: %w", err)
	}
	return c.SendCalldata(ctx, key, token, data, nil, 0)
}

// SendNative transfers native asset from key's address.
func (c *Client) SendNative(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (common.Hash, error) {
	return c.SendCalldata(ctx, key, to, nil, amount, 21000)
}

// SendCalldata signs and submits a transaction carrying the given calldata.
// Gas is estimated when gasLimit is zero.
func (c *Client) SendCalldata(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, data []byte, value *big.Int, gasLimit uint64) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, domainerrors.TransientError("chain RPC", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, domainerrors.TransientError("chain RPC", err)
	}

	if gasLimit == 0 {
		gasLimit, err = c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return common.Hash{}, domainerrors.TransientError("chain RPC", err)
		}
		// Headroom for estimation drift between quote and submission.
		gasLimit = gasLimit * 120 / 100
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, domainerrors.TransientError("chain RPC", err)
	}

	c.logger.Debug("transaction submitted",
		zap.String("hash", signed.Hash().Hex()),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
	)

	return signed.Hash(), nil
}

// WaitMined polls for the transaction receipt until the confirmation timeout.
// A reverted transaction is returned as an error with the receipt attached.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return receipt, nil
		}
		if err != ethereum.NotFound {
			c.logger.Debug("receipt poll failed", zap.Error(err), zap.String("hash", hash.Hex()))
		}

		select {
		case <-ctx.Done():
			return nil, domainerrors.TransientError("chain RPC",
				fmt.Errorf("confirmation wait for %s timed out", hash.Hex()))
		case <-ticker.C:
		}
	}
}
