package chain

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
)

// TokenSender sends a fixed ERC-20 token from a fixed signing key. It is the
// settlement transfer primitive behind the on-ramp distribution trigger.
type TokenSender struct {
	client   *Client
	key      *ecdsa.PrivateKey
	token    common.Address
	decimals int32
}

// NewTokenSender creates a sender for the given token and signing key.
func NewTokenSender(client *Client, key *ecdsa.PrivateKey, token common.Address, decimals int32) *TokenSender {
	return &TokenSender{client: client, key: key, token: token, decimals: decimals}
}

// Send transfers amount tokens to the destination address and waits for the
// transaction to be mined. Returns the settlement transaction hash.
func (s *TokenSender) Send(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if !common.IsHexAddress(to) {
		return "", domainerrors.ValidationError("destination_address", "invalid destination address")
	}
	if !amount.IsPositive() {
		return "", domainerrors.ValidationError("amount", "transfer amount must be positive")
	}

	hash, err := s.client.TransferToken(ctx, s.key, s.token, common.HexToAddress(to), ToBaseUnits(amount, s.decimals))
	if err != nil {
		return "", err
	}

	if _, err := s.client.WaitMined(ctx, hash); err != nil {
		return "", err
	}

	return hash.Hex(), nil
}
