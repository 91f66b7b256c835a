// Package wallet derives per-owner deposit wallets. Keys are a pure function
// of (master secret, owner identifier): the same owner always maps to the
// same address, across restarts, without any key ever being persisted.
package wallet

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	domainerrors "github.com/sendramp/ramp-service/internal/domain/errors"
)

// Deriver produces deterministic deposit keypairs. The master secret is an
// injected configuration value with scoped access; it must never change once
// deposit addresses have been handed out.
type Deriver struct {
	masterSecret []byte
}

// NewDeriver creates a deriver from the master secret.
func NewDeriver(masterSecret string) (*Deriver, error) {
	if len(masterSecret) < 32 {
		return nil, domainerrors.ValidationError("master_secret", "master secret must be at least 32 bytes")
	}
	return &Deriver{masterSecret: []byte(masterSecret)}, nil
}

// Derive returns the deposit keypair for an owner identifier. The identifier
// is normalized (trimmed, lowercased) so case and whitespace variants of the
// same owner map to the same wallet.
//
// The key is HMAC-SHA256(masterSecret, owner) interpreted as a secp256k1
// scalar. HMAC output outside the curve order is rehashed until valid; in
// practice the first candidate is accepted.
func (d *Deriver) Derive(ownerIdentifier string) (common.Address, *ecdsa.PrivateKey, error) {
	owner := normalize(ownerIdentifier)
	if owner == "" {
		return common.Address{}, nil, domainerrors.ValidationError("owner_identifier", "owner identifier is required")
	}

	mac := hmac.New(sha256.New, d.masterSecret)
	mac.Write([]byte(owner))
	seed := mac.Sum(nil)

	for i := 0; i < 128; i++ {
		key, err := crypto.ToECDSA(seed)
		if err == nil {
			return crypto.PubkeyToAddress(key.PublicKey), key, nil
		}
		next := sha256.Sum256(seed)
		seed = next[:]
	}

	return common.Address{}, nil, domainerrors.ValidationError("owner_identifier", "could not derive a valid key")
}

// DeriveAddress returns only the deposit address for an owner identifier.
func (d *Deriver) DeriveAddress(ownerIdentifier string) (common.Address, error) {
	addr, _, err := d.Derive(ownerIdentifier)
	return addr, err
}

func normalize(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}
