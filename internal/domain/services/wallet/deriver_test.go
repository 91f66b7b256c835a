package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

func TestDerive_Deterministic(t *testing.T) {
	d, err := NewDeriver(testSecret)
	require.NoError(t, err)

	addr1, key1, err := d.Derive("user-42")
	require.NoError(t, err)

	// A fresh deriver simulates a process restart.
	d2, err := NewDeriver(testSecret)
	require.NoError(t, err)

	addr2, key2, err := d2.Derive("user-42")
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
	assert.Equal(t, key1.D, key2.D)
}

func TestDerive_DistinctOwnersDistinctAddresses(t *testing.T) {
	d, err := NewDeriver(testSecret)
	require.NoError(t, err)

	seen := make(map[string]string)
	for _, owner := range []string{"alice@example.com", "bob@example.com", "user-1", "user-2", "acct:99"} {
		addr, _, err := d.Derive(owner)
		require.NoError(t, err)
		prev, dup := seen[addr.Hex()]
		assert.False(t, dup, "owners %q and %q collided on %s", prev, owner, addr.Hex())
		seen[addr.Hex()] = owner
	}
}

func TestDerive_NormalizesOwnerIdentifier(t *testing.T) {
	d, err := NewDeriver(testSecret)
	require.NoError(t, err)

	addr1, err := d.DeriveAddress("Alice@Example.com")
	require.NoError(t, err)
	addr2, err := d.DeriveAddress("  alice@example.com ")
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
}

func TestDerive_DifferentSecretsDifferentAddresses(t *testing.T) {
	d1, err := NewDeriver(testSecret)
	require.NoError(t, err)
	d2, err := NewDeriver(testSecret + "-other")
	require.NoError(t, err)

	addr1, err := d1.DeriveAddress("user-42")
	require.NoError(t, err)
	addr2, err := d2.DeriveAddress("user-42")
	require.NoError(t, err)

	assert.NotEqual(t, addr1, addr2)
}

func TestDerive_RejectsEmptyOwner(t *testing.T) {
	d, err := NewDeriver(testSecret)
	require.NoError(t, err)

	_, _, err = d.Derive("   ")
	assert.Error(t, err)
}

func TestNewDeriver_RejectsShortSecret(t *testing.T) {
	_, err := NewDeriver("short")
	assert.Error(t, err)
}
