package conversion

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCalculator(t *testing.T, feePercent string) *Calculator {
	t.Helper()
	c, err := NewCalculator(decimal.RequireFromString(feePercent))
	require.NoError(t, err)
	return c
}

func TestFee(t *testing.T) {
	c := mustCalculator(t, "2.5")

	fee, err := c.Fee(decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromInt(250)), "fee = %s", fee)
}

func TestFee_RoundsUpToKobo(t *testing.T) {
	c := mustCalculator(t, "2.5")

	// 2.5% of 101 = 2.525, rounds up to 2.53
	fee, err := c.Fee(decimal.NewFromInt(101))
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("2.53")), "fee = %s", fee)
}

func TestFee_RejectsNonPositiveAmount(t *testing.T) {
	c := mustCalculator(t, "2.5")

	_, err := c.Fee(decimal.Zero)
	assert.Error(t, err)

	_, err = c.Fee(decimal.NewFromInt(-100))
	assert.Error(t, err)
}

func TestFinalTokenAmount_WorkedExample(t *testing.T) {
	// 10,000 NGN at 50 NGN/token with a 2.5% fee:
	// feeFiat = 250, tokenAmount = (10000-250)/50 = 195
	c := mustCalculator(t, "2.5")

	fiat := decimal.NewFromInt(10000)
	rate := decimal.NewFromInt(50)

	feeFiat, err := c.Fee(fiat)
	require.NoError(t, err)
	assert.True(t, feeFiat.Equal(decimal.NewFromInt(250)))

	tokens, err := c.FinalTokenAmount(fiat, feeFiat, rate)
	require.NoError(t, err)
	assert.True(t, tokens.Equal(decimal.NewFromInt(195)), "tokens = %s", tokens)
}

func TestFinalTokenAmount_RejectsBadInputs(t *testing.T) {
	c := mustCalculator(t, "2.5")

	_, err := c.FinalTokenAmount(decimal.Zero, decimal.Zero, decimal.NewFromInt(50))
	assert.Error(t, err, "zero fiat amount")

	_, err = c.FinalTokenAmount(decimal.NewFromInt(100), decimal.Zero, decimal.Zero)
	assert.Error(t, err, "zero rate")

	_, err = c.FinalTokenAmount(decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(-1))
	assert.Error(t, err, "negative rate")

	_, err = c.FinalTokenAmount(decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(50))
	assert.Error(t, err, "fee equal to fiat amount")
}

func TestFinalTokenAmount_MonotonicInFiatAmount(t *testing.T) {
	c := mustCalculator(t, "2.5")
	rate := decimal.NewFromInt(50)

	prev := decimal.Zero
	for _, fiat := range []int64{1000, 2000, 5000, 10000, 50000, 100000} {
		amount := decimal.NewFromInt(fiat)
		fee, err := c.Fee(amount)
		require.NoError(t, err)
		tokens, err := c.FinalTokenAmount(amount, fee, rate)
		require.NoError(t, err)
		assert.True(t, tokens.GreaterThan(prev),
			"tokens(%d) = %s should exceed %s", fiat, tokens, prev)
		prev = tokens
	}
}

func TestFinalTokenAmount_MonotonicInRate(t *testing.T) {
	c := mustCalculator(t, "2.5")
	fiat := decimal.NewFromInt(10000)
	fee, err := c.Fee(fiat)
	require.NoError(t, err)

	prev := decimal.NewFromInt(1 << 30)
	for _, rate := range []int64{10, 25, 50, 100, 500} {
		tokens, err := c.FinalTokenAmount(fiat, fee, decimal.NewFromInt(rate))
		require.NoError(t, err)
		assert.True(t, tokens.LessThan(prev),
			"tokens at rate %d = %s should be below %s", rate, tokens, prev)
		prev = tokens
	}
}

func TestFinalTokenAmount_RoundsDown(t *testing.T) {
	c := mustCalculator(t, "0")

	// 100 / 3 has no exact decimal representation; the result must be
	// floored at 18 places so custody is never over-credited.
	tokens, err := c.FinalTokenAmount(decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(3))
	require.NoError(t, err)

	reconstructed := tokens.Mul(decimal.NewFromInt(3))
	assert.True(t, reconstructed.LessThanOrEqual(decimal.NewFromInt(100)),
		"floored amount times rate must not exceed the fiat paid")
}

func TestQuote_Deterministic(t *testing.T) {
	c := mustCalculator(t, "2.5")
	fiat := decimal.RequireFromString("12345.67")
	rate := decimal.RequireFromString("48.2")

	feeFiat1, feeToken1, tokens1, err := c.Quote(fiat, rate)
	require.NoError(t, err)
	feeFiat2, feeToken2, tokens2, err := c.Quote(fiat, rate)
	require.NoError(t, err)

	assert.True(t, feeFiat1.Equal(feeFiat2))
	assert.True(t, feeToken1.Equal(feeToken2))
	assert.True(t, tokens1.Equal(tokens2))
}

func TestNewCalculator_RejectsBadPolicy(t *testing.T) {
	_, err := NewCalculator(decimal.NewFromInt(-1))
	assert.Error(t, err)

	_, err = NewCalculator(decimal.NewFromInt(100))
	assert.Error(t, err)
}
