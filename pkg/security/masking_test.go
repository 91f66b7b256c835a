package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskAccountNumber(t *testing.T) {
	assert.Equal(t, "******6789", MaskAccountNumber("0123456789"))
	assert.Equal(t, "****", MaskAccountNumber("1234"))
	assert.Equal(t, "**", MaskAccountNumber("12"))
	assert.Equal(t, "", MaskAccountNumber(""))
}

func TestMaskAddress(t *testing.T) {
	masked := MaskAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
	assert.Equal(t, "0x742d...f44e", masked)
	assert.Equal(t, "0xshort", MaskAddress("0xshort"))
}
