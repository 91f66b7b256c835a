// Package security masks sensitive values before they reach logs: bank
// account numbers, wallet addresses, and gateway references all identify a
// real person's money.
package security

// MaskAccountNumber keeps the last four digits of a bank account number.
func MaskAccountNumber(account string) string {
	if len(account) <= 4 {
		return mask(len(account))
	}
	return mask(len(account)-4) + account[len(account)-4:]
}

// MaskAddress shortens a hex wallet address to its first six and last four
// characters, enough to eyeball-match in logs without being pasteable.
func MaskAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func mask(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '*'
	}
	return string(b)
}
