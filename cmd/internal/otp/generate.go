package otp

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// generateCode returns n uniformly distributed decimal digits.
// Leading zeros are kept so every code has exactly n digits.
func generateCode(r io.Reader, n int) (string, error) {
	if n <= 0 || n > 18 {
		return "", fmt.Errorf("otp: invalid code length %d", n)
	}
	if r == nil {
		r = rand.Reader
	}

	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(r, limit)
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}
