// Package base62 provides random base62 strings suitable for OIDC state,
// nonce and session identifiers.
package base62

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Random generates a cryptographically random base62 string of the given
// length.
func Random(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("base62.Random: length must be greater than zero")
	}
	max := big.NewInt(int64(len(charset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("base62.Random: unable to read random bytes: %w", err)
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}
