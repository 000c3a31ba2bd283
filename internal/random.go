package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
)

// ResetTokenLength is the length of a password reset token.
const ResetTokenLength = 32

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewResetToken returns a random URL-safe password reset token.
func NewResetToken() (string, error) {
	return randomString(ResetTokenLength, tokenAlphabet)
}

// HashResetToken is the form a reset token is stored in. The plaintext only
// ever leaves the process inside the reset email.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomString(n int, alphabet string) (string, error) {
	if n <= 0 || alphabet == "" {
		return "", errors.New("invalid random string request")
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
