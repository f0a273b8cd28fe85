package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"math/big"
	"strings"
)

// CodeAlphabet omits characters that are easy to confuse when read aloud
// or copied by hand (0/O, 1/I/L).
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateVerificationCode returns a uniformly random code of length
// characters drawn from CodeAlphabet.
func GenerateVerificationCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("code length must be positive")
	}
	max := big.NewInt(int64(len(CodeAlphabet)))
	var sb strings.Builder
	sb.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(CodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// CodesEqual compares a stored code with user input in constant time.
// Input is trimmed and upper-cased first; codes are case-insensitive.
func CodesEqual(stored, input string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(input))
	return subtle.ConstantTimeCompare([]byte(stored), []byte(normalized)) == 1
}
