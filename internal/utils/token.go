package utils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// AccessTokenBytes is the entropy of a signing-link access token. 32 bytes
// encode to a 64 character hex string.
const AccessTokenBytes = 32

// ErrTokenEntropy is returned when the system random source fails.
var ErrTokenEntropy = errors.New("access token: random source unavailable")

// TokenSource produces signing-link access tokens. The default source reads
// crypto/rand; tests substitute a deterministic one to exercise the
// collision retry path.
type TokenSource func() (string, error)

// NewSigningToken returns a fresh access token. Tokens carry no structure:
// they are not derived from ids, counters or time, only from the system
// CSPRNG.
func NewSigningToken() (string, error) {
	tok, err := randomHex(AccessTokenBytes)
	if err != nil {
		return "", errors.Join(ErrTokenEntropy, err)
	}
	return tok, nil
}

// ValidAccessToken reports whether s has the shape of a token minted by
// NewSigningToken. Malformed tokens are rejected before any store lookup.
func ValidAccessToken(s string) bool {
	if len(s) != AccessTokenBytes*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// randomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
