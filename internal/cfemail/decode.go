// Package cfemail decodes the email-obfuscation scheme used by the portal:
// a hex token whose first byte is an XOR key and whose remaining bytes are
// the address ciphered against that key.
package cfemail

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrDecode = errors.New("cfemail: cannot decode token")

// Decode turns an obfuscated hex token into a plaintext email address.
// The token must be valid hex of even length with at least one key byte
// and one payload byte; anything else fails with ErrDecode and never
// returns a partial string.
func Decode(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrDecode)
	}
	if len(token)%2 != 0 {
		return "", fmt.Errorf("%w: odd length %d", ErrDecode, len(token))
	}
	raw, err := hex.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(raw) < 2 {
		return "", fmt.Errorf("%w: token too short", ErrDecode)
	}

	key := raw[0]
	out := make([]byte, 0, len(raw)-1)
	for _, b := range raw[1:] {
		out = append(out, b^key)
	}
	return string(out), nil
}

// Encode is the inverse of Decode; tests and fixtures use it to build
// tokens from a known key and address.
func Encode(key byte, addr string) string {
	raw := make([]byte, 0, len(addr)+1)
	raw = append(raw, key)
	for i := 0; i < len(addr); i++ {
		raw = append(raw, addr[i]^key)
	}
	return hex.EncodeToString(raw)
}

// LooksLikeEmail is the cheap plausibility check applied to decoded
// output before it is trusted as a recipient.
func LooksLikeEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	return strings.Contains(s[at+1:], ".")
}
