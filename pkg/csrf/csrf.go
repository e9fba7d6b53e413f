// Package csrf mints and validates HMAC-based CSRF tokens bound to a
// gateway session identifier. Tokens are double-submit style: the value
// rides in a script-readable cookie and must come back on a header for
// mutating requests.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const randLength = 32

// formMessage length-prefixes both fields so distinct (sessionID, randValue)
// pairs can never collide on the signed bytes.
func formMessage(sessionID, randValue string) []byte {
	return fmt.Appendf(nil, "%d!%s!%d!%s", len(sessionID), sessionID, len(randValue), randValue)
}

func sign(sessionID, randValue string, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(formMessage(sessionID, randValue))

	return hex.EncodeToString(hash.Sum(nil))
}

// NewToken mints a fresh token for sessionID, of the form
// hex(hmac) "." randValue.
func NewToken(sessionID string, key []byte) string {
	buf := make([]byte, randLength)
	_, _ = rand.Read(buf)
	randValue := hex.EncodeToString(buf)

	return sign(sessionID, randValue, key) + "." + randValue
}

// Validate reports whether token was minted for sessionID under key.
func Validate(token, sessionID string, key []byte) bool {
	macHex, randValue, found := strings.Cut(token, ".")
	if !found || randValue == "" {
		return false
	}

	mac, err := hex.DecodeString(macHex)
	if err != nil {
		return false
	}

	hash := hmac.New(sha256.New, key)
	hash.Write(formMessage(sessionID, randValue))

	return hmac.Equal(mac, hash.Sum(nil))
}
