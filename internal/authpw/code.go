package authpw

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

// CodeTTL bounds how long a verification or reset code stays usable.
const CodeTTL = 15 * time.Minute

var codeSpan = big.NewInt(900000)

// GenerateCode returns a random six digit code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// codeMatches checks a submitted code against the stored pair. A missing
// code or timestamp never matches; neither does a code older than CodeTTL.
func codeMatches(stored *string, requestedAt *time.Time, submitted string, now time.Time) (match, expired bool) {
	if stored == nil || requestedAt == nil || *stored == "" {
		return false, false
	}
	if subtle.ConstantTimeCompare([]byte(*stored), []byte(submitted)) != 1 {
		return false, false
	}
	if now.Sub(*requestedAt) > CodeTTL {
		return true, true
	}
	return true, false
}
