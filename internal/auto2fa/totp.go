// Package auto2fa implements the Auto-2FA Resolver (component E): deriving
// a TOTP code from a user's stored seed and submitting it against a
// TOTP-kind PendingChallenge before falling back to the interactive path.
//
// No TOTP library exists anywhere in the retrieved corpus, so the RFC 6238
// derivation is hand-rolled on crypto/hmac + crypto/sha1, the same library
// family (and similar shape) as the teacher's own hand-rolled HMAC-based
// one-time-code helpers.
package auto2fa

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// GenerateTOTP derives the current RFC 6238 code for seed at instant now:
// 30-second period, SHA-1, 6 digits, no window tolerance either side (§4.E
// — a skewed code simply falls through to the interactive path rather than
// being retried against adjacent windows).
func GenerateTOTP(seed []byte, now time.Time) (string, error) {
	if len(seed) == 0 {
		return "", fmt.Errorf("auto2fa: empty TOTP seed")
	}

	counter := uint64(now.Unix()) / uint64(domain.TOTPPeriod.Seconds())

	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	mac := hmac.New(sha1.New, seed)
	mac.Write(counterBytes[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < domain.TOTPDigits; i++ {
		mod *= 10
	}
	code := truncated % mod

	return fmt.Sprintf("%0*d", domain.TOTPDigits, code), nil
}
