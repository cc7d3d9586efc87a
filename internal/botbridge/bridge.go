// Package botbridge implements the Bot Bridge (component I): routing an
// authenticated user's inbound chat messages to either a pending-challenge
// code submission or an authenticator-export QR payload that seeds
// auto-2FA (§4.I).
package botbridge

import (
	"context"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/ratelimit"
)

// codeSubmitter is the narrow slice of the Session Broker façade the
// bridge needs to answer a pending challenge.
type codeSubmitter interface {
	SubmitCode(ctx context.Context, userID domain.UserID, code string) error
}

// seedStore is the narrow slice of the User store the bridge needs to
// persist a newly learned auto-2FA seed.
type seedStore interface {
	SetTOTPSeed(ctx context.Context, userID domain.UserID, seed domain.SecretBytes) error
}

// inboundLimiter guards the one inbound surface this service exposes to an
// end user directly: chat messages. It is the same per-identifier
// fixed-window limiter (§5) the rest of the broker's (out-of-scope) HTTP surface would
// use, keyed here by user id rather than a bearer token or client IP.
type inboundLimiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}

// Bridge routes inbound chat-bot messages for an authenticated user.
type Bridge struct {
	broker      codeSubmitter
	users       seedStore
	limiter     inboundLimiter
	issuerAllow []string
}

// New creates a Bridge. issuerAllow is a small allow-list of issuer
// substrings (matched case-insensitively) identifying Upstream's own
// authenticator entries among a multi-account export. The Bridge has no
// rate limiter until WithLimiter attaches one.
func New(broker codeSubmitter, users seedStore, issuerAllow []string) *Bridge {
	return &Bridge{broker: broker, users: users, issuerAllow: issuerAllow}
}

// WithLimiter attaches a rate limiter guarding HandleCode against a
// code-guessing flood, keyed by user id (§5).
func (b *Bridge) WithLimiter(limiter inboundLimiter) *Bridge {
	b.limiter = limiter
	return b
}

// HandleCode answers userID's pending challenge with code — the short
// numeric string branch of §4.I.
func (b *Bridge) HandleCode(ctx context.Context, userID domain.UserID, code string) error {
	if b.limiter != nil {
		allowed, err := b.limiter.Allow(ctx, ratelimit.Identifier(userID.String(), "", ""))
		if err != nil {
			return fmt.Errorf("botbridge: check rate limit: %w", err)
		}
		if !allowed {
			return domain.ErrRateLimited
		}
	}
	return b.broker.SubmitCode(ctx, userID, strings.TrimSpace(code))
}

// HandleAuthenticatorExport parses an authenticator-export QR payload
// (either a Google-Authenticator `otpauth-migration://` export or a single
// `otpauth://totp/` URI), selects the entry belonging to Upstream, and
// seeds auto-2FA with it (§4.I).
func (b *Bridge) HandleAuthenticatorExport(ctx context.Context, userID domain.UserID, qrText string) error {
	entries, err := b.parseEntries(qrText)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("botbridge: no otp entries found in export")
	}

	entry, err := selectEntry(entries, b.issuerAllow)
	if err != nil {
		return err
	}
	if len(entry.secret) == 0 {
		return fmt.Errorf("botbridge: selected entry carries no secret")
	}

	return b.users.SetTOTPSeed(ctx, userID, domain.SecretBytes(entry.secret))
}

func (b *Bridge) parseEntries(qrText string) ([]otpEntry, error) {
	u, err := url.Parse(strings.TrimSpace(qrText))
	if err != nil {
		return nil, fmt.Errorf("botbridge: parse qr payload: %w", err)
	}

	switch u.Scheme {
	case "otpauth-migration":
		return parseMigrationURI(u)
	case "otpauth":
		entry, err := parseSingleOtpauthURI(u)
		if err != nil {
			return nil, err
		}
		return []otpEntry{entry}, nil
	default:
		return nil, fmt.Errorf("botbridge: unrecognized qr payload scheme %q", u.Scheme)
	}
}

// parseMigrationURI decodes the base64 `data` query parameter of an
// `otpauth-migration://offline?data=...` export.
func parseMigrationURI(u *url.URL) ([]otpEntry, error) {
	data := u.Query().Get("data")
	if data == "" {
		return nil, fmt.Errorf("botbridge: migration export missing data parameter")
	}

	raw, err := decodeMigrationData(data)
	if err != nil {
		return nil, fmt.Errorf("botbridge: decode migration data: %w", err)
	}
	return parseMigrationPayload(raw)
}

func decodeMigrationData(data string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(data); err == nil {
		return raw, nil
	}
	if raw, err := base64.RawStdEncoding.DecodeString(data); err == nil {
		return raw, nil
	}
	if raw, err := base64.URLEncoding.DecodeString(data); err == nil {
		return raw, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}

// parseSingleOtpauthURI decodes a standard `otpauth://totp/Label?secret=...`
// URI: the secret is base32 text (RFC 4648, no padding), not raw bytes, so
// it is decoded here rather than in the migration-payload path.
func parseSingleOtpauthURI(u *url.URL) (otpEntry, error) {
	secretB32 := u.Query().Get("secret")
	if secretB32 == "" {
		return otpEntry{}, fmt.Errorf("botbridge: otpauth uri missing secret parameter")
	}
	secret, err := decodeBase32Secret(secretB32)
	if err != nil {
		return otpEntry{}, fmt.Errorf("botbridge: decode otpauth secret: %w", err)
	}

	issuer := u.Query().Get("issuer")
	label := strings.TrimPrefix(u.Path, "/")
	if unescaped, err := url.PathUnescape(label); err == nil {
		label = unescaped
	}
	name := label
	if issuer == "" {
		if parts := strings.SplitN(label, ":", 2); len(parts) == 2 {
			issuer = parts[0]
			name = parts[1]
		}
	}

	return otpEntry{secret: secret, name: name, issuer: issuer}, nil
}

func decodeBase32Secret(s string) ([]byte, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if padded := len(s) % 8; padded != 0 {
		s += strings.Repeat("=", 8-padded)
	}
	return base32.StdEncoding.DecodeString(s)
}

// selectEntry picks the entry belonging to Upstream (§4.I): a multi-entry
// export must match one of the allow-listed issuer substrings, but a
// single-entry export passes through unconditionally even if its issuer is
// unrecognized or blank.
func selectEntry(entries []otpEntry, allowList []string) (otpEntry, error) {
	if len(entries) == 1 {
		return entries[0], nil
	}
	for _, e := range entries {
		if issuerAllowed(e, allowList) {
			return e, nil
		}
	}
	return otpEntry{}, domain.ErrWrongIssuer
}

func issuerAllowed(e otpEntry, allowList []string) bool {
	haystack := strings.ToLower(e.issuer + " " + e.name)
	for _, candidate := range allowList {
		if candidate == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(candidate)) {
			return true
		}
	}
	return false
}
