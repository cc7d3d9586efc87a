package domain

import "time"

// OTPCredential is one selectable second-factor credential offered by a
// TOTP challenge page (label + opaque id).
type OTPCredential struct {
	Label string
	ID    string
}

// PendingChallenge is the single in-flight second-factor challenge for a
// user (§3.1). At most one row exists per user at a time.
type PendingChallenge struct {
	UserID                UserID
	ContinuationCookies   CookieJar
	SubmitURL             string
	CredentialID          string
	AvailableCredentials  []OTPCredential
	Kind                  ChallengeKind
	Origin                ChallengeOrigin
	UserAgent             string
	CreatedAt             time.Time
	ExpiresAt             time.Time
	// LastNotifiedAt is nil when no out-of-band notification has ever been
	// sent for this user's challenge lineage. It survives replacement of
	// the row (§4.D) to keep the 24h notification floor intact.
	LastNotifiedAt *time.Time
}

// IsExpired reports whether the challenge is no longer valid as of now.
// A row with ExpiresAt in the past is treated as absent (§3.1 invariant).
func (c PendingChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// InheritNotification copies LastNotifiedAt from a predecessor row so the
// 24h floor survives challenge replacement (§4.D put semantics); when both
// rows carry one, the later timestamp is kept.
func (c PendingChallenge) InheritNotification(previous *PendingChallenge) PendingChallenge {
	if previous != nil && previous.LastNotifiedAt != nil &&
		(c.LastNotifiedAt == nil || previous.LastNotifiedAt.After(*c.LastNotifiedAt)) {
		c.LastNotifiedAt = previous.LastNotifiedAt
	}
	return c
}

// NeedsNotification reports whether the notification floor has elapsed
// since LastNotifiedAt (§4.F maybe_notify).
func (c PendingChallenge) NeedsNotification(now time.Time, floor time.Duration) bool {
	if c.LastNotifiedAt == nil {
		return true
	}
	return now.Sub(*c.LastNotifiedAt) >= floor
}
