package auto2fa

import (
	"context"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/upstream"
)

// codeSubmitter is the narrow slice of the Upstream Client the resolver
// calls: submitting a derived code against an already-raised challenge.
type codeSubmitter interface {
	SubmitCode(ctx context.Context, kind domain.ChallengeKind, code string, continuationCookies domain.CookieJar, submitURL, credentialID, userAgent string) upstream.LoginOutcome
}

// Resolver attempts to clear a TOTP-kind PendingChallenge automatically
// from a stored seed before the broker ever surfaces ChallengeRequired to
// a caller (§4.E).
type Resolver struct {
	submitter codeSubmitter
	clock     domain.Clock
}

// NewResolver creates a Resolver backed by submitter.
func NewResolver(submitter codeSubmitter, clock domain.Clock) *Resolver {
	return &Resolver{submitter: submitter, clock: clock}
}

// Outcome is the result of an auto-2FA attempt.
type Outcome struct {
	// Resolved is true when the derived code was accepted and Cookies now
	// holds a fresh session.
	Resolved bool
	Cookies  domain.CookieJar
	// LearnedCredentialID is set when this attempt succeeded and the user
	// had no credential_id on file yet — the caller should persist it so
	// future challenges skip the priority lookup.
	LearnedCredentialID string
}

// Attempt tries to clear challenge using user's stored TOTP seed. It only
// applies to ChallengeKindTOTP challenges; any other kind, a missing seed,
// or a seed that fails to derive a code is reported as unresolved, never
// as an error — the caller falls through to the interactive path without
// retrying (§4.E: wrong-code and corrupted-seed cases are treated alike).
func (r *Resolver) Attempt(ctx context.Context, user domain.User, challenge domain.PendingChallenge) Outcome {
	if challenge.Kind != domain.ChallengeKindTOTP {
		return Outcome{}
	}
	if !user.HasTOTPSeed() {
		return Outcome{}
	}

	code, err := GenerateTOTP(user.TOTPSeed.Expose(), r.clock.Now())
	if err != nil {
		return Outcome{}
	}

	// Priority: the credential the user has already confirmed works, else
	// whatever the challenge page itself offered as a default.
	credentialID := user.TOTPCredentialID
	if credentialID == "" {
		credentialID = challenge.CredentialID
	}

	result := r.submitter.SubmitCode(ctx, domain.ChallengeKindTOTP, code, challenge.ContinuationCookies, challenge.SubmitURL, credentialID, challenge.UserAgent)

	success, ok := result.(upstream.LoginSuccess)
	if !ok {
		return Outcome{}
	}

	outcome := Outcome{Resolved: true, Cookies: success.Cookies}
	if user.TOTPCredentialID == "" {
		outcome.LearnedCredentialID = credentialID
	}
	return outcome
}
