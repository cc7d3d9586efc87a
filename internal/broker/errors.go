package broker

import (
	"fmt"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// ChallengeRequiredError is the structured form of domain.ErrChallengeRequired
// (§4.G.3): every caller-facing surface (HTTP handler, bot bridge, mass-marking
// engine) needs the kind/origin/credential list to decide what to show next,
// not just the sentinel.
type ChallengeRequiredError struct {
	Kind        domain.ChallengeKind
	Origin      domain.ChallengeOrigin
	Credentials []domain.OTPCredential
}

func (e *ChallengeRequiredError) Error() string {
	return fmt.Sprintf("broker: challenge required (kind=%s origin=%s)", e.Kind, e.Origin)
}

// Unwrap lets callers use errors.Is(err, domain.ErrChallengeRequired).
func (e *ChallengeRequiredError) Unwrap() error { return domain.ErrChallengeRequired }

// WrongCodeError is the structured form of domain.ErrWrongCode: the
// challenge is still pending, possibly with a fresh set of credential
// choices Upstream re-rendered on the rejection page.
type WrongCodeError struct {
	Credentials []domain.OTPCredential
}

func (e *WrongCodeError) Error() string { return "broker: submitted code was rejected" }

func (e *WrongCodeError) Unwrap() error { return domain.ErrWrongCode }
