// Package upstream implements the Upstream Client (component B): a
// stateless client for the third-party university portal's Keycloak SSO and
// gRPC-Web application endpoints.
package upstream

import "github.com/campusbot/attendance-broker/internal/domain"

// LoginOutcome is a tagged union over the possible results of begin_login
// and submit_code (§4.B.1, §4.B.2). Exactly one of the concrete types below
// is produced per call; callers type-switch on the concrete type.
type LoginOutcome interface {
	isLoginOutcome()
}

// LoginSuccess carries a fresh set of session cookies.
type LoginSuccess struct {
	Cookies domain.CookieJar
}

func (LoginSuccess) isLoginOutcome() {}

// LoginTotpChallenge indicates Upstream raised a TOTP second-factor page.
type LoginTotpChallenge struct {
	ContinuationCookies  domain.CookieJar
	SubmitURL            string
	CredentialID         string
	AvailableCredentials []domain.OTPCredential
	// WrongCode is true when this challenge was produced by submit_code
	// re-classifying a persistent (rejected) OTP response.
	WrongCode bool
}

func (LoginTotpChallenge) isLoginOutcome() {}

// LoginEmailCodeChallenge indicates Upstream raised an email one-time-code page.
type LoginEmailCodeChallenge struct {
	ContinuationCookies domain.CookieJar
	SubmitURL           string
	WrongCode           bool
}

func (LoginEmailCodeChallenge) isLoginOutcome() {}

// LoginBadCredentials indicates Upstream rejected the login/password pair.
type LoginBadCredentials struct{}

func (LoginBadCredentials) isLoginOutcome() {}

// CallOutcome is a tagged union over the result of a generic invocation
// against Upstream (§4.B.3).
type CallOutcome interface {
	isCallOutcome()
}

// CallOk carries the raw response bytes of a successful call.
type CallOk struct {
	Bytes []byte
}

func (CallOk) isCallOutcome() {}

// CallUnauthorized indicates Upstream returned HTTP 401 or an equivalent
// session-dead indicator.
type CallUnauthorized struct{}

func (CallUnauthorized) isCallOutcome() {}

// CallEmpty indicates a 2xx response with a zero-length body. What an
// empty result means (a dead session, a missing record) is a per-call
// decision made by the caller, not the client.
type CallEmpty struct{}

func (CallEmpty) isCallOutcome() {}

// CallTransport indicates a transport-level failure (timeout, DNS, TLS,
// non-2xx/401 status).
type CallTransport struct {
	Detail string
}

func (CallTransport) isCallOutcome() {}
