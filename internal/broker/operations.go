package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/upstream"
	"github.com/campusbot/attendance-broker/pkg/protocol"
)

// SubmitLogin runs begin_login against the supplied login and password
// (§4.G.1): on success it verifies the session with an identity
// probe before trusting it, persists the credentials, and returns the
// user's current groups. On a second-factor challenge it tries auto-2FA
// before ever surfacing ChallengeRequired to the caller.
func (b *Broker) SubmitLogin(ctx context.Context, userID domain.UserID, login, password, userAgent string) ([]string, error) {
	outcome := b.upstream.BeginLogin(ctx, login, password, userAgent)

	switch o := outcome.(type) {
	case upstream.LoginSuccess:
		idBytes, callOutcome := b.probeIdentity(ctx, o.Cookies)
		switch co := callOutcome.(type) {
		case upstream.CallOk:
			_ = idBytes
		case upstream.CallEmpty:
			return nil, fmt.Errorf("broker: identity probe empty right after fresh sso: %w", domain.ErrCredentialsInvalid)
		case upstream.CallUnauthorized:
			return nil, fmt.Errorf("broker: identity probe unauthorized right after fresh sso: %w", domain.ErrCredentialsInvalid)
		case upstream.CallTransport:
			return nil, fmt.Errorf("%w: %s", domain.ErrUpstreamTransient, co.Detail)
		default:
			return nil, fmt.Errorf("broker: unrecognized call outcome %T", callOutcome)
		}

		if err := b.persistCredentials(ctx, userID, login, password, userAgent); err != nil {
			return nil, err
		}
		if err := b.cache.Store(ctx, userID, o.Cookies); err != nil {
			return nil, err
		}
		if len(idBytes) > 0 {
			b.storeFIO(ctx, userID, idBytes)
		}
		return b.fetchAndStoreGroups(ctx, userID, o.Cookies), nil

	case upstream.LoginTotpChallenge:
		user := &domain.User{ID: userID}
		if existing, err := b.users.Get(ctx, userID); err == nil {
			user = existing
		} else if !errors.Is(err, domain.ErrUserNotFound) {
			return nil, fmt.Errorf("broker: load user for auto-2fa: %w", err)
		}

		pc := newPendingChallenge(userID, domain.ChallengeKindTOTP, domain.ChallengeOriginLogin, o.ContinuationCookies, o.SubmitURL, o.CredentialID, o.AvailableCredentials, userAgent, b.clock.Now())
		if res := b.auto2fa.Attempt(ctx, *user, pc); res.Resolved {
			if err := b.persistCredentials(ctx, userID, login, password, userAgent); err != nil {
				return nil, err
			}
			if err := b.cache.Store(ctx, userID, res.Cookies); err != nil {
				return nil, err
			}
			if res.LearnedCredentialID != "" {
				_ = b.users.SetTOTPCredentialID(ctx, userID, res.LearnedCredentialID)
			}
			return b.fetchAndStoreGroups(ctx, userID, res.Cookies), nil
		}

		// Password step passed; worth remembering even though 2FA is still
		// outstanding (§4.G.1).
		if err := b.persistCredentials(ctx, userID, login, password, userAgent); err != nil {
			return nil, err
		}
		if err := b.challenges.Put(ctx, userID, pc); err != nil {
			return nil, fmt.Errorf("broker: persist pending challenge: %w", err)
		}
		return nil, &ChallengeRequiredError{Kind: domain.ChallengeKindTOTP, Origin: domain.ChallengeOriginLogin, Credentials: o.AvailableCredentials}

	case upstream.LoginEmailCodeChallenge:
		if err := b.persistCredentials(ctx, userID, login, password, userAgent); err != nil {
			return nil, err
		}
		pc := newPendingChallenge(userID, domain.ChallengeKindEmailCode, domain.ChallengeOriginLogin, o.ContinuationCookies, o.SubmitURL, "", nil, userAgent, b.clock.Now())
		if err := b.challenges.Put(ctx, userID, pc); err != nil {
			return nil, fmt.Errorf("broker: persist pending challenge: %w", err)
		}
		return nil, &ChallengeRequiredError{Kind: domain.ChallengeKindEmailCode, Origin: domain.ChallengeOriginLogin}

	case upstream.LoginBadCredentials:
		return nil, domain.ErrCredentialsInvalid

	default:
		return nil, fmt.Errorf("broker: unrecognized login outcome %T", outcome)
	}
}

// SubmitCode answers a pending challenge with a user-supplied code (§4.G.2).
// A wrong code rotates the stored continuation state and is reported as
// WrongCodeError, never as a hard failure — the caller may try again.
func (b *Broker) SubmitCode(ctx context.Context, userID domain.UserID, code string) error {
	pc, err := b.challenges.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("broker: load pending challenge: %w", err)
	}
	if pc == nil {
		return domain.ErrNoActiveChallenge
	}

	outcome := b.upstream.SubmitCode(ctx, pc.Kind, code, pc.ContinuationCookies, pc.SubmitURL, pc.CredentialID, pc.UserAgent)
	switch o := outcome.(type) {
	case upstream.LoginTotpChallenge:
		if err := b.challenges.UpdateAfterWrongCode(ctx, userID, o.ContinuationCookies, o.SubmitURL); err != nil {
			return fmt.Errorf("broker: update after wrong code: %w", err)
		}
		return &WrongCodeError{Credentials: o.AvailableCredentials}

	case upstream.LoginEmailCodeChallenge:
		if err := b.challenges.UpdateAfterWrongCode(ctx, userID, o.ContinuationCookies, o.SubmitURL); err != nil {
			return fmt.Errorf("broker: update after wrong code: %w", err)
		}
		return &WrongCodeError{}

	case upstream.LoginBadCredentials:
		return domain.ErrCredentialsInvalid

	case upstream.LoginSuccess:
		if err := b.cache.Store(ctx, userID, o.Cookies); err != nil {
			return err
		}
		if err := b.challenges.Delete(ctx, userID); err != nil {
			return fmt.Errorf("broker: delete pending challenge: %w", err)
		}
		if pc.CredentialID != "" {
			if user, err := b.users.Get(ctx, userID); err == nil && user.TOTPCredentialID == "" {
				_ = b.users.SetTOTPCredentialID(ctx, userID, pc.CredentialID)
			}
		}
		if pc.Origin == domain.ChallengeOriginLogin {
			b.fetchAndStoreGroups(ctx, userID, o.Cookies)
			if idBytes, co := b.probeIdentity(ctx, o.Cookies); co != nil {
				if _, isOk := co.(upstream.CallOk); isOk {
					b.storeFIO(ctx, userID, idBytes)
				}
			}
		}
		return nil

	default:
		return fmt.Errorf("broker: unrecognized submit_code outcome %T", outcome)
	}
}

// GetIdentity returns the caller's best-effort display name from the
// identity probe (§4.G), rebuilding the session as needed.
func (b *Broker) GetIdentity(ctx context.Context, userID domain.UserID) (string, error) {
	raw, err := b.invoke(ctx, userID, domain.ChallengeOriginRefresh, func(jar domain.CookieJar) upstream.CallOutcome {
		return b.upstream.Call(ctx, http.MethodGet, identityURL, jar, nil, nil)
	})
	if err != nil {
		return "", err
	}
	return parseFIO(raw), nil
}

// FetchSchedule returns the caller's opaque schedule payload (§4.G),
// rebuilding the session as needed.
func (b *Broker) FetchSchedule(ctx context.Context, userID domain.UserID) ([]byte, error) {
	return b.invoke(ctx, userID, domain.ChallengeOriginRefresh, func(jar domain.CookieJar) upstream.CallOutcome {
		return b.upstream.Call(ctx, http.MethodGet, scheduleURL, jar, nil, nil)
	})
}

// SelfApprove calls Upstream's self-approve endpoint for userID with token
// (§4.H.2, §6): the mass-marking engine's sole per-target operation. Origin
// is always external — the caller is never the target acting on its own
// behalf, so any resulting challenge notification goes to the target as a
// background nudge, not as an answer to an interactive request of theirs.
func (b *Broker) SelfApprove(ctx context.Context, userID domain.UserID, token domain.SecretString, userAgent string) ([]byte, error) {
	frame := protocol.EncodeFrame(protocol.EncodeSelfApproveToken(token.Expose()), false)
	headers := map[string]string{"Content-Type": "application/grpc-web+proto"}
	if userAgent != "" {
		headers["User-Agent"] = userAgent
	}

	raw, err := b.invoke(ctx, userID, domain.ChallengeOriginExternal, func(jar domain.CookieJar) upstream.CallOutcome {
		return b.upstream.Call(ctx, http.MethodPost, selfApproveURL, jar, headers, frame)
	})
	if err != nil {
		return nil, err
	}

	frames, err := protocol.DecodeFrames(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode self-approve response: %v", domain.ErrUpstreamTransient, err)
	}
	for _, f := range frames {
		if !f.Trailer {
			return f.Payload, nil
		}
	}
	return nil, nil
}

func (b *Broker) probeIdentity(ctx context.Context, cookies domain.CookieJar) ([]byte, upstream.CallOutcome) {
	outcome := b.upstream.Call(ctx, http.MethodGet, identityURL, cookies, nil, nil)
	if ok, isOk := outcome.(upstream.CallOk); isOk {
		return ok.Bytes, outcome
	}
	return nil, outcome
}

func (b *Broker) persistCredentials(ctx context.Context, userID domain.UserID, login, password, userAgent string) error {
	user, err := b.users.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			return fmt.Errorf("broker: load user: %w", err)
		}
		user = &domain.User{ID: userID}
	}
	user.Login = login
	user.Password = domain.SecretString(password)
	if userAgent != "" {
		user.UserAgent = userAgent
	}
	if err := b.users.Put(ctx, *user); err != nil {
		return fmt.Errorf("broker: persist credentials: %w", err)
	}
	return nil
}

// fetchAndStoreGroups fetches the groups list and, best-effort, records the
// first one as the user's current group (§4.G.1). A failure to fetch or
// store groups is never fatal to the surrounding login/submit_code flow —
// the session is already live either way.
func (b *Broker) fetchAndStoreGroups(ctx context.Context, userID domain.UserID, cookies domain.CookieJar) []string {
	outcome := b.upstream.Call(ctx, http.MethodGet, groupsURL, cookies, nil, nil)
	ok, isOk := outcome.(upstream.CallOk)
	if !isOk {
		return nil
	}

	groups := parseGroups(ok.Bytes)
	if len(groups) == 0 {
		return groups
	}
	if user, err := b.users.Get(ctx, userID); err == nil {
		user.Group = groups[0]
		_ = b.users.Put(ctx, *user)
	}
	return groups
}

func (b *Broker) storeFIO(ctx context.Context, userID domain.UserID, idBytes []byte) {
	fio := parseFIO(idBytes)
	if fio == "" {
		return
	}
	if user, err := b.users.Get(ctx, userID); err == nil {
		user.FIO = fio
		_ = b.users.Put(ctx, *user)
	}
}
