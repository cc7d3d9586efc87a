// Package broker implements the Session Broker façade (component G): the
// template every application-layer operation (§4.G) runs through — load the
// cached session, call Upstream, and on a dead session transparently rebuild
// it via SSO or an already-pending second-factor challenge, retrying the
// caller's operation exactly once.
package broker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/campusbot/attendance-broker/internal/auto2fa"
	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/observability"
	"github.com/campusbot/attendance-broker/internal/upstream"
)

var tracer = observability.Tracer("broker")

// cookieCache is the narrow slice of the Session Cache (component C) the
// façade needs.
type cookieCache interface {
	Load(ctx context.Context, userID domain.UserID) (domain.CookieJar, bool, error)
	Store(ctx context.Context, userID domain.UserID, jar domain.CookieJar) error
	Invalidate(ctx context.Context, userID domain.UserID) error
}

// challengeCoordinator is the narrow slice of the Challenge Coordinator
// (component D) the façade needs.
type challengeCoordinator interface {
	HasActive(ctx context.Context, userID domain.UserID) (bool, error)
	Get(ctx context.Context, userID domain.UserID) (*domain.PendingChallenge, error)
	Put(ctx context.Context, userID domain.UserID, challenge domain.PendingChallenge) error
	UpdateAfterWrongCode(ctx context.Context, userID domain.UserID, newCookies domain.CookieJar, newSubmitURL string) error
	Delete(ctx context.Context, userID domain.UserID) error
}

// userRepo is the narrow slice of the User store the façade needs.
type userRepo interface {
	Get(ctx context.Context, userID domain.UserID) (*domain.User, error)
	Put(ctx context.Context, user domain.User) error
	SetTOTPCredentialID(ctx context.Context, userID domain.UserID, credentialID string) error
}

// upstreamClient is the narrow slice of the Upstream Client (component B)
// the façade needs.
type upstreamClient interface {
	BeginLogin(ctx context.Context, login, password, userAgent string) upstream.LoginOutcome
	SubmitCode(ctx context.Context, kind domain.ChallengeKind, code string, continuationCookies domain.CookieJar, submitURL, credentialID, userAgent string) upstream.LoginOutcome
	Call(ctx context.Context, method, target string, cookies domain.CookieJar, headers map[string]string, body []byte) upstream.CallOutcome
}

// auto2faAttempter is the narrow slice of the Auto-2FA Resolver (component
// E) the façade needs.
type auto2faAttempter interface {
	Attempt(ctx context.Context, user domain.User, challenge domain.PendingChallenge) auto2fa.Outcome
}

// notifier is the narrow slice of the Notification Limiter (component F)
// the façade needs.
type notifier interface {
	MaybeNotify(ctx context.Context, userID domain.UserID, kind domain.ChallengeKind, origin domain.ChallengeOrigin) bool
}

// Broker implements the Session Broker façade.
type Broker struct {
	cache      cookieCache
	challenges challengeCoordinator
	users      userRepo
	upstream   upstreamClient
	auto2fa    auto2faAttempter
	notify     notifier
	clock      domain.Clock
	sso        singleflight.Group
}

// New creates a Broker wiring every collaborator component G depends on.
func New(cache cookieCache, challenges challengeCoordinator, users userRepo, upstreamClient upstreamClient, auto2fa auto2faAttempter, notify notifier, clock domain.Clock) *Broker {
	return &Broker{
		cache:      cache,
		challenges: challenges,
		users:      users,
		upstream:   upstreamClient,
		auto2fa:    auto2fa,
		notify:     notify,
		clock:      clock,
	}
}

// invoke implements the common per-operation template of §4.G: try the
// cached session, and on a miss/401/empty rebuild it exactly once (via SSO
// or a pending challenge) before retrying fn a single time. Transport
// failures propagate immediately without a rebuild attempt — they say
// nothing about the session's liveness.
func (b *Broker) invoke(ctx context.Context, userID domain.UserID, origin domain.ChallengeOrigin, fn func(domain.CookieJar) upstream.CallOutcome) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "broker.invoke")
	defer span.End()

	jar, found, err := b.cache.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("broker: load session cache: %w", err)
	}

	if found {
		if bytes, done, err := classifyCall(fn(jar)); done {
			return bytes, err
		}
		if err := b.cache.Invalidate(ctx, userID); err != nil {
			return nil, fmt.Errorf("broker: invalidate stale session: %w", err)
		}
	}

	jar, err = b.rebuild(ctx, userID, origin)
	if err != nil {
		return nil, err
	}

	bytes, done, err := classifyCall(fn(jar))
	if done {
		return bytes, err
	}
	// A second Unauthorized/Empty right after a fresh rebuild means the new
	// session is already unusable for this call; no further retry loop
	// exists (§4.G boundary case).
	return nil, fmt.Errorf("broker: session unusable immediately after rebuild: %w", domain.ErrUpstreamTransient)
}

// classifyCall reports whether outcome is terminal for invoke's caller
// (Ok or Transport — done is true) or should fall through to a session
// rebuild (Unauthorized or Empty — done is false).
func classifyCall(outcome upstream.CallOutcome) (bytes []byte, done bool, err error) {
	switch o := outcome.(type) {
	case upstream.CallOk:
		return o.Bytes, true, nil
	case upstream.CallTransport:
		return nil, true, fmt.Errorf("%w: %s", domain.ErrUpstreamTransient, o.Detail)
	case upstream.CallUnauthorized, upstream.CallEmpty:
		return nil, false, nil
	default:
		return nil, true, fmt.Errorf("broker: unrecognized call outcome %T", outcome)
	}
}

// rebuild restores a live session for userID: it raises ChallengeRequired
// immediately if one is already pending (the anti-spam invariant, §4.D.1),
// otherwise it runs SSO, collapsing concurrent rebuilds for the same user
// into a single attempt via singleflight.
func (b *Broker) rebuild(ctx context.Context, userID domain.UserID, origin domain.ChallengeOrigin) (domain.CookieJar, error) {
	has, err := b.challenges.HasActive(ctx, userID)
	if err != nil {
		return domain.CookieJar{}, fmt.Errorf("broker: check active challenge: %w", err)
	}
	if has {
		return domain.CookieJar{}, b.raiseExistingChallenge(ctx, userID, origin)
	}

	v, err, _ := b.sso.Do(userID.String(), func() (any, error) {
		return b.performSSO(ctx, userID, origin)
	})
	if err != nil {
		return domain.CookieJar{}, err
	}
	return v.(domain.CookieJar), nil
}

// raiseExistingChallenge loads the already-pending challenge to build the
// structured error, nudging the target with a notification if this rebuild
// was triggered by a background operation rather than the user's own
// interactive login.
func (b *Broker) raiseExistingChallenge(ctx context.Context, userID domain.UserID, origin domain.ChallengeOrigin) error {
	pc, err := b.challenges.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("broker: load pending challenge: %w", err)
	}
	if pc == nil {
		// Raced: HasActive saw a row that expired before Get ran. Let the
		// caller retry; there is nothing pending to report.
		return fmt.Errorf("broker: %w: pending challenge expired mid-check", domain.ErrUpstreamTransient)
	}
	if isBackgroundOrigin(origin) {
		b.notify.MaybeNotify(ctx, userID, pc.Kind, pc.Origin)
	}
	return &ChallengeRequiredError{Kind: pc.Kind, Origin: pc.Origin, Credentials: pc.AvailableCredentials}
}

// isBackgroundOrigin reports whether origin represents a non-interactive
// rebuild (a scheduled refresh or an external caller like mass-marking) as
// opposed to the user's own in-app login attempt (§4.F, §7).
func isBackgroundOrigin(origin domain.ChallengeOrigin) bool {
	return origin == domain.ChallengeOriginRefresh || origin == domain.ChallengeOriginExternal
}

// performSSO runs begin_login against Upstream for userID's stored
// credentials, attempts auto-2FA on a TOTP challenge, and persists whatever
// PendingChallenge results when neither succeeds.
func (b *Broker) performSSO(ctx context.Context, userID domain.UserID, origin domain.ChallengeOrigin) (domain.CookieJar, error) {
	user, err := b.users.Get(ctx, userID)
	if err != nil {
		return domain.CookieJar{}, fmt.Errorf("broker: load user: %w", err)
	}
	if !user.HasCredentials() {
		return domain.CookieJar{}, fmt.Errorf("broker: no credentials on file: %w", domain.ErrCredentialsInvalid)
	}

	outcome := b.upstream.BeginLogin(ctx, user.Login, user.Password.Expose(), user.UserAgent)
	switch o := outcome.(type) {
	case upstream.LoginSuccess:
		if err := b.cache.Store(ctx, userID, o.Cookies); err != nil {
			return domain.CookieJar{}, err
		}
		return o.Cookies, nil

	case upstream.LoginTotpChallenge:
		pc := newPendingChallenge(userID, domain.ChallengeKindTOTP, origin, o.ContinuationCookies, o.SubmitURL, o.CredentialID, o.AvailableCredentials, user.UserAgent, b.clock.Now())
		if res := b.auto2fa.Attempt(ctx, *user, pc); res.Resolved {
			if err := b.cache.Store(ctx, userID, res.Cookies); err != nil {
				return domain.CookieJar{}, err
			}
			if res.LearnedCredentialID != "" {
				_ = b.users.SetTOTPCredentialID(ctx, userID, res.LearnedCredentialID)
			}
			return res.Cookies, nil
		}
		if err := b.challenges.Put(ctx, userID, pc); err != nil {
			return domain.CookieJar{}, fmt.Errorf("broker: persist pending challenge: %w", err)
		}
		if isBackgroundOrigin(origin) {
			b.notify.MaybeNotify(ctx, userID, domain.ChallengeKindTOTP, origin)
		}
		return domain.CookieJar{}, &ChallengeRequiredError{Kind: domain.ChallengeKindTOTP, Origin: origin, Credentials: o.AvailableCredentials}

	case upstream.LoginEmailCodeChallenge:
		pc := newPendingChallenge(userID, domain.ChallengeKindEmailCode, origin, o.ContinuationCookies, o.SubmitURL, "", nil, user.UserAgent, b.clock.Now())
		if err := b.challenges.Put(ctx, userID, pc); err != nil {
			return domain.CookieJar{}, fmt.Errorf("broker: persist pending challenge: %w", err)
		}
		if isBackgroundOrigin(origin) {
			b.notify.MaybeNotify(ctx, userID, domain.ChallengeKindEmailCode, origin)
		}
		return domain.CookieJar{}, &ChallengeRequiredError{Kind: domain.ChallengeKindEmailCode, Origin: origin}

	case upstream.LoginBadCredentials:
		return domain.CookieJar{}, domain.ErrCredentialsInvalid

	default:
		return domain.CookieJar{}, fmt.Errorf("broker: unrecognized login outcome %T", outcome)
	}
}

func newPendingChallenge(userID domain.UserID, kind domain.ChallengeKind, origin domain.ChallengeOrigin, continuationCookies domain.CookieJar, submitURL, credentialID string, creds []domain.OTPCredential, userAgent string, now time.Time) domain.PendingChallenge {
	return domain.PendingChallenge{
		UserID:               userID,
		ContinuationCookies:  continuationCookies,
		SubmitURL:            submitURL,
		CredentialID:         credentialID,
		AvailableCredentials: creds,
		Kind:                 kind,
		Origin:               origin,
		UserAgent:            userAgent,
		CreatedAt:            now,
		ExpiresAt:            now.Add(domain.ChallengeTTL),
	}
}
