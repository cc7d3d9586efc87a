package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusbot/attendance-broker/internal/auto2fa"
	"github.com/campusbot/attendance-broker/internal/broker"
	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/domain/domaintest"
	"github.com/campusbot/attendance-broker/internal/upstream"
)

type fakeCache struct {
	jars    map[domain.UserID]domain.CookieJar
	loadErr error
}

func newFakeCache() *fakeCache { return &fakeCache{jars: map[domain.UserID]domain.CookieJar{}} }

func (c *fakeCache) Load(_ context.Context, userID domain.UserID) (domain.CookieJar, bool, error) {
	if c.loadErr != nil {
		return domain.CookieJar{}, false, c.loadErr
	}
	jar, ok := c.jars[userID]
	return jar, ok, nil
}

func (c *fakeCache) Store(_ context.Context, userID domain.UserID, jar domain.CookieJar) error {
	c.jars[userID] = jar
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, userID domain.UserID) error {
	delete(c.jars, userID)
	return nil
}

type fakeChallenges struct {
	rows map[domain.UserID]domain.PendingChallenge
}

func newFakeChallenges() *fakeChallenges {
	return &fakeChallenges{rows: map[domain.UserID]domain.PendingChallenge{}}
}

func (c *fakeChallenges) HasActive(_ context.Context, userID domain.UserID) (bool, error) {
	_, ok := c.rows[userID]
	return ok, nil
}

func (c *fakeChallenges) Get(_ context.Context, userID domain.UserID) (*domain.PendingChallenge, error) {
	pc, ok := c.rows[userID]
	if !ok {
		return nil, nil
	}
	return &pc, nil
}

func (c *fakeChallenges) Put(_ context.Context, userID domain.UserID, challenge domain.PendingChallenge) error {
	c.rows[userID] = challenge
	return nil
}

func (c *fakeChallenges) UpdateAfterWrongCode(_ context.Context, userID domain.UserID, newCookies domain.CookieJar, newSubmitURL string) error {
	pc, ok := c.rows[userID]
	if !ok {
		return domain.ErrNoActiveChallenge
	}
	pc.ContinuationCookies = newCookies
	pc.SubmitURL = newSubmitURL
	c.rows[userID] = pc
	return nil
}

func (c *fakeChallenges) Delete(_ context.Context, userID domain.UserID) error {
	delete(c.rows, userID)
	return nil
}

type fakeUsers struct {
	rows map[domain.UserID]domain.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{rows: map[domain.UserID]domain.User{}} }

func (u *fakeUsers) Get(_ context.Context, userID domain.UserID) (*domain.User, error) {
	user, ok := u.rows[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

func (u *fakeUsers) Put(_ context.Context, user domain.User) error {
	u.rows[user.ID] = user
	return nil
}

func (u *fakeUsers) SetTOTPCredentialID(_ context.Context, userID domain.UserID, credentialID string) error {
	user, ok := u.rows[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.TOTPCredentialID = credentialID
	u.rows[userID] = user
	return nil
}

// fakeUpstream lets each test script a queue of outcomes per method.
type fakeUpstream struct {
	loginOutcomes []upstream.LoginOutcome
	codeOutcomes  []upstream.LoginOutcome
	callOutcomes  []upstream.CallOutcome
}

func (f *fakeUpstream) BeginLogin(_ context.Context, _, _, _ string) upstream.LoginOutcome {
	o := f.loginOutcomes[0]
	f.loginOutcomes = f.loginOutcomes[1:]
	return o
}

func (f *fakeUpstream) SubmitCode(_ context.Context, _ domain.ChallengeKind, _ string, _ domain.CookieJar, _, _, _ string) upstream.LoginOutcome {
	o := f.codeOutcomes[0]
	f.codeOutcomes = f.codeOutcomes[1:]
	return o
}

func (f *fakeUpstream) Call(_ context.Context, _, _ string, _ domain.CookieJar, _ map[string]string, _ []byte) upstream.CallOutcome {
	o := f.callOutcomes[0]
	f.callOutcomes = f.callOutcomes[1:]
	return o
}

type neverAuto2FA struct{}

func (neverAuto2FA) Attempt(_ context.Context, _ domain.User, _ domain.PendingChallenge) auto2fa.Outcome {
	return auto2fa.Outcome{}
}

type fakeNotifier struct {
	calls int
}

func (n *fakeNotifier) MaybeNotify(_ context.Context, _ domain.UserID, _ domain.ChallengeKind, _ domain.ChallengeOrigin) bool {
	n.calls++
	return true
}

func newBroker(cache *fakeCache, challenges *fakeChallenges, users *fakeUsers, up *fakeUpstream, notify *fakeNotifier) *broker.Broker {
	clock := domaintest.NewFakeClock(time.Now())
	return broker.New(cache, challenges, users, up, neverAuto2FA{}, notify, clock)
}

func TestFetchSchedule_CacheHit(t *testing.T) {
	cache := newFakeCache()
	userID := domain.MustUserID("1")
	cache.jars[userID] = domain.CookieJar{Cookies: []domain.Cookie{{Name: "s", Value: "v"}}}

	up := &fakeUpstream{callOutcomes: []upstream.CallOutcome{upstream.CallOk{Bytes: []byte("schedule-bytes")}}}
	b := newBroker(cache, newFakeChallenges(), newFakeUsers(), up, &fakeNotifier{})

	got, err := b.FetchSchedule(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "schedule-bytes", string(got))
}

func TestFetchSchedule_RebuildsOnUnauthorized(t *testing.T) {
	cache := newFakeCache()
	userID := domain.MustUserID("1")
	cache.jars[userID] = domain.CookieJar{Cookies: []domain.Cookie{{Name: "s", Value: "stale"}}}

	users := newFakeUsers()
	require.NoError(t, users.Put(context.Background(), domain.User{ID: userID, Login: "a", Password: domain.SecretString("p")}))

	up := &fakeUpstream{
		callOutcomes: []upstream.CallOutcome{
			upstream.CallUnauthorized{},
			upstream.CallOk{Bytes: []byte("fresh-schedule")},
		},
		loginOutcomes: []upstream.LoginOutcome{
			upstream.LoginSuccess{Cookies: domain.CookieJar{Cookies: []domain.Cookie{{Name: "s", Value: "new"}}}},
		},
	}
	b := newBroker(cache, newFakeChallenges(), users, up, &fakeNotifier{})

	got, err := b.FetchSchedule(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-schedule", string(got))
	assert.Equal(t, "new", cache.jars[userID].Cookies[0].Value)
}

func TestFetchSchedule_ExistingChallengeShortCircuitsRebuild(t *testing.T) {
	cache := newFakeCache()
	userID := domain.MustUserID("1")

	challenges := newFakeChallenges()
	require.NoError(t, challenges.Put(context.Background(), userID, domain.PendingChallenge{
		UserID: userID, Kind: domain.ChallengeKindTOTP, Origin: domain.ChallengeOriginLogin,
	}))

	notify := &fakeNotifier{}
	b := newBroker(cache, challenges, newFakeUsers(), &fakeUpstream{}, notify)

	_, err := b.FetchSchedule(context.Background(), userID)
	var challengeErr *broker.ChallengeRequiredError
	require.ErrorAs(t, err, &challengeErr)
	assert.Equal(t, domain.ChallengeKindTOTP, challengeErr.Kind)
	assert.True(t, errors.Is(err, domain.ErrChallengeRequired))
	assert.Equal(t, 1, notify.calls, "a background-origin rebuild must notify the target")
}

func TestFetchSchedule_CredentialsInvalidPropagates(t *testing.T) {
	cache := newFakeCache()
	userID := domain.MustUserID("1")

	users := newFakeUsers()
	require.NoError(t, users.Put(context.Background(), domain.User{ID: userID, Login: "a", Password: domain.SecretString("p")}))

	up := &fakeUpstream{loginOutcomes: []upstream.LoginOutcome{upstream.LoginBadCredentials{}}}
	b := newBroker(cache, newFakeChallenges(), users, up, &fakeNotifier{})

	_, err := b.FetchSchedule(context.Background(), userID)
	assert.ErrorIs(t, err, domain.ErrCredentialsInvalid)
}

func TestSubmitLogin_Success(t *testing.T) {
	userID := domain.MustUserID("1")
	up := &fakeUpstream{
		loginOutcomes: []upstream.LoginOutcome{
			upstream.LoginSuccess{Cookies: domain.CookieJar{Cookies: []domain.Cookie{{Name: "s", Value: "v"}}}},
		},
		callOutcomes: []upstream.CallOutcome{
			upstream.CallOk{Bytes: []byte("Ivanov Ivan")},  // identity probe
			upstream.CallOk{Bytes: []byte("ИКБО-01-21")},   // groups
		},
	}
	users := newFakeUsers()
	b := newBroker(newFakeCache(), newFakeChallenges(), users, up, &fakeNotifier{})

	groups, err := b.SubmitLogin(context.Background(), userID, "login", "pass", "ua")
	require.NoError(t, err)
	assert.Equal(t, []string{"ИКБО-01-21"}, groups)

	stored, err := users.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "login", stored.Login)
	assert.Equal(t, "ИКБО-01-21", stored.Group)
	assert.Equal(t, "Ivanov Ivan", stored.FIO)
}

func TestSubmitLogin_IdentityProbeEmptyAfterFreshSSO(t *testing.T) {
	userID := domain.MustUserID("1")
	up := &fakeUpstream{
		loginOutcomes: []upstream.LoginOutcome{
			upstream.LoginSuccess{Cookies: domain.CookieJar{Cookies: []domain.Cookie{{Name: "s", Value: "v"}}}},
		},
		callOutcomes: []upstream.CallOutcome{upstream.CallEmpty{}},
	}
	b := newBroker(newFakeCache(), newFakeChallenges(), newFakeUsers(), up, &fakeNotifier{})

	_, err := b.SubmitLogin(context.Background(), userID, "login", "pass", "ua")
	assert.ErrorIs(t, err, domain.ErrCredentialsInvalid)
}

func TestSubmitLogin_TotpChallengeRaised(t *testing.T) {
	userID := domain.MustUserID("1")
	up := &fakeUpstream{
		loginOutcomes: []upstream.LoginOutcome{
			upstream.LoginTotpChallenge{SubmitURL: "https://x/submit", AvailableCredentials: []domain.OTPCredential{{Label: "Phone", ID: "c1"}}},
		},
	}
	challenges := newFakeChallenges()
	b := newBroker(newFakeCache(), challenges, newFakeUsers(), up, &fakeNotifier{})

	_, err := b.SubmitLogin(context.Background(), userID, "login", "pass", "ua")
	var challengeErr *broker.ChallengeRequiredError
	require.ErrorAs(t, err, &challengeErr)
	assert.Equal(t, domain.ChallengeKindTOTP, challengeErr.Kind)
	assert.Equal(t, domain.ChallengeOriginLogin, challengeErr.Origin)

	pc, err := challenges.Get(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "https://x/submit", pc.SubmitURL)
}

func TestSubmitCode_WrongCodeKeepsChallengeAlive(t *testing.T) {
	userID := domain.MustUserID("1")
	challenges := newFakeChallenges()
	require.NoError(t, challenges.Put(context.Background(), userID, domain.PendingChallenge{
		UserID: userID, Kind: domain.ChallengeKindTOTP, SubmitURL: "https://x/submit1",
	}))

	up := &fakeUpstream{codeOutcomes: []upstream.LoginOutcome{
		upstream.LoginTotpChallenge{SubmitURL: "https://x/submit2", AvailableCredentials: []domain.OTPCredential{{Label: "Phone", ID: "c1"}}},
	}}
	b := newBroker(newFakeCache(), challenges, newFakeUsers(), up, &fakeNotifier{})

	err := b.SubmitCode(context.Background(), userID, "000000")
	var wrongErr *broker.WrongCodeError
	require.ErrorAs(t, err, &wrongErr)

	pc, err := challenges.Get(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "https://x/submit2", pc.SubmitURL, "continuation state must rotate after a wrong code")
}

func TestSubmitCode_SuccessClearsChallengeAndStoresSession(t *testing.T) {
	userID := domain.MustUserID("1")
	challenges := newFakeChallenges()
	require.NoError(t, challenges.Put(context.Background(), userID, domain.PendingChallenge{
		UserID: userID, Kind: domain.ChallengeKindTOTP, Origin: domain.ChallengeOriginRefresh,
	}))

	cache := newFakeCache()
	up := &fakeUpstream{codeOutcomes: []upstream.LoginOutcome{
		upstream.LoginSuccess{Cookies: domain.CookieJar{Cookies: []domain.Cookie{{Name: "s", Value: "fresh"}}}},
	}}
	b := newBroker(cache, challenges, newFakeUsers(), up, &fakeNotifier{})

	err := b.SubmitCode(context.Background(), userID, "123456")
	require.NoError(t, err)

	_, has, _ := cache.Load(context.Background(), userID)
	assert.True(t, has)

	pc, err := challenges.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Nil(t, pc)
}

func TestSubmitCode_NoActiveChallenge(t *testing.T) {
	b := newBroker(newFakeCache(), newFakeChallenges(), newFakeUsers(), &fakeUpstream{}, &fakeNotifier{})

	err := b.SubmitCode(context.Background(), domain.MustUserID("1"), "123456")
	assert.ErrorIs(t, err, domain.ErrNoActiveChallenge)
}

func TestSelfApprove_DecodesFramedResponse(t *testing.T) {
	userID := domain.MustUserID("1")
	cache := newFakeCache()
	cache.jars[userID] = domain.CookieJar{Cookies: []domain.Cookie{{Name: "s", Value: "v"}}}

	framed := append([]byte{0x00, 0, 0, 0, 5}, []byte("OK-42")...)
	up := &fakeUpstream{callOutcomes: []upstream.CallOutcome{upstream.CallOk{Bytes: framed}}}
	b := newBroker(cache, newFakeChallenges(), newFakeUsers(), up, &fakeNotifier{})

	got, err := b.SelfApprove(context.Background(), userID, domain.SecretString("tok"), "ua")
	require.NoError(t, err)
	assert.Equal(t, "OK-42", string(got))
}
