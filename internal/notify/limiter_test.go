package notify_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/domain/domaintest"
	"github.com/campusbot/attendance-broker/internal/notify"
)

type fakeChallengeReader struct {
	challenge      *domain.PendingChallenge
	getErr         error
	markNotifiedAt *time.Time
	markErr        error
}

func (f *fakeChallengeReader) Get(_ context.Context, _ domain.UserID) (*domain.PendingChallenge, error) {
	return f.challenge, f.getErr
}

func (f *fakeChallengeReader) MarkNotified(_ context.Context, _ domain.UserID, at time.Time) error {
	f.markNotifiedAt = &at
	return f.markErr
}

type fakeSender struct {
	sendErr  error
	messages []string
}

func (f *fakeSender) Send(_ context.Context, _ domain.UserID, message string) error {
	f.messages = append(f.messages, message)
	return f.sendErr
}

func fixedNow() time.Time { return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC) }

func TestLimiter_SendsWhenNoPriorNotification(t *testing.T) {
	reader := &fakeChallengeReader{challenge: &domain.PendingChallenge{Kind: domain.ChallengeKindTOTP}}
	sender := &fakeSender{}
	limiter := notify.NewLimiter(reader, sender, nil, domaintest.NewFakeClock(fixedNow()), slog.Default())

	sent := limiter.MaybeNotify(context.Background(), domain.MustUserID("42"), domain.ChallengeKindTOTP, domain.ChallengeOriginLogin)

	assert.True(t, sent)
	assert.Len(t, sender.messages, 1)
	require.NotNil(t, reader.markNotifiedAt)
	assert.Equal(t, fixedNow(), *reader.markNotifiedAt)
}

func TestLimiter_SuppressesWithinFloor(t *testing.T) {
	recentNotify := fixedNow().Add(-1 * time.Hour)
	reader := &fakeChallengeReader{challenge: &domain.PendingChallenge{LastNotifiedAt: &recentNotify}}
	sender := &fakeSender{}
	limiter := notify.NewLimiter(reader, sender, nil, domaintest.NewFakeClock(fixedNow()), slog.Default())

	sent := limiter.MaybeNotify(context.Background(), domain.MustUserID("42"), domain.ChallengeKindTOTP, domain.ChallengeOriginLogin)

	assert.False(t, sent)
	assert.Empty(t, sender.messages)
}

func TestLimiter_SendsAfterFloorElapses(t *testing.T) {
	pastFloor := fixedNow().Add(-25 * time.Hour)
	reader := &fakeChallengeReader{challenge: &domain.PendingChallenge{LastNotifiedAt: &pastFloor}}
	sender := &fakeSender{}
	limiter := notify.NewLimiter(reader, sender, nil, domaintest.NewFakeClock(fixedNow()), slog.Default())

	sent := limiter.MaybeNotify(context.Background(), domain.MustUserID("42"), domain.ChallengeKindTOTP, domain.ChallengeOriginLogin)

	assert.True(t, sent)
}

func TestLimiter_NoActiveChallengeDoesNotSend(t *testing.T) {
	reader := &fakeChallengeReader{challenge: nil}
	sender := &fakeSender{}
	limiter := notify.NewLimiter(reader, sender, nil, domaintest.NewFakeClock(fixedNow()), slog.Default())

	sent := limiter.MaybeNotify(context.Background(), domain.MustUserID("42"), domain.ChallengeKindTOTP, domain.ChallengeOriginLogin)

	assert.False(t, sent)
}

func TestLimiter_SendFailureReturnsFalseAndDoesNotMark(t *testing.T) {
	reader := &fakeChallengeReader{challenge: &domain.PendingChallenge{}}
	sender := &fakeSender{sendErr: assertErr("smtp down")}
	limiter := notify.NewLimiter(reader, sender, nil, domaintest.NewFakeClock(fixedNow()), slog.Default())

	sent := limiter.MaybeNotify(context.Background(), domain.MustUserID("42"), domain.ChallengeKindTOTP, domain.ChallengeOriginLogin)

	assert.False(t, sent)
	assert.Nil(t, reader.markNotifiedAt)
}

type assertErrType string

func (e assertErrType) Error() string { return string(e) }

func assertErr(msg string) error { return assertErrType(msg) }
