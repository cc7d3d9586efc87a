package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// challengeReader is the narrow slice of the Challenge Coordinator the
// Limiter reads from to find the current notification floor state.
type challengeReader interface {
	Get(ctx context.Context, userID domain.UserID) (*domain.PendingChallenge, error)
	MarkNotified(ctx context.Context, userID domain.UserID, at time.Time) error
}

// Limiter implements maybe_notify (§4.F): at most one out-of-band message
// per user per 24h, gated on the PendingChallenge row's LastNotifiedAt.
type Limiter struct {
	challenges challengeReader
	sender     Sender
	marker     *RedisMarker // optional fast-path dedup; nil disables it
	clock      domain.Clock
	logger     *slog.Logger
}

// NewLimiter creates a Limiter. marker may be nil to skip the Redis
// fast-path and always consult the durable store.
func NewLimiter(challenges challengeReader, sender Sender, marker *RedisMarker, clock domain.Clock, logger *slog.Logger) *Limiter {
	return &Limiter{challenges: challenges, sender: sender, marker: marker, clock: clock, logger: logger}
}

// MaybeNotify sends an out-of-band message for user's pending challenge of
// the given kind/origin if the 24h floor has elapsed, and records that it
// did. It returns whether a message was actually sent. A send failure is
// logged and reported as false — it never aborts the caller (§4.F).
func (l *Limiter) MaybeNotify(ctx context.Context, userID domain.UserID, kind domain.ChallengeKind, origin domain.ChallengeOrigin) bool {
	if l.marker != nil {
		recent, err := l.marker.SeenRecently(ctx, userID)
		if err != nil {
			l.logger.WarnContext(ctx, "notification marker unavailable, falling back to durable check", "user_id", userID.String(), "error", err)
		} else if recent {
			return false
		}
	}

	challenge, err := l.challenges.Get(ctx, userID)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to read pending challenge for notification check", "user_id", userID.String(), "error", err)
		return false
	}
	if challenge == nil {
		return false
	}
	if !challenge.NeedsNotification(l.clock.Now(), domain.NotificationFloor) {
		return false
	}

	message := notificationMessage(kind, origin)
	if err := l.sender.Send(ctx, userID, message); err != nil {
		l.logger.WarnContext(ctx, "notification send failed", "user_id", userID.String(), "error", err)
		return false
	}

	now := l.clock.Now()
	if err := l.challenges.MarkNotified(ctx, userID, now); err != nil {
		l.logger.ErrorContext(ctx, "failed to persist notification floor after send", "user_id", userID.String(), "error", err)
	}
	if l.marker != nil {
		if err := l.marker.Mark(ctx, userID); err != nil {
			l.logger.WarnContext(ctx, "failed to set notification fast-path marker", "user_id", userID.String(), "error", err)
		}
	}
	return true
}

func notificationMessage(kind domain.ChallengeKind, origin domain.ChallengeOrigin) string {
	what := "a one-time code"
	if kind == domain.ChallengeKindTOTP {
		what = "your authenticator app code"
	}
	switch origin {
	case domain.ChallengeOriginRefresh:
		return fmt.Sprintf("Your attendance session needs %s to keep working. Reply with the code to continue.", what)
	default:
		return fmt.Sprintf("Sign-in to the attendance portal needs %s. Reply with the code to continue.", what)
	}
}
