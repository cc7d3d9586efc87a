package userstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// alerter is the narrow slice of the SNS operator-alert sender this
// decorator needs.
type alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// AlertingStore wraps a User store's Get with an operator alert the moment
// a row's encrypted fields fail to decrypt (§7): CredentialCorruption is
// never auto-remediated, so a human needs to hear about it exactly once per
// occurrence rather than silently in the logs. It embeds *Store so it still
// satisfies every other method (Put, SetTOTPSeed, SetTOTPCredentialID)
// unchanged.
type AlertingStore struct {
	*Store
	alert  alerter
	logger *slog.Logger
}

// NewAlertingStore wraps store, publishing an operator alert through alert
// whenever Get surfaces domain.ErrCredentialCorruption.
func NewAlertingStore(store *Store, alert alerter, logger *slog.Logger) *AlertingStore {
	return &AlertingStore{Store: store, alert: alert, logger: logger}
}

// Get delegates to the wrapped store, firing an alert on a corruption error
// before returning it unchanged to the caller.
func (s *AlertingStore) Get(ctx context.Context, userID domain.UserID) (*domain.User, error) {
	user, err := s.Store.Get(ctx, userID)
	if err != nil && errors.Is(err, domain.ErrCredentialCorruption) {
		subject := "attendance-broker: credential corruption"
		message := fmt.Sprintf("user %s has a row that failed to decrypt: %v", userID, err)
		if alertErr := s.alert.Alert(ctx, subject, message); alertErr != nil {
			s.logger.ErrorContext(ctx, "failed to publish credential corruption alert",
				"user_id", userID.String(), "error", alertErr.Error())
		}
	}
	return user, err
}
