package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Alerter publishes an operator-facing alert. Implementations never see a
// per-user audience — this channel exists for conditions a human, not an
// end user, must act on.
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// snsPublisher is a narrow, consumer-defined interface for the subset of
// SNS operations this sender needs. The real *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSAlertSender publishes operator-facing alerts to a fixed SNS topic. The
// broker's per-user notification channel is the chat bot (BotSender); this
// channel exists for conditions no end user should see — most notably
// CredentialCorruption (§7), which is surfaced and logged but never
// resolved automatically and needs a human to look at the affected row.
type SNSAlertSender struct {
	client   snsPublisher
	topicARN string
}

// NewSNSAlertSender creates an SNSAlertSender that publishes to topicARN.
func NewSNSAlertSender(client snsPublisher, topicARN string) *SNSAlertSender {
	return &SNSAlertSender{client: client, topicARN: topicARN}
}

// Alert publishes subject/message to the configured operator topic.
func (s *SNSAlertSender) Alert(ctx context.Context, subject, message string) error {
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &s.topicARN,
		Subject:  &subject,
		Message:  &message,
	})
	if err != nil {
		return fmt.Errorf("sns alert: publish: %w", err)
	}
	return nil
}

// LogAlertSender logs the alert instead of publishing it — the local/dev
// fallback when no SNS topic is configured.
type LogAlertSender struct {
	logger *slog.Logger
}

// NewLogAlertSender creates a LogAlertSender that writes alerts to logger.
func NewLogAlertSender(logger *slog.Logger) *LogAlertSender {
	return &LogAlertSender{logger: logger}
}

// Alert logs subject/message instead of delivering it. Never fails.
func (s *LogAlertSender) Alert(_ context.Context, subject, message string) error {
	s.logger.Error("operator alert (log-only)", slog.String("subject", subject), slog.String("message", message))
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ Alerter = (*SNSAlertSender)(nil)
	_ Alerter = (*LogAlertSender)(nil)
)
