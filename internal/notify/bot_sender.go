package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/campusbot/attendance-broker/internal/domain"
)

// Sender delivers an out-of-band message to userID. Implementations never
// need to be told whether the send is a retry — the Limiter guarantees at
// most one call per floor window.
type Sender interface {
	Send(ctx context.Context, userID domain.UserID, message string) error
}

// botSendMessageEndpoint is the chat-bot's single outbound HTTP endpoint
// (§6): send a message to a user id, bearer-authenticated with bot_token.
const botSendMessageEndpoint = "https://bot.internal/api/v1/send_message"

type botMessageRequest struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

// BotSender delivers notifications through the chat-bot's HTTP API — the
// broker's primary out-of-band channel (§4.F, §6).
type BotSender struct {
	httpClient *http.Client
	token      domain.SecretString
	endpoint   string
}

// NewBotSender creates a BotSender bearer-authenticated with token.
func NewBotSender(httpClient *http.Client, token domain.SecretString) *BotSender {
	return &BotSender{httpClient: httpClient, token: token, endpoint: botSendMessageEndpoint}
}

// Send posts message to the chat-bot API for delivery to userID.
func (s *BotSender) Send(ctx context.Context, userID domain.UserID, message string) error {
	payload, err := json.Marshal(botMessageRequest{UserID: int64(userID.Uint64()), Text: message})
	if err != nil {
		return fmt.Errorf("notify: bot sender: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: bot sender: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token.Expose())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: bot sender: send to %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: bot sender: send to %s: unexpected status %s", userID, resp.Status)
	}
	return nil
}

// LogSender logs the message instead of delivering it — the local/dev
// fallback, mirroring the teacher's LogSMSProvider.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender that writes notification events to logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the notification instead of delivering it. Never fails.
func (s *LogSender) Send(ctx context.Context, userID domain.UserID, message string) error {
	s.logger.InfoContext(ctx, "notification delivery (log-only)",
		slog.String("user_id", userID.String()),
		slog.String("message", message),
	)
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ Sender = (*BotSender)(nil)
	_ Sender = (*LogSender)(nil)
)
