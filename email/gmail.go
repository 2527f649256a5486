package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
)

// GmailProvider sends mail via the Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider creates a new Gmail provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
	}
}

// Send delivers the message through the Gmail API with retries.
func (g *GmailProvider) Send(ctx context.Context, msg *Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString(data)

	return retry.Do(
		func() error {
			start := time.Now()
			_, err := g.service.Users.Messages.Send("me", &gmail.Message{
				Raw: encoded,
			}).Context(ctx).Do()
			duration := time.Since(start)

			if err != nil {
				g.logger.Warn("Gmail API send failed, will retry",
					"to", msg.To,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			g.logger.Info("Gmail API send completed",
				"to", msg.To,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying Gmail send after error", "attempt", n, "error", err)
		}),
	)
}
