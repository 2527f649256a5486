package email

import (
	"context"
	"log/slog"
)

// MockProvider logs messages instead of sending them, for local
// development and dry runs.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send logs the message instead of sending it.
func (m *MockProvider) Send(_ context.Context, msg *Message) error {
	m.logger.Info("MOCK EMAIL",
		"to", msg.To,
		"from", msg.FromName,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
		"body_length", len(msg.Body))
	return nil
}
