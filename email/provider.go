package email

import "context"

// Provider defines the interface for mail transport implementations.
type Provider interface {
	// Send delivers a fully rendered message.
	Send(ctx context.Context, msg *Message) error
}
