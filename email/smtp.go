package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-smtp"
)

// SMTPProvider sends mail through a plain SMTP relay, typically a local
// one that handles queuing and outbound delivery itself. Because the
// relay queues, a failed handoff is reported rather than retried here.
type SMTPProvider struct {
	logger *slog.Logger
	addr   string // host:port
}

// NewSMTPProvider creates an SMTP provider for the given relay address.
func NewSMTPProvider(addr string, logger *slog.Logger) *SMTPProvider {
	return &SMTPProvider{addr: addr, logger: logger}
}

// Send serializes the message and hands it to the relay.
func (p *SMTPProvider) Send(_ context.Context, msg *Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	start := time.Now()
	c, err := smtp.Dial(p.addr)
	if err != nil {
		return fmt.Errorf("connect to relay %s: %w", p.addr, err)
	}
	defer c.Close()

	// A local relay usually speaks plain SMTP; upgrade only when the
	// relay offers it.
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(nil); err != nil {
			return fmt.Errorf("starttls with relay %s: %w", p.addr, err)
		}
	}
	if err := c.SendMail(msg.FromAddr, []string{msg.To}, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("smtp send via %s: %w", p.addr, err)
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("close relay session %s: %w", p.addr, err)
	}

	p.logger.Info("SMTP send completed",
		"relay", p.addr,
		"to", msg.To,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
