// Package email renders toots into MIME messages and hands them to a
// mail provider.
package email

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-message/mail"
)

// Attachment is one file carried by a message.
type Attachment struct {
	Filename string
	Data     []byte
}

// Message is a fully rendered mail, transport-agnostic.
type Message struct {
	FromName    string
	FromAddr    string
	To          string
	Subject     string
	Date        time.Time
	Body        string
	MessageID   string // without angle brackets
	InReplyTo   string // without angle brackets
	Headers     map[string]string
	Attachments []Attachment
}

// Bytes serializes the message into RFC 5322 wire format. Attachments
// with empty content are dropped rather than producing zero-byte parts.
func (m *Message) Bytes() ([]byte, error) {
	var h mail.Header
	h.SetDate(m.Date)
	h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.FromAddr}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	h.SetSubject(m.Subject)
	if m.MessageID != "" {
		h.SetMsgIDList("Message-Id", []string{m.MessageID})
	}
	if m.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{m.InReplyTo})
	}
	for key, value := range m.Headers {
		h.Set(key, value)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := tw.Write([]byte(m.Body)); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close text part: %w", err)
	}

	for _, attachment := range m.Attachments {
		if len(attachment.Data) == 0 {
			continue
		}
		var ah mail.AttachmentHeader
		ah.SetFilename(attachment.Filename)
		ah.Set("Content-Type", http.DetectContentType(attachment.Data))
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("create attachment %q: %w", attachment.Filename, err)
		}
		if _, err := aw.Write(attachment.Data); err != nil {
			return nil, fmt.Errorf("write attachment %q: %w", attachment.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("close attachment %q: %w", attachment.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}
