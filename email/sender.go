package email

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"text/template"

	"toot2mail/mastodon"
	"toot2mail/pkg/toot"
)

// Replacement rewrites matching content before it is mailed, for example
// to send links through a privacy frontend.
type Replacement struct {
	Pattern *regexp.Regexp
	With    string
}

// MediaResolver fetches a toot's attachments and turns them into mail
// attachments. Fetch failures surface as placeholder images, never as
// errors, so a dead media server cannot block delivery.
type MediaResolver interface {
	Resolve(ctx context.Context, t *toot.Toot) []Attachment
}

const bodyTemplate = `{{.Text}}

{{.Card}}
--------------------------------
Videos: {{.Videos}}
Posted by: {{.PostedBy}}
Boosted by: {{.BoostedBy}}
Application: {{.Application}}

In Reply To: {{.InReplyTo}}
URL: {{.URL}}
Timeline: https://{{.Hostname}}/@{{.Username}}/with_replies
Toot ID: {{.TootID}}
`

const cardTemplate = `
--------------------------------
Card URL:   {{.URL}}:
Card Title: {{.Title}}`

// Sender renders toots into messages and submits them to a provider. It
// is the Mailer of the delivery engine.
type Sender struct {
	provider     Provider
	media        MediaResolver
	logger       *slog.Logger
	body         *template.Template
	card         *template.Template
	fromAddr     string
	to           string
	fqdn         string
	replacements []Replacement
	maxSubject   int
}

// NewSender creates a sender. The from address is fixed; the sending
// account's display name changes per toot so the author shows up in the
// mailbox listing.
func NewSender(provider Provider, media MediaResolver, fromAddr, to string, maxSubject int, replacements []Replacement, logger *slog.Logger) *Sender {
	fqdn, err := os.Hostname()
	if err != nil || fqdn == "" {
		fqdn = "localhost"
	}
	return &Sender{
		provider:     provider,
		media:        media,
		logger:       logger,
		body:         template.Must(template.New("body").Parse(bodyTemplate)),
		card:         template.Must(template.New("card").Parse(cardTemplate)),
		fromAddr:     fromAddr,
		to:           to,
		fqdn:         fqdn,
		replacements: replacements,
		maxSubject:   maxSubject,
	}
}

// Send renders the toot and delivers it.
func (s *Sender) Send(ctx context.Context, t *toot.Toot) error {
	text := s.replace(mastodon.Text(t.Content))

	body, err := s.renderBody(t, text)
	if err != nil {
		return err
	}

	msg := &Message{
		FromName:    t.CompoundName(),
		FromAddr:    s.fromAddr,
		To:          s.to,
		Subject:     s.subject(text),
		Date:        t.CreatedAt,
		Body:        body,
		MessageID:   messageID(t, s.fqdn),
		Headers:     map[string]string{"X-Toot-URI": t.URI, "X-Toot-Account": t.UID()},
		Attachments: s.media.Resolve(ctx, t),
	}
	if t.InReplyTo != nil {
		msg.InReplyTo = messageID(t.InReplyTo, s.fqdn)
	}

	s.logger.Info("Sending toot mail",
		"to", s.to,
		"subject", msg.Subject,
		"uri", t.URI,
		"attachments", len(msg.Attachments))
	return s.provider.Send(ctx, msg)
}

func (s *Sender) renderBody(t *toot.Toot, text string) (string, error) {
	card := ""
	if t.Card != nil {
		var sb strings.Builder
		err := s.card.Execute(&sb, struct{ URL, Title string }{
			URL:   s.replace(t.Card.URL),
			Title: t.Card.Title,
		})
		if err != nil {
			return "", fmt.Errorf("render card: %w", err)
		}
		card = sb.String()
	}

	author := t.Author()
	boostedBy := "-"
	if t.IsBoost() {
		boostedBy = fmt.Sprintf("%s (@%s)", t.Account.DisplayName, t.Account.Username)
	}

	application := "-"
	if t.Application != nil {
		application = t.Application.Name
		if t.Application.Website != "" {
			application = fmt.Sprintf("%s (%s)", application, t.Application.Website)
		}
	}

	inReplyTo := "-"
	if t.InReplyTo != nil {
		inReplyTo = t.InReplyTo.URL
	}

	var sb strings.Builder
	err := s.body.Execute(&sb, struct {
		Text, Card, Videos, PostedBy, BoostedBy, Application string
		InReplyTo, URL, Hostname, Username, TootID           string
	}{
		Text:        text,
		Card:        card,
		Videos:      videoList(t),
		PostedBy:    fmt.Sprintf("%s (@%s)", author.Name(), author.Username),
		BoostedBy:   boostedBy,
		Application: application,
		InReplyTo:   inReplyTo,
		URL:         t.URL,
		Hostname:    t.Hostname(),
		Username:    author.Username,
		TootID:      t.ID,
	})
	if err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	return sb.String(), nil
}

// subject truncates the text content for the Subject header. An empty
// toot, such as a bare image post, still needs a non-empty subject.
func (s *Sender) subject(text string) string {
	runes := []rune(text)
	if len(runes) > s.maxSubject {
		text = string(runes[:s.maxSubject]) + "..."
	}
	if text == "" {
		text = "..."
	}
	return text
}

func (s *Sender) replace(content string) string {
	for _, r := range s.replacements {
		content = r.Pattern.ReplaceAllString(content, r.With)
	}
	return content
}

// messageID builds the deterministic message id that lets mail clients
// thread replies: username.origin-host.toot-id at the bridge host. The
// username is the account the toot was discovered under, so a boost and
// its origin post get distinct ids.
func messageID(t *toot.Toot, fqdn string) string {
	return fmt.Sprintf("%s.%s.%s@%s", t.Account.Username, t.Hostname(), t.ID, fqdn)
}

func videoList(t *toot.Toot) string {
	urls := t.VideoURLs()
	if len(urls) == 0 {
		return "-"
	}
	var sb strings.Builder
	for _, u := range urls {
		sb.WriteString("\n  - ")
		sb.WriteString(u)
	}
	return sb.String()
}
