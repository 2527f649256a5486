// Package toot contains the core domain types for the Mastodon-to-mail bridge.
package toot

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Account identifies the author of a toot.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Acct        string `json:"acct"` // "user@host" for remote accounts, bare "user" for local ones
}

// Name returns the display name, falling back to the username.
func (a Account) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Username
}

// MediaAttachment is a single piece of media attached to a toot.
type MediaAttachment struct {
	Type       string `json:"type"` // image, video, gifv, ...
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
}

// Card is a link-preview card.
type Card struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Image string `json:"image"`
}

// Application identifies the client software a toot was posted with.
type Application struct {
	Name    string `json:"name"`
	Website string `json:"website"`
}

// Toot is the normalized view of a fetched status. Boost unwrapping happens
// exactly once, when the toot is decoded: content, card, attachments, URL and
// application are taken from the embedded original, and the boosting account
// is kept in Account while the original author lands in Original.
type Toot struct {
	ID  string
	URI string // canonical cross-server identity, used for dedup
	URL string

	Account  Account  // account the toot was discovered under (the booster for boosts)
	Original *Account // author of the boosted original; nil unless a boost

	Content          string // spoiler-prefixed HTML
	CreatedAt        time.Time
	InReplyToID      string
	InReplyTo        *Toot // resolved lazily by the delivery engine
	MediaAttachments []MediaAttachment
	Card             *Card
	Application      *Application

	// Server software identity, attached lazily by the compatibility
	// classifier and cached here for the rest of the resolution pass.
	SoftwareName    string
	SoftwareVersion string
	SoftwareKnown   bool
}

// apiStatus mirrors the wire format of /api/v1/statuses.
type apiStatus struct {
	ID               string            `json:"id"`
	URI              string            `json:"uri"`
	URL              string            `json:"url"`
	Content          string            `json:"content"`
	SpoilerText      string            `json:"spoiler_text"`
	CreatedAt        string            `json:"created_at"`
	InReplyToID      string            `json:"in_reply_to_id"`
	Account          Account           `json:"account"`
	Reblog           *apiStatus        `json:"reblog"`
	MediaAttachments []MediaAttachment `json:"media_attachments"`
	Card             *Card             `json:"card"`
	Application      *Application      `json:"application"`
}

// FromJSON decodes a single status document into a normalized Toot.
func FromJSON(data []byte) (*Toot, error) {
	var s apiStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return s.normalize(), nil
}

// ListFromJSON decodes a timeline response into normalized Toots.
func ListFromJSON(data []byte) ([]*Toot, error) {
	var list []apiStatus
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}
	toots := make([]*Toot, 0, len(list))
	for i := range list {
		toots = append(toots, list[i].normalize())
	}
	return toots, nil
}

func (s *apiStatus) normalize() *Toot {
	t := &Toot{
		ID:          s.ID,
		URI:         s.URI,
		URL:         s.URL,
		Account:     s.Account,
		InReplyToID: s.InReplyToID,
		CreatedAt:   parseCreatedAt(s.CreatedAt),
	}

	src := s
	if s.Reblog != nil {
		src = s.Reblog
		acct := s.Reblog.Account
		t.Original = &acct
		if s.Reblog.URL != "" {
			t.URL = s.Reblog.URL
		}
	}

	t.Content = src.Content
	if src.SpoilerText != "" {
		t.Content = src.SpoilerText + "\n\n" + src.Content
	}
	t.Card = src.Card
	t.Application = src.Application

	// Boosts occasionally carry their own attachment list; prefer the
	// original's but fall back to the wrapper's.
	t.MediaAttachments = src.MediaAttachments
	if len(t.MediaAttachments) == 0 {
		t.MediaAttachments = s.MediaAttachments
	}

	return t
}

// parseCreatedAt parses the ISO-8601 timestamps the API emits. Some servers
// omit the zone marker entirely; those are taken as UTC.
func parseCreatedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts
	}
	if ts, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}

// IsBoost reports whether this toot is a re-share of another toot.
func (t *Toot) IsBoost() bool { return t.Original != nil }

// IsReply reports whether this toot has a reply parent.
func (t *Toot) IsReply() bool { return t.InReplyToID != "" }

// Hostname returns the host of the toot's public URL.
func (t *Toot) Hostname() string {
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// UID is the dedup identity key: the lowercased acct when it is already
// fully qualified, otherwise username@url-host, both lowercased.
func (t *Toot) UID() string {
	if strings.Contains(t.Account.Acct, "@") {
		return strings.ToLower(t.Account.Acct)
	}
	return strings.ToLower(t.Account.Username) + "@" + strings.ToLower(t.Hostname())
}

// DedupURI is the canonical identifier stored in the delivery state.
func (t *Toot) DedupURI() string { return strings.ToLower(t.URI) }

// Origin parses the toot's URL into the originating host and the
// origin-local status id (the trailing path segment). Either may be empty
// when the URL is missing or malformed.
func (t *Toot) Origin() (host, id string) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return "", ""
	}
	path := strings.TrimSuffix(u.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		id = path[idx+1:]
	}
	return u.Host, id
}

// Author is the account the toot's content should be credited to: the
// original author for boosts, the posting account otherwise.
func (t *Toot) Author() Account {
	if t.Original != nil {
		return *t.Original
	}
	return t.Account
}

// CompoundName renders the display name for the From header. For boosts it
// is "booster: author" so both parties are visible in the mailbox listing.
func (t *Toot) CompoundName() string {
	name := t.Account.Name()
	if t.Original != nil {
		return name + ": " + t.Original.Name()
	}
	return name
}

// VideoURLs lists the URLs of video and gifv attachments, which are
// referenced in the mail body rather than embedded.
func (t *Toot) VideoURLs() []string {
	var urls []string
	for _, m := range t.MediaAttachments {
		if m.Type == "video" || m.Type == "gifv" {
			urls = append(urls, m.URL)
		}
	}
	return urls
}
