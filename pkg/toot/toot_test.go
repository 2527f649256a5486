package toot

import (
	"testing"
	"time"
)

const statusJSON = `{
	"id": "111",
	"uri": "https://Mastodon.example/users/alice/statuses/111",
	"url": "https://mastodon.example/@alice/111",
	"content": "<p>Hello world</p>",
	"spoiler_text": "",
	"created_at": "2023-05-01T10:30:00.000Z",
	"in_reply_to_id": "",
	"account": {"id": "1", "username": "alice", "display_name": "Alice", "acct": "alice"},
	"media_attachments": [
		{"type": "image", "url": "https://files.example/a.jpg", "preview_url": "https://files.example/a_small.jpg"},
		{"type": "video", "url": "https://files.example/b.mp4", "preview_url": "https://files.example/b.png"}
	]
}`

func TestFromJSON(t *testing.T) {
	toot, err := FromJSON([]byte(statusJSON))
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}

	if toot.ID != "111" {
		t.Errorf("ID = %q, want %q", toot.ID, "111")
	}
	if toot.IsBoost() {
		t.Error("IsBoost() = true for a plain status")
	}
	if toot.IsReply() {
		t.Error("IsReply() = true for a toot without parent")
	}
	if got, want := toot.Content, "<p>Hello world</p>"; got != want {
		t.Errorf("Content = %q, want %q", got, want)
	}

	want := time.Date(2023, 5, 1, 10, 30, 0, 0, time.UTC)
	if !toot.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", toot.CreatedAt, want)
	}
}

func TestFromJSONSpoilerPrepended(t *testing.T) {
	data := `{
		"id": "5", "uri": "u", "url": "https://h.example/@a/5",
		"content": "<p>body</p>",
		"spoiler_text": "cw: politics",
		"account": {"username": "a"}
	}`
	toot, err := FromJSON([]byte(data))
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	want := "cw: politics\n\n<p>body</p>"
	if toot.Content != want {
		t.Errorf("Content = %q, want %q", toot.Content, want)
	}
}

func TestFromJSONBoost(t *testing.T) {
	data := `{
		"id": "222",
		"uri": "https://mastodon.example/users/bob/statuses/222/activity",
		"url": "https://mastodon.example/@bob/222",
		"content": "",
		"account": {"id": "2", "username": "bob", "display_name": "Bob", "acct": "bob"},
		"reblog": {
			"id": "111",
			"uri": "https://other.example/users/alice/statuses/111",
			"url": "https://other.example/@alice/111",
			"content": "<p>original</p>",
			"account": {"id": "1", "username": "alice", "display_name": "Alice", "acct": "alice@other.example"},
			"media_attachments": [{"type": "image", "url": "https://files.example/x.jpg"}],
			"card": {"url": "https://news.example/article", "title": "An Article"},
			"application": {"name": "Tusky"}
		}
	}`
	toot, err := FromJSON([]byte(data))
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}

	if !toot.IsBoost() {
		t.Fatal("IsBoost() = false")
	}
	if toot.Account.Username != "bob" {
		t.Errorf("Account.Username = %q, want booster %q", toot.Account.Username, "bob")
	}
	if toot.Original.Username != "alice" {
		t.Errorf("Original.Username = %q, want author %q", toot.Original.Username, "alice")
	}
	if toot.URL != "https://other.example/@alice/111" {
		t.Errorf("URL = %q, want the original's url", toot.URL)
	}
	if toot.Content != "<p>original</p>" {
		t.Errorf("Content = %q, want the original's content", toot.Content)
	}
	if toot.Card == nil || toot.Card.Title != "An Article" {
		t.Errorf("Card = %+v, want the original's card", toot.Card)
	}
	if len(toot.MediaAttachments) != 1 || toot.MediaAttachments[0].URL != "https://files.example/x.jpg" {
		t.Errorf("MediaAttachments = %+v, want the original's attachments", toot.MediaAttachments)
	}
	if got, want := toot.CompoundName(), "Bob: Alice"; got != want {
		t.Errorf("CompoundName() = %q, want %q", got, want)
	}
	if got, want := toot.Author().Username, "alice"; got != want {
		t.Errorf("Author().Username = %q, want %q", got, want)
	}
}

func TestUID(t *testing.T) {
	tests := []struct {
		name string
		toot Toot
		want string
	}{
		{
			name: "remote acct already qualified",
			toot: Toot{Account: Account{Username: "Alice", Acct: "Alice@Other.Example"}},
			want: "alice@other.example",
		},
		{
			name: "local acct falls back to url host",
			toot: Toot{URL: "https://Mastodon.Example/@alice/1", Account: Account{Username: "Alice", Acct: "Alice"}},
			want: "alice@mastodon.example",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.toot.UID(); got != tt.want {
				t.Errorf("UID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDedupURI(t *testing.T) {
	toot := Toot{URI: "https://Mastodon.Example/users/Alice/statuses/111"}
	want := "https://mastodon.example/users/alice/statuses/111"
	if got := toot.DedupURI(); got != want {
		t.Errorf("DedupURI() = %q, want %q", got, want)
	}
}

func TestOrigin(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantID   string
	}{
		{"normal", "https://other.example/@alice/12345", "other.example", "12345"},
		{"trailing slash", "https://other.example/@alice/12345/", "other.example", "12345"},
		{"empty url", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toot := Toot{URL: tt.url}
			host, id := toot.Origin()
			if host != tt.wantHost || id != tt.wantID {
				t.Errorf("Origin() = (%q, %q), want (%q, %q)", host, id, tt.wantHost, tt.wantID)
			}
		})
	}
}

func TestParseCreatedAtWithoutZone(t *testing.T) {
	toot, err := FromJSON([]byte(`{"id": "1", "created_at": "2023-05-01T10:30:00", "account": {"username": "a"}}`))
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	want := time.Date(2023, 5, 1, 10, 30, 0, 0, time.UTC)
	if !toot.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", toot.CreatedAt, want)
	}
}

func TestVideoURLs(t *testing.T) {
	toot := Toot{MediaAttachments: []MediaAttachment{
		{Type: "image", URL: "https://files.example/a.jpg"},
		{Type: "video", URL: "https://files.example/b.mp4"},
		{Type: "gifv", URL: "https://files.example/c.mp4"},
	}}
	got := toot.VideoURLs()
	if len(got) != 2 || got[0] != "https://files.example/b.mp4" || got[1] != "https://files.example/c.mp4" {
		t.Errorf("VideoURLs() = %v", got)
	}
}

func TestListFromJSON(t *testing.T) {
	toots, err := ListFromJSON([]byte(`[` + statusJSON + `]`))
	if err != nil {
		t.Fatalf("ListFromJSON() error = %v", err)
	}
	if len(toots) != 1 || toots[0].ID != "111" {
		t.Errorf("ListFromJSON() = %+v, want one toot with id 111", toots)
	}
}
