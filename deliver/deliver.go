// Package deliver walks timelines and turns undelivered toots into mail,
// resolving each toot against its origin server and delivering reply
// chains parent-first so mail clients can thread them.
package deliver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"toot2mail/mastodon"
	"toot2mail/pkg/toot"
)

// Fetcher is the read side of the federation API.
type Fetcher interface {
	Status(ctx context.Context, host, id string) (*toot.Toot, error)
	AccountID(ctx context.Context, host, username string) (string, error)
	AccountStatuses(ctx context.Context, host, accountID string, limit int) ([]*toot.Toot, error)
	TagTimeline(ctx context.Context, host, tag string, limit int) ([]*toot.Toot, error)
	Classify(ctx context.Context, host string) (softwareName, softwareVersion string)
}

// Store tracks which toots have already been delivered.
type Store interface {
	IsDelivered(uid, uri string) bool
	MarkDelivered(uid, uri string)
}

// Mailer renders a toot and hands it to the mail transport.
type Mailer interface {
	Send(ctx context.Context, t *toot.Toot) error
}

// AccountTarget is one followed account.
type AccountTarget struct {
	Username       string
	Host           string
	ExcludeReplies bool
	ExcludeBoosts  bool
}

// TagTarget is one followed hashtag.
type TagTarget struct {
	Tag  string
	Host string
}

// Engine drives one polling run.
type Engine struct {
	fetcher  Fetcher
	store    Store
	mailer   Mailer
	logger   *slog.Logger
	pause    func() // called between targets
	limit    int
	maxDepth int
}

// New creates an engine. The pause between targets is randomized so runs
// do not hammer remote servers in a recognizable pattern.
func New(fetcher Fetcher, store Store, mailer Mailer, limit, maxDepth int, logger *slog.Logger) *Engine {
	return &Engine{
		fetcher:  fetcher,
		store:    store,
		mailer:   mailer,
		logger:   logger,
		limit:    limit,
		maxDepth: maxDepth,
		pause: func() {
			time.Sleep(time.Duration(3+rand.IntN(8)) * time.Second)
		},
	}
}

// Run processes every configured account and hashtag. A failing target is
// logged and does not stop the others.
func (e *Engine) Run(ctx context.Context, accounts []AccountTarget, tags []TagTarget) error {
	var errs []error
	for _, account := range accounts {
		if err := e.ProcessAccount(ctx, account); err != nil {
			if mastodon.IsTransient(err) {
				e.logger.Warn("Account processing timed out", "account", account.Username+"@"+account.Host, "error", err)
			} else {
				e.logger.Error("Account processing failed", "account", account.Username+"@"+account.Host, "error", err)
			}
			errs = append(errs, fmt.Errorf("account %s@%s: %w", account.Username, account.Host, err))
		}
		e.pause()
	}
	for _, tag := range tags {
		if err := e.ProcessTag(ctx, tag); err != nil {
			if mastodon.IsTransient(err) {
				e.logger.Warn("Hashtag processing timed out", "tag", tag.Tag, "host", tag.Host, "error", err)
			} else {
				e.logger.Error("Hashtag processing failed", "tag", tag.Tag, "host", tag.Host, "error", err)
			}
			errs = append(errs, fmt.Errorf("hashtag #%s on %s: %w", tag.Tag, tag.Host, err))
		}
		e.pause()
	}
	return errors.Join(errs...)
}

// ProcessAccount fetches an account's recent statuses and delivers the new
// ones, oldest first.
func (e *Engine) ProcessAccount(ctx context.Context, target AccountTarget) error {
	e.logger.Info("Processing account", "username", target.Username, "host", target.Host)

	accountID, err := e.fetcher.AccountID(ctx, target.Host, target.Username)
	if err != nil {
		return fmt.Errorf("look up account id: %w", err)
	}
	toots, err := e.fetcher.AccountStatuses(ctx, target.Host, accountID, e.limit)
	if err != nil {
		return fmt.Errorf("fetch statuses: %w", err)
	}

	// Timelines arrive newest first; deliver oldest first so mailbox
	// order matches posting order.
	for i := len(toots) - 1; i >= 0; i-- {
		t := toots[i]
		if target.ExcludeReplies && t.IsReply() {
			continue
		}
		if target.ExcludeBoosts && t.IsBoost() {
			continue
		}
		// Known toots are dropped before any resolution so reruns do
		// not refetch origins or walk reply chains again.
		if e.store.IsDelivered(t.UID(), t.DedupURI()) {
			e.logger.Debug("Already delivered", "uid", t.UID(), "uri", t.DedupURI())
			continue
		}
		e.handle(ctx, t)
	}
	return nil
}

// ProcessTag fetches a hashtag timeline and delivers the new toots,
// oldest first.
func (e *Engine) ProcessTag(ctx context.Context, target TagTarget) error {
	e.logger.Info("Processing hashtag", "tag", target.Tag, "host", target.Host)

	toots, err := e.fetcher.TagTimeline(ctx, target.Host, target.Tag, e.limit)
	if err != nil {
		return fmt.Errorf("fetch hashtag timeline: %w", err)
	}
	for i := len(toots) - 1; i >= 0; i-- {
		t := toots[i]
		if e.store.IsDelivered(t.UID(), t.DedupURI()) {
			e.logger.Debug("Already delivered", "uid", t.UID(), "uri", t.DedupURI())
			continue
		}
		e.handle(ctx, t)
	}
	return nil
}

// ProcessToot fetches and delivers a single toot by host and id.
func (e *Engine) ProcessToot(ctx context.Context, host, id string) error {
	t, err := e.fetcher.Status(ctx, host, id)
	if err != nil {
		return fmt.Errorf("fetch toot %s on %s: %w", id, host, err)
	}
	return e.deliver(ctx, t, 0)
}

// handle delivers one timeline toot, containing its failure so the rest
// of the timeline still gets processed.
func (e *Engine) handle(ctx context.Context, t *toot.Toot) {
	if err := e.deliver(ctx, t, 0); err != nil {
		if mastodon.IsTransient(err) {
			e.logger.Warn("Skipping toot after transient error", "uri", t.URI, "error", err)
		} else {
			e.logger.Error("Failed to deliver toot", "uri", t.URI, "error", err)
		}
	}
}

// deliver runs the full pipeline for one toot: origin re-resolution,
// compatibility check, reply-chain resolution, duplicate check, send,
// state update. depth counts reply-chain recursion.
func (e *Engine) deliver(ctx context.Context, t *toot.Toot, depth int) error {
	t, err := e.resolveOrigin(ctx, t)
	if err != nil {
		return err
	}

	if err := e.resolveParent(ctx, t, depth); err != nil {
		return err
	}

	uid, uri := t.UID(), t.DedupURI()
	if e.store.IsDelivered(uid, uri) {
		e.logger.Debug("Already delivered", "uid", uid, "uri", uri)
		return nil
	}

	if err := e.mailer.Send(ctx, t); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	e.store.MarkDelivered(uid, uri)
	e.logger.Info("Delivered toot", "uid", uid, "uri", uri, "depth", depth)
	return nil
}

// resolveOrigin re-fetches the toot from the server it originated on so
// the delivered copy is canonical rather than the discovery server's
// possibly stale or truncated view. When the origin refuses or no longer
// has the toot, the discovery copy is delivered as-is.
func (e *Engine) resolveOrigin(ctx context.Context, t *toot.Toot) (*toot.Toot, error) {
	host, id := t.Origin()
	if host == "" || id == "" {
		return t, nil
	}

	resolved, err := e.fetcher.Status(ctx, host, id)
	if err != nil {
		if mastodon.IsNotFound(err) || mastodon.IsForbidden(err) || mastodon.IsTransient(err) {
			e.logger.Info("Origin fetch failed, delivering discovery copy", "url", t.URL, "error", err)
			return t, nil
		}
		return nil, fmt.Errorf("resolve origin of %s: %w", t.URL, err)
	}

	// The origin serves the original post, so a boost resolves to its
	// inner toot. Keep the boosting account so attribution and the
	// per-identity delivered set stay with the followed account.
	if t.IsBoost() && !resolved.IsBoost() {
		author := resolved.Account
		resolved.Original = &author
		resolved.Account = t.Account
	}
	return resolved, nil
}

// resolveParent fetches and, when needed, recursively delivers the toot's
// reply parent so ancestors land in the mailbox before their replies.
// Hosts running software without the status API get their ancestor
// resolution skipped; the toot itself is still delivered.
func (e *Engine) resolveParent(ctx context.Context, t *toot.Toot, depth int) error {
	if !t.IsReply() {
		return nil
	}
	if depth >= e.maxDepth {
		e.logger.Warn("Reply chain too deep, truncating", "uri", t.URI, "depth", depth)
		return nil
	}

	if !t.SoftwareKnown {
		t.SoftwareName, t.SoftwareVersion = e.fetcher.Classify(ctx, t.Hostname())
		t.SoftwareKnown = true
	}
	if mastodon.Incompatible(t.SoftwareName) {
		e.logger.Info("Skipping reply resolution on incompatible server",
			"host", t.Hostname(), "software", t.SoftwareName, "version", t.SoftwareVersion)
		return nil
	}

	host, _ := t.Origin()
	parent, err := e.fetcher.Status(ctx, host, t.InReplyToID)
	if err != nil {
		// Deleted parents are routine; the reply still goes out, just
		// without the threading reference.
		if mastodon.IsNotFound(err) {
			e.logger.Info("Reply parent not found", "uri", t.URI, "parent_id", t.InReplyToID, "error", err)
			return nil
		}
		return fmt.Errorf("fetch reply parent of %s: %w", t.URI, err)
	}

	parent, err = e.resolveOrigin(ctx, parent)
	if err != nil {
		return err
	}
	t.InReplyTo = parent

	if !e.store.IsDelivered(parent.UID(), parent.DedupURI()) {
		if err := e.deliver(ctx, parent, depth+1); err != nil {
			// An undeliverable ancestor should not suppress the reply
			// itself.
			e.logger.Warn("Failed to deliver reply parent", "uri", parent.URI, "error", err)
		}
	}
	return nil
}
