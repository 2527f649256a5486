// Command toot2mail polls Mastodon accounts and hashtags and delivers
// new toots as mail, one message per toot, with reply chains threaded in
// causal order. It is meant to run from cron; an exclusive lock file
// keeps overlapping runs from racing on the delivery state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"toot2mail/config"
	"toot2mail/deliver"
	"toot2mail/email"
	"toot2mail/mastodon"
	"toot2mail/media"
	"toot2mail/state"
)

func main() {
	os.Exit(run())
}

// run wraps the real work so deferred cleanup still happens before the
// process exits with a status code.
func run() int {
	configPath := flag.String("config", "toot2mail.conf", "path to the configuration file")
	tootRef := flag.String("toot", "", "process a single toot, given as tootid@host")
	tagRef := flag.String("tag", "", "process a single hashtag, given as tag@host")
	userRef := flag.String("user", "", "process a single account, given as user@host")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	if countSet(*tootRef, *tagRef, *userRef) > 1 {
		logger.Error("The -toot, -tag and -user flags are mutually exclusive")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	lock, err := state.Acquire(cfg.LockFilePath, logger)
	if err != nil {
		if errors.Is(err, state.ErrAlreadyRunning) {
			logger.Info("Already running. Aborting.")
		} else {
			logger.Error("Failed to acquire lock", "path", cfg.LockFilePath, "error", err)
		}
		return 1
	}
	defer lock.Release()

	ctx := context.Background()
	logger.Info("Starting...")

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		logger.Error("Failed to set up HTTP client", "error", err)
		return 1
	}

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to load delivery state", "error", err)
		return 1
	}
	// The state is flushed exactly once, whatever happened during the
	// run, so successfully sent mail is never sent again.
	defer func() {
		if err := store.Flush(ctx); err != nil {
			logger.Error("Failed to save delivery state", "error", err)
		}
	}()

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to set up mail provider", "provider", cfg.MailProvider, "error", err)
		return 1
	}

	client := mastodon.New(httpClient, logger)
	resolver := media.New(client, cfg.ImageMaxWidth, cfg.ImageMaxHeight, logger)
	sender := email.NewSender(provider, resolver, cfg.MailFrom, cfg.MailRecipient,
		cfg.MailMaxSubjectLength, cfg.Replacements, logger)
	engine := deliver.New(client, store, sender, cfg.TimelineLimit, cfg.MaxReplyDepth, logger)

	if err := dispatch(ctx, engine, cfg, *tootRef, *tagRef, *userRef); err != nil {
		logger.Error("Run finished with errors", "error", err)
		return 1
	}

	logger.Info("Finished.")
	return 0
}

// dispatch picks the processing mode: a single toot, hashtag or account
// from the command line, or the full configured set.
func dispatch(ctx context.Context, engine *deliver.Engine, cfg *config.Config, tootRef, tagRef, userRef string) error {
	switch {
	case tootRef != "":
		id, host, ok := strings.Cut(tootRef, "@")
		if !ok {
			return fmt.Errorf("-toot wants tootid@host, got %q", tootRef)
		}
		return engine.ProcessToot(ctx, host, id)
	case tagRef != "":
		tag, host, ok := strings.Cut(tagRef, "@")
		if !ok {
			return fmt.Errorf("-tag wants tag@host, got %q", tagRef)
		}
		return engine.ProcessTag(ctx, deliver.TagTarget{Tag: tag, Host: host})
	case userRef != "":
		username, host, ok := strings.Cut(userRef, "@")
		if !ok {
			return fmt.Errorf("-user wants user@host, got %q", userRef)
		}
		return engine.ProcessAccount(ctx, deliver.AccountTarget{Username: username, Host: host})
	default:
		return engine.Run(ctx, cfg.Accounts, cfg.Hashtags)
	}
}

func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	transport := http.DefaultTransport
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.Proxy = http.ProxyURL(proxy)
		transport = t
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: transport}, nil
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*state.Store, error) {
	var client *storage.Client
	if cfg.StateBucket != "" {
		var err error
		client, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
	}
	store := state.New(client, cfg.StateBucket, cfg.StateFilePath, cfg.StateMaxEntriesPerAccount, logger)
	if err := store.Load(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (email.Provider, error) {
	switch cfg.MailProvider {
	case "smtp":
		addr := fmt.Sprintf("%s:%d", cfg.MailServerHostname, cfg.MailServerPort)
		return email.NewSMTPProvider(addr, logger), nil
	case "gmail":
		service, err := gmail.NewService(ctx, option.WithCredentialsFile(cfg.GmailCredentialsPath))
		if err != nil {
			return nil, fmt.Errorf("create gmail service: %w", err)
		}
		return email.NewGmailProvider(service, logger), nil
	default:
		return email.NewMockProvider(logger), nil
	}
}

func countSet(values ...string) int {
	n := 0
	for _, value := range values {
		if value != "" {
			n++
		}
	}
	return n
}
