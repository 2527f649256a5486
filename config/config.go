// Package config loads the INI configuration file.
package config

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"toot2mail/deliver"
	"toot2mail/email"
)

// Config is the immutable runtime configuration.
type Config struct {
	Timeout       time.Duration
	TimelineLimit int
	MaxReplyDepth int

	StateFilePath             string
	StateBucket               string // when set, state lives in GCS instead of the local file
	StateMaxEntriesPerAccount int    // 0 keeps all delivered uris forever
	LockFilePath              string

	ImageMaxWidth  int
	ImageMaxHeight int

	MailMaxSubjectLength int
	MailFrom             string
	MailRecipient        string
	MailServerHostname   string
	MailServerPort       int
	MailProvider         string // smtp, gmail or mock
	GmailCredentialsPath string

	ProxyURL string

	Accounts     []deliver.AccountTarget
	Hashtags     []deliver.TagTarget
	Replacements []email.Replacement
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	v.SetDefault("settings.timeout", 60)
	v.SetDefault("settings.timeline_limit", 20)
	v.SetDefault("settings.max_reply_depth", 50)
	v.SetDefault("settings.mail_maximum_subject_length", 100)
	v.SetDefault("settings.mail_server_port", 25)
	v.SetDefault("settings.mail_provider", "smtp")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{
		Timeout:                   time.Duration(v.GetFloat64("settings.timeout") * float64(time.Second)),
		TimelineLimit:             v.GetInt("settings.timeline_limit"),
		MaxReplyDepth:             v.GetInt("settings.max_reply_depth"),
		StateFilePath:             v.GetString("settings.state_file_path"),
		StateBucket:               v.GetString("settings.state_bucket"),
		StateMaxEntriesPerAccount: v.GetInt("settings.state_max_entries_per_account"),
		LockFilePath:              v.GetString("settings.lock_file_path"),
		MailMaxSubjectLength:      v.GetInt("settings.mail_maximum_subject_length"),
		MailFrom:                  v.GetString("settings.mail_from"),
		MailRecipient:             v.GetString("settings.mail_recipient"),
		MailServerHostname:        v.GetString("settings.mail_server_hostname"),
		MailServerPort:            v.GetInt("settings.mail_server_port"),
		MailProvider:              v.GetString("settings.mail_provider"),
		GmailCredentialsPath:      v.GetString("settings.gmail_credentials_path"),
		ProxyURL:                  v.GetString("settings.proxy"),
	}

	if size := v.GetString("settings.image_maximum_size"); size != "" {
		width, height, ok := strings.Cut(size, ",")
		if !ok {
			return nil, fmt.Errorf("image_maximum_size must be \"width,height\", got %q", size)
		}
		var err error
		if cfg.ImageMaxWidth, err = strconv.Atoi(strings.TrimSpace(width)); err != nil {
			return nil, fmt.Errorf("image_maximum_size width: %w", err)
		}
		if cfg.ImageMaxHeight, err = strconv.Atoi(strings.TrimSpace(height)); err != nil {
			return nil, fmt.Errorf("image_maximum_size height: %w", err)
		}
	}

	var err error
	if cfg.Accounts, err = parseAccounts(v.GetStringMapString("accounts")); err != nil {
		return nil, err
	}
	if cfg.Hashtags, err = parseHashtags(v.GetStringMapString("hashtags")); err != nil {
		return nil, err
	}
	if cfg.Replacements, err = parseReplacements(v.GetStringMapString("content_replacement")); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"mail_from":       c.MailFrom,
		"mail_recipient":  c.MailRecipient,
		"state_file_path": c.StateFilePath,
		"lock_file_path":  c.LockFilePath,
	}
	for key, value := range required {
		if value == "" {
			return fmt.Errorf("config setting %q is required", key)
		}
	}

	switch c.MailProvider {
	case "smtp":
		if c.MailServerHostname == "" {
			return fmt.Errorf("config setting %q is required with the smtp provider", "mail_server_hostname")
		}
	case "gmail":
		if c.GmailCredentialsPath == "" {
			return fmt.Errorf("config setting %q is required with the gmail provider", "gmail_credentials_path")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown mail_provider %q (want smtp, gmail or mock)", c.MailProvider)
	}
	return nil
}

// parseAccounts reads the [accounts] section: each key is user@host, the
// optional value a comma separated flag list of noreplies and noboosts.
func parseAccounts(section map[string]string) ([]deliver.AccountTarget, error) {
	var accounts []deliver.AccountTarget
	for _, key := range sortedKeys(section) {
		username, host, ok := strings.Cut(key, "@")
		if !ok {
			return nil, fmt.Errorf("account %q must be user@host", key)
		}
		var flags []string
		for _, flag := range strings.Split(section[key], ",") {
			flags = append(flags, strings.TrimSpace(flag))
		}
		accounts = append(accounts, deliver.AccountTarget{
			Username:       username,
			Host:           host,
			ExcludeReplies: slices.Contains(flags, "noreplies"),
			ExcludeBoosts:  slices.Contains(flags, "noboosts"),
		})
	}
	return accounts, nil
}

// parseHashtags reads the [hashtags] section: each key is tag@host.
func parseHashtags(section map[string]string) ([]deliver.TagTarget, error) {
	var tags []deliver.TagTarget
	for _, key := range sortedKeys(section) {
		tag, host, ok := strings.Cut(key, "@")
		if !ok {
			return nil, fmt.Errorf("hashtag %q must be tag@host", key)
		}
		tags = append(tags, deliver.TagTarget{Tag: tag, Host: host})
	}
	return tags, nil
}

// parseReplacements reads the [content_replacement] section. Patterns
// live in the value, "pattern => replacement", because INI keys are
// case-folded and stripped in ways that would mangle a regex.
func parseReplacements(section map[string]string) ([]email.Replacement, error) {
	var replacements []email.Replacement
	for _, key := range sortedKeys(section) {
		pattern, with, ok := strings.Cut(section[key], "=>")
		if !ok {
			return nil, fmt.Errorf("content_replacement %q must be \"pattern => replacement\"", key)
		}
		re, err := regexp.Compile(strings.TrimSpace(pattern))
		if err != nil {
			return nil, fmt.Errorf("content_replacement %q: %w", key, err)
		}
		replacements = append(replacements, email.Replacement{
			Pattern: re,
			With:    strings.TrimSpace(with),
		})
	}
	return replacements, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
