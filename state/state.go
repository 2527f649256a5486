// Package state persists the per-identity sets of already-delivered toots.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// AccountState holds the delivered set for one identity. The slice keeps
// insertion order so the optional trailing window can drop the oldest
// entries first.
type AccountState struct {
	Toots []string `json:"toots"`
}

// Store is the delivery state: identity uid -> delivered toot uris.
// It is loaded once at process start, mutated in memory, and written back
// exactly once at process end as a whole-file replace. There is a single
// worker, so no locking is needed beyond the process lock file.
type Store struct {
	client    *storage.Client // nil means local file storage
	logger    *slog.Logger
	accounts  map[string]*AccountState
	path      string
	bucket    string
	maxPerUID int // 0 means never prune
}

// New creates a store backed by a GCS bucket when bucket is non-empty,
// otherwise by the local file at path.
func New(client *storage.Client, bucket, path string, maxPerUID int, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		accounts:  make(map[string]*AccountState),
		path:      path,
		bucket:    bucket,
		maxPerUID: maxPerUID,
	}
}

// Load reads the persisted state. A missing file or object is not an
// error; the store starts empty.
func (s *Store) Load(ctx context.Context) error {
	var data []byte
	var err error
	if s.bucket == "" {
		data, err = os.ReadFile(s.path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("read state file: %w", err)
		}
	} else {
		data, err = s.loadObject(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return nil
			}
			return err
		}
	}

	if err := json.Unmarshal(data, &s.accounts); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}
	s.logger.Info("Delivery state loaded", "identities", len(s.accounts))
	return nil
}

// IsDelivered reports whether uri has already been delivered for uid.
func (s *Store) IsDelivered(uid, uri string) bool {
	account, ok := s.accounts[uid]
	if !ok {
		return false
	}
	for _, known := range account.Toots {
		if known == uri {
			return true
		}
	}
	return false
}

// MarkDelivered records uri in uid's delivered set. Call only after the
// mail transport reported success.
func (s *Store) MarkDelivered(uid, uri string) {
	account, ok := s.accounts[uid]
	if !ok {
		account = &AccountState{}
		s.accounts[uid] = account
	}
	account.Toots = append(account.Toots, uri)
	if s.maxPerUID > 0 && len(account.Toots) > s.maxPerUID {
		account.Toots = account.Toots[len(account.Toots)-s.maxPerUID:]
	}
}

// Flush writes the whole state back. Locally this is a temp-file write
// plus rename so a crash mid-write never corrupts the previous state.
func (s *Store) Flush(ctx context.Context) error {
	data, err := json.MarshalIndent(s.accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if s.bucket == "" {
		tmp := s.path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write state file: %w", err)
		}
		if err := os.Rename(tmp, s.path); err != nil {
			return fmt.Errorf("replace state file: %w", err)
		}
		s.logger.Info("Delivery state saved", "path", s.path, "identities", len(s.accounts))
		return nil
	}

	object := filepath.Base(s.path)
	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying state save after error", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save state after retries: %w", err)
	}
	s.logger.Info("Delivery state saved", "bucket", s.bucket, "object", object, "identities", len(s.accounts))
	return nil
}

func (s *Store) loadObject(ctx context.Context) ([]byte, error) {
	object := filepath.Base(s.path)
	var data []byte
	var notExist bool
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(object).NewReader(ctx)
			if openErr != nil {
				// A missing object is a valid first run, not a failure
				// worth retrying.
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					notExist = true
					return retry.Unrecoverable(openErr)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying state load after error", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		if notExist {
			return nil, storage.ErrObjectNotExist
		}
		return nil, fmt.Errorf("load state after retries: %w", err)
	}
	return data, nil
}
