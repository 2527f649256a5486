package state

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	store := New(nil, "", filepath.Join(t.TempDir(), "state.json"), 0, testLogger())
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if store.IsDelivered("alice@h.example", "uri") {
		t.Error("IsDelivered() = true on empty state")
	}
}

func TestMarkAndFlushRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	store := New(nil, "", path, 0, testLogger())
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	store.MarkDelivered("alice@h.example", "https://h.example/users/alice/statuses/1")
	store.MarkDelivered("alice@h.example", "https://h.example/users/alice/statuses/2")
	store.MarkDelivered("bob@other.example", "https://other.example/users/bob/statuses/9")
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	reloaded := New(nil, "", path, 0, testLogger())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() after flush error = %v", err)
	}
	for _, uri := range []string{
		"https://h.example/users/alice/statuses/1",
		"https://h.example/users/alice/statuses/2",
	} {
		if !reloaded.IsDelivered("alice@h.example", uri) {
			t.Errorf("IsDelivered(alice, %q) = false after reload", uri)
		}
	}
	if !reloaded.IsDelivered("bob@other.example", "https://other.example/users/bob/statuses/9") {
		t.Error("IsDelivered(bob) = false after reload")
	}
	if reloaded.IsDelivered("alice@h.example", "https://h.example/users/alice/statuses/3") {
		t.Error("IsDelivered() = true for a uri never marked")
	}
}

func TestStateFileFormat(t *testing.T) {
	// The on-disk format is the identity uid mapping to its toots list,
	// so state files written by earlier deployments keep working.
	path := filepath.Join(t.TempDir(), "state.json")
	content := `{"alice@h.example": {"toots": ["https://h.example/users/alice/statuses/1"]}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	store := New(nil, "", path, 0, testLogger())
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !store.IsDelivered("alice@h.example", "https://h.example/users/alice/statuses/1") {
		t.Error("IsDelivered() = false for uri present in the file")
	}

	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]*AccountState
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("flushed state is not valid json: %v", err)
	}
	if len(decoded["alice@h.example"].Toots) != 1 {
		t.Errorf("flushed state = %s", data)
	}
}

func TestMarkDeliveredTrimsOldestEntries(t *testing.T) {
	store := New(nil, "", filepath.Join(t.TempDir(), "state.json"), 2, testLogger())
	store.MarkDelivered("a@h", "uri1")
	store.MarkDelivered("a@h", "uri2")
	store.MarkDelivered("a@h", "uri3")

	if store.IsDelivered("a@h", "uri1") {
		t.Error("oldest entry survived past the window")
	}
	for _, uri := range []string{"uri2", "uri3"} {
		if !store.IsDelivered("a@h", uri) {
			t.Errorf("IsDelivered(%q) = false, want true", uri)
		}
	}
}

func TestAcquireLockTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	lock, err := Acquire(path, testLogger())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := Acquire(path, testLogger()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Acquire() error = %v, want ErrAlreadyRunning", err)
	}

	lock.Release()
	relock, err := Acquire(path, testLogger())
	if err != nil {
		t.Fatalf("Acquire() after Release() error = %v", err)
	}
	relock.Release()
}
