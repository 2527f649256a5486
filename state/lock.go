package state

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrAlreadyRunning indicates another process holds the lock file.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock is an exclusive process lock backed by a file created with
// O_EXCL. It protects the state file from concurrent whole-file writes.
type Lock struct {
	logger *slog.Logger
	path   string
}

// Acquire creates the lock file, failing with ErrAlreadyRunning when it
// already exists.
func Acquire(path string, logger *slog.Logger) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close lock file: %w", err)
	}
	return &Lock{path: path, logger: logger}, nil
}

// Release removes the lock file.
func (l *Lock) Release() {
	if err := os.Remove(l.path); err != nil {
		l.logger.Warn("Failed to remove lock file", "path", l.path, "error", err)
	}
}
