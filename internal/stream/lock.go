package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
)

const defaultPollInterval = 100 * time.Millisecond

// Lock is an advisory, single-host mutex backed by a sentinel file created
// with O_EXCL, so two processes racing to create it can never both succeed.
// The pid written into the body is diagnostic only; a lock left behind by a
// killed process must be removed by hand.
type Lock struct {
	path         string
	pollInterval time.Duration
	f            *os.File
}

// NewLock prepares a lock at path. pollInterval <= 0 uses the 100ms default.
func NewLock(path string, pollInterval time.Duration) *Lock {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Lock{path: path, pollInterval: pollInterval}
}

// Acquire polls until the sentinel can be created exclusively. timeout <= 0
// blocks until ctx is done; otherwise ErrLockTimeout is returned once the
// deadline passes.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			// Best-effort: record pid for troubleshooting.
			_, _ = fmt.Fprintf(f, "pid=%d\n", os.Getpid())
			_ = f.Sync()
			l.f = f

			return nil
		}

		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create lock file: %w", err)
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", apperrors.ErrLockTimeout, l.path)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// Release closes the handle and removes the sentinel, tolerating a file that
// is already gone. Safe to call more than once.
func (l *Lock) Release() error {
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}

	return nil
}

// Path returns the sentinel file path.
func (l *Lock) Path() string {
	return l.path
}
