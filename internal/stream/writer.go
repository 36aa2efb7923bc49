// Package stream implements crash-safe streaming table writers. A writer
// session atomically materializes the header, holds a sentinel-file lock for
// its whole lifetime, and durably persists each appended row before
// returning, so partial progress survives a process crash.
package stream

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
	"github.com/AlbusWei/auto-ai-testing/internal/files"
)

// Writer is one open append session. At most one live session may exist per
// target path; the companion lock enforces this across processes.
type Writer interface {
	// AppendRow persists one row. Values must match the column list given at
	// open, in length and order.
	AppendRow(values []any) error

	// Close finalizes the file and releases the lock. Idempotent.
	Close() error
}

// Options tunes session behavior. The zero value blocks indefinitely on a
// held lock, polling every 100ms.
type Options struct {
	LockTimeout  time.Duration // 0 = wait forever
	PollInterval time.Duration // 0 = 100ms
}

// New opens a writer session for the given format. The header is written
// through a temp file and atomically renamed onto the target before the lock
// is acquired, so readers never observe a partial file at path.
func New(ctx context.Context, fileType files.FileType, path string, columns []string, opts Options) (Writer, error) {
	switch fileType {
	case files.TypeCSV:
		return NewCSVWriter(ctx, path, columns, opts)
	case files.TypeExcel:
		return NewExcelWriter(ctx, path, columns, opts)
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFormat, fileType)
	}
}

func prepare(ctx context.Context, path string, opts Options, writeHeader func(tmp string) error) (*Lock, error) {
	if err := files.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := writeHeader(tmp); err != nil {
		return nil, err
	}

	if err := replaceFile(tmp, path); err != nil {
		return nil, err
	}

	lock := NewLock(path+".lock", opts.PollInterval)
	if err := lock.Acquire(ctx, opts.LockTimeout); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	return lock, nil
}
