package stream

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
)

// CSVWriter appends rows directly to the target file, flushing and syncing
// after every row so each returned append is durable.
type CSVWriter struct {
	path    string
	columns []string
	lock    *Lock
	f       *os.File
	w       *csv.Writer
	closed  bool
}

// NewCSVWriter opens a CSV session: atomic header creation, lock acquisition,
// then an append handle. If anything fails after the lock was acquired, the
// lock is released before the error is returned.
func NewCSVWriter(ctx context.Context, path string, columns []string, opts Options) (*CSVWriter, error) {
	cols := append([]string(nil), columns...)

	lock, err := prepare(ctx, path, opts, func(tmp string) error {
		return writeCSVHeader(tmp, cols)
	})
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("open for append: %w", err)
	}

	return &CSVWriter{
		path:    path,
		columns: cols,
		lock:    lock,
		f:       f,
		w:       csv.NewWriter(f),
	}, nil
}

func writeCSVHeader(tmp string, columns []string) error {
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create header temp file: %w", err)
	}

	w := csv.NewWriter(f)
	if err = w.Write(columns); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header: %w", err)
	}

	w.Flush()

	if err = w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush header: %w", err)
	}

	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync header: %w", err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("close header temp file: %w", err)
	}

	return nil
}

// AppendRow writes one row and forces it to stable storage before returning.
func (c *CSVWriter) AppendRow(values []any) error {
	if c.closed {
		return apperrors.ErrWriterClosed
	}

	if len(values) != len(c.columns) {
		return fmt.Errorf("%w: got %d, want %d", apperrors.ErrColumnCount, len(values), len(c.columns))
	}

	record := make([]string, len(values))
	for i, v := range values {
		record[i] = formatCell(v)
	}

	if err := c.w.Write(record); err != nil {
		return fmt.Errorf("write row: %w", err)
	}

	c.w.Flush()

	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush row: %w", err)
	}

	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("sync row: %w", err)
	}

	return nil
}

// Close flushes, closes the handle, and releases the lock. Secondary errors
// are swallowed so the lock is always released; safe to call twice.
func (c *CSVWriter) Close() error {
	if c.closed {
		return nil
	}

	c.closed = true

	c.w.Flush()
	_ = c.f.Sync()

	closeErr := c.f.Close()
	releaseErr := c.lock.Release()

	if closeErr != nil {
		return fmt.Errorf("close file: %w", closeErr)
	}

	return releaseErr
}

func formatCell(v any) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	default:
		return fmt.Sprint(val)
	}
}

func formatFloat(f float64) string {
	// %v keeps integers clean (1 not 1.000000) and floats compact.
	return fmt.Sprintf("%v", f)
}
