package stream

import (
	"context"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
)

// ExcelWriter keeps the whole workbook in memory and, on every append,
// re-serializes it to a temp file and atomically renames it over the target.
// More expensive per row than CSV, but the target file is always a complete,
// valid workbook.
type ExcelWriter struct {
	path    string
	columns []string
	lock    *Lock
	book    *excelize.File
	sheet   string
	nextRow int
	closed  bool
}

// NewExcelWriter opens an xlsx session. The header workbook is materialized
// atomically before the lock is acquired, then reloaded as the in-memory
// accumulator. Opening a session resets the target to header-only.
func NewExcelWriter(ctx context.Context, path string, columns []string, opts Options) (*ExcelWriter, error) {
	cols := append([]string(nil), columns...)

	lock, err := prepare(ctx, path, opts, func(tmp string) error {
		return writeExcelHeader(tmp, cols)
	})
	if err != nil {
		return nil, err
	}

	book, err := excelize.OpenFile(path)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	return &ExcelWriter{
		path:    path,
		columns: cols,
		lock:    lock,
		book:    book,
		sheet:   book.GetSheetName(0),
		nextRow: 2, // row 1 is the header
	}, nil
}

func writeExcelHeader(tmp string, columns []string) error {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}

	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header row: %w", err)
	}

	if err := saveWorkbook(book, tmp); err != nil {
		return fmt.Errorf("save header workbook: %w", err)
	}

	return book.Close()
}

// AppendRow adds one row and persists the whole workbook via temp-save and
// atomic rename, keeping the target valid at all times.
func (e *ExcelWriter) AppendRow(values []any) error {
	if e.closed {
		return apperrors.ErrWriterClosed
	}

	if len(values) != len(e.columns) {
		return fmt.Errorf("%w: got %d, want %d", apperrors.ErrColumnCount, len(values), len(e.columns))
	}

	cell, err := excelize.CoordinatesToCellName(1, e.nextRow)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}

	row := append([]any(nil), values...)
	if err = e.book.SetSheetRow(e.sheet, cell, &row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}

	if err = e.save(); err != nil {
		return err
	}

	e.nextRow++

	return nil
}

func (e *ExcelWriter) save() error {
	tmp := e.path + ".tmp"
	if err := saveWorkbook(e.book, tmp); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	return replaceFile(tmp, e.path)
}

// saveWorkbook serializes the workbook to path through a file handle;
// excelize.SaveAs would reject the non-.xlsx extension of temp paths.
func saveWorkbook(book *excelize.File, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err = book.Write(f); err != nil {
		_ = f.Close()

		return err
	}

	return f.Close()
}

// Close finalizes the workbook and releases the lock. Best-effort: a failed
// final save does not prevent lock release. Safe to call twice.
func (e *ExcelWriter) Close() error {
	if e.closed {
		return nil
	}

	e.closed = true

	saveErr := e.save()
	_ = e.book.Close()
	releaseErr := e.lock.Release()

	if saveErr != nil {
		return saveErr
	}

	return releaseErr
}

func replaceFile(tmp, path string) error {
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}

	return nil
}
