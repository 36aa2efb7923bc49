package runner

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/AlbusWei/auto-ai-testing/internal/dataset"
	"github.com/AlbusWei/auto-ai-testing/internal/files"
)

// SaveTable writes the whole table to path in one pass, through a temp file
// and an atomic rename. It takes no lock: the one-shot fallback must succeed
// even when the streaming path degraded because the lock was unavailable.
func SaveTable(table *dataset.Table, path string, ftype files.FileType) error {
	tmp := path + ".tmp"

	var err error

	switch ftype {
	case files.TypeExcel:
		err = saveExcel(table, tmp)
	default:
		err = saveCSV(table, tmp)
	}

	if err != nil {
		return err
	}

	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}

	return nil
}

func saveCSV(table *dataset.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	w := csv.NewWriter(f)

	if err = w.Write(table.Columns); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header: %w", err)
	}

	for _, row := range table.Rows {
		record := make([]string, len(table.Columns))
		for i, v := range table.Values(row, table.Columns) {
			if v != nil {
				record[i] = fmt.Sprint(v)
			}
		}

		if err = w.Write(record); err != nil {
			_ = f.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}

	w.Flush()

	if err = w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush: %w", err)
	}

	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync: %w", err)
	}

	return f.Close()
}

func saveExcel(table *dataset.Table, path string) error {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)

	header := make([]any, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c
	}

	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}

		values := table.Values(row, table.Columns)
		if err = book.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	if err := book.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	return book.Close()
}
