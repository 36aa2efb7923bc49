// Package dataset loads test-set tables from CSV or xlsx files, normalizes
// column names, and validates the invariants the runners rely on: unique row
// ids and non-empty inputs.
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
	"github.com/AlbusWei/auto-ai-testing/internal/files"
)

// Canonical column names.
const (
	ColID          = "id"
	ColScenario    = "scenario"
	ColInput       = "input"
	ColGroundTruth = "ground_truth"
	ColOutput      = "output"
	ColLabel       = "label"
)

// columnAliases maps each canonical column to the header spellings accepted
// in source files, including the Chinese variants the tool ships with.
var columnAliases = map[string][]string{
	ColID:          {"序号", "id", "ID"},
	ColScenario:    {"scenario", "场景"},
	ColInput:       {"input", "模型输入", "输入"},
	ColGroundTruth: {"ground_truth", "参考答案", "要求描述", "标准答案"},
}

// requiredColumns is the validation order for error messages.
var requiredColumns = []string{ColID, ColScenario, ColInput, ColGroundTruth}

// Table is an ordered tabular dataset: a stable column list plus rows keyed
// by column name. Rows are processed strictly in table order.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// Values returns one row's cells in the given column order, nil for columns
// the row does not carry.
func (t *Table) Values(row map[string]any, columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = row[c]
	}

	return out
}

// HasColumn reports whether the table carries the named column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}

	return false
}

// AddColumn appends a column seeded with nil unless it already exists.
func (t *Table) AddColumn(name string) {
	if t.HasColumn(name) {
		return
	}

	t.Columns = append(t.Columns, name)
}

// Load reads a CSV or xlsx table from path without normalization.
func Load(path string) (*Table, error) {
	ftype, err := files.DetectType(path)
	if err != nil {
		return nil, err
	}

	var records [][]string

	switch ftype {
	case files.TypeCSV:
		records, err = readCSV(path)
	case files.TypeExcel:
		records, err = readExcel(path)
	}

	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrEmptyResponse, path)
	}

	return fromRecords(records), nil
}

// LoadAndCopy copies the dataset into testSetsDir with a timestamp suffix,
// then loads, normalizes, and validates the copy. It returns the copied path,
// the table, and the copy's base name without extension.
func LoadAndCopy(path, testSetsDir string) (string, *Table, string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", nil, "", fmt.Errorf("dataset file: %w", err)
	}

	copied, err := files.CopyWithTimestamp(path, testSetsDir)
	if err != nil {
		return "", nil, "", err
	}

	table, err := Load(copied)
	if err != nil {
		return "", nil, "", err
	}

	if err = Normalize(table); err != nil {
		return "", nil, "", err
	}

	if err = Validate(table); err != nil {
		return "", nil, "", err
	}

	// Seed derived columns so pre-labeled reruns keep their values.
	table.AddColumn(ColOutput)
	table.AddColumn(ColLabel)

	base := strings.TrimSuffix(filepath.Base(copied), filepath.Ext(copied))

	return copied, table, base, nil
}

// Normalize renames aliased headers to their canonical form and fails with
// ErrMissingColumns when a required column has no match.
func Normalize(t *Table) error {
	rename := map[string]string{}

	for canonical, aliases := range columnAliases {
		for _, col := range t.Columns {
			if containsString(aliases, strings.TrimSpace(col)) {
				rename[col] = canonical
				break
			}
		}
	}

	for i, col := range t.Columns {
		if canonical, ok := rename[col]; ok {
			t.Columns[i] = canonical
		}
	}

	for _, row := range t.Rows {
		for old, canonical := range rename {
			if old == canonical {
				continue
			}

			if v, ok := row[old]; ok {
				row[canonical] = v
				delete(row, old)
			}
		}
	}

	var missing []string

	for _, required := range requiredColumns {
		if !hasColumn(t.Columns, required) {
			missing = append(missing, required)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrMissingColumns, strings.Join(missing, ", "))
	}

	return nil
}

// Validate enforces unique ids and non-empty inputs.
func Validate(t *Table) error {
	seen := map[string]bool{}

	for i, row := range t.Rows {
		id := cellString(row[ColID])
		if seen[id] {
			return fmt.Errorf("%w: %q", apperrors.ErrDuplicateID, id)
		}

		seen[id] = true

		if strings.TrimSpace(cellString(row[ColInput])) == "" {
			return fmt.Errorf("%w: row %d (id %q)", apperrors.ErrEmptyInput, i, id)
		}
	}

	return nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	return records, nil
}

func readExcel(path string) ([][]string, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	defer func() {
		_ = book.Close()
	}()

	rows, err := book.GetRows(book.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}

	return rows, nil
}

func fromRecords(records [][]string) *Table {
	columns := append([]string(nil), records[0]...)
	rows := make([]map[string]any, 0, len(records)-1)

	for _, rec := range records[1:] {
		row := make(map[string]any, len(columns))

		for i, col := range columns {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}

		rows = append(rows, row)
	}

	return &Table{Columns: columns, Rows: rows}
}

func cellString(v any) string {
	if v == nil {
		return ""
	}

	return fmt.Sprint(v)
}

func hasColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}

	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
