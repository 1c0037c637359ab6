// Package sheet reads and writes single-table .xlsx files: a header row
// followed by data rows on the first worksheet.
package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// ErrCorrupt marks a file that exists but cannot be opened as a workbook.
var ErrCorrupt = errors.New("corrupt workbook")

// Table is a header plus its data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Read loads the first worksheet of path. A missing file yields an error
// matching os.ErrNotExist.
func Read(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	defer f.Close()
	return readFile(f)
}

// Decode loads a workbook from r.
func Decode(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer f.Close()
	return readFile(f)
}

func readFile(f *excelize.File) (*Table, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Table{}, nil
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	t := &Table{}
	if len(rows) == 0 {
		return t, nil
	}
	t.Header = rows[0]
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Append adds row to the table stored at path. A missing file is created
// with header. A file that cannot be opened is moved aside and recreated;
// the returned recovered path is non-empty in that case.
func Append(path string, header, row []string) (recovered string, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	f, err := excelize.OpenFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		f = nil
	default:
		recovered = fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if rerr := os.Rename(path, recovered); rerr != nil {
			return "", fmt.Errorf("move corrupt workbook aside: %w", rerr)
		}
		f = nil
	}

	if f == nil {
		f = excelize.NewFile()
		defer f.Close()
		sheetName := f.GetSheetName(f.GetActiveSheetIndex())
		if err := writeRow(f, sheetName, 1, header); err != nil {
			return recovered, err
		}
		if err := writeRow(f, sheetName, 2, row); err != nil {
			return recovered, err
		}
		if err := replace(f, path); err != nil {
			return recovered, err
		}
		return recovered, nil
	}
	defer f.Close()

	sheetName := f.GetSheetList()[0]
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return "", fmt.Errorf("read rows: %w", err)
	}
	next := len(rows) + 1
	if next == 1 {
		if err := writeRow(f, sheetName, 1, header); err != nil {
			return "", err
		}
		next = 2
	}
	if err := writeRow(f, sheetName, next, row); err != nil {
		return "", err
	}
	if err := replace(f, path); err != nil {
		return "", err
	}
	return "", nil
}

// replace writes f to a temporary file next to path and renames it over
// path, so a concurrent Read sees either the previous or the new workbook.
func replace(f *excelize.File, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("save workbook: %w", err)
	}
	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// Encode renders t as an in-memory workbook.
func Encode(t Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := f.GetSheetName(f.GetActiveSheetIndex())
	if err := writeRow(f, sheetName, 1, t.Header); err != nil {
		return nil, err
	}
	for i, row := range t.Rows {
		if err := writeRow(f, sheetName, i+2, row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheetName string, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = cellValue(v)
	}
	if err := f.SetSheetRow(sheetName, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}

// cellValue stores canonical numbers as numeric cells and everything else
// as text, so a value reads back exactly as it was written.
func cellValue(s string) interface{} {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || strconv.FormatFloat(v, 'f', -1, 64) != s {
		return s
	}
	return v
}

func isBlank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
