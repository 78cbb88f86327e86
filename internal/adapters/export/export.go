// Package export writes score tables (CSV or XLSX) and trace rows
// (line-delimited JSON).
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/okian/atlas/internal/domain/trace"
)

// ErrUnsupportedFormat is returned for output paths with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Table is a headed set of rows. Cells may be nil, strings, ints, bools,
// float64 or *float64; nil cells are written empty.
type Table struct {
	Columns []string
	Rows    [][]any
}

// WriteCSV writes t as CSV.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) {
				rec[i] = formatCell(row[i])
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// WriteXLSX writes t to the first sheet of a new workbook at path.
func WriteXLSX(path string, t Table) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetList()[0]

	for c, name := range t.Columns {
		ref, _ := excelize.CoordinatesToCellName(c+1, 1)
		if err := f.SetCellValue(sheet, ref, name); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for r, row := range t.Rows {
		for c := range t.Columns {
			if c >= len(row) {
				break
			}
			v := cellValue(row[c])
			if v == nil {
				continue
			}
			ref, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, ref, v); err != nil {
				return fmt.Errorf("write row %d: %w", r+1, err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// WriteTableFile writes t to path, as CSV or XLSX by extension.
func WriteTableFile(path string, t Table) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return writeFile(path, func(w io.Writer) error { return WriteCSV(w, t) })
	case ".xlsx":
		return WriteXLSX(path, t)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
}

// WriteJSONL writes one JSON object per trace row. Keys are sorted.
func WriteJSONL(w io.Writer, rows iter.Seq[trace.Flat]) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	for row := range rows {
		if err := enc.Encode(row); err != nil {
			return n, fmt.Errorf("encode trace %d: %w", n+1, err)
		}
		n++
	}
	return n, nil
}

// WriteJSONLFile writes trace rows to path.
func WriteJSONLFile(path string, rows iter.Seq[trace.Flat]) (int, error) {
	var n int
	err := writeFile(path, func(w io.Writer) error {
		var err error
		n, err = WriteJSONL(w, rows)
		return err
	})
	return n, err
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return write(f)
}

func cellValue(v any) any {
	if p, ok := v.(*float64); ok {
		if p == nil {
			return nil
		}
		return *p
	}
	return v
}

func formatCell(v any) string {
	switch t := cellValue(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
