// Package dataset loads store and observation tables from CSV or XLSX files.
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// table is a headed grid of trimmed cells.
type table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

func readTable(path string) (*table, error) {
	var (
		raw [][]string
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		raw, err = readCSV(path)
	case ".xlsx":
		raw, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, err
	}

	t := &table{index: make(map[string]int)}
	if len(raw) == 0 {
		return t, nil
	}
	for i, h := range raw[0] {
		h = strings.TrimSpace(h)
		t.header = append(t.header, h)
		if _, dup := t.index[h]; !dup && h != "" {
			t.index[h] = i
		}
	}
	for _, r := range raw[1:] {
		if blank(r) {
			continue
		}
		t.rows = append(t.rows, r)
	}
	return t, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// readXLSX reads the first sheet of a workbook.
func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read %s sheet %q: %w", path, sheets[0], err)
	}
	return rows, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// column resolves the first present alias.
func (t *table) column(aliases ...string) (int, bool) {
	for _, a := range aliases {
		if i, ok := t.index[a]; ok {
			return i, true
		}
	}
	return 0, false
}

// require resolves every required column; each entry lists its aliases.
// Missing columns are reported by their first alias, sorted.
func (t *table) require(required ...[]string) ([]int, error) {
	idx := make([]int, len(required))
	var missing []string
	for i, aliases := range required {
		c, ok := t.column(aliases...)
		if !ok {
			missing = append(missing, aliases[0])
			continue
		}
		idx[i] = c
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return idx, nil
}

// cell returns the trimmed value at column i, or "" past the row end.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// extras lists the header columns not in used, in file order.
func (t *table) extras(used []int) []int {
	var out []int
	for i, h := range t.header {
		if h == "" || slices.Contains(used, i) || t.index[h] != i {
			continue
		}
		out = append(out, i)
	}
	return out
}
