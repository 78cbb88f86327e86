package ecdfcache

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/okian/atlas/internal/domain/ecdf"
	"github.com/okian/atlas/pkg/logger"
)

// CSV stores the reference as a headed CSV file.
type CSV struct {
	path string
	settings
}

// NewCSV returns a cache backed by the CSV file at path.
func NewCSV(path string, opts ...Option) *CSV {
	return &CSV{path: path, settings: newSettings(opts)}
}

// Save writes the reference to a temporary file and renames it over path.
func (c *CSV) Save(ctx context.Context, ref *ecdf.Reference) (err error) {
	defer func() { record("write", err) }()

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".ecdf-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	rows := ref.Rows()
	if err = writeRows(tmp, rows); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace %s: %w", c.path, err)
	}
	c.log.Debug(ctx, "ECDF reference saved", logger.String("path", c.path), logger.Int("rows", len(rows)))
	return nil
}

func writeRows(w io.Writer, rows []ecdf.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.Window,
			strconv.FormatFloat(r.Theta, 'g', -1, 64),
			strconv.Itoa(r.Rank),
			strconv.Itoa(r.Count),
			strconv.FormatFloat(r.Quantile, 'g', -1, 64),
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

// Load reads the reference. Columns are matched by header name.
func (c *CSV) Load(ctx context.Context) (ref *ecdf.Reference, err error) {
	defer func() { record("read", err) }()

	f, err := os.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, c.path)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.path, err)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.path, err)
	}
	c.log.Debug(ctx, "ECDF reference loaded", logger.String("path", c.path), logger.Int("rows", len(rows)))
	return ecdf.FromRows(rows), nil
}

func readRows(r io.Reader) ([]ecdf.Row, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCache, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, name := range columns {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrMalformedCache, strings.Join(missing, ", "))
	}

	var rows []ecdf.Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedCache, err)
		}
		row, err := parseRow(rec, index)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedCache, line, err)
		}
		rows = append(rows, row)
	}
}

func parseRow(rec []string, index map[string]int) (ecdf.Row, error) {
	var (
		row ecdf.Row
		err error
	)
	row.Window = rec[index["Window"]]
	if row.Theta, err = strconv.ParseFloat(rec[index["Theta"]], 64); err != nil {
		return row, err
	}
	if row.Rank, err = strconv.Atoi(rec[index["Rank"]]); err != nil {
		return row, err
	}
	if row.Count, err = strconv.Atoi(rec[index["Count"]]); err != nil {
		return row, err
	}
	if row.Quantile, err = strconv.ParseFloat(rec[index["Quantile"]], 64); err != nil {
		return row, err
	}
	return row, nil
}
