package ecdfcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/okian/atlas/internal/domain/ecdf"
	"github.com/okian/atlas/pkg/logger"
)

// Parquet stores the reference as a columnar Parquet file.
type Parquet struct {
	path string
	settings
}

// NewParquet returns a cache backed by the Parquet file at path.
func NewParquet(path string, opts ...Option) *Parquet {
	return &Parquet{path: path, settings: newSettings(opts)}
}

// Save writes the reference to a temporary file and renames it over path.
func (p *Parquet) Save(ctx context.Context, ref *ecdf.Reference) (err error) {
	defer func() { record("write", err) }()

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".ecdf-*.parquet")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	defer func() {
		if err != nil {
			_ = os.Remove(name)
		}
	}()

	rows := ref.Rows()
	if err = parquet.WriteFile(name, rows); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	if err = os.Rename(name, p.path); err != nil {
		return fmt.Errorf("replace %s: %w", p.path, err)
	}
	p.log.Debug(ctx, "ECDF reference saved", logger.String("path", p.path), logger.Int("rows", len(rows)))
	return nil
}

// Load reads the reference.
func (p *Parquet) Load(ctx context.Context) (ref *ecdf.Reference, err error) {
	defer func() { record("read", err) }()

	if _, err = os.Stat(p.path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, p.path)
	}
	rows, err := parquet.ReadFile[ecdf.Row](p.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedCache, p.path, err)
	}
	p.log.Debug(ctx, "ECDF reference loaded", logger.String("path", p.path), logger.Int("rows", len(rows)))
	return ecdf.FromRows(rows), nil
}
