// Package ecdfcache persists ECDF references between scoring runs as a
// SQLite table, a CSV file or a Parquet file, each with the columns Window,
// Theta, Rank, Count and Quantile.
package ecdfcache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/okian/atlas/internal/domain/ecdf"
	"github.com/okian/atlas/pkg/logger"
	"github.com/okian/atlas/pkg/metrics"
)

// columns is the persisted layout, in order.
var columns = []string{"Window", "Theta", "Rank", "Count", "Quantile"} //nolint:gochecknoglobals // fixed file layout

// Option configures a cache.
type Option func(*settings)

type settings struct {
	log logger.Logger
}

// WithLogger sets the cache logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{log: logger.Named("ecdf-cache")}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// New returns the cache for path, chosen by file extension: .db, .sqlite and
// .sqlite3 use SQLite, .csv uses CSV and .parquet uses Parquet.
func New(path string, opts ...Option) (ecdf.Cache, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLite(path, opts...), nil
	case ".csv":
		return NewCSV(path, opts...), nil
	case ".parquet":
		return NewParquet(path, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCache, path)
	}
}

func record(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.RecordECDFCache(op, result)
}
