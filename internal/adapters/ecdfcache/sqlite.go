package ecdfcache

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/atlas/internal/domain/ecdf"
	"github.com/okian/atlas/pkg/logger"
)

const (
	tableName = "ecdf_reference"

	createTable = `CREATE TABLE IF NOT EXISTS ecdf_reference (
		"window"  TEXT    NOT NULL,
		theta     REAL    NOT NULL,
		"rank"    INTEGER NOT NULL,
		"count"   INTEGER NOT NULL,
		quantile  REAL    NOT NULL
	)`
	insertRow  = `INSERT INTO ecdf_reference ("window", theta, "rank", "count", quantile) VALUES (?, ?, ?, ?, ?)`
	selectRows = `SELECT "window", theta, "rank", "count", quantile FROM ecdf_reference ORDER BY "window", "rank"`
)

// SQLite stores the reference in a single table of a SQLite database.
type SQLite struct {
	path string
	settings
}

// NewSQLite returns a cache backed by the database at path.
func NewSQLite(path string, opts ...Option) *SQLite {
	return &SQLite{path: path, settings: newSettings(opts)}
}

func (c *SQLite) open(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", c.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", c.path, err)
	}
	return db, nil
}

// Save replaces the stored reference in one transaction.
func (c *SQLite) Save(ctx context.Context, ref *ecdf.Reference) (err error) {
	defer func() { record("write", err) }()

	db, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create %s: %w", tableName, err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM "+tableName); err != nil {
		return fmt.Errorf("clear %s: %w", tableName, err)
	}
	stmt, err := tx.PreparexContext(ctx, insertRow)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	rows := ref.Rows()
	for _, r := range rows {
		if _, err = stmt.ExecContext(ctx, r.Window, r.Theta, r.Rank, r.Count, r.Quantile); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	c.log.Debug(ctx, "ECDF reference saved", logger.String("path", c.path), logger.Int("rows", len(rows)))
	return nil
}

// Load reads the stored reference. A missing file or table is ErrCacheNotFound.
func (c *SQLite) Load(ctx context.Context) (ref *ecdf.Reference, err error) {
	defer func() { record("read", err) }()

	if _, statErr := os.Stat(c.path); errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, c.path)
	}

	db, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var tables int
	if err = db.GetContext(ctx, &tables, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, tableName); err != nil {
		return nil, fmt.Errorf("inspect %s: %w", c.path, err)
	}
	if tables == 0 {
		return nil, fmt.Errorf("%w: no %s table in %s", ErrCacheNotFound, tableName, c.path)
	}

	var rows []ecdf.Row
	if err = db.SelectContext(ctx, &rows, selectRows); err != nil {
		return nil, fmt.Errorf("read %s: %w", tableName, err)
	}
	c.log.Debug(ctx, "ECDF reference loaded", logger.String("path", c.path), logger.Int("rows", len(rows)))
	return ecdf.FromRows(rows), nil
}
