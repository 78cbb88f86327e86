// Package repository holds the published store ranking.
package repository

import (
	"context"

	"github.com/okian/atlas/internal/domain/types"
)

// Entry is one ranked store.
type Entry = types.Entry

// Store provides read/write access to the ranking state.
type Store interface {
	// Put inserts or replaces the scores of one store.
	Put(ctx context.Context, score types.Score) error

	// Rank returns the current rank and scores of a store.
	// Returns ErrNotFound if the store is unknown.
	Rank(ctx context.Context, storeID string) (Entry, error)

	// TopN returns the top-N entries ordered by composite desc, store id asc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of ranked stores.
	Count(ctx context.Context) int

	// Reset drops every entry, e.g. before publishing a new run.
	Reset(ctx context.Context)
}
