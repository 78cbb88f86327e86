package repository

import "errors"

// Sentinel kinds for ranking errors.
var (
	ErrNotFound     = errors.New("store not found")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
	ErrEmptyStoreID = errors.New("empty store id")
)
