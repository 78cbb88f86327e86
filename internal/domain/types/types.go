// Package types contains common types used across the application
package types

// Entry represents a ranked store
type Entry struct {
	Rank      int     `json:"rank"`
	StoreID   string  `json:"store_id"`
	Composite float64 `json:"composite"`
	Value     float64 `json:"value"`
	Yield     float64 `json:"yield"`
}

// Score is a store's published scores as accepted by the ranking store.
type Score struct {
	StoreID   string
	Composite float64
	Value     float64
	Yield     float64
}
