// Package ecdf builds the window-segmented empirical distribution of the
// latent purchase rate and maps a rate to its calibrated quantile.
package ecdf

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the single corpus-wide window used when no segmentation
// key is available.
const DefaultWindow = "corpus"

// emptyQuantile is returned by lookups against an empty reference.
const emptyQuantile = 0.5

// Sample is one raw latent-rate value and the window it belongs to.
type Sample struct {
	Window string
	Theta  float64
}

// Row is one persisted reference entry. Rank is 1-based within the window and
// Quantile is the mid-rank (Rank − 0.5)/Count.
type Row struct {
	Window   string  `db:"window"   json:"Window"   parquet:"Window"`
	Theta    float64 `db:"theta"    json:"Theta"    parquet:"Theta"`
	Rank     int     `db:"rank"     json:"Rank"     parquet:"Rank"`
	Count    int     `db:"count"    json:"Count"    parquet:"Count"`
	Quantile float64 `db:"quantile" json:"Quantile" parquet:"Quantile"`
}

// Cache persists a reference between runs.
type Cache interface {
	Save(ctx context.Context, ref *Reference) error
	Load(ctx context.Context) (*Reference, error)
}

// Reference is a read-only ECDF reference. Rows are ordered by window then
// theta.
type Reference struct {
	rows    []Row
	windows map[string][]float64
	pooled  []float64
}

// Build sorts samples by (window, theta) and assigns ranks, counts and
// mid-rank quantiles. Samples with an empty window go to DefaultWindow.
func Build(samples []Sample) *Reference {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	for i := range sorted {
		if sorted[i].Window == "" {
			sorted[i].Window = DefaultWindow
		}
	}
	slices.SortStableFunc(sorted, func(a, b Sample) int {
		if c := cmp.Compare(a.Window, b.Window); c != 0 {
			return c
		}
		return cmp.Compare(a.Theta, b.Theta)
	})

	counts := make(map[string]int)
	for _, s := range sorted {
		counts[s.Window]++
	}

	rows := make([]Row, len(sorted))
	rank := 0
	for i, s := range sorted {
		if i == 0 || sorted[i-1].Window != s.Window {
			rank = 0
		}
		rank++
		n := counts[s.Window]
		rows[i] = Row{
			Window:   s.Window,
			Theta:    s.Theta,
			Rank:     rank,
			Count:    n,
			Quantile: (float64(rank) - 0.5) / float64(max(n, 1)),
		}
	}
	return FromRows(rows)
}

// FromRows wraps persisted rows, e.g. from a cache. Rows are taken as given.
func FromRows(rows []Row) *Reference {
	ref := &Reference{
		rows:    rows,
		windows: make(map[string][]float64),
		pooled:  make([]float64, 0, len(rows)),
	}
	for _, r := range rows {
		ref.windows[r.Window] = append(ref.windows[r.Window], r.Theta)
		ref.pooled = append(ref.pooled, r.Theta)
	}
	for _, values := range ref.windows {
		sort.Float64s(values)
	}
	sort.Float64s(ref.pooled)
	return ref
}

// Rows returns a copy of the reference rows.
func (r *Reference) Rows() []Row {
	if r == nil {
		return nil
	}
	return slices.Clone(r.rows)
}

// Len is the number of rows.
func (r *Reference) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rows)
}

// Windows lists the window keys in lexical order.
func (r *Reference) Windows() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.windows))
	for w := range r.windows {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Quantile returns #(values ≤ theta)/count within window, falling back to
// the pooled reference when the window has no rows. An empty reference
// yields 0.5 and a NaN rate sorts last.
func (r *Reference) Quantile(theta float64, window string) float64 {
	if r == nil || len(r.pooled) == 0 {
		return emptyQuantile
	}
	if math.IsNaN(theta) {
		return 1
	}
	values, ok := r.windows[window]
	if !ok || len(values) == 0 {
		values = r.pooled
	}
	return stat.CDF(theta, stat.Empirical, values, nil)
}
