package dataset

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/atlas/internal/domain/model"
	"github.com/okian/atlas/pkg/logger"
)

// Column names.
const (
	ColStoreID   = "StoreId"
	ColType      = "Type"
	ColLat       = "Lat"
	ColLatitude  = "Latitude"
	ColLon       = "Lon"
	ColLongitude = "Longitude"

	ColDateTime       = "DateTime"
	ColDwell          = "DwellMin"
	ColPurchasedItems = "PurchasedItems"
	ColHaul           = "HaulLikert"
)

// timeLayouts are tried in order for DateTime cells.
var timeLayouts = []string{ //nolint:gochecknoglobals // fixed parse table
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Loader reads datasets from disk.
type Loader struct {
	log logger.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader logger.
func WithLogger(l logger.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.log = l
		}
	}
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{log: logger.Named("dataset")}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadStores reads a stores table. Columns other than the required ones
// become numeric features when every non-empty cell parses as a number, and
// text labels otherwise.
func (l *Loader) LoadStores(ctx context.Context, path string) ([]model.Store, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	idx, err := t.require(
		[]string{ColStoreID},
		[]string{ColType},
		[]string{ColLat, ColLatitude},
		[]string{ColLon, ColLongitude},
	)
	if err != nil {
		return nil, fmt.Errorf("stores %s: %w", path, err)
	}
	extra := t.extras(idx)
	numeric := t.numericColumns(extra)

	stores := make([]model.Store, 0, len(t.rows))
	for n, row := range t.rows {
		line := n + 2
		lat, err := parseFloat(cell(row, idx[2]), ColLat, line)
		if err != nil {
			return nil, fmt.Errorf("stores %s: %w", path, err)
		}
		lon, err := parseFloat(cell(row, idx[3]), ColLon, line)
		if err != nil {
			return nil, fmt.Errorf("stores %s: %w", path, err)
		}
		s := model.Store{
			ID:        cell(row, idx[0]),
			Type:      cell(row, idx[1]),
			Latitude:  lat,
			Longitude: lon,
			Features:  make(map[string]float64),
			Labels:    make(map[string]string),
		}
		for _, c := range extra {
			v := cell(row, c)
			if v == "" {
				continue
			}
			name := t.header[c]
			if numeric[c] {
				f, _ := strconv.ParseFloat(v, 64)
				s.Features[name] = f
			} else {
				s.Labels[name] = v
			}
		}
		stores = append(stores, s)
	}
	l.log.Info(ctx, "stores loaded", logger.String("path", path), logger.Int("rows", len(stores)))
	return stores, nil
}

// LoadObservations reads a visit observations table. Extra columns become
// labels, e.g. a window key.
func (l *Loader) LoadObservations(ctx context.Context, path string) ([]model.Observation, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	idx, err := t.require(
		[]string{ColStoreID},
		[]string{ColDateTime},
		[]string{ColDwell},
		[]string{ColPurchasedItems},
		[]string{ColHaul},
	)
	if err != nil {
		return nil, fmt.Errorf("observations %s: %w", path, err)
	}
	extra := t.extras(idx)

	out := make([]model.Observation, 0, len(t.rows))
	for n, row := range t.rows {
		line := n + 2
		ts, err := parseTime(cell(row, idx[1]), line)
		if err != nil {
			return nil, fmt.Errorf("observations %s: %w", path, err)
		}
		dwell, err := parseFloat(cell(row, idx[2]), ColDwell, line)
		if err != nil {
			return nil, fmt.Errorf("observations %s: %w", path, err)
		}
		items, err := parseFloat(cell(row, idx[3]), ColPurchasedItems, line)
		if err != nil {
			return nil, fmt.Errorf("observations %s: %w", path, err)
		}
		haul, err := parseFloat(cell(row, idx[4]), ColHaul, line)
		if err != nil {
			return nil, fmt.Errorf("observations %s: %w", path, err)
		}
		o := model.Observation{
			StoreID:        cell(row, idx[0]),
			Time:           ts,
			DwellMinutes:   dwell,
			PurchasedItems: items,
			HaulRating:     haul,
		}
		for _, c := range extra {
			if v := cell(row, c); v != "" {
				if o.Labels == nil {
					o.Labels = make(map[string]string)
				}
				o.Labels[t.header[c]] = v
			}
		}
		out = append(out, o)
	}
	l.log.Info(ctx, "observations loaded", logger.String("path", path), logger.Int("rows", len(out)))
	return out, nil
}

// numericColumns reports which columns hold only numbers (or blanks).
func (t *table) numericColumns(cols []int) map[int]bool {
	out := make(map[int]bool, len(cols))
	for _, c := range cols {
		numeric, seen := true, false
		for _, row := range t.rows {
			v := cell(row, c)
			if v == "" {
				continue
			}
			seen = true
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				numeric = false
				break
			}
		}
		out[c] = numeric && seen
	}
	return out
}

func parseFloat(v, column string, line int) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q on line %d", ErrInvalidValue, column, v, line)
	}
	return f, nil
}

func parseTime(v string, line int) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %q on line %d", ErrInvalidValue, ColDateTime, v, line)
}
