package posterior

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/okian/atlas/internal/domain/model"
)

// coordinateColumns are never auto-selected as model features.
var coordinateColumns = map[string]struct{}{
	"Latitude": {}, "Longitude": {}, "Lat": {}, "Lon": {},
}

// featureScale holds the standardisation of one column.
type featureScale struct {
	Column string
	Mean   float64
	Std    float64
}

// selectFeatures returns the requested columns, or every numeric store
// feature except coordinates and the window column in lexical order.
func selectFeatures(stores []model.Store, requested []string, windowColumn string) ([]string, error) {
	present := make(map[string]struct{})
	for _, s := range stores {
		for name := range s.Features {
			present[name] = struct{}{}
		}
	}
	if requested != nil {
		for _, column := range requested {
			if _, ok := present[column]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrMissingFeature, column)
			}
		}
		return slices.Clone(requested), nil
	}
	columns := make([]string, 0, len(present))
	for name := range present {
		if _, skip := coordinateColumns[name]; !skip && name != windowColumn {
			columns = append(columns, name)
		}
	}
	sort.Strings(columns)
	return columns, nil
}

// fitScales computes the mean and population standard deviation of each
// column over the stores that carry it. A zero spread is replaced by 1.
func fitScales(stores []model.Store, columns []string) []featureScale {
	scales := make([]featureScale, len(columns))
	for i, column := range columns {
		values := make([]float64, 0, len(stores))
		for _, s := range stores {
			if v, ok := s.Feature(column); ok {
				values = append(values, v)
			}
		}
		mean, err := stats.Mean(values)
		if err != nil {
			mean = 0
		}
		std, err := stats.StandardDeviationPopulation(values)
		if err != nil || std == 0 || math.IsNaN(std) {
			std = 1
		}
		scales[i] = featureScale{Column: column, Mean: mean, Std: std}
	}
	return scales
}

// standardise returns the z-scored feature row of s. A missing value is
// imputed with the column mean and therefore maps to 0.
func standardise(s model.Store, scales []featureScale) []float64 {
	row := make([]float64, len(scales))
	for i, sc := range scales {
		if v, ok := s.Feature(sc.Column); ok {
			row[i] = (v - sc.Mean) / sc.Std
		}
	}
	return row
}

// rawFeatures returns the unstandardised feature values of s for traces,
// with nil for a missing value.
func rawFeatures(s model.Store, scales []featureScale) map[string]any {
	out := make(map[string]any, len(scales))
	for _, sc := range scales {
		if v, ok := s.Feature(sc.Column); ok {
			out[sc.Column] = v
		} else {
			out[sc.Column] = nil
		}
	}
	return out
}
