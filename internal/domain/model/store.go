// Package model contains domain models passed between layers.
package model

import (
	"math"
	"strconv"
	"time"
)

// ThetaMinutes is the dwell period the latent rate is normalised to.
const ThetaMinutes = 45.0

// minDwell floors dwell minutes before dividing.
const minDwell = 1e-6

// Store is one scored site. It is immutable for the duration of a run.
type Store struct {
	ID        string
	Type      string
	Latitude  float64
	Longitude float64
	// Features holds normalised numeric covariates keyed by column name,
	// e.g. affluence percentiles in [0,1].
	Features map[string]float64
	// Labels holds non-numeric columns such as a metro window key.
	Labels map[string]string
}

// Feature returns the named numeric covariate.
func (s Store) Feature(name string) (float64, bool) {
	v, ok := s.Features[name]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Label returns the named text column, or "" when absent. A numeric column
// of that name (a metro id, a zip code) is returned in its shortest decimal
// form.
func (s Store) Label(name string) string {
	if name == "" {
		return ""
	}
	if v, ok := s.Labels[name]; ok {
		return v
	}
	if v, ok := s.Feature(name); ok {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// Observation is one field visit to a store.
type Observation struct {
	StoreID        string
	Time           time.Time
	DwellMinutes   float64
	PurchasedItems float64
	HaulRating     float64
	Labels         map[string]string
}

// Dwell returns dwell minutes floored at a small positive value.
func (o Observation) Dwell() float64 {
	return math.Max(o.DwellMinutes, minDwell)
}

// Items returns purchased items floored at zero.
func (o Observation) Items() float64 {
	return math.Max(o.PurchasedItems, 0)
}

// Theta is the latent purchase rate: items per 45 minutes of dwell.
func (o Observation) Theta() float64 {
	return o.Items() / (o.Dwell() / ThetaMinutes)
}

// Label returns the named text column, or "" when absent.
func (o Observation) Label(name string) string {
	if name == "" {
		return ""
	}
	return o.Labels[name]
}
