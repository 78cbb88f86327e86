package posterior

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/okian/atlas/internal/domain/model"
)

// Summary aggregates one store's observations.
type Summary struct {
	StoreID    string
	Visits     int
	DwellTotal float64
	ItemsTotal float64
	ValueMean  float64
	// ValueVar is the sample variance of haul ratings; 0 for a single visit.
	ValueVar  float64
	ThetaMean float64
	// Exposure is summed dwell in 45-minute units.
	Exposure float64
}

// summarise groups observations by store.
func summarise(observations []model.Observation) map[string]Summary {
	type acc struct {
		dwell, items float64
		ratings      []float64
		thetas       []float64
	}
	groups := make(map[string]*acc)
	for _, o := range observations {
		a, ok := groups[o.StoreID]
		if !ok {
			a = &acc{}
			groups[o.StoreID] = a
		}
		a.dwell += o.DwellMinutes
		a.items += o.Items()
		a.ratings = append(a.ratings, o.HaulRating)
		a.thetas = append(a.thetas, o.Theta())
	}

	out := make(map[string]Summary, len(groups))
	for id, a := range groups {
		valueMean, _ := stats.Mean(a.ratings)
		thetaMean, _ := stats.Mean(a.thetas)
		valueVar, err := stats.SampleVariance(a.ratings)
		if err != nil || math.IsNaN(valueVar) {
			valueVar = 0
		}
		out[id] = Summary{
			StoreID:    id,
			Visits:     len(a.ratings),
			DwellTotal: a.dwell,
			ItemsTotal: a.items,
			ValueMean:  valueMean,
			ValueVar:   valueVar,
			ThetaMean:  thetaMean,
			Exposure:   math.Max(a.dwell, minExposureDwell) / model.ThetaMinutes,
		}
	}
	return out
}

const minExposureDwell = 1e-6
