package glm

import (
	"math"

	"github.com/montanaflynn/stats"
)

// minPooledRate floors the pooled corpus rate.
const minPooledRate = 1e-6

// Overdispersion estimates a single corpus-wide NegBin α by method of moments.
//
// The pooled rate is Σitems/Σexposure; the spread is the sample variance of
// the per-store mean rates. α is 0 unless that variance exceeds the pooled
// rate, in which case α = (var − mean)/mean². Fewer than two stores give 0.
func Overdispersion(itemsTotal, exposure, rates []float64) float64 {
	if len(rates) < 2 {
		return 0
	}
	items, err := stats.Sum(itemsTotal)
	if err != nil {
		return 0
	}
	exposed, err := stats.Sum(exposure)
	if err != nil || exposed <= 0 {
		return 0
	}
	mean := math.Max(items/exposed, minPooledRate)

	variance, err := stats.SampleVariance(rates)
	if err != nil || math.IsNaN(variance) || variance <= mean {
		return 0
	}
	return math.Max((variance-mean)/(mean*mean), 0)
}
