// Package spatial implements the inverse-distance-weighted nearest-neighbour
// smoothers used by the prior and posterior stages.
package spatial

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// distanceEpsilon keeps inverse-distance weights finite for co-located stores.
const distanceEpsilon = 1e-6

// Point is a store location in plain coordinate space.
type Point struct {
	Lat float64
	Lon float64
}

// Distance is the Euclidean distance in coordinate space.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.Lat-q.Lat, p.Lon-q.Lon)
}

// Adjustment is an additive pair of deltas produced by a smoother.
type Adjustment struct {
	Value float64
	Yield float64
}

type neighbour struct {
	idx  int
	dist float64
}

// nearest returns the k closest candidates to p, ties broken by index.
func nearest(p Point, points []Point, candidates []int, k int) []neighbour {
	ns := make([]neighbour, 0, len(candidates))
	for _, c := range candidates {
		ns = append(ns, neighbour{idx: c, dist: p.Distance(points[c])})
	}
	slices.SortStableFunc(ns, func(a, b neighbour) int { return cmp.Compare(a.dist, b.dist) })
	return ns[:min(k, len(ns))]
}

// weightedMean returns the inverse-distance-weighted means of a and b over ns.
func weightedMean(ns []neighbour, a, b []float64) (float64, float64, bool) {
	var sum, wa, wb float64
	for _, n := range ns {
		w := 1 / (n.dist + distanceEpsilon)
		sum += w
		wa += w * a[n.idx]
		wb += w * b[n.idx]
	}
	if sum == 0 {
		return 0, 0, false
	}
	return wa / sum, wb / sum, true
}

func validate(k int, factor float64) error {
	if k < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if factor < 0 || factor > 1 || math.IsNaN(factor) {
		return fmt.Errorf("%w: got %g", ErrInvalidFactor, factor)
	}
	return nil
}

// Adjacency smooths every store's (Value, Yield) towards its k nearest other
// stores and returns the per-store deltas. With n ≤ k stores, k drops to n−1;
// a single store therefore gets a zero adjustment. factor 0 is a no-op.
func Adjacency(points []Point, value, yield []float64, k int, factor float64) ([]Adjustment, error) {
	if err := validate(k, factor); err != nil {
		return nil, err
	}
	n := len(points)
	if len(value) != n || len(yield) != n {
		return nil, ErrLengthMismatch
	}
	out := make([]Adjustment, n)
	if n == 0 || factor == 0 {
		return out, nil
	}
	if n <= k {
		k = n - 1
	}
	if k < 1 {
		return out, nil
	}

	others := make([]int, 0, n-1)
	for i := range n {
		others = others[:0]
		for j := range n {
			if j != i {
				others = append(others, j)
			}
		}
		mv, my, ok := weightedMean(nearest(points[i], points, others, k), value, yield)
		if !ok {
			continue
		}
		out[i] = Adjustment{
			Value: (1-factor)*value[i] + factor*mv - value[i],
			Yield: (1-factor)*yield[i] + factor*my - yield[i],
		}
	}
	return out, nil
}

// SmoothSparse mixes each unvisited store's (theta, value) with the
// inverse-distance-weighted estimate of its k nearest visited stores.
// Stores with visits > 0 are returned unchanged. All reads come from the
// input slices, which are never modified.
func SmoothSparse(points []Point, theta, value []float64, visits []int, k int, factor float64) ([]float64, []float64, error) {
	if err := validate(k, factor); err != nil {
		return nil, nil, err
	}
	n := len(points)
	if len(theta) != n || len(value) != n || len(visits) != n {
		return nil, nil, ErrLengthMismatch
	}
	outTheta := slices.Clone(theta)
	outValue := slices.Clone(value)

	var anchors, sparse []int
	for i, v := range visits {
		if v > 0 {
			anchors = append(anchors, i)
		} else {
			sparse = append(sparse, i)
		}
	}
	if len(anchors) == 0 || len(sparse) == 0 {
		return outTheta, outValue, nil
	}

	for _, i := range sparse {
		mt, mv, ok := weightedMean(nearest(points[i], points, anchors, k), theta, value)
		if !ok {
			continue
		}
		outTheta[i] = (1-factor)*theta[i] + factor*mt
		outValue[i] = (1-factor)*value[i] + factor*mv
	}
	return outTheta, outValue, nil
}
