// Package scoring defines the 1–5 score scale and the prior Value/Yield model.
package scoring

import "math"

// Score scale bounds.
const (
	MinScore = 1.0
	MaxScore = 5.0
)

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score float64) float64 {
	return ClampTo(score, MinScore, MaxScore)
}

// ClampTo bounds x to [lower, upper].
func ClampTo(x, lower, upper float64) float64 {
	return math.Max(lower, math.Min(upper, x))
}

// Composite returns J = λ·value + (1−λ)·yield without clamping.
// λ is expected in [0,1]; callers validate it at the configuration boundary.
func Composite(lambda, value, yield float64) float64 {
	return lambda*value + (1.0-lambda)*yield
}

// Float returns a pointer to v, for optional score fields.
func Float(v float64) *float64 {
	return &v
}
