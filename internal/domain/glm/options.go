package glm

// Default solver settings.
const (
	DefaultMaxIter   = 100
	DefaultTolerance = 1e-6
	// DefaultRidge is the diagonal penalty of the closed-form fallback.
	DefaultRidge = 1e-6
)

// Option configures the IRLS solver.
type Option func(*settings)

type settings struct {
	maxIter   int
	tolerance float64
}

func defaultSettings() settings {
	return settings{maxIter: DefaultMaxIter, tolerance: DefaultTolerance}
}

// WithMaxIter bounds the number of IRLS iterations.
func WithMaxIter(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxIter = n
		}
	}
}

// WithTolerance sets the convergence threshold on the max-abs coefficient change.
func WithTolerance(tol float64) Option {
	return func(s *settings) {
		if tol > 0 {
			s.tolerance = tol
		}
	}
}
