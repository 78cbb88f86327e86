package posterior

import (
	"github.com/okian/atlas/internal/domain/glm"
	"github.com/okian/atlas/pkg/logger"
)

// Defaults for the method-selection threshold and the sparse-store smoother.
const (
	DefaultMinSamplesGLM      = 3
	DefaultKNNK               = 3
	DefaultKNNSmoothingFactor = 0.5
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMinSamplesGLM sets the visit count at which a store is scored by the
// full model rather than hierarchical pooling.
func WithMinSamplesGLM(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.minSamplesGLM = n
		}
	}
}

// WithKNN sets the neighbour count and mixing factor used for unvisited stores.
func WithKNN(k int, smoothingFactor float64) Option {
	return func(p *Pipeline) {
		if k >= 1 {
			p.knnK = k
		}
		if smoothingFactor >= 0 && smoothingFactor <= 1 {
			p.knnFactor = smoothingFactor
		}
	}
}

// WithSolverOptions passes options to the IRLS solver.
func WithSolverOptions(opts ...glm.Option) Option {
	return func(p *Pipeline) {
		p.solverOpts = append(p.solverOpts, opts...)
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}
