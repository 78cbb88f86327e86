package service

import (
	"github.com/okian/atlas/internal/adapters/repository"
	"github.com/okian/atlas/internal/domain/ecdf"
	"github.com/okian/atlas/internal/domain/posterior"
	"github.com/okian/atlas/internal/domain/scoring"
	"github.com/okian/atlas/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMode selects prior, posterior or blended runs.
func WithMode(mode Mode) Option {
	return func(s *Service) {
		if mode != "" {
			s.mode = mode
		}
	}
}

// WithLambda sets the composite weight; nil disables the composite.
func WithLambda(lambda *float64) Option {
	return func(s *Service) {
		s.lambda = lambda
	}
}

// WithOmega sets the posterior blend weight.
func WithOmega(omega float64) Option {
	return func(s *Service) {
		s.omega = omega
	}
}

// WithPriorScorer replaces the default prior scorer.
func WithPriorScorer(scorer *scoring.PriorScorer) Option {
	return func(s *Service) {
		if scorer != nil {
			s.scorer = scorer
		}
	}
}

// WithAdjacency enables prior neighbour smoothing over the k nearest stores.
func WithAdjacency(k int, factor float64) Option {
	return func(s *Service) {
		s.adjacency = &adjacency{k: k, factor: factor}
	}
}

// WithPosteriorOptions configures every posterior pipeline the service builds.
func WithPosteriorOptions(opts ...posterior.Option) Option {
	return func(s *Service) {
		s.posteriorOpts = append(s.posteriorOpts, opts...)
	}
}

// WithFeatureColumns selects the posterior model covariates.
func WithFeatureColumns(columns []string) Option {
	return func(s *Service) {
		s.fitOpts.FeatureColumns = columns
	}
}

// WithWindowColumn names the label segmenting the ECDF reference.
func WithWindowColumn(column string) Option {
	return func(s *Service) {
		s.fitOpts.WindowColumn = column
	}
}

// WithECDFCache persists the ECDF reference; reuse loads it instead of
// rebuilding when possible.
func WithECDFCache(cache ecdf.Cache, reuse bool) Option {
	return func(s *Service) {
		s.fitOpts.Cache = cache
		s.fitOpts.ReuseCache = reuse
	}
}

// WithRepository sets the ranking store that runs publish into.
func WithRepository(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.ranking = store
		}
	}
}
