// Package config defines the Atlas configuration and its loading.
//
// Values layer as defaults, then an optional YAML file, then ATLAS_*
// environment variables; command-line flags are applied last by the caller.
package config

import (
	"fmt"

	"github.com/okian/atlas/internal/domain/scoring"
)

// Run modes.
const (
	ModePrior     = "prior"
	ModePosterior = "posterior"
	ModeBlended   = "blended"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	LogJSON  bool   `koanf:"log_json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// Mode is one of prior, posterior or blended.
	Mode string `koanf:"mode"`

	// Lambda weights Value against Yield in the composite. Nil disables
	// the composite.
	Lambda *float64 `koanf:"lambda"`

	// Omega weights the posterior against the prior when blending.
	Omega float64 `koanf:"omega"`

	Prior     Prior     `koanf:"prior"`
	Posterior Posterior `koanf:"posterior"`
	Tracing   Tracing   `koanf:"tracing"`
}

// Prior configures the prior scorer.
type Prior struct {
	Clamp     bool      `koanf:"clamp"`
	Adjacency Adjacency `koanf:"adjacency"`
	// Types adds store types or overrides fields of existing ones.
	Types map[string]TypeProfile `koanf:"types"`
}

// Adjacency configures prior neighbour smoothing.
type Adjacency struct {
	Enabled         bool    `koanf:"enabled"`
	K               int     `koanf:"k"`
	SmoothingFactor float64 `koanf:"smoothing_factor"`
}

// TypeProfile is the baseline and coefficients of one store type. Nil fields
// keep the built-in value.
type TypeProfile struct {
	Value           *float64 `koanf:"value"`
	Yield           *float64 `koanf:"yield"`
	AlphaIncome     *float64 `koanf:"alpha_income"`
	AlphaHighIncome *float64 `koanf:"alpha_high_income"`
	BetaRenter      *float64 `koanf:"beta_renter"`
}

// Posterior configures the posterior pipeline.
type Posterior struct {
	MinSamplesGLM      int      `koanf:"min_samples_glm"`
	KNNK               int      `koanf:"knn_k"`
	KNNSmoothingFactor float64  `koanf:"knn_smoothing_factor"`
	FeatureColumns     []string `koanf:"feature_columns"`
	WindowColumn       string   `koanf:"window_column"`
	ECDFCache          string   `koanf:"ecdf_cache"`
	ReuseECDFCache     bool     `koanf:"reuse_ecdf_cache"`
}

// Tracing configures the OpenTelemetry exporter.
type Tracing struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		MaxLeaderboardLimit: 100,
		Mode:                ModePrior,
		Lambda:              scoring.Float(0.5),
		Omega:               0.5,
		Prior: Prior{
			Clamp:     true,
			Adjacency: Adjacency{K: 3, SmoothingFactor: 0.5},
		},
		Posterior: Posterior{
			MinSamplesGLM:      3,
			KNNK:               3,
			KNNSmoothingFactor: 0.5,
		},
		Tracing: Tracing{
			Endpoint:     "localhost:4318",
			Insecure:     true,
			SamplingRate: 1.0,
		},
	}
}

// Profiles returns the configured type profiles for the prior registry.
// Each configured field is laid over the built-in profile of the same type;
// types without a built-in profile start from the Unknown profile.
func (c *Config) Profiles() map[string]scoring.Profile {
	defaults := scoring.DefaultProfiles()
	out := make(map[string]scoring.Profile, len(c.Prior.Types))
	for name, t := range c.Prior.Types {
		p, ok := defaults[name]
		if !ok {
			p = defaults[scoring.UnknownType]
		}
		override(&p.Baseline.Value, t.Value)
		override(&p.Baseline.Yield, t.Yield)
		override(&p.Coefficients.AlphaIncome, t.AlphaIncome)
		override(&p.Coefficients.AlphaHighIncome, t.AlphaHighIncome)
		override(&p.Coefficients.BetaRenter, t.BetaRenter)
		out[name] = p
	}
	return out
}

func override(dst, src *float64) {
	if src != nil {
		*dst = *src
	}
}

// Validate rejects weights outside [0,1], neighbour counts below one and
// unknown modes.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePrior, ModePosterior, ModeBlended:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Lambda != nil && !unit(*c.Lambda) {
		return fmt.Errorf("%w: lambda %v outside [0,1]", ErrInvalidConfig, *c.Lambda)
	}
	if !unit(c.Omega) {
		return fmt.Errorf("%w: omega %v outside [0,1]", ErrInvalidConfig, c.Omega)
	}
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.MaxLeaderboardLimit < 1 {
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	}
	if c.Prior.Adjacency.Enabled {
		if c.Prior.Adjacency.K < 1 {
			return fmt.Errorf("%w: prior.adjacency.k must be at least 1", ErrInvalidConfig)
		}
		if !unit(c.Prior.Adjacency.SmoothingFactor) {
			return fmt.Errorf("%w: prior.adjacency.smoothing_factor outside [0,1]", ErrInvalidConfig)
		}
	}
	if c.Posterior.KNNK < 1 {
		return fmt.Errorf("%w: posterior.knn_k must be at least 1", ErrInvalidConfig)
	}
	if !unit(c.Posterior.KNNSmoothingFactor) {
		return fmt.Errorf("%w: posterior.knn_smoothing_factor outside [0,1]", ErrInvalidConfig)
	}
	if c.Posterior.MinSamplesGLM < 1 {
		return fmt.Errorf("%w: posterior.min_samples_glm must be at least 1", ErrInvalidConfig)
	}
	if c.Tracing.Enabled && !unit(c.Tracing.SamplingRate) {
		return fmt.Errorf("%w: tracing.sampling_rate outside [0,1]", ErrInvalidConfig)
	}
	return nil
}

func unit(x float64) bool {
	return x >= 0 && x <= 1
}
