package scoring

import (
	"github.com/okian/atlas/internal/domain/trace"
)

// Adjustment is an additive (ΔValue, ΔYield) pair from adjacency smoothing.
type Adjustment struct {
	Value float64
	Yield float64
}

// Overrides are posterior Value/Yield values recorded on a prior result.
// They are never applied in prior-only mode.
type Overrides struct {
	Value *float64
	Yield *float64
}

// PriorInput describes one store for the prior model. Affluence inputs are
// expected in [0,1] but are not enforced.
type PriorInput struct {
	// StoreID defaults to StoreType when empty.
	StoreID   string
	StoreType string

	MedianIncome float64
	HighIncome   float64
	Renter       float64

	// Lambda enables the composite when set.
	Lambda    *float64
	Adjacency *Adjustment
	Overrides *Overrides
}

// PriorResult is the prior estimate for one store.
type PriorResult struct {
	StoreID   string
	Value     float64
	Yield     float64
	Composite *float64

	BaselineValue float64
	BaselineYield float64

	IncomeContribution     float64
	HighIncomeContribution float64
	RenterContribution     float64

	AdjacencyValue float64
	AdjacencyYield float64

	PosteriorValueOverride *float64
	PosteriorYieldOverride *float64

	Trace trace.Record
}

// ToTrace returns the flattened prior-stage trace.
func (r PriorResult) ToTrace() trace.Flat {
	return r.Trace.Flatten()
}

// PriorOption configures a PriorScorer.
type PriorOption func(*PriorScorer)

// WithRegistry sets the type profile registry.
func WithRegistry(r *Registry) PriorOption {
	return func(s *PriorScorer) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithClamp enables or disables clamping of outputs to [1,5].
func WithClamp(enabled bool) PriorOption {
	return func(s *PriorScorer) {
		s.clamp = enabled
	}
}

// PriorScorer computes baseline Value/Yield from store type and affluence.
// It holds no fitted state and is safe for concurrent use.
type PriorScorer struct {
	registry *Registry
	clamp    bool
}

// NewPriorScorer creates a scorer backed by the default registry unless overridden.
func NewPriorScorer(opts ...PriorOption) *PriorScorer {
	s := &PriorScorer{
		registry: NewRegistry(),
		clamp:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the scorer's profile registry.
func (s *PriorScorer) Registry() *Registry {
	return s.registry
}

// Score computes the prior result for one store.
func (s *PriorScorer) Score(in PriorInput) PriorResult {
	profile := s.registry.Profile(in.StoreType)
	base, coeffs := profile.Baseline, profile.Coefficients

	income := coeffs.AlphaIncome * in.MedianIncome
	highIncome := coeffs.AlphaHighIncome * in.HighIncome
	renter := coeffs.BetaRenter * in.Renter

	value := base.Value + income + highIncome
	yield := base.Yield + renter

	var adjValue, adjYield float64
	var adjacencyPayload any
	if in.Adjacency != nil {
		adjValue, adjYield = in.Adjacency.Value, in.Adjacency.Yield
		value += adjValue
		yield += adjYield
		adjacencyPayload = []float64{adjValue, adjYield}
	}

	var composite *float64
	if in.Lambda != nil {
		composite = Float(Composite(*in.Lambda, value, yield))
	}

	if s.clamp {
		value = Clamp(value)
		yield = Clamp(yield)
		if composite != nil {
			*composite = Clamp(*composite)
		}
	}

	var overrideValue, overrideYield *float64
	var overridesPayload any
	if in.Overrides != nil {
		overrideValue, overrideYield = in.Overrides.Value, in.Overrides.Yield
		overridesPayload = []*float64{overrideValue, overrideYield}
	}

	storeID := in.StoreID
	if storeID == "" {
		storeID = in.StoreType
	}

	hash := trace.MustHashPayload(map[string]any{
		"baseline": map[string]any{"value": base.Value, "yield": base.Yield},
		"coefficients": map[string]any{
			"alpha_income":      coeffs.AlphaIncome,
			"alpha_high_income": coeffs.AlphaHighIncome,
			"beta_renter":       coeffs.BetaRenter,
		},
		"adjacency":           adjacencyPayload,
		"lambda_weight":       in.Lambda,
		"posterior_overrides": overridesPayload,
	})

	rec := trace.Record{
		StoreID:      storeID,
		Stage:        trace.StagePrior,
		Metadata:     trace.Section{"store_type": in.StoreType},
		Baseline:     trace.Section{"value": base.Value, "yield": base.Yield},
		Affluence:    trace.Section{"income": income, "high_income": highIncome, "renter": renter},
		Adjacency:    trace.Section{"value": adjValue, "yield": adjYield},
		Observations: trace.Section{"lambda_weight": in.Lambda},
		Model: trace.Section{
			"parameters_hash":             hash,
			"posterior_overrides_present": in.Overrides != nil,
		},
		Scores: trace.Section{"value": value, "yield": yield, "composite": composite},
	}

	return PriorResult{
		StoreID:                storeID,
		Value:                  value,
		Yield:                  yield,
		Composite:              composite,
		BaselineValue:          base.Value,
		BaselineYield:          base.Yield,
		IncomeContribution:     income,
		HighIncomeContribution: highIncome,
		RenterContribution:     renter,
		AdjacencyValue:         adjValue,
		AdjacencyYield:         adjYield,
		PosteriorValueOverride: overrideValue,
		PosteriorYieldOverride: overrideYield,
		Trace:                  rec,
	}
}
