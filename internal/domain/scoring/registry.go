package scoring

import "sort"

// UnknownType is the registry entry used for unrecognised store types.
const UnknownType = "Unknown"

// Baseline holds the prior Value/Yield for a store type.
type Baseline struct {
	Value float64
	Yield float64
}

// Coefficients holds the affluence adjustments for a store type.
type Coefficients struct {
	AlphaIncome     float64
	AlphaHighIncome float64
	BetaRenter      float64
}

// Profile bundles the baseline and coefficients of one store type.
type Profile struct {
	Baseline     Baseline
	Coefficients Coefficients
}

// Registry is a read-only lookup of type profiles. It is built once and
// shared by scorers; nothing mutates it after construction.
type Registry struct {
	profiles map[string]Profile
}

// RegistryOption configures a Registry at construction time.
type RegistryOption func(*Registry)

// WithProfile registers or replaces the profile for storeType.
func WithProfile(storeType string, p Profile) RegistryOption {
	return func(r *Registry) {
		if storeType != "" {
			r.profiles[storeType] = p
		}
	}
}

// WithProfiles registers several profiles, e.g. from configuration.
func WithProfiles(profiles map[string]Profile) RegistryOption {
	return func(r *Registry) {
		for name, p := range profiles {
			if name != "" {
				r.profiles[name] = p
			}
		}
	}
}

// DefaultProfiles returns the built-in store type table.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"Thrift": {
			Baseline:     Baseline{Value: 2.8, Yield: 3.4},
			Coefficients: Coefficients{AlphaIncome: 0.5, AlphaHighIncome: 0.5, BetaRenter: -0.5},
		},
		"Antique": {
			Baseline:     Baseline{Value: 4.0, Yield: 2.0},
			Coefficients: Coefficients{AlphaIncome: 0.1, AlphaHighIncome: 0.1, BetaRenter: -0.1},
		},
		"Vintage": {
			Baseline:     Baseline{Value: 3.8, Yield: 2.8},
			Coefficients: Coefficients{AlphaIncome: 0.5, AlphaHighIncome: 0.3, BetaRenter: -1.0},
		},
		"Flea/Surplus": {
			Baseline:     Baseline{Value: 3.0, Yield: 3.0},
			Coefficients: Coefficients{AlphaIncome: 0.2, AlphaHighIncome: 0.2, BetaRenter: -0.3},
		},
		UnknownType: {
			Baseline:     Baseline{Value: 3.0, Yield: 3.0},
			Coefficients: Coefficients{AlphaIncome: 0.2, AlphaHighIncome: 0.2, BetaRenter: -0.3},
		},
	}
}

// NewRegistry builds a registry from the defaults plus any overrides.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{profiles: DefaultProfiles()}
	for _, opt := range opts {
		opt(r)
	}
	if _, ok := r.profiles[UnknownType]; !ok {
		r.profiles[UnknownType] = DefaultProfiles()[UnknownType]
	}
	return r
}

// Profile returns the profile for storeType, falling back to UnknownType.
func (r *Registry) Profile(storeType string) Profile {
	if p, ok := r.profiles[storeType]; ok {
		return p
	}
	return r.profiles[UnknownType]
}

// Baseline returns the baseline for storeType.
func (r *Registry) Baseline(storeType string) Baseline {
	return r.Profile(storeType).Baseline
}

// Coefficients returns the affluence coefficients for storeType.
func (r *Registry) Coefficients(storeType string) Coefficients {
	return r.Profile(storeType).Coefficients
}

// Types lists the registered store types in lexical order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
