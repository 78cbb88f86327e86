// Package blend merges prior and posterior scores per store.
package blend

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/atlas/internal/domain/scoring"
	"github.com/okian/atlas/internal/domain/trace"
	"github.com/okian/atlas/pkg/tracing"
)

// Source names which estimates were available for a store.
type Source string

// Sources.
const (
	SourcePrior     Source = "prior"
	SourcePosterior Source = "posterior"
	SourceBoth      Source = "both"
)

// Prior is one row of the prior score table.
type Prior struct {
	StoreID   string
	Value     float64
	Yield     float64
	Composite *float64
}

// Posterior is one row of the posterior score table.
type Posterior struct {
	StoreID string
	Value   float64
	Yield   float64
}

// Row is the published blended score of one store. Prior and posterior
// fields are nil when that source had no row for the store.
type Row struct {
	StoreID        string
	ValuePrior     *float64
	YieldPrior     *float64
	CompositePrior *float64
	ValuePosterior *float64
	YieldPosterior *float64
	Value          float64
	Yield          float64
	Composite      *float64
	// Omega is 0 for prior-only rows, 1 for posterior-only rows and the
	// requested weight when both sources are present.
	Omega  float64
	Source Source
}

// Params are the blend weights. Both are expected in [0,1]; they are
// validated at the configuration boundary, not here.
type Params struct {
	Omega  float64
	Lambda *float64
}

// Blend outer-joins the two tables on store ID and mixes Value and Yield as
// (1−ω)·prior + ω·posterior where both exist. A single source is passed
// through verbatim. Rows are ordered by store ID; a repeated ID keeps its
// first row. It returns the rows and one blend-stage trace per row.
func Blend(ctx context.Context, prior []Prior, posterior []Posterior, params Params) ([]Row, []trace.Record) {
	_, end := tracing.StartSpan(ctx, "blend",
		attribute.Int("prior", len(prior)),
		attribute.Int("posterior", len(posterior)))
	defer end(nil)

	priorByID := make(map[string]Prior, len(prior))
	for _, p := range prior {
		if _, ok := priorByID[p.StoreID]; !ok {
			priorByID[p.StoreID] = p
		}
	}
	postByID := make(map[string]Posterior, len(posterior))
	for _, p := range posterior {
		if _, ok := postByID[p.StoreID]; !ok {
			postByID[p.StoreID] = p
		}
	}

	ids := make([]string, 0, len(priorByID)+len(postByID))
	for id := range priorByID {
		ids = append(ids, id)
	}
	for id := range postByID {
		if _, ok := priorByID[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	rows := make([]Row, len(ids))
	traces := make([]trace.Record, len(ids))
	for i, id := range ids {
		pr, hasPrior := priorByID[id]
		po, hasPost := postByID[id]
		rows[i] = mix(id, pr, hasPrior, po, hasPost, params)
		traces[i] = rows[i].Trace(params.Lambda)
	}
	return rows, traces
}

func mix(id string, pr Prior, hasPrior bool, po Posterior, hasPost bool, params Params) Row {
	row := Row{StoreID: id}
	switch {
	case hasPrior && hasPost:
		w := params.Omega
		row.Value = (1-w)*pr.Value + w*po.Value
		row.Yield = (1-w)*pr.Yield + w*po.Yield
		row.Omega = w
		row.Source = SourceBoth
	case hasPrior:
		row.Value, row.Yield = pr.Value, pr.Yield
		row.Omega = 0
		row.Source = SourcePrior
	default:
		row.Value, row.Yield = po.Value, po.Yield
		row.Omega = 1
		row.Source = SourcePosterior
	}
	row.Value = scoring.Clamp(row.Value)
	row.Yield = scoring.Clamp(row.Yield)
	if hasPrior {
		row.ValuePrior = scoring.Float(pr.Value)
		row.YieldPrior = scoring.Float(pr.Yield)
		row.CompositePrior = pr.Composite
	}
	if hasPost {
		row.ValuePosterior = scoring.Float(po.Value)
		row.YieldPosterior = scoring.Float(po.Yield)
	}

	switch {
	case params.Lambda != nil:
		row.Composite = scoring.Float(scoring.Clamp(scoring.Composite(*params.Lambda, row.Value, row.Yield)))
	case row.CompositePrior != nil:
		row.Composite = scoring.Float(*row.CompositePrior)
	}
	return row
}

// Trace returns the blend-stage record of the row.
func (r Row) Trace(lambda *float64) trace.Record {
	return trace.Record{
		StoreID:  r.StoreID,
		Stage:    trace.StageBlend,
		Metadata: trace.Section{"source": string(r.Source)},
		Baseline: trace.Section{
			"value_prior":     r.ValuePrior,
			"yield_prior":     r.YieldPrior,
			"composite_prior": r.CompositePrior,
		},
		Observations: trace.Section{
			"value_posterior": r.ValuePosterior,
			"yield_posterior": r.YieldPosterior,
		},
		Model: trace.Section{
			"omega":         r.Omega,
			"lambda_weight": lambda,
		},
		Scores: trace.Section{
			"value":     r.Value,
			"yield":     r.Yield,
			"composite": r.Composite,
		},
	}
}
