package service

import (
	"github.com/okian/atlas/internal/adapters/export"
	"github.com/okian/atlas/internal/domain/blend"
	"github.com/okian/atlas/internal/domain/posterior"
	"github.com/okian/atlas/internal/domain/scoring"
)

// Row is one store of the final score table. Posterior diagnostics are nil
// when the store had no posterior prediction.
type Row struct {
	StoreID string

	ValuePrior     *float64
	YieldPrior     *float64
	CompositePrior *float64
	ValuePosterior *float64
	YieldPosterior *float64

	Value     float64
	Yield     float64
	Composite *float64
	Omega     float64

	Theta       *float64
	Credibility *float64
	Quantile    *float64
	Method      string
}

func newRow(b blend.Row, predictions map[string]posterior.Prediction) Row {
	r := Row{
		StoreID:        b.StoreID,
		ValuePrior:     b.ValuePrior,
		YieldPrior:     b.YieldPrior,
		CompositePrior: b.CompositePrior,
		ValuePosterior: b.ValuePosterior,
		YieldPosterior: b.YieldPosterior,
		Value:          b.Value,
		Yield:          b.Yield,
		Composite:      b.Composite,
		Omega:          b.Omega,
	}
	if p, ok := predictions[b.StoreID]; ok {
		r.Theta = scoring.Float(p.Theta)
		r.Credibility = scoring.Float(p.Credibility)
		r.Quantile = scoring.Float(p.Quantile)
		r.Method = string(p.Method)
	}
	return r
}

// Table returns the final score table. Prior-only runs carry the score
// columns; posterior and blended runs add the source estimates and the
// posterior diagnostics.
func (r *Result) Table() export.Table {
	if r.Mode == ModePrior {
		t := export.Table{Columns: []string{"StoreId", "Value", "Yield", "Composite"}}
		for _, row := range r.Rows {
			t.Rows = append(t.Rows, []any{row.StoreID, row.Value, row.Yield, row.Composite})
		}
		return t
	}

	t := export.Table{Columns: []string{
		"StoreId", "ValuePrior", "YieldPrior", "CompositePrior", "ValuePosterior", "YieldPosterior",
		"Value", "Yield", "Composite", "Omega", "Cred", "Method", "ECDF_q",
	}}
	for _, row := range r.Rows {
		t.Rows = append(t.Rows, []any{
			row.StoreID, row.ValuePrior, row.YieldPrior, row.CompositePrior, row.ValuePosterior, row.YieldPosterior,
			row.Value, row.Yield, row.Composite, row.Omega, row.Credibility, row.Method, row.Quantile,
		})
	}
	return t
}

// PredictionTable returns the posterior predictions in input store order.
func (r *Result) PredictionTable() export.Table {
	t := export.Table{Columns: []string{"StoreId", "Theta", "Yield", "Value", "Cred", "Method", "ECDF_q"}}
	for _, p := range r.Predictions {
		t.Rows = append(t.Rows, []any{p.StoreID, p.Theta, p.Yield, p.Value, p.Credibility, string(p.Method), p.Quantile})
	}
	return t
}
