// Package posterior fits the observation-driven Theta/Value models and
// produces per-store posterior predictions with credibility and traces.
package posterior

import (
	"context"
	"fmt"
	"iter"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/mat"

	"github.com/okian/atlas/internal/domain/ecdf"
	"github.com/okian/atlas/internal/domain/glm"
	"github.com/okian/atlas/internal/domain/model"
	"github.com/okian/atlas/internal/domain/scoring"
	"github.com/okian/atlas/internal/domain/spatial"
	"github.com/okian/atlas/internal/domain/trace"
	"github.com/okian/atlas/pkg/logger"
	"github.com/okian/atlas/pkg/metrics"
	"github.com/okian/atlas/pkg/tracing"
)

// Method tags which estimation tier produced a prediction.
type Method string

// Method tags.
const (
	MethodGLM  Method = "GLM"
	MethodHier Method = "Hier"
	MethodKNN  Method = "kNN"
)

const (
	thetaEpsilon = 1e-6
	knnPenalty   = 0.8
)

// Prediction is one store's posterior output.
type Prediction struct {
	StoreID     string
	Theta       float64
	Yield       float64
	Value       float64
	Credibility float64
	Method      Method
	Quantile    float64
}

// FitOptions are the per-call inputs of Fit.
type FitOptions struct {
	// FeatureColumns selects model covariates; nil means every numeric
	// store feature except coordinates.
	FeatureColumns []string
	// WindowColumn names the label that segments the ECDF reference.
	WindowColumn string
	// Cache, when set, receives the freshly built reference.
	Cache ecdf.Cache
	// ReuseCache loads the reference from Cache instead of rebuilding it.
	// A failed load falls back to building.
	ReuseCache bool
}

// Pipeline is the stateful posterior estimator. Fit must complete before
// Predict; a Pipeline is not safe for concurrent use.
type Pipeline struct {
	minSamplesGLM int
	knnK          int
	knnFactor     float64
	solverOpts    []glm.Option
	log           logger.Logger

	fitted       bool
	scales       []featureScale
	windowColumn string
	summaries    map[string]Summary
	yieldModel   *glm.Result
	valueModel   *glm.LinearResult
	reference    *ecdf.Reference

	traces []trace.Record
}

// NewPipeline creates an unfitted pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		minSamplesGLM: DefaultMinSamplesGLM,
		knnK:          DefaultKNNK,
		knnFactor:     DefaultKNNSmoothingFactor,
		log:           logger.Named("posterior"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fit trains the yield (count) and value (linear) models and builds the ECDF
// reference. IRLS failures are recovered with the ridge fallback and never
// returned.
func (p *Pipeline) Fit(ctx context.Context, observations []model.Observation, stores []model.Store, opts FitOptions) (err error) {
	ctx, end := tracing.StartSpan(ctx, "posterior.fit",
		attribute.Int("observations", len(observations)),
		attribute.Int("stores", len(stores)))
	defer func() { end(err) }()

	if len(observations) == 0 {
		return ErrEmptyObservations
	}

	columns, err := selectFeatures(stores, opts.FeatureColumns, opts.WindowColumn)
	if err != nil {
		return err
	}
	scales := fitScales(stores, columns)
	summaries := summarise(observations)

	joined := joinSummaries(stores, summaries)
	if len(joined) == 0 {
		return ErrNoOverlap
	}

	rows := make([][]float64, len(joined))
	counts := make([]float64, len(joined))
	exposure := make([]float64, len(joined))
	offset := make([]float64, len(joined))
	rates := make([]float64, len(joined))
	valueMean := make([]float64, len(joined))
	visits := make([]float64, len(joined))
	for i, j := range joined {
		rows[i] = standardise(j.store, scales)
		counts[i] = j.summary.ItemsTotal
		exposure[i] = j.summary.Exposure
		offset[i] = math.Log(j.summary.Exposure)
		rates[i] = j.summary.ThetaMean
		valueMean[i] = j.summary.ValueMean
		visits[i] = float64(j.summary.Visits)
	}
	design := glm.Design(rows)

	alpha := glm.Overdispersion(counts, exposure, rates)
	yieldModel, err := p.fitYield(ctx, design, counts, offset, alpha)
	if err != nil {
		return err
	}
	valueModel, err := glm.FitWeightedLinear(design, valueMean, visits)
	if err != nil {
		return fmt.Errorf("posterior: value model: %w", err)
	}

	reference, err := p.buildReference(ctx, observations, stores, opts)
	if err != nil {
		return err
	}

	p.scales = scales
	p.windowColumn = opts.WindowColumn
	p.summaries = summaries
	p.yieldModel = yieldModel
	p.valueModel = valueModel
	p.reference = reference
	p.traces = nil
	p.fitted = true

	tracing.SetAttributes(ctx,
		attribute.String("yield.family", string(yieldModel.Family)),
		attribute.Float64("yield.alpha", alpha))
	p.log.Debug(ctx, "posterior fitted",
		logger.Int("stores", len(joined)),
		logger.Int("features", len(columns)),
		logger.String("family", string(yieldModel.Family)),
		logger.Float64("alpha", alpha),
		logger.Int("ecdf_rows", reference.Len()))
	return nil
}

func (p *Pipeline) fitYield(ctx context.Context, design *mat.Dense, counts, offset []float64, alpha float64) (*glm.Result, error) {
	res, err := glm.FitIRLS(design, counts, offset, alpha, p.solverOpts...)
	if err == nil {
		metrics.RecordIRLSIterations(res.Iterations)
		metrics.RecordModelFit(string(res.Family))
		return res, nil
	}

	p.log.Debug(ctx, "IRLS failed, using ridge fallback", logger.Error(err))
	metrics.RecordSolverFallback()
	res, err = glm.FitRidge(design, counts, offset, glm.DefaultRidge)
	if err != nil {
		return nil, fmt.Errorf("posterior: yield model: %w", err)
	}
	metrics.RecordModelFit(string(res.Family))
	return res, nil
}

// buildReference loads or builds the ECDF reference for Fit.
func (p *Pipeline) buildReference(ctx context.Context, observations []model.Observation, stores []model.Store, opts FitOptions) (*ecdf.Reference, error) {
	if opts.Cache != nil && opts.ReuseCache {
		ref, err := opts.Cache.Load(ctx)
		if err == nil && ref.Len() > 0 {
			return ref, nil
		}
		p.log.Debug(ctx, "ECDF cache not reusable, rebuilding", logger.Error(err))
	}

	ref := ecdf.Build(samples(observations, stores, opts.WindowColumn))
	if opts.Cache != nil {
		if err := opts.Cache.Save(ctx, ref); err != nil {
			return nil, fmt.Errorf("posterior: persist ECDF reference: %w", err)
		}
	}
	return ref, nil
}

// samples maps every raw observation to its latent rate and window. The
// window is the observation's label, then its store's, then the default.
func samples(observations []model.Observation, stores []model.Store, windowColumn string) []ecdf.Sample {
	storeWindow := make(map[string]string)
	if windowColumn != "" {
		for _, s := range stores {
			if _, seen := storeWindow[s.ID]; !seen {
				storeWindow[s.ID] = s.Label(windowColumn)
			}
		}
	}
	out := make([]ecdf.Sample, len(observations))
	for i, o := range observations {
		w := o.Label(windowColumn)
		if w == "" {
			w = storeWindow[o.StoreID]
		}
		out[i] = ecdf.Sample{Window: w, Theta: o.Theta()}
	}
	return out
}

type joinedStore struct {
	store   model.Store
	summary Summary
}

// joinSummaries inner-joins stores with their summaries, ordered by store ID.
// Duplicate store IDs keep the first occurrence.
func joinSummaries(stores []model.Store, summaries map[string]Summary) []joinedStore {
	seen := make(map[string]struct{}, len(stores))
	out := make([]joinedStore, 0, len(summaries))
	for _, s := range stores {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		if sum, ok := summaries[s.ID]; ok {
			out = append(out, joinedStore{store: s, summary: sum})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].store.ID < out[j].store.ID })
	return out
}

// Predict scores stores against the fitted models. Rows follow the input
// order. The traces of the most recent call replace any earlier ones.
func (p *Pipeline) Predict(ctx context.Context, stores []model.Store) (_ []Prediction, err error) {
	ctx, end := tracing.StartSpan(ctx, "posterior.predict", attribute.Int("stores", len(stores)))
	defer func() { end(err) }()

	if !p.fitted {
		return nil, ErrNotFitted
	}
	n := len(stores)
	if n == 0 {
		p.traces = nil
		return []Prediction{}, nil
	}

	rows := make([][]float64, n)
	for i, s := range stores {
		rows[i] = standardise(s, p.scales)
	}
	design := glm.Design(rows)
	thetaPred, thetaSE := p.yieldModel.Predict(design, nil)
	valuePred, valueSE := p.valueModel.Predict(design)

	summaries := make([]Summary, n)
	visits := make([]int, n)
	theta := make([]float64, n)
	value := make([]float64, n)
	methods := make([]Method, n)
	anyKNN := false
	for i, s := range stores {
		sum := p.summaries[s.ID]
		summaries[i] = sum
		visits[i] = sum.Visits
		methods[i], theta[i], value[i] = p.resolve(sum, thetaPred[i], valuePred[i])
		anyKNN = anyKNN || methods[i] == MethodKNN
	}

	smoothedTheta, smoothedValue := theta, value
	if anyKNN {
		points := make([]spatial.Point, n)
		for i, s := range stores {
			points[i] = spatial.Point{Lat: s.Latitude, Lon: s.Longitude}
		}
		smoothedTheta, smoothedValue, err = spatial.SmoothSparse(points, theta, value, visits, p.knnK, p.knnFactor)
		if err != nil {
			return nil, fmt.Errorf("posterior: smoothing: %w", err)
		}
	}

	hash, err := trace.HashPayload(p.parametersPayload())
	if err != nil {
		return nil, fmt.Errorf("posterior: parameters hash: %w", err)
	}

	out := make([]Prediction, n)
	traces := make([]trace.Record, n)
	for i, s := range stores {
		finalTheta := smoothedTheta[i]
		q := p.reference.Quantile(finalTheta, p.window(s))
		yield := scoring.Clamp(1 + 4*q)
		finalValue := scoring.Clamp(smoothedValue[i])
		cred := credibility(finalTheta, thetaSE[i], valueSE[i], methods[i])

		out[i] = Prediction{
			StoreID:     s.ID,
			Theta:       finalTheta,
			Yield:       yield,
			Value:       finalValue,
			Credibility: cred,
			Method:      methods[i],
			Quantile:    q,
		}
		traces[i] = p.record(s, summaries[i], out[i], hash,
			thetaPred[i], valuePred[i], thetaSE[i], valueSE[i],
			finalTheta-theta[i], smoothedValue[i]-value[i])
		metrics.RecordPrediction(string(methods[i]))
	}
	p.traces = traces
	return out, nil
}

// resolve picks the method tag and pre-smoothing estimates for one store.
func (p *Pipeline) resolve(sum Summary, modelTheta, modelValue float64) (Method, float64, float64) {
	switch {
	case sum.Visits >= p.minSamplesGLM:
		theta, value := modelTheta, modelValue
		if isFinite(sum.ThetaMean) && sum.ThetaMean > 0 {
			theta = sum.ThetaMean
		}
		if isFinite(sum.ValueMean) {
			value = sum.ValueMean
		}
		return MethodGLM, theta, value
	case sum.Visits > 0:
		return MethodHier, sum.ThetaMean, sum.ValueMean
	default:
		return MethodKNN, modelTheta, modelValue
	}
}

func (p *Pipeline) window(s model.Store) string {
	if w := s.Label(p.windowColumn); w != "" {
		return w
	}
	return ecdf.DefaultWindow
}

// credibility is clamp(1/(1 + θSE/(θ+ε) + VSE/2)), scaled by 0.8 for kNN.
func credibility(theta, thetaSE, valueSE float64, method Method) float64 {
	thetaTerm := math.Max(thetaSE/(theta+thetaEpsilon), 0)
	valueTerm := math.Max(valueSE/2, 0)
	c := scoring.ClampTo(1/(1+thetaTerm+valueTerm), 0, 1)
	if method == MethodKNN {
		c *= knnPenalty
	}
	return c
}

func (p *Pipeline) parametersPayload() map[string]any {
	return map[string]any{
		"feature_columns":      p.FeatureColumns(),
		"min_samples_glm":      p.minSamplesGLM,
		"knn_k":                p.knnK,
		"knn_smoothing_factor": p.knnFactor,
		"yield_beta":           p.yieldModel.Beta,
		"yield_family":         string(p.yieldModel.Family),
		"value_beta":           p.valueModel.Beta,
	}
}

func (p *Pipeline) record(s model.Store, sum Summary, pred Prediction, hash string,
	thetaPred, valuePred, thetaSE, valueSE, thetaAdj, valueAdj float64,
) trace.Record {
	return trace.Record{
		StoreID: s.ID,
		Stage:   trace.StagePosterior,
		Baseline: trace.Section{
			"theta_prediction": thetaPred,
			"value_prediction": valuePred,
		},
		Affluence: rawFeatures(s, p.scales),
		Adjacency: trace.Section{"theta": thetaAdj, "value": valueAdj},
		Observations: trace.Section{
			"visits":            float64(sum.Visits),
			"dwell_total":       sum.DwellTotal,
			"items_total":       sum.ItemsTotal,
			"value_mean":        sum.ValueMean,
			"theta_observed":    sum.ThetaMean,
			"method":            string(pred.Method),
			"theta_uncertainty": thetaSE,
			"value_uncertainty": valueSE,
		},
		Model: trace.Section{
			"parameters_hash":      hash,
			"yield_family":         string(p.yieldModel.Family),
			"min_samples_glm":      p.minSamplesGLM,
			"knn_k":                p.knnK,
			"knn_smoothing_factor": p.knnFactor,
		},
		Scores: trace.Section{
			"theta_final":   pred.Theta,
			"yield_final":   pred.Yield,
			"value_final":   pred.Value,
			"credibility":   pred.Credibility,
			"ecdf_quantile": pred.Quantile,
		},
	}
}

// IterTraces yields the flattened traces of the most recent Predict call.
func (p *Pipeline) IterTraces() iter.Seq[trace.Flat] {
	traces := p.traces
	return func(yield func(trace.Flat) bool) {
		for _, rec := range traces {
			if !yield(rec.Flatten()) {
				return
			}
		}
	}
}

// Traces returns the records of the most recent Predict call.
func (p *Pipeline) Traces() []trace.Record {
	return append([]trace.Record(nil), p.traces...)
}

// Reference returns the fitted ECDF reference, or nil before Fit.
func (p *Pipeline) Reference() *ecdf.Reference {
	return p.reference
}

// YieldFamily returns the family of the fitted count model.
func (p *Pipeline) YieldFamily() (glm.Family, bool) {
	if !p.fitted {
		return "", false
	}
	return p.yieldModel.Family, true
}

// FeatureColumns returns the fitted covariate names.
func (p *Pipeline) FeatureColumns() []string {
	out := make([]string, len(p.scales))
	for i, sc := range p.scales {
		out[i] = sc.Column
	}
	return out
}

// Summary returns the observation summary of one store.
func (p *Pipeline) Summary(storeID string) (Summary, bool) {
	s, ok := p.summaries[storeID]
	return s, ok
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
