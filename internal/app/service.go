// Package service runs scoring passes over a store set and serves the
// published ranking and traces.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/okian/atlas/internal/adapters/repository"
	"github.com/okian/atlas/internal/domain/blend"
	"github.com/okian/atlas/internal/domain/model"
	"github.com/okian/atlas/internal/domain/posterior"
	"github.com/okian/atlas/internal/domain/scoring"
	"github.com/okian/atlas/internal/domain/spatial"
	"github.com/okian/atlas/internal/domain/trace"
	"github.com/okian/atlas/internal/domain/types"
	"github.com/okian/atlas/pkg/logger"
	"github.com/okian/atlas/pkg/metrics"
	"github.com/okian/atlas/pkg/tracing"
)

// Mode selects which estimates a run produces.
type Mode string

// Run modes.
const (
	ModePrior     Mode = "prior"
	ModePosterior Mode = "posterior"
	ModeBlended   Mode = "blended"
)

// Store feature columns read as prior affluence inputs.
const (
	FeatureMedianIncome = "MedianIncomeNorm"
	FeatureHighIncome   = "Pct100kHHNorm"
	FeatureRenter       = "PctRenterNorm"
)

// Sentinel kinds for service errors.
var (
	ErrUnknownMode     = errors.New("unknown run mode")
	ErrNoStores        = errors.New("no stores to score")
	ErrNoRun           = errors.New("no completed run")
	ErrTracesNotFound  = errors.New("traces not found")
	ErrDuplicatedStore = errors.New("duplicated store id")
)

type adjacency struct {
	k      int
	factor float64
}

// Inputs are the tables of one run.
type Inputs struct {
	Stores       []model.Store
	Observations []model.Observation
}

// Service executes scoring runs and publishes the latest one.
type Service struct {
	runMu sync.Mutex
	mu    sync.RWMutex

	mode          Mode
	lambda        *float64
	omega         float64
	scorer        *scoring.PriorScorer
	adjacency     *adjacency
	posteriorOpts []posterior.Option
	fitOpts       posterior.FitOptions
	ranking       repository.Store

	last    *Result
	byStore map[string][]trace.Flat

	logger logger.Logger
}

// New creates a service. The default runs prior-only with λ = 0.5.
func New(opts ...Option) *Service {
	s := &Service{
		mode:    ModePrior,
		lambda:  scoring.Float(0.5),
		omega:   0.5,
		scorer:  scoring.NewPriorScorer(),
		ranking: repository.NewTreapStore(),
		byStore: make(map[string][]trace.Flat),
		logger:  logger.Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the configured run mode.
func (s *Service) Mode() Mode {
	return s.mode
}

// Run scores in.Stores in the configured mode, publishes the final table to
// the ranking and keeps the traces for lookup. Runs are serialised.
func (s *Service) Run(ctx context.Context, in Inputs) (_ *Result, err error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	runID := uuid.NewString()
	ctx, end := tracing.StartSpan(ctx, "run",
		attribute.String("run_id", runID),
		attribute.String("mode", string(s.mode)),
		attribute.Int("stores", len(in.Stores)),
		attribute.Int("observations", len(in.Observations)))
	defer func() { end(err) }()

	if err = s.check(in); err != nil {
		metrics.RecordRunError("input")
		return nil, err
	}

	res := &Result{RunID: runID, Mode: s.mode}
	var (
		priors      []blend.Prior
		posteriors  []blend.Posterior
		predictions map[string]posterior.Prediction
	)

	if s.mode == ModePrior || s.mode == ModeBlended {
		var results []scoring.PriorResult
		err = s.stage(ctx, "prior", func(ctx context.Context) (serr error) {
			results, serr = s.scorePrior(ctx, in.Stores)
			return serr
		})
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			priors = append(priors, blend.Prior{StoreID: r.StoreID, Value: r.Value, Yield: r.Yield, Composite: r.Composite})
			res.Traces = append(res.Traces, r.Trace)
		}
	}

	if s.mode == ModePosterior || s.mode == ModeBlended {
		pipeline := posterior.NewPipeline(s.posteriorOpts...)
		err = s.stage(ctx, "fit", func(ctx context.Context) error {
			return pipeline.Fit(ctx, in.Observations, in.Stores, s.fitOpts)
		})
		if err != nil {
			return nil, err
		}
		err = s.stage(ctx, "predict", func(ctx context.Context) (serr error) {
			res.Predictions, serr = pipeline.Predict(ctx, in.Stores)
			return serr
		})
		if err != nil {
			return nil, err
		}
		predictions = make(map[string]posterior.Prediction, len(res.Predictions))
		for _, p := range res.Predictions {
			posteriors = append(posteriors, blend.Posterior{StoreID: p.StoreID, Value: p.Value, Yield: p.Yield})
			predictions[p.StoreID] = p
		}
		res.Traces = append(res.Traces, pipeline.Traces()...)
	}

	var rows []blend.Row
	_ = s.stage(ctx, "blend", func(ctx context.Context) error {
		var traces []trace.Record
		rows, traces = blend.Blend(ctx, priors, posteriors, blend.Params{Omega: s.omega, Lambda: s.lambda})
		res.Traces = append(res.Traces, traces...)
		return nil
	})
	res.Rows = make([]Row, len(rows))
	for i, r := range rows {
		res.Rows[i] = newRow(r, predictions)
	}

	if err = s.publish(ctx, res); err != nil {
		metrics.RecordRunError("publish")
		return nil, err
	}
	metrics.RecordRun(string(s.mode))
	s.logger.Info(ctx, "run complete",
		logger.String("run_id", runID),
		logger.String("mode", string(s.mode)),
		logger.Int("stores", len(res.Rows)),
		logger.Int("traces", len(res.Traces)))
	return res, nil
}

func (s *Service) check(in Inputs) error {
	switch s.mode {
	case ModePrior, ModePosterior, ModeBlended:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, s.mode)
	}
	if len(in.Stores) == 0 {
		return ErrNoStores
	}
	seen := make(map[string]struct{}, len(in.Stores))
	for _, st := range in.Stores {
		if _, dup := seen[st.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicatedStore, st.ID)
		}
		seen[st.ID] = struct{}{}
	}
	return nil
}

// stage times fn and counts its failure against the stage.
func (s *Service) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	metrics.RecordStageDuration(name, time.Since(start).Seconds())
	if err != nil {
		metrics.RecordRunError(name)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// scorePrior scores every store. With adjacency enabled, a first pass feeds
// spatial smoothing and a second pass applies the adjustments.
func (s *Service) scorePrior(ctx context.Context, stores []model.Store) ([]scoring.PriorResult, error) {
	inputs := make([]scoring.PriorInput, len(stores))
	for i, st := range stores {
		inputs[i] = s.priorInput(ctx, st)
	}

	results := make([]scoring.PriorResult, len(inputs))
	for i, in := range inputs {
		results[i] = s.scorer.Score(in)
	}
	if s.adjacency == nil {
		return results, nil
	}

	points := make([]spatial.Point, len(stores))
	value := make([]float64, len(stores))
	yield := make([]float64, len(stores))
	for i, st := range stores {
		points[i] = spatial.Point{Lat: st.Latitude, Lon: st.Longitude}
		value[i], yield[i] = results[i].Value, results[i].Yield
	}
	adj, err := spatial.Adjacency(points, value, yield, s.adjacency.k, s.adjacency.factor)
	if err != nil {
		return nil, fmt.Errorf("adjacency: %w", err)
	}
	for i := range inputs {
		inputs[i].Adjacency = &scoring.Adjustment{Value: adj[i].Value, Yield: adj[i].Yield}
		results[i] = s.scorer.Score(inputs[i])
	}
	return results, nil
}

func (s *Service) priorInput(ctx context.Context, st model.Store) scoring.PriorInput {
	feature := func(name string) float64 {
		v, ok := st.Feature(name)
		if !ok {
			s.logger.Debug(ctx, "affluence feature missing, using 0",
				logger.String("store_id", st.ID), logger.String("feature", name))
		}
		return v
	}
	return scoring.PriorInput{
		StoreID:      st.ID,
		StoreType:    st.Type,
		MedianIncome: feature(FeatureMedianIncome),
		HighIncome:   feature(FeatureHighIncome),
		Renter:       feature(FeatureRenter),
		Lambda:       s.lambda,
	}
}

// publish replaces the ranking and the trace index with res.
func (s *Service) publish(ctx context.Context, res *Result) error {
	byStore := make(map[string][]trace.Flat)
	for row := range res.IterTraces() {
		id, _ := row["store_id"].(string)
		byStore[id] = append(byStore[id], row)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ranking.Reset(ctx)
	unranked := 0
	for _, r := range res.Rows {
		if r.Composite == nil {
			unranked++
			continue
		}
		score := types.Score{StoreID: r.StoreID, Composite: *r.Composite, Value: r.Value, Yield: r.Yield}
		if err := s.ranking.Put(ctx, score); err != nil {
			return fmt.Errorf("publish %s: %w", r.StoreID, err)
		}
	}
	if unranked > 0 {
		s.logger.Warn(ctx, "stores without a composite are not ranked", logger.Int("stores", unranked))
	}
	s.last = res
	s.byStore = byStore
	return nil
}

// TopN returns the leading entries of the latest run.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ranking.TopN(ctx, n)
}

// Rank returns one store's entry in the latest run.
func (s *Service) Rank(ctx context.Context, storeID string) (types.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ranking.Rank(ctx, storeID)
}

// Traces returns the flattened traces of one store in the latest run,
// in prior, posterior, blend order.
func (s *Service) Traces(_ context.Context, storeID string) ([]trace.Flat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.byStore[storeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTracesNotFound, storeID)
	}
	out := make([]trace.Flat, len(rows))
	for i, r := range rows {
		out[i] = maps.Clone(r)
	}
	return out, nil
}

// Last returns the latest completed run.
func (s *Service) Last() (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil, ErrNoRun
	}
	return s.last, nil
}

// GetStats summarises the latest run.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]any)
	stats["mode"] = string(s.mode)
	stats["stores_ranked"] = s.ranking.Count(context.Background())
	if s.last == nil {
		return stats
	}
	stats["run_id"] = s.last.RunID
	stats["stores"] = len(s.last.Rows)
	stats["traces"] = len(s.last.Traces)
	if len(s.last.Predictions) > 0 {
		methods := make(map[string]int)
		for _, p := range s.last.Predictions {
			methods[string(p.Method)]++
		}
		stats["methods"] = methods
	}
	return stats
}

// Result is the outcome of one run.
type Result struct {
	RunID       string
	Mode        Mode
	Rows        []Row
	Predictions []posterior.Prediction
	// Traces holds the prior, posterior and blend records in that order.
	Traces []trace.Record
}

// IterTraces yields every flattened trace stamped with the run id.
func (r *Result) IterTraces() iter.Seq[trace.Flat] {
	return func(yield func(trace.Flat) bool) {
		for _, rec := range r.Traces {
			flat := rec.Flatten()
			flat["metadata.run_id"] = r.RunID
			if !yield(flat) {
				return
			}
		}
	}
}

// StageCount counts traces of one stage.
func (r *Result) StageCount(stage trace.Stage) int {
	n := 0
	for _, rec := range r.Traces {
		if rec.Stage == stage {
			n++
		}
	}
	return n
}
