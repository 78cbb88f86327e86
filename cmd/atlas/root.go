package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/atlas/internal/adapters/dataset"
	"github.com/okian/atlas/internal/adapters/ecdfcache"
	service "github.com/okian/atlas/internal/app"
	"github.com/okian/atlas/internal/config"
	"github.com/okian/atlas/internal/domain/posterior"
	"github.com/okian/atlas/internal/domain/scoring"
	"github.com/okian/atlas/pkg/logger"
	"github.com/okian/atlas/pkg/tracing"
)

const (
	serviceName = "atlas"
	version     = "0.1.0"
)

// ErrMissingStores is returned when no stores table is given.
var ErrMissingStores = errors.New("--stores is required")

// flags holds the command-line overrides shared by every subcommand.
type flags struct {
	configFile     string
	mode           string
	lambda         float64
	omega          float64
	stores         string
	observations   string
	output         string
	traceOut       string
	posteriorTrace string
	ecdfWindow     string
	ecdfCache      string
	reuseECDFCache bool
	features       []string
	adjacency      bool
	logLevel       string
	logJSON        bool
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "atlas",
		Short:         "Score retail stores on Value and Yield",
		Version:       version,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "YAML config file (defaults to $"+config.EnvFile+")")
	pf.StringVar(&f.mode, "mode", config.ModePrior, "run mode: prior, posterior or blended")
	pf.Float64Var(&f.lambda, "lambda", 0.5, "composite weight of Value against Yield")
	pf.Float64Var(&f.omega, "omega", 0.5, "posterior weight when blending")
	pf.StringVar(&f.stores, "stores", "", "stores table (.csv or .xlsx)")
	pf.StringVar(&f.observations, "observations", "", "observations table (.csv or .xlsx)")
	pf.StringVar(&f.output, "output", "", "score table output (.csv or .xlsx); stdout when empty")
	pf.StringVar(&f.traceOut, "trace-out", "", "write every trace as JSON lines")
	pf.StringVar(&f.posteriorTrace, "posterior-trace", "", "write posterior predictions (.csv or .xlsx)")
	pf.StringVar(&f.ecdfWindow, "ecdf-window", "", "store or observation column that segments the ECDF")
	pf.StringVar(&f.ecdfCache, "ecdf-cache", "", "ECDF reference cache (.csv, .db, .sqlite)")
	pf.BoolVar(&f.reuseECDFCache, "reuse-ecdf-cache", false, "load the ECDF reference from --ecdf-cache instead of rebuilding")
	pf.StringSliceVar(&f.features, "features", nil, "store feature columns for the posterior model")
	pf.BoolVar(&f.adjacency, "adjacency", false, "smooth prior scores over neighbouring stores")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVar(&f.logJSON, "log-json", false, "log JSON lines")

	root.AddCommand(newScoreCommand(f), newServeCommand(f))
	return root
}

// loadConfig layers the config file, env and then explicitly set flags.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configFile != "" {
		cfg, err = config.LoadFile(cmd.Context(), f.configFile)
	} else {
		cfg, err = config.Load(cmd.Context())
	}
	if err != nil {
		return nil, err
	}

	set := cmd.Flags().Changed
	if set("mode") {
		cfg.Mode = f.mode
	}
	if set("lambda") {
		cfg.Lambda = scoring.Float(f.lambda)
	}
	if set("omega") {
		cfg.Omega = f.omega
	}
	if set("ecdf-window") {
		cfg.Posterior.WindowColumn = f.ecdfWindow
	}
	if set("ecdf-cache") {
		cfg.Posterior.ECDFCache = f.ecdfCache
	}
	if set("reuse-ecdf-cache") {
		cfg.Posterior.ReuseECDFCache = f.reuseECDFCache
	}
	if set("features") {
		cfg.Posterior.FeatureColumns = f.features
	}
	if set("adjacency") {
		cfg.Prior.Adjacency.Enabled = f.adjacency
	}
	if set("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if set("log-json") {
		cfg.LogJSON = f.logJSON
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env is what a subcommand runs with.
type env struct {
	cfg     *config.Config
	log     logger.Logger
	svc     *service.Service
	inputs  service.Inputs
	tracing *tracing.Provider
}

func (e *env) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := e.tracing.Shutdown(ctx); err != nil {
		e.log.Warn(ctx, "tracing shutdown failed", logger.Error(err))
	}
	_ = logger.Sync()
}

// setup loads configuration, initialises logging and tracing, reads the
// input tables and builds the service.
func setup(cmd *cobra.Command, f *flags) (*env, error) {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.WithWriter(cmd.ErrOrStderr()), logger.WithJSON(cfg.LogJSON)); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:  serviceName,
		Version:      version,
		Enabled:      cfg.Tracing.Enabled,
		Endpoint:     cfg.Tracing.Endpoint,
		Insecure:     cfg.Tracing.Insecure,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, err
	}

	inputs, err := loadInputs(ctx, f, log)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	svc, err := newService(cfg, log)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	return &env{cfg: cfg, log: log, svc: svc, inputs: inputs, tracing: tp}, nil
}

func loadInputs(ctx context.Context, f *flags, log logger.Logger) (service.Inputs, error) {
	if f.stores == "" {
		return service.Inputs{}, ErrMissingStores
	}
	loader := dataset.NewLoader(dataset.WithLogger(log.Named("dataset")))
	stores, err := loader.LoadStores(ctx, f.stores)
	if err != nil {
		return service.Inputs{}, err
	}
	in := service.Inputs{Stores: stores}
	if f.observations != "" {
		if in.Observations, err = loader.LoadObservations(ctx, f.observations); err != nil {
			return service.Inputs{}, err
		}
	}
	return in, nil
}

func newService(cfg *config.Config, log logger.Logger) (*service.Service, error) {
	scorer := scoring.NewPriorScorer(
		scoring.WithRegistry(scoring.NewRegistry(scoring.WithProfiles(cfg.Profiles()))),
		scoring.WithClamp(cfg.Prior.Clamp),
	)
	opts := []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithMode(service.Mode(cfg.Mode)),
		service.WithLambda(cfg.Lambda),
		service.WithOmega(cfg.Omega),
		service.WithPriorScorer(scorer),
		service.WithPosteriorOptions(
			posterior.WithMinSamplesGLM(cfg.Posterior.MinSamplesGLM),
			posterior.WithKNN(cfg.Posterior.KNNK, cfg.Posterior.KNNSmoothingFactor),
			posterior.WithLogger(log.Named("posterior")),
		),
		service.WithFeatureColumns(cfg.Posterior.FeatureColumns),
		service.WithWindowColumn(cfg.Posterior.WindowColumn),
	}
	if cfg.Prior.Adjacency.Enabled {
		opts = append(opts, service.WithAdjacency(cfg.Prior.Adjacency.K, cfg.Prior.Adjacency.SmoothingFactor))
	}
	if cfg.Posterior.ECDFCache != "" {
		cache, err := ecdfcache.New(cfg.Posterior.ECDFCache, ecdfcache.WithLogger(log.Named("ecdfcache")))
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithECDFCache(cache, cfg.Posterior.ReuseECDFCache))
	}
	return service.New(opts...), nil
}
