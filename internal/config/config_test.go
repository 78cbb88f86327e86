package config_test

import (
	"errors"
	"testing"

	"github.com/okian/atlas/internal/config"
	"github.com/okian/atlas/internal/domain/scoring"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Mode, convey.ShouldEqual, config.ModePrior)
			convey.So(*cfg.Lambda, convey.ShouldEqual, 0.5)
			convey.So(cfg.Omega, convey.ShouldEqual, 0.5)
			convey.So(cfg.Prior.Clamp, convey.ShouldBeTrue)
			convey.So(cfg.Prior.Adjacency.Enabled, convey.ShouldBeFalse)
			convey.So(cfg.Posterior.MinSamplesGLM, convey.ShouldEqual, 3)
			convey.So(cfg.Posterior.KNNK, convey.ShouldEqual, 3)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with out-of-range values", t, func() {
		cases := map[string]func(*config.Config){
			"mode":             func(c *config.Config) { c.Mode = "prior-only" },
			"lambda":           func(c *config.Config) { c.Lambda = scoring.Float(1.2) },
			"omega":            func(c *config.Config) { c.Omega = -0.1 },
			"addr":             func(c *config.Config) { c.Addr = "" },
			"knn_k":            func(c *config.Config) { c.Posterior.KNNK = 0 },
			"knn factor":       func(c *config.Config) { c.Posterior.KNNSmoothingFactor = 2 },
			"adjacency k":      func(c *config.Config) { c.Prior.Adjacency = config.Adjacency{Enabled: true, K: 0, SmoothingFactor: 0.5} },
			"adjacency factor": func(c *config.Config) { c.Prior.Adjacency = config.Adjacency{Enabled: true, K: 2, SmoothingFactor: 1.5} },
			"min samples":      func(c *config.Config) { c.Posterior.MinSamplesGLM = 0 },
		}

		convey.Convey("Then each is rejected as invalid", func() {
			for _, mutate := range cases {
				cfg := config.New()
				mutate(cfg)
				err := cfg.Validate()
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			}
		})

		convey.Convey("And a nil lambda is allowed", func() {
			cfg := config.New()
			cfg.Lambda = nil
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Profiles(t *testing.T) {
	convey.Convey("Given a configured store type", t, func() {
		cfg := config.New()
		cfg.Prior.Types = map[string]config.TypeProfile{
			"Estate Sale": {
				Value:       scoring.Float(4.2),
				Yield:       scoring.Float(2.5),
				AlphaIncome: scoring.Float(0.3),
				BetaRenter:  scoring.Float(-0.2),
			},
		}

		convey.Convey("Then it converts to a scoring profile", func() {
			p := cfg.Profiles()["Estate Sale"]
			convey.So(p.Baseline, convey.ShouldResemble, scoring.Baseline{Value: 4.2, Yield: 2.5})
			convey.So(p.Coefficients.AlphaIncome, convey.ShouldEqual, 0.3)
			convey.So(p.Coefficients.BetaRenter, convey.ShouldEqual, -0.2)
		})

		convey.Convey("And unset fields come from the Unknown profile", func() {
			p := cfg.Profiles()["Estate Sale"]
			unknown := scoring.DefaultProfiles()[scoring.UnknownType]
			convey.So(p.Coefficients.AlphaHighIncome, convey.ShouldEqual, unknown.Coefficients.AlphaHighIncome)
		})
	})

	convey.Convey("Given a partial override of a built-in type", t, func() {
		cfg := config.New()
		cfg.Prior.Types = map[string]config.TypeProfile{
			"Thrift": {Value: scoring.Float(3.3)},
		}

		convey.Convey("Then only the configured field changes", func() {
			p := cfg.Profiles()["Thrift"]
			builtin := scoring.DefaultProfiles()["Thrift"]
			convey.So(p.Baseline.Value, convey.ShouldEqual, 3.3)
			convey.So(p.Baseline.Yield, convey.ShouldEqual, builtin.Baseline.Yield)
			convey.So(p.Coefficients, convey.ShouldResemble, builtin.Coefficients)
		})

		convey.Convey("And an explicit zero is kept", func() {
			cfg.Prior.Types["Thrift"] = config.TypeProfile{BetaRenter: scoring.Float(0)}
			p := cfg.Profiles()["Thrift"]
			convey.So(p.Coefficients.BetaRenter, convey.ShouldEqual, 0)
			convey.So(p.Baseline.Value, convey.ShouldEqual, scoring.DefaultProfiles()["Thrift"].Baseline.Value)
		})
	})
}
