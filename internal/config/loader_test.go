package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/atlas/internal/config"
	"github.com/okian/atlas/internal/domain/scoring"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		convey.Reset(clearConfigEnvVars)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Mode, convey.ShouldEqual, config.ModePrior)
				convey.So(*cfg.Lambda, convey.ShouldEqual, 0.5)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("ATLAS_ADDR", ":8080")
			_ = os.Setenv("ATLAS_MODE", "blended")
			_ = os.Setenv("ATLAS_LAMBDA", "0.4")
			_ = os.Setenv("ATLAS_POSTERIOR__KNN_K", "5")
			_ = os.Setenv("ATLAS_POSTERIOR__WINDOW_COLUMN", "Metro")
			_ = os.Setenv("ATLAS_PRIOR__ADJACENCY__ENABLED", "true")

			cfg, err := config.Load(ctx)

			convey.Convey("Then nested keys are overridden", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Mode, convey.ShouldEqual, config.ModeBlended)
				convey.So(*cfg.Lambda, convey.ShouldEqual, 0.4)
				convey.So(cfg.Posterior.KNNK, convey.ShouldEqual, 5)
				convey.So(cfg.Posterior.WindowColumn, convey.ShouldEqual, "Metro")
				convey.So(cfg.Prior.Adjacency.Enabled, convey.ShouldBeTrue)
				convey.So(cfg.Prior.Adjacency.K, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := writeConfig(t, `
mode: posterior
omega: 0.25
posterior:
  min_samples_glm: 4
  feature_columns: [MedianIncomeNorm, PctRenterNorm]
  ecdf_cache: /tmp/ecdf.csv
  reuse_ecdf_cache: true
prior:
  types:
    Estate Sale:
      value: 4.2
      yield: 2.5
`)
			_ = os.Setenv(config.EnvFile, path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values merge with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Mode, convey.ShouldEqual, config.ModePosterior)
				convey.So(cfg.Omega, convey.ShouldEqual, 0.25)
				convey.So(cfg.Posterior.MinSamplesGLM, convey.ShouldEqual, 4)
				convey.So(cfg.Posterior.KNNK, convey.ShouldEqual, 3)
				convey.So(cfg.Posterior.FeatureColumns, convey.ShouldResemble, []string{"MedianIncomeNorm", "PctRenterNorm"})
				convey.So(cfg.Posterior.ReuseECDFCache, convey.ShouldBeTrue)
				convey.So(*cfg.Prior.Types["Estate Sale"].Value, convey.ShouldEqual, 4.2)
				convey.So(cfg.Prior.Types["Estate Sale"].BetaRenter, convey.ShouldBeNil)
				convey.So(cfg.Prior.Clamp, convey.ShouldBeTrue)
			})

			convey.Convey("And environment variables override the file", func() {
				_ = os.Setenv("ATLAS_OMEGA", "0.75")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Omega, convey.ShouldEqual, 0.75)
				convey.So(cfg.Mode, convey.ShouldEqual, config.ModePosterior)
			})
		})

		convey.Convey("When a YAML file sets one field of a built-in type", func() {
			_ = os.Setenv(config.EnvFile, writeConfig(t, `
prior:
  types:
    Thrift:
      value: 3.3
`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then the other fields keep their built-in values", func() {
				convey.So(err, convey.ShouldBeNil)
				builtin := scoring.DefaultProfiles()["Thrift"]
				p := cfg.Profiles()["Thrift"]
				convey.So(p.Baseline.Value, convey.ShouldEqual, 3.3)
				convey.So(p.Baseline.Yield, convey.ShouldEqual, builtin.Baseline.Yield)
				convey.So(p.Coefficients, convey.ShouldResemble, builtin.Coefficients)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			_ = os.Setenv(config.EnvFile, writeConfig(t, `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv(config.EnvFile, "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the file path is passed explicitly", func() {
			_ = os.Setenv(config.EnvFile, "/non/existent/file.yaml")
			cfg, err := config.LoadFile(ctx, writeConfig(t, "mode: blended\n"))

			convey.Convey("Then it takes the place of ATLAS_CONFIG", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Mode, convey.ShouldEqual, config.ModeBlended)
			})
		})

		convey.Convey("When an override is out of range", func() {
			_ = os.Setenv("ATLAS_OMEGA", "1.5")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "omega")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atlas.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, config.EnvPrefix) {
			_ = os.Unsetenv(name)
		}
	}
}
