package scoring_test

import (
	"testing"

	scoring "github.com/okian/atlas/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistry(t *testing.T) {
	Convey("Given the default registry", t, func() {
		reg := scoring.NewRegistry()

		Convey("When looking up a known type", func() {
			c := reg.Coefficients("Thrift")

			Convey("Then the Thrift coefficients are returned", func() {
				So(c.AlphaIncome, ShouldEqual, 0.5)
				So(c.BetaRenter, ShouldEqual, -0.5)
			})
		})

		Convey("When looking up an unknown type", func() {
			Convey("Then the Unknown profile is returned", func() {
				So(reg.Baseline("Nonexistent"), ShouldResemble, reg.Baseline(scoring.UnknownType))
				So(reg.Coefficients("Nonexistent"), ShouldResemble, reg.Coefficients(scoring.UnknownType))
				So(reg.Baseline("Nonexistent").Value, ShouldEqual, 3.0)
			})
		})
	})

	Convey("Given a registry with a configured profile", t, func() {
		reg := scoring.NewRegistry(scoring.WithProfiles(map[string]scoring.Profile{
			"Estate Sale": {Baseline: scoring.Baseline{Value: 4.2, Yield: 2.5}},
		}))

		Convey("Then the new type is available next to the defaults", func() {
			So(reg.Baseline("Estate Sale").Value, ShouldEqual, 4.2)
			So(reg.Types(), ShouldContain, "Thrift")
			So(reg.Types(), ShouldContain, "Estate Sale")
		})
	})
}

func TestPriorScorer_Score(t *testing.T) {
	Convey("Given a prior scorer with default settings", t, func() {
		scorer := scoring.NewPriorScorer()

		Convey("When scoring an affluent Thrift store with λ=0.6", func() {
			res := scorer.Score(scoring.PriorInput{
				StoreType:    "Thrift",
				MedianIncome: 0.95,
				HighIncome:   0.90,
				Renter:       0.20,
				Lambda:       scoring.Float(0.6),
			})

			Convey("Then Value, Yield and Composite follow the additive model", func() {
				So(res.Value, ShouldAlmostEqual, 3.725, 1e-9)
				So(res.Yield, ShouldAlmostEqual, 3.30, 1e-9)
				So(res.Composite, ShouldNotBeNil)
				So(*res.Composite, ShouldAlmostEqual, 3.555, 1e-9)
			})

			Convey("And the contributions are broken out", func() {
				So(res.BaselineValue, ShouldAlmostEqual, 2.8, 1e-9)
				So(res.BaselineYield, ShouldAlmostEqual, 3.4, 1e-9)
				So(res.IncomeContribution, ShouldAlmostEqual, 0.475, 1e-9)
				So(res.HighIncomeContribution, ShouldAlmostEqual, 0.45, 1e-9)
				So(res.RenterContribution, ShouldAlmostEqual, -0.1, 1e-9)
			})

			Convey("And the store id defaults to the store type", func() {
				So(res.StoreID, ShouldEqual, "Thrift")
			})
		})

		Convey("When scoring a Vintage store with out-of-range affluence", func() {
			for _, lambda := range []float64{0, 0.3, 0.6, 1} {
				res := scorer.Score(scoring.PriorInput{
					StoreType:    "Vintage",
					MedianIncome: 10,
					HighIncome:   10,
					Renter:       -10,
					Lambda:       scoring.Float(lambda),
				})

				So(res.Value, ShouldEqual, 5.0)
				So(res.Yield, ShouldEqual, 5.0)
				So(*res.Composite, ShouldEqual, 5.0)
			}
		})

		Convey("When an adjacency adjustment is supplied", func() {
			res := scorer.Score(scoring.PriorInput{
				StoreType:    "Thrift",
				MedianIncome: 0.2,
				HighIncome:   0.2,
				Renter:       0.2,
				Adjacency:    &scoring.Adjustment{Value: 0.1, Yield: -0.2},
			})

			Convey("Then it is added before clamping", func() {
				So(res.Value, ShouldAlmostEqual, scoring.Clamp(2.8+0.1+0.1+0.1), 1e-9)
				So(res.Yield, ShouldAlmostEqual, scoring.Clamp(3.4-0.1-0.2), 1e-9)
				So(res.AdjacencyValue, ShouldAlmostEqual, 0.1, 1e-9)
				So(res.AdjacencyYield, ShouldAlmostEqual, -0.2, 1e-9)
				So(res.Composite, ShouldBeNil)
			})
		})

		Convey("When posterior overrides are supplied", func() {
			res := scorer.Score(scoring.PriorInput{
				StoreID:   "S-9",
				StoreType: "Antique",
				Overrides: &scoring.Overrides{Value: scoring.Float(4.9)},
			})

			Convey("Then they are recorded but not applied", func() {
				So(res.Value, ShouldAlmostEqual, 4.0, 1e-9)
				So(*res.PosteriorValueOverride, ShouldEqual, 4.9)
				So(res.PosteriorYieldOverride, ShouldBeNil)
				So(res.ToTrace()["model.posterior_overrides_present"], ShouldBeTrue)
			})
		})
	})

	Convey("Given a scorer with clamping disabled", t, func() {
		scorer := scoring.NewPriorScorer(scoring.WithClamp(false))

		Convey("Then raw values may leave the score scale", func() {
			res := scorer.Score(scoring.PriorInput{StoreType: "Vintage", MedianIncome: 10})
			So(res.Value, ShouldAlmostEqual, 8.8, 1e-9)
		})
	})
}

func TestPriorTrace(t *testing.T) {
	Convey("Given a scored store", t, func() {
		scorer := scoring.NewPriorScorer()
		in := scoring.PriorInput{StoreID: "trace-prior", StoreType: "Thrift", MedianIncome: 0.5, HighIncome: 0.4, Renter: 0.3, Lambda: scoring.Float(0.6)}
		flat := scorer.Score(in).ToTrace()

		Convey("Then the flattened trace carries every section", func() {
			So(flat["store_id"], ShouldEqual, "trace-prior")
			So(flat["stage"], ShouldEqual, "prior")
			So(flat["metadata.store_type"], ShouldEqual, "Thrift")
			So(flat["baseline.value"], ShouldEqual, 2.8)
			So(flat["affluence.income"], ShouldAlmostEqual, 0.25, 1e-9)
			So(flat["observations.lambda_weight"], ShouldEqual, 0.6)
			So(flat["scores.composite"], ShouldNotBeNil)
		})

		Convey("And the parameters hash is reproducible", func() {
			again := scorer.Score(in).ToTrace()
			So(again["model.parameters_hash"], ShouldEqual, flat["model.parameters_hash"])

			other := in
			other.Lambda = scoring.Float(0.4)
			So(scorer.Score(other).ToTrace()["model.parameters_hash"], ShouldNotEqual, flat["model.parameters_hash"])
		})
	})
}
