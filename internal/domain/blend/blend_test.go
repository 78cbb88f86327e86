package blend_test

import (
	"context"
	"testing"

	"github.com/okian/atlas/internal/domain/blend"
	"github.com/okian/atlas/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBlend(t *testing.T) {
	Convey("Given prior and posterior tables that partly overlap", t, func() {
		ctx := context.Background()
		prior := []blend.Prior{
			{StoreID: "both", Value: 3.2, Yield: 3.1, Composite: scoring.Float(3.15)},
			{StoreID: "prior-only", Value: 2.5, Yield: 4.0, Composite: scoring.Float(3.1)},
		}
		posterior := []blend.Posterior{
			{StoreID: "both", Value: 3.5, Yield: 3.6},
			{StoreID: "post-only", Value: 4.4, Yield: 1.2},
		}

		Convey("When blended with ω=0.5 and no λ", func() {
			rows, traces := blend.Blend(ctx, prior, posterior, blend.Params{Omega: 0.5})

			Convey("Then rows are the sorted outer join", func() {
				So(len(rows), ShouldEqual, 3)
				So(rows[0].StoreID, ShouldEqual, "both")
				So(rows[1].StoreID, ShouldEqual, "post-only")
				So(rows[2].StoreID, ShouldEqual, "prior-only")
				So(len(traces), ShouldEqual, 3)
			})

			Convey("And shared stores are mixed", func() {
				So(rows[0].Value, ShouldAlmostEqual, 3.35, 1e-12)
				So(rows[0].Yield, ShouldAlmostEqual, 3.35, 1e-12)
				So(rows[0].Omega, ShouldEqual, 0.5)
				So(rows[0].Source, ShouldEqual, blend.SourceBoth)
			})

			Convey("And single-source stores pass through with a fixed omega", func() {
				So(rows[1].Value, ShouldEqual, 4.4)
				So(rows[1].Omega, ShouldEqual, 1)
				So(rows[1].ValuePrior, ShouldBeNil)
				So(rows[2].Yield, ShouldEqual, 4.0)
				So(rows[2].Omega, ShouldEqual, 0)
				So(rows[2].ValuePosterior, ShouldBeNil)
			})

			Convey("And the composite falls back to the prior composite", func() {
				So(*rows[0].Composite, ShouldEqual, 3.15)
				So(rows[1].Composite, ShouldBeNil)
				So(*rows[2].Composite, ShouldEqual, 3.1)
			})
		})

		Convey("When blended with λ", func() {
			lambda := 0.4
			rows, traces := blend.Blend(ctx, prior, posterior, blend.Params{Omega: 0.5, Lambda: &lambda})

			Convey("Then every composite is the clamped λ mix of the final scores", func() {
				for _, r := range rows {
					So(r.Composite, ShouldNotBeNil)
					So(*r.Composite, ShouldEqual, scoring.Clamp(lambda*r.Value+(1-lambda)*r.Yield))
				}
			})

			Convey("And traces carry every intermediate value", func() {
				flat := traces[0].Flatten()
				So(flat["stage"], ShouldEqual, "blend")
				So(flat["baseline.value_prior"], ShouldEqual, 3.2)
				So(flat["observations.value_posterior"], ShouldEqual, 3.5)
				So(flat["model.omega"], ShouldEqual, 0.5)
				So(flat["model.lambda_weight"], ShouldEqual, 0.4)
				So(flat["metadata.source"], ShouldEqual, "both")

				postOnly := traces[1].Flatten()
				So(postOnly["baseline.value_prior"], ShouldBeNil)
			})
		})

		Convey("When either table is empty", func() {
			rows, _ := blend.Blend(ctx, nil, posterior, blend.Params{Omega: 0.3})
			So(len(rows), ShouldEqual, 2)
			for _, r := range rows {
				So(r.Omega, ShouldEqual, 1)
			}

			rows, _ = blend.Blend(ctx, prior, nil, blend.Params{Omega: 0.3})
			for _, r := range rows {
				So(r.Omega, ShouldEqual, 0)
			}

			rows, traces := blend.Blend(ctx, nil, nil, blend.Params{})
			So(rows, ShouldBeEmpty)
			So(traces, ShouldBeEmpty)
		})
	})
}

func TestBlendClampsScores(t *testing.T) {
	Convey("Given inputs outside the score scale", t, func() {
		prior := []blend.Prior{
			{StoreID: "both", Value: 6, Yield: 0},
			{StoreID: "prior-only", Value: 7.5, Yield: -1},
		}
		posterior := []blend.Posterior{
			{StoreID: "both", Value: 5.8, Yield: 0.4},
			{StoreID: "post-only", Value: 0.2, Yield: 9},
		}

		rows, _ := blend.Blend(context.Background(), prior, posterior, blend.Params{Omega: 0.5})

		Convey("Then every blended Value and Yield lies in [1,5]", func() {
			So(len(rows), ShouldEqual, 3)
			for _, row := range rows {
				So(row.Value, ShouldBeBetweenOrEqual, 1, 5)
				So(row.Yield, ShouldBeBetweenOrEqual, 1, 5)
			}
			So(rows[0].Value, ShouldEqual, 5)
			So(rows[0].Yield, ShouldEqual, 1)
			So(rows[1].Value, ShouldEqual, 1)
			So(rows[1].Yield, ShouldEqual, 5)
		})

		Convey("And the traced inputs keep their raw values", func() {
			So(*rows[0].ValuePrior, ShouldEqual, 6)
			So(*rows[1].YieldPosterior, ShouldEqual, 9)
		})
	})
}
