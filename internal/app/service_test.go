package service_test

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/okian/atlas/internal/adapters/repository"
	service "github.com/okian/atlas/internal/app"
	"github.com/okian/atlas/internal/domain/model"
	"github.com/okian/atlas/internal/domain/posterior"
	"github.com/okian/atlas/internal/domain/scoring"
	"github.com/okian/atlas/internal/domain/trace"
	. "github.com/smartystreets/goconvey/convey"
)

func denseUrban() []model.Store {
	store := func(id, typ string, lat, lon, income, high, renter float64) model.Store {
		return model.Store{
			ID: id, Type: typ, Latitude: lat, Longitude: lon,
			Features: map[string]float64{
				service.FeatureMedianIncome: income,
				service.FeatureHighIncome:   high,
				service.FeatureRenter:       renter,
			},
			Labels: map[string]string{"Metro": "Metro-Dense"},
		}
	}
	return []model.Store{
		store("DU-001", "Thrift", 42.331, -83.045, 0.75, 0.65, 0.40),
		store("DU-002", "Vintage", 42.36, -83.065, 0.88, 0.72, 0.55),
		store("DU-003", "Antique", 42.347, -83.052, 0.92, 0.80, 0.35),
		store("DU-004", "Flea/Surplus", 42.371, -83.03, 0.70, 0.55, 0.60),
		store("DU-005", "Thrift", 42.389, -83.02, 0.62, 0.48, 0.45),
	}
}

func sparseStores() []model.Store {
	return []model.Store{
		{ID: "S1", Type: "Thrift", Latitude: 0, Longitude: 0, Features: map[string]float64{service.FeatureMedianIncome: 0.2}},
		{ID: "S2", Type: "Vintage", Latitude: 0, Longitude: 1, Features: map[string]float64{service.FeatureMedianIncome: 0.5}},
		{ID: "S3", Type: "Antique", Latitude: 1, Longitude: 0, Features: map[string]float64{service.FeatureMedianIncome: 0.9}},
		{ID: "S4", Type: "Thrift", Latitude: 1, Longitude: 1, Features: map[string]float64{service.FeatureMedianIncome: 0.4}},
	}
}

func visit(store string, dwell, items, rating float64) model.Observation {
	return model.Observation{StoreID: store, DwellMinutes: dwell, PurchasedItems: items, HaulRating: rating}
}

func sparseObservations() []model.Observation {
	return []model.Observation{
		visit("S1", 45, 2, 4), visit("S1", 45, 3, 4), visit("S1", 45, 2, 5), visit("S1", 45, 3, 3),
		visit("S2", 90, 2, 3), visit("S2", 90, 4, 3), visit("S2", 90, 2, 3),
		visit("S3", 45, 5, 2),
	}
}

func TestRunPrior(t *testing.T) {
	Convey("Given a prior-only service with λ=0.5", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithLambda(scoring.Float(0.5)))

		res, err := svc.Run(ctx, service.Inputs{Stores: denseUrban()})
		So(err, ShouldBeNil)

		Convey("Then the composites match the additive prior", func() {
			composites := make([]float64, 0, len(res.Rows))
			for _, r := range res.Rows {
				So(*r.Composite, ShouldAlmostEqual, 0.5*r.Value+0.5*r.Yield, 1e-9)
				composites = append(composites, *r.Composite)
			}
			sort.Float64s(composites)
			want := []float64{3.035, 3.0685, 3.2625, 3.35, 3.353}
			for i := range want {
				So(composites[i], ShouldAlmostEqual, want[i], 1e-6)
			}
		})

		Convey("And prior-only rows pass through the blender with omega 0", func() {
			for _, r := range res.Rows {
				So(r.Omega, ShouldEqual, 0)
				So(r.ValuePosterior, ShouldBeNil)
				So(r.Method, ShouldBeEmpty)
			}
		})

		Convey("And one prior and one blend trace is kept per store", func() {
			So(res.StageCount(trace.StagePrior), ShouldEqual, 5)
			So(res.StageCount(trace.StageBlend), ShouldEqual, 5)
			for row := range res.IterTraces() {
				So(row["metadata.run_id"], ShouldEqual, res.RunID)
			}
		})

		Convey("And the ranking is published", func() {
			top, err := svc.TopN(ctx, 2)
			So(err, ShouldBeNil)
			So(top[0].StoreID, ShouldEqual, "DU-002")
			So(top[1].StoreID, ShouldEqual, "DU-001")

			e, err := svc.Rank(ctx, "DU-004")
			So(err, ShouldBeNil)
			So(e.Rank, ShouldEqual, 5)

			rows, err := svc.Traces(ctx, "DU-003")
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 2)
			So(rows[0]["stage"], ShouldEqual, "prior")
			So(rows[1]["stage"], ShouldEqual, "blend")

			_, err = svc.Traces(ctx, "missing")
			So(errors.Is(err, service.ErrTracesNotFound), ShouldBeTrue)

			stats := svc.GetStats()
			So(stats["stores_ranked"], ShouldEqual, 5)
			So(stats["run_id"], ShouldEqual, res.RunID)
		})

		Convey("And the score table has the prior-only columns", func() {
			table := res.Table()
			So(table.Columns, ShouldResemble, []string{"StoreId", "Value", "Yield", "Composite"})
			So(len(table.Rows), ShouldEqual, 5)
		})
	})

	Convey("Given adjacency smoothing over the two nearest stores", t, func() {
		ctx := context.Background()
		plain, err := service.New().Run(ctx, service.Inputs{Stores: denseUrban()})
		So(err, ShouldBeNil)
		smoothed, err := service.New(service.WithAdjacency(2, 0.5)).Run(ctx, service.Inputs{Stores: denseUrban()})
		So(err, ShouldBeNil)

		Convey("Then scores move towards the neighbours and stay on scale", func() {
			moved := false
			for i := range plain.Rows {
				So(smoothed.Rows[i].Value, ShouldBeBetweenOrEqual, 1, 5)
				if math.Abs(smoothed.Rows[i].Value-plain.Rows[i].Value) > 1e-9 {
					moved = true
				}
			}
			So(moved, ShouldBeTrue)
		})
	})
}

func TestRunBlended(t *testing.T) {
	Convey("Given a blended service with ω=0.5 and λ=0.4", t, func() {
		ctx := context.Background()
		ranking := repository.NewTreapStore()
		svc := service.New(
			service.WithMode(service.ModeBlended),
			service.WithOmega(0.5),
			service.WithLambda(scoring.Float(0.4)),
			service.WithRepository(ranking),
		)

		res, err := svc.Run(ctx, service.Inputs{Stores: sparseStores(), Observations: sparseObservations()})
		So(err, ShouldBeNil)

		Convey("Then every store blends both sources", func() {
			So(len(res.Rows), ShouldEqual, 4)
			for _, r := range res.Rows {
				So(r.Omega, ShouldEqual, 0.5)
				So(r.Value, ShouldAlmostEqual, 0.5*(*r.ValuePrior)+0.5*(*r.ValuePosterior), 1e-12)
				So(r.Yield, ShouldAlmostEqual, 0.5*(*r.YieldPrior)+0.5*(*r.YieldPosterior), 1e-12)
				So(*r.Composite, ShouldAlmostEqual, scoring.Clamp(0.4*r.Value+0.6*r.Yield), 1e-12)
				So(*r.Credibility, ShouldBeBetweenOrEqual, 0, 1)
				So(*r.Quantile, ShouldBeBetweenOrEqual, 0, 1)
			}
		})

		Convey("And posterior diagnostics are carried", func() {
			methods := make(map[string]string)
			for _, r := range res.Rows {
				methods[r.StoreID] = r.Method
			}
			So(methods["S1"], ShouldEqual, string(posterior.MethodGLM))
			So(methods["S3"], ShouldEqual, string(posterior.MethodHier))
			So(methods["S4"], ShouldEqual, string(posterior.MethodKNN))
			So(*res.Rows[0].YieldPosterior, ShouldAlmostEqual, 3.5, 1e-9)
		})

		Convey("And all three trace streams are kept", func() {
			So(res.StageCount(trace.StagePrior), ShouldEqual, 4)
			So(res.StageCount(trace.StagePosterior), ShouldEqual, 4)
			So(res.StageCount(trace.StageBlend), ShouldEqual, 4)

			rows, err := svc.Traces(ctx, "S2")
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 3)
		})

		Convey("And the tables carry the blended columns", func() {
			So(res.Table().Columns, ShouldContain, "ECDF_q")
			So(res.Table().Columns, ShouldContain, "CompositePrior")
			So(len(res.PredictionTable().Rows), ShouldEqual, 4)
		})

		Convey("And the injected repository holds the ranking", func() {
			So(ranking.Count(ctx), ShouldEqual, 4)
		})
	})
}

func TestRunErrors(t *testing.T) {
	Convey("Given a posterior-only service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithMode(service.ModePosterior))

		Convey("When there are no observations", func() {
			_, err := svc.Run(ctx, service.Inputs{Stores: sparseStores()})

			Convey("Then the empty-observations input error surfaces", func() {
				So(errors.Is(err, posterior.ErrEmptyObservations), ShouldBeTrue)
			})
		})

		Convey("When a requested feature is absent", func() {
			svc := service.New(service.WithMode(service.ModePosterior), service.WithFeatureColumns([]string{"Turnover"}))
			_, err := svc.Run(ctx, service.Inputs{Stores: sparseStores(), Observations: sparseObservations()})
			So(errors.Is(err, posterior.ErrMissingFeature), ShouldBeTrue)
		})

		Convey("When a run fails, the previous publication stays", func() {
			_, err := svc.Run(ctx, service.Inputs{Stores: sparseStores(), Observations: sparseObservations()})
			So(err, ShouldBeNil)
			_, err = svc.Run(ctx, service.Inputs{Stores: sparseStores()})
			So(err, ShouldNotBeNil)

			last, err := svc.Last()
			So(err, ShouldBeNil)
			So(len(last.Rows), ShouldEqual, 4)
		})
	})

	Convey("Given bad inputs", t, func() {
		ctx := context.Background()

		_, err := service.New().Run(ctx, service.Inputs{})
		So(errors.Is(err, service.ErrNoStores), ShouldBeTrue)

		dup := append(denseUrban(), denseUrban()[0])
		_, err = service.New().Run(ctx, service.Inputs{Stores: dup})
		So(errors.Is(err, service.ErrDuplicatedStore), ShouldBeTrue)

		_, err = service.New(service.WithMode("hybrid")).Run(ctx, service.Inputs{Stores: denseUrban()})
		So(errors.Is(err, service.ErrUnknownMode), ShouldBeTrue)

		_, err = service.New().Last()
		So(errors.Is(err, service.ErrNoRun), ShouldBeTrue)
	})
}
