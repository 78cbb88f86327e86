package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given an isolated registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{0.1, 1}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the namespace", func() {
				manager.modelFits.WithLabelValues("Poisson").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "test_unit_model_fits_total")
			})
		})
	})
}

func TestRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording estimation metrics", func() {
			before := testutil.ToFloat64(globalManager.predictions.WithLabelValues("kNN"))
			RecordPrediction("kNN")
			RecordModelFit("NegBin")
			RecordSolverFallback()
			RecordIRLSIterations(7)
			RecordECDFCache("write", "ok")

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.predictions.WithLabelValues("kNN")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.solverFallbacks), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording run and HTTP metrics", func() {
			So(func() {
				RecordRun("blended")
				RecordRunError("fit")
				RecordStageDuration("predict", 0.02)
				UpdateStoresRanked(12)
				RecordRepositoryUpdateLatency(0.3)
				RecordRepositoryQueryLatency(0.1)
				RecordHTTPRequest("/leaderboard", "GET", "200")
				RecordHTTPRequestDuration("/leaderboard", "GET", "200", 0.001)
				RecordErrorByComponent("repository", "not_found")
			}, ShouldNotPanic)

			So(testutil.ToFloat64(globalManager.storesRanked), ShouldEqual, 12)
		})

		Convey("When scraping the handler", func() {
			RecordRun("prior")
			rec := httptest.NewRecorder()
			Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

			Convey("Then atlas metrics are exposed", func() {
				So(rec.Code, ShouldEqual, 200)
				So(strings.Contains(rec.Body.String(), "atlas_scoring_runs_total"), ShouldBeTrue)
			})
		})
	})
}
