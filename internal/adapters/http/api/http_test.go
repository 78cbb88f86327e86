package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/atlas/internal/adapters/http/api"
	"github.com/okian/atlas/internal/adapters/repository"
	service "github.com/okian/atlas/internal/app"
	"github.com/okian/atlas/internal/domain/model"
	"github.com/okian/atlas/internal/domain/trace"
	"github.com/okian/atlas/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDependencies struct {
	topN      []types.Entry
	topNErr   error
	rank      types.Entry
	rankErr   error
	traces    []trace.Flat
	tracesErr error
	stats     map[string]any
}

func (m *mockDependencies) TopN(_ context.Context, n int) ([]types.Entry, error) {
	if m.topNErr != nil {
		return nil, m.topNErr
	}
	return m.topN[:min(n, len(m.topN))], nil
}

func (m *mockDependencies) Rank(_ context.Context, _ string) (types.Entry, error) {
	if m.rankErr != nil {
		return types.Entry{}, m.rankErr
	}
	return m.rank, nil
}

func (m *mockDependencies) Traces(_ context.Context, _ string) ([]trace.Flat, error) {
	if m.tracesErr != nil {
		return nil, m.tracesErr
	}
	return m.traces, nil
}

func (m *mockDependencies) GetStats() map[string]any {
	return m.stats
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestServerRoutes(t *testing.T) {
	Convey("Given an API server over mocked dependencies", t, func() {
		deps := &mockDependencies{
			topN: []types.Entry{
				{Rank: 1, StoreID: "S2", Composite: 4.1, Value: 4, Yield: 4.2},
				{Rank: 2, StoreID: "S1", Composite: 3.5, Value: 3, Yield: 4},
			},
			rank:   types.Entry{Rank: 2, StoreID: "S1", Composite: 3.5},
			traces: []trace.Flat{{"store_id": "S1", "stage": "prior"}},
			stats:  map[string]any{"mode": "prior", "stores_ranked": 2},
		}
		h := api.NewServer(deps, api.WithMaxLimit(10)).Handler()

		Convey("When requesting the leaderboard", func() {
			w := serve(h, http.MethodGet, "/leaderboard?limit=1")

			Convey("Then the leading entries are returned as JSON", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldContainSubstring, "application/json")
				var got []types.Entry
				So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
				So(len(got), ShouldEqual, 1)
				So(got[0].StoreID, ShouldEqual, "S2")
			})
		})

		Convey("When the limit is missing, invalid or too large", func() {
			for _, target := range []string{"/leaderboard", "/leaderboard?limit=abc", "/leaderboard?limit=0", "/leaderboard?limit=11"} {
				So(serve(h, http.MethodGet, target).Code, ShouldEqual, http.StatusBadRequest)
			}
			So(serve(h, http.MethodGet, "/leaderboard?limit=11").Body.String(), ShouldContainSubstring, "limit_exceeded")
		})

		Convey("When the leaderboard query fails", func() {
			deps.topNErr = errors.New("boom")
			So(serve(h, http.MethodGet, "/leaderboard?limit=1").Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("When requesting a rank", func() {
			w := serve(h, http.MethodGet, "/rank/S1")
			So(w.Code, ShouldEqual, http.StatusOK)
			var got types.Entry
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got.Rank, ShouldEqual, 2)
		})

		Convey("When the store is unknown", func() {
			deps.rankErr = fmt.Errorf("lookup: %w", repository.ErrNotFound)
			deps.tracesErr = fmt.Errorf("%w: %q", service.ErrTracesNotFound, "S9")

			So(serve(h, http.MethodGet, "/rank/S9").Code, ShouldEqual, http.StatusNotFound)
			So(serve(h, http.MethodGet, "/traces/S9").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the lookup fails for another reason", func() {
			deps.rankErr = errors.New("disk on fire")
			So(serve(h, http.MethodGet, "/rank/S1").Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("When the store id is missing or nested", func() {
			So(serve(h, http.MethodGet, "/rank/").Code, ShouldEqual, http.StatusBadRequest)
			So(serve(h, http.MethodGet, "/traces/a/b").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When requesting traces", func() {
			w := serve(h, http.MethodGet, "/traces/S1")
			So(w.Code, ShouldEqual, http.StatusOK)
			var got []map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got[0]["stage"], ShouldEqual, "prior")
		})

		Convey("When requesting stats, health and metrics", func() {
			stats := serve(h, http.MethodGet, "/stats")
			So(stats.Code, ShouldEqual, http.StatusOK)
			So(stats.Body.String(), ShouldContainSubstring, `"mode":"prior"`)

			So(serve(h, http.MethodGet, "/healthz").Body.String(), ShouldContainSubstring, `"status":"ok"`)

			metrics := serve(h, http.MethodGet, "/metrics")
			So(metrics.Code, ShouldEqual, http.StatusOK)
			So(metrics.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("When using a write method or an unknown path", func() {
			So(serve(h, http.MethodPost, "/leaderboard?limit=1").Code, ShouldEqual, http.StatusNotFound)
			So(serve(h, http.MethodDelete, "/rank/S1").Code, ShouldEqual, http.StatusNotFound)
			So(serve(h, http.MethodGet, "/unknown").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestServerOverService(t *testing.T) {
	Convey("Given a service that has completed a prior run", t, func() {
		ctx := context.Background()
		svc := service.New()
		_, err := svc.Run(ctx, service.Inputs{Stores: []model.Store{
			{ID: "A", Type: "Vintage", Features: map[string]float64{service.FeatureMedianIncome: 0.9}},
			{ID: "B", Type: "Flea/Surplus"},
		}})
		So(err, ShouldBeNil)
		h := api.NewServer(svc).Handler()

		Convey("Then the published ranking is served", func() {
			w := serve(h, http.MethodGet, "/leaderboard?limit=5")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.Index(w.Body.String(), `"A"`), ShouldBeLessThan, strings.Index(w.Body.String(), `"B"`))

			So(serve(h, http.MethodGet, "/rank/B").Body.String(), ShouldContainSubstring, `"rank":2`)
			So(serve(h, http.MethodGet, "/rank/Z").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("And each store's traces are served in stage order", func() {
			w := serve(h, http.MethodGet, "/traces/A")
			So(w.Code, ShouldEqual, http.StatusOK)
			var got []map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(len(got), ShouldEqual, 2)
			So(got[0]["stage"], ShouldEqual, "prior")
			So(got[1]["stage"], ShouldEqual, "blend")
		})
	})
}
