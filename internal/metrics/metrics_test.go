package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test", Revision: "r", BuildDate: "now"}})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `tileserver_build_info{build_date="now",revision="r",version="test"} 1`) {
		t.Fatalf("expected build info in payload; got:\n%s", body)
	}
}

func TestPipeline_Counters(t *testing.T) {
	p := Init(Config{})
	pl := NewPipeline(p.Registerer())

	pl.LayerFailed("roads")
	pl.FeatureDropped("roads")
	pl.FeatureDropped("roads")
	pl.FeaturesEncoded("places", 3)
	pl.FeaturesEncoded("places", 0)

	if got := testutil.ToFloat64(pl.layerFailures.WithLabelValues("roads")); got != 1 {
		t.Fatalf("layer failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pl.featuresDropped.WithLabelValues("roads")); got != 2 {
		t.Fatalf("dropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pl.featuresEncoded.WithLabelValues("places")); got != 3 {
		t.Fatalf("encoded = %v, want 3", got)
	}
}

func TestHTTP_MiddlewareUsesRoutePattern(t *testing.T) {
	p := Init(Config{})
	h := NewHTTP(p.Registerer())

	r := chi.NewRouter()
	r.Use(h.Middleware())
	r.Get("/tiles/{topic}/{z}/{x}/{y}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tiles/all/0/0/0", nil))
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(h.requests.WithLabelValues("GET", "/tiles/{topic}/{z}/{x}/{y}", "204")); got != 2 {
		t.Fatalf("tile requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(h.requests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("unmatched requests = %v, want 1", got)
	}

	h.CacheHit()
	h.CacheMiss()
	h.CacheMiss()
	if got := testutil.ToFloat64(h.cache.WithLabelValues("miss")); got != 2 {
		t.Fatalf("cache misses = %v, want 2", got)
	}
}
