package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline counts layer and feature outcomes of tile assembly. It
// satisfies service.Observer.
type Pipeline struct {
	layerFailures   *prometheus.CounterVec
	featuresDropped *prometheus.CounterVec
	featuresEncoded *prometheus.CounterVec
}

func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		layerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tile_layer_failures_total",
				Help: "Layer fetches that failed and produced an empty layer.",
			},
			[]string{"layer"},
		),
		featuresDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tile_features_dropped_total",
				Help: "Features dropped during conversion or encoding.",
			},
			[]string{"layer"},
		),
		featuresEncoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tile_features_encoded_total",
				Help: "Features written into tiles.",
			},
			[]string{"layer"},
		),
	}
	reg.MustRegister(p.layerFailures, p.featuresDropped, p.featuresEncoded)
	return p
}

func (p *Pipeline) LayerFailed(layer string) {
	p.layerFailures.WithLabelValues(layer).Inc()
}

func (p *Pipeline) FeatureDropped(layer string) {
	p.featuresDropped.WithLabelValues(layer).Inc()
}

func (p *Pipeline) FeaturesEncoded(layer string, n int) {
	if n > 0 {
		p.featuresEncoded.WithLabelValues(layer).Add(float64(n))
	}
}

// HTTP records request counts and latency per chi route pattern, plus tile
// cache outcomes.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	cache    *prometheus.CounterVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	h := &HTTP{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
			},
			[]string{"method", "route", "status"},
		),
		cache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tile_cache_results_total",
				Help: "Tile cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(h.requests, h.duration, h.cache)
	return h
}

func (h *HTTP) Observe(method, route string, status int, d time.Duration) {
	st := strconv.Itoa(status)
	h.requests.WithLabelValues(method, route, st).Inc()
	h.duration.WithLabelValues(method, route, st).Observe(d.Seconds())
}

func (h *HTTP) CacheHit()  { h.cache.WithLabelValues("hit").Inc() }
func (h *HTTP) CacheMiss() { h.cache.WithLabelValues("miss").Inc() }

// Middleware observes every request once routing has finished.
func (h *HTTP) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			h.Observe(r.Method, route, status, time.Since(start))
		}
		return http.HandlerFunc(fn)
	}
}
