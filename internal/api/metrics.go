package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

// Synchronous executions hold the request open for up to the maximum
// timeout, so the buckets run from 5ms to roughly 20 minutes.
var durationBuckets = prometheus.ExponentialBuckets(0.005, 4, 10)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drafter_http_requests_total",
			Help: "HTTP requests served, by method, route pattern and status code.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drafter_http_request_duration_seconds",
			Help:    "Time from request start until the handler returned.",
			Buckets: durationBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drafter_http_inflight_requests",
			Help: "Requests currently being served, including synchronous executions and log streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, httpInflight)
}

// metricsMiddleware labels requests by chi route pattern. The pattern is only
// known once routing finished, so labels are resolved after next returns.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		httpInflight.Inc()
		start := time.Now()
		defer func() {
			httpInflight.Dec()
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			path := routePattern(r)
			httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(code)).Inc()
			httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(ww, r)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatched
}

func metricsHandler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}
