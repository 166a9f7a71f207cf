// Package middleware holds the HTTP middleware the bulletin services chain in
// front of their muxes: request IDs, panic recovery, Prometheus metrics,
// CORS, per-client rate limiting and request deadlines.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/metrics"
)

// Metrics counts requests by method, route and status, and observes their
// latency by method and route.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			rt := route(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, rt, strconv.Itoa(sw.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, rt).Observe(time.Since(start).Seconds())
		})
	}
}

// statusWriter records the first status written. A handler that writes a
// body without a header implicitly sent 200.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Status() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// routes bounds the path label's cardinality; anything else is "other".
var routes = []string{
	"/api/v1/search",
	"/api/v1/index/stats",
	"/api/v1/cache/stats",
	"/api/v1/cache/invalidate",
	"/api/v1/analytics/last-build",
	"/api/v1/analytics",
	"/health/live",
	"/health/ready",
}

func route(path string) string {
	path = strings.TrimSuffix(path, "/")
	for _, r := range routes {
		if path == r {
			return r
		}
	}
	return "other"
}
