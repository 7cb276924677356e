package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/warden/internal/telemetry"
)

// statusText holds the common status codes pre-rendered so the hot path
// rarely calls strconv.Itoa.
var statusText [600]string

func init() {
	for i := range statusText {
		statusText[i] = strconv.Itoa(i)
	}
}

// statusLabel tolerates arbitrary codes: net/http accepts 100-999, and
// intercepted responses carry whatever status the upstream sent.
func statusLabel(status int) string {
	if status >= 0 && status < len(statusText) {
		return statusText[status]
	}
	return strconv.Itoa(status)
}

// metricsMiddleware tracks in-flight requests and records per-route
// counts and latency once the handler returns.
func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()

			sw := getStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start).Seconds()
			status := sw.status
			putStatusWriter(sw)

			// The chi pattern keeps label cardinality bounded; for the
			// interception catch-all every path collapses into "/*".
			route := routePattern(r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, statusLabel(status)).Inc()
			m.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
