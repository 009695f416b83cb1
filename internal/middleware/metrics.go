package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/project-portal/internal/metrics"
)

// Metrics records request counts and latency per route pattern. Using the
// pattern rather than the raw path keeps label cardinality bounded.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			route := routePattern(r)
			m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
			m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
