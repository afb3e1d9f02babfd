package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/placelists/placelists/internal/platform/metrics"
)

// Metrics records request latency by method and status.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)
			m.ObserveRequest(r.Method, strconv.Itoa(rec.status), time.Since(start).Seconds())
		})
	}
}
