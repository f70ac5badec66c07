package middleware

import (
	"net/http"
	"time"
)

// LatencyInjection delays every request by a fixed duration before it
// reaches the handler. Used by the chaos tooling to rehearse slow-network
// conditions; wired only when latency injection is enabled.
func LatencyInjection(delay time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if delay <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
