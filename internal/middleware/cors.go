package middleware

import (
	"net/http"

	"github.com/apidoorman/doorman-sub003/internal/cors"
)

// CORS applies the gateway-wide policy. Preflights are answered here and
// never reach the handler; actual requests pass through with the allow
// headers stamped before the handler writes.
func CORS(policy *cors.Policy) Middleware {
	return func(next http.Handler) http.Handler {
		if policy == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cors.IsPreflight(r) {
				policy.Preflight(w, r)
				return
			}
			policy.Apply(w, r)
			next.ServeHTTP(w, r)
		})
	}
}
