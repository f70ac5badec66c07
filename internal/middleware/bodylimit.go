package middleware

import (
	"fmt"
	"net/http"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
)

// BodyLimit caps request body size. Declared lengths over the cap are
// rejected up front; chunked bodies are capped by http.MaxBytesReader so
// reads past the limit fail inside the handler. max <= 0 disables the cap.
func BodyLimit(max int64) Middleware {
	return func(next http.Handler) http.Handler {
		if max <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > max {
				apierrors.ErrBodyTooLarge.WithDetails(
					fmt.Sprintf("Request body exceeds maximum size of %d bytes", max),
				).WithRequestID(w.Header().Get(HeaderRequestID)).WriteJSON(w)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
