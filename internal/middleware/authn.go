package middleware

import (
	"context"
	"net/http"

	"github.com/apidoorman/doorman-sub003/internal/auth"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
)

type principalKey struct{}

// Authenticate guards a route group behind the token kernel. The CSRF
// double-submit check rides along under HTTPS posture. The verified
// principal is placed in the request context for permission checks.
func Authenticate(kernel *auth.Kernel, httpsPosture bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := kernel.Authenticate(r, httpsPosture)
			if err != nil {
				WriteError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFrom returns the authenticated principal, or nil outside an
// authenticated route.
func PrincipalFrom(ctx context.Context) *auth.Principal {
	if p, ok := ctx.Value(principalKey{}).(*auth.Principal); ok {
		return p
	}
	return nil
}

// WriteError renders err as the uniform envelope, tagging it with the
// response's request id. Non-gateway errors become the opaque 500.
func WriteError(w http.ResponseWriter, err error) {
	gwErr, ok := apierrors.IsGatewayError(err)
	if !ok {
		gwErr = apierrors.ErrUnexpected.Wrap(err)
	}
	gwErr.WithRequestID(w.Header().Get(HeaderRequestID)).WriteJSON(w)
}
