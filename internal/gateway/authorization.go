package gateway

import (
	"net/http"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/auth"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/middleware"
	"github.com/apidoorman/doorman-sub003/internal/model"
)

// authed wraps a handler with per-request token validation. The kernel
// check itself lives in middleware.Authenticate; this adapter only
// lifts the context principal into the handler signature.
func (g *Gateway) authed(next func(http.ResponseWriter, *http.Request, *auth.Principal)) http.HandlerFunc {
	h := middleware.Authenticate(g.kernel, g.cfg.Server.HTTPSPosture())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next(w, r, middleware.PrincipalFrom(r.Context()))
		}))
	return h.ServeHTTP
}

// guarded wraps a handler with token validation plus a permission flag
// check against the caller's role.
func (g *Gateway) guarded(flag string, next func(http.ResponseWriter, *http.Request, *auth.Principal)) http.HandlerFunc {
	return g.authed(func(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
		if err := g.authz.Require(r.Context(), p.Username, flag); err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r, p)
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionPayload is the login/refresh response body. The access token
// rides only in the HTTP-only cookie; the CSRF value is echoed here so
// browser clients can send it back as X-CSRF-Token.
type sessionPayload struct {
	Username  string    `json:"username"`
	CSRFToken string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin throttles by client IP, verifies credentials, and sets the
// cookie pair.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	decision := g.throttle.Check(ctx, middleware.ClientIP(r))
	decision.WriteHeaders(w)
	if !decision.Allowed {
		writeError(w, r, apierrors.ErrRateLimited.WithDetails("too many login attempts"))
		return
	}

	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, apierrors.ErrMalformedBody.WithDetails("email and password are required"))
		return
	}

	result, err := g.kernel.Login(ctx, req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	g.kernel.Cookies.SetAuthCookies(w, result.Token, result.CSRF, g.kernel.TokenTTL())
	writeOK(w, r, sessionPayload{
		Username:  result.Username,
		CSRFToken: result.CSRF,
		ExpiresAt: result.ExpiresAt,
	})
}

// handleRefresh revokes the presented token and issues a fresh pair.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	result, err := g.kernel.Refresh(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	g.kernel.Cookies.SetAuthCookies(w, result.Token, result.CSRF, g.kernel.TokenTTL())
	writeOK(w, r, sessionPayload{
		Username:  result.Username,
		CSRFToken: result.CSRF,
		ExpiresAt: result.ExpiresAt,
	})
}

// handleInvalidate revokes the presented token and clears both cookies.
func (g *Gateway) handleInvalidate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if err := g.kernel.Invalidate(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	g.kernel.Cookies.ClearAuthCookies(w)
	writeMessage(w, r, http.StatusOK, "Token invalidated")
}

// handleAuthStatus reports whether the presented token is still good.
func (g *Gateway) handleAuthStatus(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	writeOK(w, r, map[string]any{
		"status":     "authorized",
		"username":   p.Username,
		"expires_at": p.ExpiresAt,
	})
}

// handleAdminRevoke revokes every outstanding token for the named user.
func (g *Gateway) handleAdminRevoke(w http.ResponseWriter, r *http.Request, _ *auth.Principal) {
	username := param(r, "username")
	revoked, err := g.kernel.RevokeAllForUser(r.Context(), username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, r, map[string]any{"username": username, "revoked": revoked})
}

func (g *Gateway) registerAuthRoutes(static, params *routerTree) {
	static.handle(http.MethodPost, "/platform/authorization", http.HandlerFunc(g.handleLogin))
	static.handle(http.MethodPost, "/platform/authorization/refresh", g.authed(g.handleRefresh))
	static.handle(http.MethodPost, "/platform/authorization/invalidate", g.authed(g.handleInvalidate))
	static.handle(http.MethodGet, "/platform/authorization/status", g.authed(g.handleAuthStatus))
	params.handle(http.MethodPost, "/platform/authorization/admin/revoke/:username",
		g.guarded(model.PermManageTokens, g.handleAdminRevoke))
}
