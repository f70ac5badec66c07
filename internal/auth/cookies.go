package auth

import (
	"net/http"
	"time"
)

// Cookie and header names of the authentication surface.
const (
	AccessTokenCookie = "access_token_cookie"
	CSRFCookie        = "csrf_token"
	CSRFHeader        = "X-CSRF-Token"
)

// CookieWriter builds the auth cookie pair. The access token cookie is
// HTTP-only; the CSRF cookie is readable so the browser can echo it via
// the X-CSRF-Token header.
type CookieWriter struct {
	Domain string
	Secure bool
}

// SetAuthCookies writes the token and CSRF cookies.
func (c CookieWriter) SetAuthCookies(w http.ResponseWriter, token, csrf string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    token,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    csrf,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearAuthCookies expires both cookies.
func (c CookieWriter) ClearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, CSRFCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   c.Domain,
			MaxAge:   -1,
			HttpOnly: name == AccessTokenCookie,
			Secure:   c.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
