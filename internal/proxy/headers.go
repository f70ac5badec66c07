package proxy

import (
	"net"
	"net/http"
	"strings"

	"github.com/apidoorman/doorman-sub003/internal/tracing"
)

// Hop-by-hop headers per RFC 7230 section 6.1. Never forwarded in
// either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Headers the payload cannot travel without. These pass the allow-list
// filter even when not listed.
var contentHeaders = map[string]bool{
	"Content-Type":   true,
	"Content-Length": true,
	"Accept":         true,
}

// CopyHeader deep-copies src into dst.
func CopyHeader(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
}

// RemoveHopHeaders strips hop-by-hop headers in place, including any
// listed in the Connection header.
func RemoveHopHeaders(h http.Header) {
	for _, c := range h.Values("Connection") {
		for _, name := range strings.Split(c, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// FilterHeaders returns the client headers permitted to reach the
// upstream. Only headers named in allowed pass, matched
// case-insensitively, plus the content negotiation set. Credentials
// bound for the gateway (Authorization, Cookie) stay behind unless the
// API lists them explicitly.
func FilterHeaders(src http.Header, allowed []string) http.Header {
	pass := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		pass[http.CanonicalHeaderKey(name)] = true
	}

	dst := make(http.Header, len(src))
	for k, vv := range src {
		if pass[k] || contentHeaders[k] {
			dst[k] = append(dst[k][:0:0], vv...)
		}
	}
	RemoveHopHeaders(dst)
	return dst
}

// SetForwardingHeaders stamps the proxy identity headers onto an
// upstream request: X-Forwarded-For appends the client address to any
// inbound chain, X-Forwarded-Proto and X-Forwarded-Host record the
// ingress view, X-Request-ID carries the correlation id, and trace
// context rides along when tracing is on.
func SetForwardingHeaders(h http.Header, r *http.Request, requestID string) {
	clientIP := r.RemoteAddr
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		clientIP = ip
	}
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		clientIP = prior + ", " + clientIP
	}
	if clientIP != "" {
		h.Set("X-Forwarded-For", clientIP)
	}

	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
	if r.Host != "" {
		h.Set("X-Forwarded-Host", r.Host)
	}
	if requestID != "" {
		h.Set("X-Request-ID", requestID)
	}

	tracing.InjectHeaders(r, h)
}

// SanitizeResponseHeaders strips hop-by-hop and upstream CORS headers
// from an upstream response before it is copied to the client. CORS
// headers are the gateway's to emit; an upstream copy would duplicate
// Access-Control-Allow-Origin.
func SanitizeResponseHeaders(h http.Header) {
	RemoveHopHeaders(h)
	for k := range h {
		if strings.HasPrefix(k, "Access-Control-") {
			h.Del(k)
		}
	}
}

// singleJoiningSlash joins a server base and a request path with
// exactly one slash between them.
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
