// Package cors evaluates CORS policy for gateway responses. Each API may
// carry its own policy; requests on APIs without one, and every
// /platform route, fall back to the gateway-wide policy.
package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/apidoorman/doorman-sub003/internal/model"
)

const (
	defaultMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	defaultHeaders = "Content-Type, Authorization, X-API-Version, X-CSRF-Token"
	defaultMaxAge  = 86400
)

// Policy is a resolved CORS policy ready to stamp headers.
type Policy struct {
	allowOrigins     []string
	allowMethods     string
	allowHeaders     string
	exposeHeaders    string
	allowCredentials bool
	allowAllOrigins  bool
	maxAge           string
	strict           bool
}

// Options configures a policy.
type Options struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	ExposeHeaders    []string
	MaxAgeSeconds    int
	Strict           bool
}

// NewPolicy compiles options into a policy.
func NewPolicy(opts Options) *Policy {
	p := &Policy{
		allowOrigins:     opts.AllowOrigins,
		allowCredentials: opts.AllowCredentials,
		strict:           opts.Strict,
	}
	if len(opts.AllowMethods) > 0 {
		p.allowMethods = strings.Join(opts.AllowMethods, ", ")
	} else {
		p.allowMethods = defaultMethods
	}
	if len(opts.AllowHeaders) > 0 {
		p.allowHeaders = strings.Join(opts.AllowHeaders, ", ")
	} else {
		p.allowHeaders = defaultHeaders
	}
	if len(opts.ExposeHeaders) > 0 {
		p.exposeHeaders = strings.Join(opts.ExposeHeaders, ", ")
	}
	if opts.MaxAgeSeconds > 0 {
		p.maxAge = strconv.Itoa(opts.MaxAgeSeconds)
	} else {
		p.maxAge = strconv.Itoa(defaultMaxAge)
	}
	for _, o := range opts.AllowOrigins {
		if o == "*" {
			p.allowAllOrigins = true
			break
		}
	}
	return p
}

// fromAPI compiles an API's own CORS policy.
func fromAPI(c *model.CORSPolicy, strict bool) *Policy {
	return NewPolicy(Options{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		AllowCredentials: c.AllowCredentials,
		ExposeHeaders:    c.ExposeHeaders,
		Strict:           strict,
	})
}

// echoOrigin decides the Access-Control-Allow-Origin value for a request
// origin. A wildcard with credentials echoes the caller's origin unless
// strict mode is on, in which case the combination is refused outright.
func (p *Policy) echoOrigin(origin string) (string, bool) {
	if origin == "" {
		return "", false
	}
	if p.allowAllOrigins {
		if !p.allowCredentials {
			return "*", true
		}
		if p.strict {
			return "", false
		}
		return origin, true
	}
	for _, allowed := range p.allowOrigins {
		if allowed == origin {
			return origin, true
		}
	}
	return "", false
}

// IsPreflight reports whether the request is a CORS preflight.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

// Preflight answers an OPTIONS preflight. The response advertises the
// configured methods and headers whether or not the browser's requested
// headers are all listed; the actual request is where header filtering
// happens. Always 204.
func (p *Policy) Preflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
	origin, ok := p.echoOrigin(r.Header.Get("Origin"))
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", p.allowMethods)
	h.Set("Access-Control-Allow-Headers", p.allowHeaders)
	if p.allowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.exposeHeaders != "" {
		h.Set("Access-Control-Expose-Headers", p.exposeHeaders)
	}
	h.Set("Access-Control-Max-Age", p.maxAge)
	w.WriteHeader(http.StatusNoContent)
}

// Apply stamps CORS headers on a non-preflight response. Set replaces any
// earlier value, so the response carries exactly one allow-origin header
// even when an upstream already sent its own.
func (p *Policy) Apply(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Add("Vary", "Origin")
	origin, ok := p.echoOrigin(r.Header.Get("Origin"))
	if !ok {
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
	if p.allowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.exposeHeaders != "" {
		h.Set("Access-Control-Expose-Headers", p.exposeHeaders)
	}
}

// Evaluator picks the policy for a request.
type Evaluator struct {
	global *Policy
	strict bool
}

// NewEvaluator builds an evaluator with the gateway-wide policy.
func NewEvaluator(global *Policy, strict bool) *Evaluator {
	return &Evaluator{global: global, strict: strict}
}

// Global returns the gateway-wide policy.
func (e *Evaluator) Global() *Policy { return e.global }

// ForAPI returns the API's own policy when it declares one, otherwise the
// gateway-wide policy.
func (e *Evaluator) ForAPI(api *model.API) *Policy {
	if api != nil && api.APICORS != nil {
		return fromAPI(api.APICORS, e.strict)
	}
	return e.global
}
