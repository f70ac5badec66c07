package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/model"
	"go.uber.org/zap"
)

type clientIPKey struct{}

// SettingsSource yields the current security settings. The catalog's
// cached read satisfies this.
type SettingsSource interface {
	SecuritySettings(ctx context.Context) (*model.SecuritySettings, error)
}

// IPPolicy enforces the stored IP whitelist/blacklist. The client IP is
// extracted per the settings (X-Forwarded-For walk over trusted proxies
// when enabled, plain peer address otherwise) and stashed in the request
// context for the rate limiter and access log. Settings changes take
// effect without restart; the compiled form is reused until the catalog
// hands out a new snapshot.
func IPPolicy(src SettingsSource) Middleware {
	var compiled atomic.Pointer[ipPolicy]
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := src.SecuritySettings(r.Context())
			if err != nil {
				// An unreadable settings document must not brick the
				// gateway, operators still need /platform to repair it.
				logging.Warn("security settings unavailable, skipping IP policy", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			p := compiled.Load()
			if p == nil || p.src != s {
				p = compilePolicy(s)
				compiled.Store(p)
			}

			ip := p.clientIP(r)
			ctx := context.WithValue(r.Context(), clientIPKey{}, ip)
			if !p.allow(ip) {
				logging.Warn("request blocked by IP policy",
					zap.String("client_ip", ip),
					zap.String("path", r.URL.Path),
				)
				apierrors.ErrIPForbidden.WithRequestID(w.Header().Get(HeaderRequestID)).WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the policy-extracted client IP, falling back to the
// peer address when the IP policy middleware did not run.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}

// ipPolicy is the compiled form of one settings snapshot.
type ipPolicy struct {
	src *model.SecuritySettings

	whitelist []*net.IPNet
	blacklist []*net.IPNet
	trusted   []*net.IPNet

	trustXFF        bool
	localhostBypass bool
}

func compilePolicy(s *model.SecuritySettings) *ipPolicy {
	return &ipPolicy{
		src:             s,
		whitelist:       parseNets(s.IPWhitelist),
		blacklist:       parseNets(s.IPBlacklist),
		trusted:         parseNets(s.XFFTrustedProxies),
		trustXFF:        s.TrustXForwardedFor,
		localhostBypass: s.AllowLocalhostBypass,
	}
}

// parseNets compiles list entries to networks. Bare IPs get /32 or /128.
// Invalid entries are logged and skipped rather than failing the request.
func parseNets(entries []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		cidr := strings.TrimSpace(entry)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			ip := net.ParseIP(cidr)
			if ip == nil {
				logging.Warn("ignoring invalid IP list entry", zap.String("entry", entry))
				continue
			}
			if ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logging.Warn("ignoring invalid IP list entry", zap.String("entry", entry))
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// clientIP determines the caller's address. With trusted proxies
// configured the X-Forwarded-For chain is walked right to left and the
// first untrusted hop wins; headers from an untrusted peer are ignored.
// Without a proxy list the first X-Forwarded-For entry is taken as-is.
func (p *ipPolicy) clientIP(r *http.Request) string {
	remote := hostOnly(r.RemoteAddr)
	if !p.trustXFF {
		return remote
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remote
	}

	if len(p.trusted) == 0 {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
		return remote
	}

	if !containsIP(p.trusted, remote) {
		return remote
	}
	if ip := walkForwarded(xff, p.trusted); ip != "" {
		return ip
	}
	return remote
}

// walkForwarded returns the first hop from the right that is not a
// trusted proxy, or the leftmost entry when every hop is trusted.
func walkForwarded(xff string, trusted []*net.IPNet) string {
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(parts[i])
		if ip == "" {
			continue
		}
		if !containsIP(trusted, ip) {
			return ip
		}
	}
	return strings.TrimSpace(parts[0])
}

func (p *ipPolicy) allow(ipStr string) bool {
	if len(p.whitelist) == 0 && len(p.blacklist) == 0 {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	if p.localhostBypass && ip.IsLoopback() {
		return true
	}
	for _, n := range p.blacklist {
		if n.Contains(ip) {
			return false
		}
	}
	if len(p.whitelist) > 0 {
		for _, n := range p.whitelist {
			if n.Contains(ip) {
				return true
			}
		}
		return false
	}
	return true
}

func containsIP(nets []*net.IPNet, ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
