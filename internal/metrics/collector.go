package metrics

import (
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apidoorman/doorman-sub003/internal/config"
)

var (
	descRequests = prometheus.NewDesc(
		"doorman_requests_total", "Requests handled by the gateway.", nil, nil)
	descBytesIn = prometheus.NewDesc(
		"doorman_bytes_in_total", "Request bytes received.", nil, nil)
	descBytesOut = prometheus.NewDesc(
		"doorman_bytes_out_total", "Response bytes sent.", nil, nil)
	descResponses = prometheus.NewDesc(
		"doorman_responses_total", "Responses by HTTP status code.", []string{"code"}, nil)
	descLatency = prometheus.NewDesc(
		"doorman_request_duration_seconds", "Request latency.", nil, nil)
)

// Collector adapts a Store snapshot to the Prometheus scrape model.
type Collector struct {
	store *Store
}

func NewCollector(store *Store) *Collector { return &Collector{store: store} }

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRequests
	ch <- descBytesIn
	ch <- descBytesOut
	ch <- descResponses
	ch <- descLatency
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.store.Snapshot()

	ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(descBytesIn, prometheus.CounterValue, float64(snap.TotalBytesIn))
	ch <- prometheus.MustNewConstMetric(descBytesOut, prometheus.CounterValue, float64(snap.TotalBytesOut))
	for code, count := range snap.StatusCounts {
		ch <- prometheus.MustNewConstMetric(descResponses, prometheus.CounterValue, float64(count), code)
	}

	buckets := make(map[float64]uint64, len(snap.Latency.Buckets))
	for _, b := range snap.Latency.Buckets {
		buckets[b.UpperBound] = uint64(b.Count)
	}
	ch <- prometheus.MustNewConstHistogram(descLatency,
		uint64(snap.Latency.Count), snap.Latency.SumSeconds, buckets)
}

// Handler serves the guarded Prometheus scrape endpoint over its own
// registry, so nothing beyond the gateway's counters is exposed.
func Handler(store *Store, cfg config.MetricsConfig) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(store))
	return Guard(cfg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

// Guard admits a scrape when the endpoint is public, the bearer token
// matches, or the caller's IP is allowlisted. With no allowlist only
// loopback callers pass.
func Guard(cfg config.MetricsConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.PrometheusPublic {
			next.ServeHTTP(w, r)
			return
		}

		if cfg.PrometheusBearerToken != "" {
			auth := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token == cfg.PrometheusBearerToken {
				next.ServeHTTP(w, r)
				return
			}
		}

		ip := clientIP(r, cfg.PrometheusTrustXFF)
		if ipAllowed(ip, cfg.PrometheusAllowlist) {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "forbidden", http.StatusForbidden)
	})
}

func clientIP(r *http.Request, trustXFF bool) net.IP {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func ipAllowed(ip net.IP, allowlist []string) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(ip) {
			return true
		}
	}
	return false
}
