package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/config"
)

func TestHandlerServesPrometheusText(t *testing.T) {
	s := NewStore()
	s.Record(200, 100, 400, 8*time.Millisecond)
	s.Record(200, 100, 400, 9*time.Millisecond)
	s.Record(500, 10, 40, 700*time.Millisecond)

	h := Handler(s, config.MetricsConfig{PrometheusPublic: true})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}

	body := w.Body.String()
	for _, want := range []string{
		"doorman_requests_total 3",
		`doorman_responses_total{code="200"} 2`,
		`doorman_responses_total{code="500"} 1`,
		"doorman_bytes_in_total 210",
		"doorman_request_duration_seconds_count 3",
		`doorman_request_duration_seconds_bucket{le="0.01"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q\n%s", want, body)
		}
	}
}

func TestGuard(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name    string
		cfg     config.MetricsConfig
		mutate  func(r *http.Request)
		allowed bool
	}{
		{
			name:    "public passes anyone",
			cfg:     config.MetricsConfig{PrometheusPublic: true},
			allowed: true,
		},
		{
			name: "matching bearer",
			cfg:  config.MetricsConfig{PrometheusBearerToken: "scrape-token"},
			mutate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer scrape-token")
			},
			allowed: true,
		},
		{
			name: "wrong bearer",
			cfg:  config.MetricsConfig{PrometheusBearerToken: "scrape-token"},
			mutate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer guess")
			},
			allowed: false,
		},
		{
			name:    "allowlisted ip",
			cfg:     config.MetricsConfig{PrometheusAllowlist: []string{"192.0.2.1"}},
			allowed: true,
		},
		{
			name:    "allowlisted cidr",
			cfg:     config.MetricsConfig{PrometheusAllowlist: []string{"192.0.2.0/24"}},
			allowed: true,
		},
		{
			name: "xff honored when trusted",
			cfg: config.MetricsConfig{
				PrometheusAllowlist: []string{"10.1.2.3"},
				PrometheusTrustXFF:  true,
			},
			mutate: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "10.1.2.3, 192.0.2.1")
			},
			allowed: true,
		},
		{
			name: "xff ignored when untrusted",
			cfg:  config.MetricsConfig{PrometheusAllowlist: []string{"10.1.2.3"}},
			mutate: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "10.1.2.3")
			},
			allowed: false,
		},
		{
			name: "loopback always passes",
			cfg:  config.MetricsConfig{},
			mutate: func(r *http.Request) {
				r.RemoteAddr = "127.0.0.1:55220"
			},
			allowed: true,
		},
		{
			name:    "remote denied by default",
			cfg:     config.MetricsConfig{},
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.mutate != nil {
				tt.mutate(r)
			}
			w := httptest.NewRecorder()
			Guard(tt.cfg, next).ServeHTTP(w, r)

			if tt.allowed && w.Code != http.StatusNoContent {
				t.Errorf("status = %d, want pass", w.Code)
			}
			if !tt.allowed && w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", w.Code)
			}
		})
	}
}
