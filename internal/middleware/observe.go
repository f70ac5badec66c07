package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/metrics"
	"go.uber.org/zap"
)

var observeRWPool = sync.Pool{
	New: func() any { return &statusRecorder{} },
}

// ObserveConfig configures request observation
type ObserveConfig struct {
	// SkipPaths suppresses the access line for noisy endpoints such as
	// liveness probes. Metrics are still recorded for them.
	SkipPaths []string
}

// Observe feeds every request into the metrics store and emits the
// structured access line once the response is written.
func Observe(store *metrics.Store) Middleware {
	return ObserveWithConfig(store, ObserveConfig{})
}

// ObserveWithConfig creates an observation middleware with custom config
func ObserveWithConfig(store *metrics.Store, cfg ObserveConfig) Middleware {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := observeRWPool.Get().(*statusRecorder)
			rec.ResponseWriter = w
			rec.status = http.StatusOK
			rec.bytes = 0

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			bytesIn := r.ContentLength
			if bytesIn < 0 {
				bytesIn = 0
			}
			if store != nil {
				store.Record(rec.status, bytesIn, rec.bytes, duration)
			}

			if !skipPaths[r.URL.Path] {
				// Stack-allocated array avoids slice growth allocations.
				var fields [10]zap.Field
				n := 0
				fields[n] = zap.String("request_id", GetRequestID(r))
				n++
				fields[n] = zap.String("client_ip", ClientIP(r))
				n++
				fields[n] = zap.String("method", r.Method)
				n++
				fields[n] = zap.String("path", r.URL.Path)
				n++
				fields[n] = zap.Int("status", rec.status)
				n++
				fields[n] = zap.Int64("body_bytes", rec.bytes)
				n++
				fields[n] = zap.Duration("response_time", duration)
				n++
				if r.URL.RawQuery != "" {
					fields[n] = zap.String("query", r.URL.RawQuery)
					n++
				}
				if ua := r.UserAgent(); ua != "" {
					fields[n] = zap.String("user_agent", ua)
					n++
				}
				logging.Info("HTTP request", fields[:n]...)
			}

			rec.ResponseWriter = nil
			observeRWPool.Put(rec)
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture status and bytes
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
