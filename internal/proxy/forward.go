package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/logging"
)

// UpstreamRequest is one rewritten call ready to send to a backend.
// Body is buffered so the same request can be replayed on retry.
type UpstreamRequest struct {
	Method    string
	Path      string // path plus encoded query, joined onto the server base
	Header    http.Header
	Body      []byte
	Transport string // named transport, empty selects the default
}

// UpstreamResponse is a fully read upstream reply.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Server     string // the backend that answered
	Attempts   int
}

// Forwarder sends upstream requests with per-try timeouts and a retry
// budget that walks the rotated server list.
type Forwarder struct {
	transports    *TransportPool
	perTryTimeout time.Duration
}

// NewForwarder creates a forwarder. perTryTimeout bounds each attempt;
// zero means 30s.
func NewForwarder(pool *TransportPool, perTryTimeout time.Duration) *Forwarder {
	if perTryTimeout <= 0 {
		perTryTimeout = 30 * time.Second
	}
	return &Forwarder{transports: pool, perTryTimeout: perTryTimeout}
}

// Do sends the request to servers[0] and, on connect error, timeout or
// 5xx, re-selects the next server until the retry budget is spent.
// retries counts re-selections after the first attempt, so retries=0
// means a single attempt. Any reply below 500 is returned as-is for
// pass-through. Exhaustion returns a GTW006 gateway error.
func (f *Forwarder) Do(ctx context.Context, servers []string, retries int, up *UpstreamRequest) (*UpstreamResponse, error) {
	if len(servers) == 0 {
		return nil, apierrors.ErrUpstreamExhausted.WithDetails("no upstream servers configured")
	}
	if retries < 0 {
		retries = 0
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0

	var (
		lastStatus int
		lastErr    error
	)
	attempts := retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, bo.NextBackOff()); err != nil {
				break
			}
		}

		server := servers[attempt%len(servers)]
		resp, err := f.try(ctx, server, up)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apierrors.ErrUpstreamExhausted.Wrap(ctx.Err())
			}
			lastErr = err
			lastStatus = 0
			logging.Warn("upstream attempt failed",
				zap.String("server", server),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = nil
			lastStatus = resp.StatusCode
			logging.Warn("upstream returned server error",
				zap.String("server", server),
				zap.Int("attempt", attempt),
				zap.Int("status", resp.StatusCode))
			continue
		}

		resp.Server = server
		resp.Attempts = attempt + 1
		return resp, nil
	}

	if lastStatus >= 500 {
		return nil, apierrors.FromUpstreamStatus(lastStatus)
	}
	return nil, apierrors.ErrUpstreamExhausted.Wrap(lastErr)
}

// try sends one attempt under the per-try timeout and reads the reply
// in full.
func (f *Forwarder) try(ctx context.Context, server string, up *UpstreamRequest) (*UpstreamResponse, error) {
	tryCtx, cancel := context.WithTimeout(ctx, f.perTryTimeout)
	defer cancel()

	target := singleJoiningSlash(normalizeServer(server), up.Path)
	req, err := http.NewRequestWithContext(tryCtx, up.Method, target, bytes.NewReader(up.Body))
	if err != nil {
		return nil, err
	}
	if up.Header != nil {
		req.Header = up.Header.Clone()
	}
	req.ContentLength = int64(len(up.Body))

	resp, err := f.transports.Get(up.Transport).RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// WriteResponse copies an upstream reply to the client unmodified,
// minus hop-by-hop and upstream CORS headers. The request id rides
// back on X-Request-ID.
func WriteResponse(w http.ResponseWriter, resp *UpstreamResponse, requestID string) {
	SanitizeResponseHeaders(resp.Header)
	CopyHeader(w.Header(), resp.Header)
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func normalizeServer(server string) string {
	if strings.Contains(server, "://") {
		return server
	}
	return "http://" + server
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
