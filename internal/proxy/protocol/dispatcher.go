// Package protocol holds the per-family dispatchers that rewrite a
// resolved gateway request to the upstream contract. Implementations
// register themselves from init() and are constructed once at startup.
package protocol

import (
	"net/http"
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/apidoorman/doorman-sub003/internal/credits"
	"github.com/apidoorman/doorman-sub003/internal/proxy"
	"github.com/apidoorman/doorman-sub003/internal/resolve"
)

// Exchange carries one resolved request through a dispatcher. Body is
// already read and capped by the ingress middleware; Request is the
// original client request, kept for context and forwarding headers.
type Exchange struct {
	Target     resolve.Target
	Resolution *resolve.Resolution
	Username   string
	ClientKey  string
	RequestID  string
	RawQuery   string
	Body       []byte
	Deduction  *credits.Deduction
	Request    *http.Request
}

// Dispatcher rewrites and forwards one protocol family. On success the
// upstream reply has been written to w unmodified; a returned error is
// gateway-originated and the caller wraps it in the response envelope.
type Dispatcher interface {
	Name() string
	Dispatch(w http.ResponseWriter, ex *Exchange) error
	Stats() *MetricsSnapshot
}

// MethodSource resolves a fully qualified gRPC method name against the
// descriptors uploaded for one API version.
type MethodSource interface {
	Method(apiName, apiVersion, fullMethod string) (protoreflect.MethodDescriptor, error)
}

// Deps is what a dispatcher factory receives at construction.
type Deps struct {
	Selector    *proxy.Selector
	Forwarder   *proxy.Forwarder
	Descriptors MethodSource
}

// Relay is the shared forward path: elect servers, attach credit keys,
// send with the API's retry budget, pass the reply through.
func Relay(w http.ResponseWriter, ex *Exchange, deps Deps, up *proxy.UpstreamRequest) error {
	ctx := ex.Request.Context()
	servers, err := deps.Selector.Rotation(ctx, ex.Resolution, ex.ClientKey)
	if err != nil {
		return err
	}

	AttachCreditKeys(up.Header, ex.Deduction)

	resp, err := deps.Forwarder.Do(ctx, servers, ex.Resolution.API.APIAllowedRetryCount, up)
	if err != nil {
		return err
	}
	proxy.WriteResponse(w, resp, ex.RequestID)
	return nil
}

// AttachCreditKeys stamps the deducted credit group's upstream keys
// onto the request. During a rotation window both keys ride as values
// of the same header.
func AttachCreditKeys(h http.Header, ded *credits.Deduction) {
	if ded == nil || ded.Header == "" {
		return
	}
	h.Del(ded.Header)
	for _, key := range ded.Keys {
		h.Add(ded.Header, key)
	}
}

// Metrics counts dispatches for one protocol family.
type Metrics struct {
	Requests       atomic.Int64
	Successes      atomic.Int64
	Failures       atomic.Int64
	TotalLatencyNs atomic.Int64
}

// Done settles the counters for one dispatch.
func (m *Metrics) Done(start time.Time, err error) {
	m.Requests.Add(1)
	if err != nil {
		m.Failures.Add(1)
	} else {
		m.Successes.Add(1)
	}
	m.TotalLatencyNs.Add(time.Since(start).Nanoseconds())
}

// MetricsSnapshot is a point-in-time copy for the monitor routes.
type MetricsSnapshot struct {
	Protocol     string  `json:"protocol"`
	Requests     int64   `json:"requests"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot(protocol string) *MetricsSnapshot {
	requests := m.Requests.Load()
	avg := float64(0)
	if requests > 0 {
		avg = float64(m.TotalLatencyNs.Load()) / float64(requests) / 1e6
	}
	return &MetricsSnapshot{
		Protocol:     protocol,
		Requests:     requests,
		Successes:    m.Successes.Load(),
		Failures:     m.Failures.Load(),
		AvgLatencyMs: avg,
	}
}
