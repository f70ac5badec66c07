// Package rest forwards REST traffic verbatim: same verb, same path,
// same body, query string preserved.
package rest

import (
	"net/http"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/proxy"
	"github.com/apidoorman/doorman-sub003/internal/proxy/protocol"
	"github.com/apidoorman/doorman-sub003/internal/resolve"
)

func init() {
	protocol.Register(resolve.ProtocolREST, func(deps protocol.Deps) protocol.Dispatcher {
		return &Dispatcher{deps: deps}
	})
}

// Dispatcher is the REST pass-through.
type Dispatcher struct {
	deps    protocol.Deps
	metrics protocol.Metrics
}

func (d *Dispatcher) Name() string { return resolve.ProtocolREST }

func (d *Dispatcher) Dispatch(w http.ResponseWriter, ex *protocol.Exchange) (err error) {
	start := time.Now()
	defer func() { d.metrics.Done(start, err) }()

	header := proxy.FilterHeaders(ex.Request.Header, ex.Resolution.API.APIAllowedHeaders)
	proxy.SetForwardingHeaders(header, ex.Request, ex.RequestID)

	path := ex.Target.URI
	if ex.RawQuery != "" {
		path += "?" + ex.RawQuery
	}

	return protocol.Relay(w, ex, d.deps, &proxy.UpstreamRequest{
		Method: ex.Target.Method,
		Path:   path,
		Header: header,
		Body:   ex.Body,
	})
}

func (d *Dispatcher) Stats() *protocol.MetricsSnapshot {
	return d.metrics.Snapshot(d.Name())
}
