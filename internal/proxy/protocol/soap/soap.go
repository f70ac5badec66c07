// Package soap forwards SOAP envelopes. The XML body travels untouched;
// the client's SOAPAction header is always preserved so the upstream
// can route the operation.
package soap

import (
	"net/http"
	"time"

	"github.com/apidoorman/doorman-sub003/internal/proxy"
	"github.com/apidoorman/doorman-sub003/internal/proxy/protocol"
	"github.com/apidoorman/doorman-sub003/internal/resolve"
)

const defaultContentType = "text/xml; charset=utf-8"

func init() {
	protocol.Register(resolve.ProtocolSOAP, func(deps protocol.Deps) protocol.Dispatcher {
		return &Dispatcher{deps: deps}
	})
}

// Dispatcher is the SOAP pass-through.
type Dispatcher struct {
	deps    protocol.Deps
	metrics protocol.Metrics
}

func (d *Dispatcher) Name() string { return resolve.ProtocolSOAP }

func (d *Dispatcher) Dispatch(w http.ResponseWriter, ex *protocol.Exchange) (err error) {
	start := time.Now()
	defer func() { d.metrics.Done(start, err) }()

	header := proxy.FilterHeaders(ex.Request.Header, ex.Resolution.API.APIAllowedHeaders)
	proxy.SetForwardingHeaders(header, ex.Request, ex.RequestID)

	// SOAP 1.2 carries the action inside Content-Type, so an explicit
	// client content type wins over the 1.1 default.
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", defaultContentType)
	}
	if action := ex.Request.Header.Get("SOAPAction"); action != "" {
		header.Set("SOAPAction", action)
	}

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
