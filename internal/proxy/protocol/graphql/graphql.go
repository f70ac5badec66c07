// Package graphql forwards GraphQL traffic. The query is parsed before
// any upstream call so syntactically broken documents fail fast; valid
// requests travel to {server}/graphql unmodified, and upstream replies
// pass through even when they carry an errors array.
package graphql

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/proxy"
	"github.com/apidoorman/doorman-sub003/internal/proxy/protocol"
	"github.com/apidoorman/doorman-sub003/internal/resolve"
)

func init() {
	protocol.Register(resolve.ProtocolGraphQL, func(deps protocol.Deps) protocol.Dispatcher {
		return &Dispatcher{deps: deps}
	})
}

type graphQLRequest struct {
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables,omitempty"`
	OperationName string          `json:"operationName,omitempty"`
}

// Dispatcher forwards GraphQL documents.
type Dispatcher struct {
	deps    protocol.Deps
	metrics protocol.Metrics

	queriesTotal   atomic.Int64
	mutationsTotal atomic.Int64
}

func (d *Dispatcher) Name() string { return resolve.ProtocolGraphQL }

func (d *Dispatcher) Dispatch(w http.ResponseWriter, ex *protocol.Exchange) (err error) {
	start := time.Now()
	defer func() { d.metrics.Done(start, err) }()

	var gqlReq graphQLRequest
	if err := json.Unmarshal(ex.Body, &gqlReq); err != nil {
		return apierrors.ErrMalformedBody.WithDetails("request is not a JSON GraphQL document")
	}
	if gqlReq.Query == "" {
		return apierrors.ErrValidationFailed.WithDetails("missing query field")
	}

	doc, parseErr := parser.ParseQuery(&ast.Source{Input: gqlReq.Query})
	if parseErr != nil {
		return apierrors.ErrValidationFailed.WithDetails("invalid GraphQL query: " + parseErr.Error())
	}
	d.countOperation(doc, gqlReq.OperationName)

	header := proxy.FilterHeaders(ex.Request.Header, ex.Resolution.API.APIAllowedHeaders)
	proxy.SetForwardingHeaders(header, ex.Request, ex.RequestID)
	header.Set("Content-Type", "application/json")

	return protocol.Relay(w, ex, d.deps, &proxy.UpstreamRequest{
		Method: http.MethodPost,
		Path:   ex.Target.URI,
		Header: header,
		Body:   ex.Body,
	})
}

func (d *Dispatcher) countOperation(doc *ast.QueryDocument, operationName string) {
	op := doc.Operations.ForName(operationName)
	if op == nil && len(doc.Operations) > 0 {
		op = doc.Operations[0]
	}
	if op == nil {
		return
	}
	switch op.Operation {
	case ast.Mutation:
		d.mutationsTotal.Add(1)
	default:
		d.queriesTotal.Add(1)
	}
}

func (d *Dispatcher) Stats() *protocol.MetricsSnapshot {
	return d.metrics.Snapshot(d.Name())
}

// OperationCounts returns how many queries and mutations have passed
// through, for the monitor routes.
func (d *Dispatcher) OperationCounts() (queries, mutations int64) {
	return d.queriesTotal.Load(), d.mutationsTotal.Load()
}
