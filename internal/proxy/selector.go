package proxy

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/apidoorman/doorman-sub003/internal/catalog"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/resolve"
)

// Selector elects upstream servers. Ordinary traffic rotates through
// the API's server list under one process-wide counter per API; a
// client key with a routing document gets its own server list and its
// own cursor, persisted so the rotation survives restarts.
type Selector struct {
	cat            *catalog.Catalog
	apiCursors     sync.Map // api key → *atomic.Uint64
	routingCursors sync.Map // client key → *atomic.Uint64
}

// NewSelector creates a selector backed by the catalog.
func NewSelector(cat *catalog.Catalog) *Selector {
	return &Selector{cat: cat}
}

// Rotation returns the candidate servers for one dispatch, rotated so
// the first entry is the elected server and the rest are the retry
// fallbacks in order. Endpoint servers override API servers; a routing
// for the caller's client key overrides both.
func (s *Selector) Rotation(ctx context.Context, res *resolve.Resolution, clientKey string) ([]string, error) {
	if clientKey != "" {
		if servers, ok := s.routedRotation(ctx, clientKey); ok {
			return servers, nil
		}
	}

	servers := res.Endpoint.EndpointServers
	if len(servers) == 0 {
		servers = res.API.APIServers
	}
	if len(servers) == 0 {
		return nil, apierrors.ErrUpstreamExhausted.WithDetails("no upstream servers configured")
	}

	cursor := s.cursor(&s.apiCursors, res.API.Key(), 0)
	start := int((cursor.Add(1) - 1) % uint64(len(servers)))
	return rotate(servers, start), nil
}

// routedRotation applies client-key routing. The in-process cursor is
// seeded from the persisted server_index on first sight and written
// back after every election.
func (s *Selector) routedRotation(ctx context.Context, clientKey string) ([]string, bool) {
	rt, err := s.cat.RoutingByClientKey(ctx, clientKey)
	if err != nil {
		logging.Warn("routing lookup failed", zap.String("client_key", clientKey), zap.Error(err))
		return nil, false
	}
	if rt == nil || len(rt.RoutingServers) == 0 {
		return nil, false
	}

	cursor := s.cursor(&s.routingCursors, clientKey, uint64(rt.ServerIndex))
	start := int((cursor.Add(1) - 1) % uint64(len(rt.RoutingServers)))

	if err := s.cat.AdvanceRoutingCursor(ctx, clientKey, (start+1)%len(rt.RoutingServers)); err != nil {
		logging.Debug("routing cursor persist failed", zap.String("client_key", clientKey), zap.Error(err))
	}
	return rotate(rt.RoutingServers, start), true
}

func (s *Selector) cursor(m *sync.Map, key string, seed uint64) *atomic.Uint64 {
	if v, ok := m.Load(key); ok {
		return v.(*atomic.Uint64)
	}
	c := new(atomic.Uint64)
	c.Store(seed)
	actual, _ := m.LoadOrStore(key, c)
	return actual.(*atomic.Uint64)
}

func rotate(servers []string, start int) []string {
	out := make([]string, 0, len(servers))
	out = append(out, servers[start:]...)
	out = append(out, servers[:start]...)
	return out
}
