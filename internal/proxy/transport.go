// Package proxy forwards resolved gateway requests to upstream servers.
// It owns the shared HTTP transport pool, backend selection with
// round-robin cursors, and the retry loop that walks the server list
// until the per-API retry budget is spent.
package proxy

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// TransportConfig tunes the upstream HTTP transport.
type TransportConfig struct {
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	DisableCompression    bool
	InsecureSkipVerify    bool
	ForceHTTP2            bool
}

// DefaultTransportConfig returns production defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		DialTimeout:         30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		ForceHTTP2:          true,
	}
}

// BuildTransport creates an http.Transport from the config.
func BuildTransport(cfg TransportConfig) *http.Transport {
	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		DisableCompression:    cfg.DisableCompression,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}
	if cfg.InsecureSkipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

// TransportPool shares upstream transports across dispatchers so
// keep-alive pools survive between requests. The zero name maps to the
// default transport.
type TransportPool struct {
	mu         sync.RWMutex
	transports map[string]*http.Transport
	fallback   *http.Transport
}

// NewTransportPool creates a pool whose default transport uses cfg.
func NewTransportPool(cfg TransportConfig) *TransportPool {
	return &TransportPool{
		transports: make(map[string]*http.Transport),
		fallback:   BuildTransport(cfg),
	}
}

// Get returns the named transport, or the default when name is empty or
// unknown.
func (p *TransportPool) Get(name string) *http.Transport {
	if name == "" {
		return p.fallback
	}
	p.mu.RLock()
	t, ok := p.transports[name]
	p.mu.RUnlock()
	if ok {
		return t
	}
	return p.fallback
}

// Set registers a named transport, replacing any previous one.
func (p *TransportPool) Set(name string, cfg TransportConfig) {
	t := BuildTransport(cfg)
	p.mu.Lock()
	old := p.transports[name]
	p.transports[name] = t
	p.mu.Unlock()
	if old != nil {
		old.CloseIdleConnections()
	}
}

// Default returns the default transport.
func (p *TransportPool) Default() *http.Transport {
	return p.fallback
}

// CloseIdleConnections drops idle keep-alive connections in every
// transport. Called on shutdown.
func (p *TransportPool) CloseIdleConnections() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.fallback.CloseIdleConnections()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}
