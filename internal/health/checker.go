// Package health probes the gateway's backing dependencies. Liveness
// is unconditional; readiness and the authenticated status payload are
// computed from registered probes run in parallel.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Probe checks one dependency within the supplied context.
type Probe func(ctx context.Context) error

const defaultTimeout = 2 * time.Second

// Checker runs named dependency probes.
type Checker struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	timeout time.Duration
	started time.Time
}

// NewChecker creates a checker. A zero timeout means 2s per probe.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Checker{
		probes:  make(map[string]Probe),
		timeout: timeout,
		started: time.Now(),
	}
}

// Register adds or replaces a named probe.
func (c *Checker) Register(name string, p Probe) {
	c.mu.Lock()
	c.probes[name] = p
	c.mu.Unlock()
}

// Uptime reports how long the checker has existed, which the server
// creates at boot.
func (c *Checker) Uptime() time.Duration {
	return time.Since(c.started)
}

// Names returns the registered probe names sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Results runs every probe in parallel, each under its own timeout,
// and returns the outcome per name. A nil value means the dependency
// answered.
func (c *Checker) Results(ctx context.Context) map[string]error {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	var resMu sync.Mutex
	results := make(map[string]error, len(probes))

	g, gctx := errgroup.WithContext(ctx)
	for name, probe := range probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, c.timeout)
			err := probe(pctx)
			cancel()

			resMu.Lock()
			results[name] = err
			resMu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// Ready reports whether every registered probe passed, with the
// per-dependency outcomes.
func (c *Checker) Ready(ctx context.Context) (bool, map[string]bool) {
	results := c.Results(ctx)
	ready := true
	checks := make(map[string]bool, len(results))
	for name, err := range results {
		ok := err == nil
		checks[name] = ok
		if !ok {
			ready = false
		}
	}
	return ready, checks
}

// Status is the authenticated status payload. The mongodb key names
// the external document backend for wire compatibility; a dependency
// with no registered probe reports true.
type Status struct {
	Uptime      string `json:"uptime"`
	MemoryUsage string `json:"memory_usage"`
	MongoDB     bool   `json:"mongodb"`
	Redis       bool   `json:"redis"`
}

// StatusReport assembles the status payload from parallel probes.
func (c *Checker) StatusReport(ctx context.Context) Status {
	results := c.Results(ctx)
	return Status{
		Uptime:      c.Uptime().Round(time.Second).String(),
		MemoryUsage: MemoryUsage(),
		MongoDB:     results["mongodb"] == nil,
		Redis:       results["redis"] == nil,
	}
}

// MemoryUsage formats the process heap allocation.
func MemoryUsage() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return fmt.Sprintf("%.1f MB", float64(m.Alloc)/(1<<20))
}
