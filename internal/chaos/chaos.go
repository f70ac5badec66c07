package chaos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOutage is returned by guards while a backend is inside a simulated
// outage window. Callers fail fast rather than block.
var ErrOutage = errors.New("chaos: backend outage injected")

// Backends that can be toggled.
const (
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// ValidBackend reports whether name is a toggleable backend.
func ValidBackend(name string) bool {
	return name == BackendRedis || name == BackendMongo || name == BackendMemory
}

// BackendState is the externally visible state of one toggle.
type BackendState struct {
	Enabled bool       `json:"enabled"`
	Until   *time.Time `json:"until,omitempty"`
}

type state struct {
	enabled bool
	until   time.Time
	timer   *time.Timer
}

// Registry holds the process-wide chaos toggles and the error budget burn
// counter.
type Registry struct {
	mu     sync.Mutex
	states map[string]*state
	burn   atomic.Uint64
}

// NewRegistry creates a registry with all toggles off.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*state)}
}

// Toggle flips a backend's outage simulation. A positive duration arms a
// timer that clears the toggle automatically.
func (r *Registry) Toggle(backend string, enabled bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.states[backend]
	if st == nil {
		st = &state{}
		r.states[backend] = st
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}

	st.enabled = enabled
	st.until = time.Time{}
	if enabled && duration > 0 {
		st.until = time.Now().Add(duration)
		st.timer = time.AfterFunc(duration, func() { r.clear(backend) })
	}
}

func (r *Registry) clear(backend string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.states[backend]; st != nil {
		st.enabled = false
		st.until = time.Time{}
		st.timer = nil
	}
}

// Enabled reports whether the backend is currently inside an outage
// window. The expiry is also checked lazily so a stalled timer cannot
// extend the window.
func (r *Registry) Enabled(backend string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.states[backend]
	if st == nil || !st.enabled {
		return false
	}
	if !st.until.IsZero() && time.Now().After(st.until) {
		st.enabled = false
		return false
	}
	return true
}

// Guard returns a fail-fast check for the given backend. Each trip
// increments the error budget burn counter. The check is a pure memory
// read and returns well inside the 2s ceiling.
func (r *Registry) Guard(backend string) func(ctx context.Context) error {
	return func(context.Context) error {
		if r.Enabled(backend) {
			r.burn.Add(1)
			return ErrOutage
		}
		return nil
	}
}

// Burn returns the monotonic error budget burn counter.
func (r *Registry) Burn() uint64 {
	return r.burn.Load()
}

// Snapshot returns the current toggle states for the admin endpoint.
func (r *Registry) Snapshot() map[string]BackendState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BackendState, len(r.states))
	for name, st := range r.states {
		bs := BackendState{Enabled: st.enabled}
		if st.enabled && !st.until.IsZero() {
			if time.Now().After(st.until) {
				bs.Enabled = false
			} else {
				u := st.until
				bs.Until = &u
			}
		}
		out[name] = bs
	}
	return out
}
