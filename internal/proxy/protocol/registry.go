package protocol

import (
	"fmt"
	"sync"
)

// Factory creates a new Dispatcher instance.
type Factory func(deps Deps) Dispatcher

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

// Register registers a dispatcher factory under its protocol name.
// Called from init() in the implementation package.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// New constructs the dispatcher registered under name.
func New(name string, deps Deps) (Dispatcher, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown protocol: %s", name)
	}
	return factory(deps), nil
}

// RegisteredNames returns the registered protocol names.
func RegisteredNames() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	return names
}
