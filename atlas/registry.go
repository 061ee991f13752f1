// Package atlas selects, orders and calls the registered backends: it owns
// the backend registry and the fallback orchestrator.
package atlas

import (
	"strings"
	"sync"

	"github.com/Tpgainz/companyatlas/backend"
)

// Registry maps backend names to constructors and remembers the order in
// which they were registered, which breaks ties between equal costs.
type Registry struct {
	mu    sync.RWMutex
	names []string
	ctors map[string]backend.Constructor
}

var _ backend.Registrar = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		ctors: make(map[string]backend.Constructor),
	}
}

// Register panics when ctor is nil or name is already taken.
func (r *Registry) Register(name string, ctor backend.Constructor) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.Lock()
	defer r.mu.Unlock()

	if ctor == nil {
		panic("atlas: Register constructor is nil for " + name)
	}

	if _, dup := r.ctors[name]; dup {
		panic("atlas: Register called twice for backend " + name)
	}

	r.names = append(r.names, name)
	r.ctors[name] = ctor
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.names))
	copy(names, r.names)

	return names
}

func (r *Registry) Lookup(name string) (backend.Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctor, ok := r.ctors[strings.ToLower(strings.TrimSpace(name))]

	return ctor, ok
}

// Instances builds every registered backend bound to cfg, in registration
// order.
func (r *Registry) Instances(cfg backend.Config) []backend.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]backend.Backend, 0, len(r.names))
	for _, name := range r.names {
		instances = append(instances, r.ctors[name](cfg))
	}

	return instances
}
