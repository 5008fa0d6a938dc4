package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the available tool executors by name.
//
// Construction happens at startup; lookups are concurrent with running
// generations, so access is guarded.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor. Registering the same name twice is a
// programming error.
func (r *Registry) Register(e Executor) error {
	name := e.Declaration().Name
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.executors[name] = e
	return nil
}

// Lookup returns the executor registered under name, or nil.
func (r *Registry) Lookup(name string) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[name]
}

// Declarations returns the declarations for the named tools, in stable
// order. Names without a registered executor are skipped: a disabled or
// unconfigured tool must not be declared to the model.
func (r *Registry) Declarations(names []string) []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decls := make([]Declaration, 0, len(names))
	for _, name := range names {
		if e, ok := r.executors[name]; ok {
			decls = append(decls, e.Declaration())
		}
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
