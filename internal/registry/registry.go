// Package registry keeps the in-memory function registry and the loader
// that builds it from handler files on disk.
//
// The registry is read by many goroutines (HTTP dispatch, scheduler, DB
// bridge, event bus) and written only by the loader. Rescans build a fresh
// map and swap it in one step so readers never observe partially populated
// records. The completed-run-once set lives beside the map and survives
// rescans for the process lifetime.
package registry

import (
	"sort"
	"sync"

	"github.com/funcd-io/funcd/internal/domain"
)

// Registry is the mapping from function name to function record.
type Registry struct {
	mu        sync.RWMutex
	funcs     map[string]*domain.Function
	completed map[string]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		funcs:     make(map[string]*domain.Function),
		completed: make(map[string]struct{}),
	}
}

// Get returns the function with the given name, or nil.
func (r *Registry) Get(name string) *domain.Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs[name]
}

// List returns all registered functions sorted by name.
func (r *Registry) List() []*domain.Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Function, 0, len(r.funcs))
	for _, f := range r.funcs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered functions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// Swap atomically replaces the function map.
func (r *Registry) Swap(funcs map[string]*domain.Function) {
	r.mu.Lock()
	r.funcs = funcs
	r.mu.Unlock()
}

// MarkCompleted records a successful run-once execution for name. The entry
// outlives reloads of the function definition but not the process.
func (r *Registry) MarkCompleted(name string) {
	r.mu.Lock()
	r.completed[name] = struct{}{}
	r.mu.Unlock()
}

// IsCompleted reports whether name has ever completed a run-once execution
// during this process lifetime.
func (r *Registry) IsCompleted(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.completed[name]
	return ok
}
