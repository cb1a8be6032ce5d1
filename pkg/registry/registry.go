// Package registry holds the static command vocabulary shared by the
// manager-side router and the workers. The manager validates membership
// before forwarding; it never interprets command semantics.
package registry

import (
	"sort"
	"sync"
)

// CommandSpec describes one named operation a worker accepts.
type CommandSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Mutating commands change the worker's held model state. Non-mutating
	// commands are safe to issue against a freshly rebound worker without a
	// setup replay.
	Mutating bool `json:"mutating"`
}

// Registry maps command names to their specs.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]CommandSpec
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{commands: make(map[string]CommandSpec)}
}

// Default returns the registry both sides of the wire are built against.
func Default() *Registry {
	r := New()
	for _, spec := range []CommandSpec{
		{Name: "status", Description: "report worker liveness and model summary", Mutating: false},
		{Name: "get_parameter", Description: "read a named model parameter", Mutating: false},
		{Name: "set_parameter", Description: "write a named model parameter", Mutating: true},
		{Name: "flip_constraint", Description: "re-solve a constraint for a different parameter", Mutating: true},
		{Name: "add_dataset", Description: "attach an observation dataset to the model", Mutating: true},
		{Name: "run_compute", Description: "run the forward model against attached datasets", Mutating: true},
		{Name: "get_model", Description: "read the most recent computed model", Mutating: false},
	} {
		r.Register(spec)
	}
	return r
}

// Register adds or replaces a command spec.
func (r *Registry) Register(spec CommandSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[spec.Name] = spec
}

// Known reports whether the command name is a member of the registry.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[name]
	return ok
}

// Get returns the spec for a command name.
func (r *Registry) Get(name string) (CommandSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.commands[name]
	return spec, ok
}

// List returns all specs sorted by name, for the gateway's discovery endpoint.
func (r *Registry) List() []CommandSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]CommandSpec, 0, len(r.commands))
	for _, spec := range r.commands {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
