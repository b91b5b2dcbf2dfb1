package tool

import (
	"fmt"
	"sort"
)

// Registry maps tool names to implementations. It is populated once at
// startup; there is no runtime discovery.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry with the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Describe().Name] = t
	}
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q not found, available: %v", name, r.Names())
	}
	return t, nil
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for k := range r.tools {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Describe returns descriptors for every registered tool, sorted by name.
func (r *Registry) Describe() []Descriptor {
	descs := make([]Descriptor, 0, len(r.tools))
	for _, name := range r.Names() {
		descs = append(descs, r.tools[name].Describe())
	}
	return descs
}
