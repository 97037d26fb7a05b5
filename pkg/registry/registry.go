// Package registry provides the generic component registry used for device
// classes and event filters: a named set of creator functions that build
// components from a JSON configuration block and a shared provider value.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Creator builds one component instance from its configuration block.
type Creator[C any, P any] func(config json.RawMessage, provider P) (C, error)

type Registry[C any, P any] struct {
	components map[string]Creator[C, P]
	provider   P
}

func New[C any, P any](provider P) *Registry[C, P] {
	return &Registry[C, P]{
		provider:   provider,
		components: make(map[string]Creator[C, P]),
	}
}

// Register adds a component type. Registering the same id twice is a
// programming error.
func (r *Registry[C, P]) Register(id string, creator Creator[C, P]) {
	if _, ok := r.components[id]; ok {
		panic(fmt.Sprintf("component already registered: %s", id))
	}
	r.components[id] = creator
}

func (r *Registry[C, P]) Has(id string) bool {
	_, ok := r.components[id]
	return ok
}

// IDs returns the registered component ids in sorted order.
func (r *Registry[C, P]) IDs() []string {
	out := make([]string, 0, len(r.components))
	for id := range r.components {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// New builds a component by id.
func (r *Registry[C, P]) New(id string, config json.RawMessage) (C, error) {
	creator, ok := r.components[id]
	if !ok {
		var zero C
		return zero, fmt.Errorf("component not found: %s", id)
	}
	return creator(config, r.provider)
}
