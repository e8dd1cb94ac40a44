package codec

import (
	"fmt"
	"slices"
	"sync"
)

// Registry finds schemas by message name.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Schema
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Schema)}
}

// Register adds s. Registering the same schema twice is a no-op; a different
// schema under a taken name is an error.
func (r *Registry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[s.name]; ok {
		if existing == s {
			return nil
		}
		return fmt.Errorf("codec: message %s already registered", s.name)
	}
	r.byName[s.name] = s
	return nil
}

func (r *Registry) Lookup(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Decode decodes b as the message registered under name.
func (r *Registry) Decode(name string, b []byte) (Message, error) {
	s, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return s.Decode(b)
}

// Names lists the registered messages in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
