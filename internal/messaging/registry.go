package messaging

import (
	"fmt"
	"sync"
)

// Schema describes one registered message type. Registration is explicit and
// happens at startup; inbound messages whose type is not in the registry are
// rejected.
type Schema struct {
	// Name is the wire type tag carried in broker metadata.
	Name string

	// Extends names a parent schema. Handlers registered for the parent
	// also receive messages of this type.
	Extends string

	// DrainOnError exempts the type from failure replies: a handler error
	// still acknowledges the delivery instead of rejecting it. Used for
	// self-test messages that deliberately raise.
	DrainOnError bool
}

type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]Schema),
	}
}

func (r *Registry) Register(s Schema) error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSchema, s.Name)
	}

	r.schemas[s.Name] = s
	return nil
}

func (r *Registry) Resolve(name string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[name]
	return s, ok
}

// Ancestry returns the type name followed by its parents, nearest first.
// Unknown names yield an empty slice. A cycle in Extends terminates at the
// repeated name.
func (r *Registry) Ancestry(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []string
	seen := make(map[string]bool)

	for name != "" && !seen[name] {
		s, ok := r.schemas[name]
		if !ok {
			break
		}
		chain = append(chain, name)
		seen[name] = true
		name = s.Extends
	}

	return chain
}
