package rollup

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the set of rollup definitions the scheduler and executor
// operate on. One instance owns the set; nothing here is a package-level
// singleton.
//
// Registration is replace-by-name, so re-deploying the same configuration is
// idempotent. In strict mode a name collision with a different definition
// fingerprint is rejected with ErrDuplicateName; re-registering an identical
// definition is always a no-op replace.
type Registry struct {
	mu     sync.RWMutex
	strict bool
	defs   map[string]Definition
}

// NewRegistry creates an empty registry. strict enables collision detection
// on registration.
func NewRegistry(strict bool) *Registry {
	return &Registry{
		strict: strict,
		defs:   make(map[string]Definition),
	}
}

// Register validates and stores a definition under its name, replacing any
// existing definition with that name.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.defs[def.Name]; ok && r.strict {
		if existing.Fingerprint() != def.Fingerprint() {
			return fmt.Errorf("rollup %q: %w", def.Name, ErrDuplicateName)
		}
	}
	r.defs[def.Name] = def
	return nil
}

// Unregister removes a definition by name. No-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, name)
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns all registered definitions, sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
