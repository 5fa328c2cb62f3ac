// Package catalog is the entity store: it resolves entity references and
// full entities by id or fully-qualified name across the registered entity
// types, and owns the per-type capability descriptors consumed by the read
// planner.
package catalog

import (
	"sort"
	"sync"

	"github.com/datakite/searchsync/internal/readplan"
	"github.com/datakite/searchsync/internal/types"
)

// TypeDescriptor declares one registered entity type.
type TypeDescriptor struct {
	Name         string
	Capabilities readplan.Capabilities
}

// Registry holds the known entity types. Registration happens at wiring time;
// reads are concurrent.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TypeDescriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]TypeDescriptor)}
}

// NewDefaultRegistry creates a registry preloaded with the standard catalog
// entity types and their capability flags.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	dataAsset := readplan.Capabilities{
		Owners: true, Domains: true, Followers: true,
		DataProducts: true, Experts: true, Extension: true, Tags: true, Votes: true,
	}
	for _, t := range []string{
		types.EntityTypeTable,
		types.EntityTypeTopic,
		types.EntityTypeDashboard,
		types.EntityTypePipeline,
		types.EntityTypeDatabase,
		types.EntityTypeDatabaseSchema,
	} {
		r.Register(TypeDescriptor{Name: t, Capabilities: dataAsset})
	}

	r.Register(TypeDescriptor{Name: types.EntityTypeDomain, Capabilities: readplan.Capabilities{
		Owners: true, Experts: true, Tags: true, Extension: true,
	}})
	r.Register(TypeDescriptor{Name: types.EntityTypeDataProduct, Capabilities: readplan.Capabilities{
		Owners: true, Domains: true, Experts: true, Tags: true, Extension: true,
	}})
	r.Register(TypeDescriptor{Name: types.EntityTypeGlossaryTerm, Capabilities: readplan.Capabilities{
		Owners: true, Domains: true, Followers: true, Reviewers: true, Tags: true, Votes: true, Extension: true,
	}})
	r.Register(TypeDescriptor{Name: types.EntityTypeUser, Capabilities: readplan.Capabilities{}})
	r.Register(TypeDescriptor{Name: types.EntityTypeTeam, Capabilities: readplan.Capabilities{
		Owners: true,
	}})

	return r
}

// Register adds or replaces a type descriptor.
func (r *Registry) Register(desc TypeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[desc.Name] = desc
}

// IsRegistered reports whether the entity type is known.
func (r *Registry) IsRegistered(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[entityType]
	return ok
}

// Capabilities returns the capability descriptor for an entity type.
// Unknown types get the zero descriptor: no optional relation fields.
func (r *Registry) Capabilities(entityType string) readplan.Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if desc, ok := r.types[entityType]; ok {
		return desc.Capabilities
	}
	return readplan.Capabilities{}
}

// Types returns the registered entity type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
