// Package entities holds the entity registry: the catalog of measurement
// definitions built once at startup from every adapter's provided entity
// list and never mutated afterward.
//
// Grounded in internal/database.Client's pattern of a small,
// read-mostly struct constructed once at startup and handed to consumers
// by reference rather than reached for through a package-level singleton
// (see §9 Design Notes: "injected, not a mutable singleton").
package entities

import "github.com/windvane-labs/weathercore/internal/types"

// Registry is the immutable catalog of known entities, keyed by entity_id.
type Registry struct {
	byID map[string]types.Entity
}

// NewRegistry builds a Registry from the combined provided_entities() of
// every registered adapter. Later entries with a duplicate entity_id
// overwrite earlier ones; callers should ensure adapters don't collide.
func NewRegistry(catalogs ...[]types.Entity) *Registry {
	r := &Registry{byID: make(map[string]types.Entity)}
	for _, catalog := range catalogs {
		for _, e := range catalog {
			r.byID[e.EntityID] = e
		}
	}
	return r
}

// Get returns the entity registered under id, if any.
func (r *Registry) Get(entityID string) (types.Entity, bool) {
	e, ok := r.byID[entityID]
	return e, ok
}

// Exists reports whether entityID is registered.
func (r *Registry) Exists(entityID string) bool {
	_, ok := r.byID[entityID]
	return ok
}

// All returns every registered entity, in no particular order.
func (r *Registry) All() []types.Entity {
	out := make([]types.Entity, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	return out
}
