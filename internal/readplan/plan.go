// Package readplan builds request-scoped query plans for single-entity
// fetches. A plan groups the requested relationship fields by direction and
// soft-delete visibility so the caller can issue one edge-table query per
// (direction, include) pair instead of one per field.
package readplan

import (
	"sort"

	"github.com/datakite/searchsync/internal/types"
)

// Direction tells whether a relation field is read from edges pointing out
// of the entity (TO) or into it (FROM).
type Direction int

const (
	DirectionTo Direction = iota
	DirectionFrom
)

func (d Direction) String() string {
	if d == DirectionFrom {
		return "from"
	}
	return "to"
}

// RelationSpec describes how one relation field maps onto the edge table.
type RelationSpec struct {
	Direction         Direction
	Relationship      types.Relationship
	RelatedEntityType string // empty = no type filter
	Include           types.Include
}

// Plan is an immutable, per-request description of the relational joins and
// auxiliary loaders an entity fetch requires. Built once, consumed
// immediately, then discarded. Safe for concurrent use: all state is
// read-only after Build.
type Plan struct {
	entityID               types.ID
	toRelationsByInclude   map[types.Include]map[int]struct{}
	fromRelationsByInclude map[types.Include]map[int]struct{}
	fieldIncludes          map[string]types.Include
	relationSpecs          map[string]RelationSpec
	relationFields         map[string]struct{}
	prefetchKeys           map[string]struct{}
	loadExtension          bool
	loadTags               bool
	loadVotes              bool
}

var emptyPlan = &Plan{}

// Empty returns the shared empty plan: callers must treat it as
// "fetch nothing extra".
func Empty() *Plan {
	return emptyPlan
}

// EntityID returns the id of the entity the plan was built for,
// zero for the empty plan.
func (p *Plan) EntityID() types.ID {
	return p.entityID
}

// ToRelationsByInclude returns the relation ordinals of TO-direction fields,
// bucketed by their effective include policy.
func (p *Plan) ToRelationsByInclude() map[types.Include][]int {
	return relationBuckets(p.toRelationsByInclude)
}

// FromRelationsByInclude returns the relation ordinals of FROM-direction
// fields, bucketed by their effective include policy.
func (p *Plan) FromRelationsByInclude() map[types.Include][]int {
	return relationBuckets(p.fromRelationsByInclude)
}

// RelationSpec returns the spec for a relation field, if planned.
func (p *Plan) RelationSpec(field string) (RelationSpec, bool) {
	spec, ok := p.relationSpecs[field]
	return spec, ok
}

// ShouldLoadRelationField reports whether the plan includes the relation field.
func (p *Plan) ShouldLoadRelationField(field string) bool {
	_, ok := p.relationFields[field]
	return ok
}

// IncludeForField resolves the per-field include override, defaulting to All.
func (p *Plan) IncludeForField(field string) types.Include {
	if include, ok := p.fieldIncludes[field]; ok {
		return include
	}
	return types.IncludeAll
}

// ShouldLoadExtension reports whether the extension loader should run.
func (p *Plan) ShouldLoadExtension() bool {
	return p.loadExtension
}

// ShouldLoadTags reports whether the tag loader should run.
func (p *Plan) ShouldLoadTags() bool {
	return p.loadTags
}

// ShouldLoadVotes reports whether the vote loader should run.
func (p *Plan) ShouldLoadVotes() bool {
	return p.loadVotes
}

// PrefetchKeys returns the entity-specific bulk-prefetch keys, sorted.
func (p *Plan) PrefetchKeys() []string {
	keys := make([]string, 0, len(p.prefetchKeys))
	for k := range p.prefetchKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsEmpty reports whether the plan requires no extra fetching at all.
func (p *Plan) IsEmpty() bool {
	return p.entityID.IsZero() ||
		(len(p.toRelationsByInclude) == 0 &&
			len(p.fromRelationsByInclude) == 0 &&
			!p.loadExtension && !p.loadTags && !p.loadVotes &&
			len(p.prefetchKeys) == 0)
}

func relationBuckets(source map[types.Include]map[int]struct{}) map[types.Include][]int {
	out := make(map[types.Include][]int, len(source))
	for include, relations := range source {
		ordinals := make([]int, 0, len(relations))
		for ordinal := range relations {
			ordinals = append(ordinals, ordinal)
		}
		sort.Ints(ordinals)
		out[include] = ordinals
	}
	return out
}
