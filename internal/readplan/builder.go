package readplan

import (
	"strings"

	"github.com/datakite/searchsync/internal/types"
)

// Builder is the mutable accumulator behind Planner.Build. Entity-specific
// planners use it directly to add custom relation fields and prefetch keys
// that fall outside the generic relation model.
type Builder struct {
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

// NewBuilder creates a builder for the given entity id. A zero id yields the
// empty plan on Build.
func NewBuilder(entityID types.ID) *Builder {
	return &Builder{
		entityID:               entityID,
		toRelationsByInclude:   make(map[types.Include]map[int]struct{}),
		fromRelationsByInclude: make(map[types.Include]map[int]struct{}),
		fieldIncludes:          make(map[string]types.Include),
		relationSpecs:          make(map[string]RelationSpec),
		relationFields:         make(map[string]struct{}),
		prefetchKeys:           make(map[string]struct{}),
	}
}

// AddToRelationField plans a TO-direction relation field.
func (b *Builder) AddToRelationField(field string, include types.Include, rel types.Relationship, relatedEntityType string) *Builder {
	include = normalizeInclude(include)
	addOrdinal(b.toRelationsByInclude, include, rel.Ordinal())
	b.fieldIncludes[field] = include
	b.relationFields[field] = struct{}{}
	b.relationSpecs[field] = RelationSpec{
		Direction:         DirectionTo,
		Relationship:      rel,
		RelatedEntityType: relatedEntityType,
		Include:           include,
	}
	return b
}

// AddFromRelationField plans a FROM-direction relation field.
func (b *Builder) AddFromRelationField(field string, include types.Include, rel types.Relationship, relatedEntityType string) *Builder {
	include = normalizeInclude(include)
	addOrdinal(b.fromRelationsByInclude, include, rel.Ordinal())
	b.fieldIncludes[field] = include
	b.relationFields[field] = struct{}{}
	b.relationSpecs[field] = RelationSpec{
		Direction:         DirectionFrom,
		Relationship:      rel,
		RelatedEntityType: relatedEntityType,
		Include:           include,
	}
	return b
}

// RequestTags flags the tag loader.
func (b *Builder) RequestTags() *Builder {
	b.loadTags = true
	return b
}

// RequestVotes flags the vote loader.
func (b *Builder) RequestVotes() *Builder {
	b.loadVotes = true
	return b
}

// RequestExtension flags the extension loader.
func (b *Builder) RequestExtension() *Builder {
	b.loadExtension = true
	return b
}

// AddPrefetchKey adds an opaque entity-specific bulk-prefetch key,
// e.g. "table.columns". Blank keys are ignored.
func (b *Builder) AddPrefetchKey(key string) *Builder {
	if strings.TrimSpace(key) != "" {
		b.prefetchKeys[key] = struct{}{}
	}
	return b
}

// Build freezes the accumulated state into an immutable Plan.
func (b *Builder) Build() *Plan {
	if b.entityID.IsZero() {
		return Empty()
	}
	return &Plan{
		entityID:               b.entityID,
		toRelationsByInclude:   b.toRelationsByInclude,
		fromRelationsByInclude: b.fromRelationsByInclude,
		fieldIncludes:          b.fieldIncludes,
		relationSpecs:          b.relationSpecs,
		relationFields:         b.relationFields,
		prefetchKeys:           b.prefetchKeys,
		loadExtension:          b.loadExtension,
		loadTags:               b.loadTags,
		loadVotes:              b.loadVotes,
	}
}

func addOrdinal(buckets map[types.Include]map[int]struct{}, include types.Include, ordinal int) {
	set, ok := buckets[include]
	if !ok {
		set = make(map[int]struct{})
		buckets[include] = set
	}
	set[ordinal] = struct{}{}
}

func normalizeInclude(include types.Include) types.Include {
	if include == "" {
		return types.IncludeAll
	}
	return include
}
