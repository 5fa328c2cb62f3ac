package readplan

import (
	"github.com/datakite/searchsync/internal/types"
)

// Canonical relation and loader field names.
const (
	FieldOwners       = "owners"
	FieldDomains      = "domains"
	FieldFollowers    = "followers"
	FieldReviewers    = "reviewers"
	FieldDataProducts = "dataProducts"
	FieldChildren     = "children"
	FieldExperts      = "experts"
	FieldTags         = "tags"
	FieldVotes        = "votes"
	FieldExtension    = "extension"
)

// FieldSet is the set of canonical field names requested by a fetch.
type FieldSet map[string]struct{}

// NewFieldSet builds a FieldSet from names.
func NewFieldSet(names ...string) FieldSet {
	set := make(FieldSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Contains reports whether the field was requested.
func (f FieldSet) Contains(name string) bool {
	_, ok := f[name]
	return ok
}

// Includes is the per-request soft-delete visibility policy: a default plus
// optional per-field overrides.
type Includes struct {
	Default  types.Include
	PerField map[string]types.Include
}

// IncludesFrom builds a policy with only a default.
func IncludesFrom(def types.Include) Includes {
	return Includes{Default: def}
}

// WithField returns a copy of the policy with a per-field override.
func (i Includes) WithField(field string, include types.Include) Includes {
	overrides := make(map[string]types.Include, len(i.PerField)+1)
	for k, v := range i.PerField {
		overrides[k] = v
	}
	overrides[field] = include
	return Includes{Default: i.Default, PerField: overrides}
}

// For resolves the effective include for a field.
func (i Includes) For(field string) types.Include {
	if include, ok := i.PerField[field]; ok {
		return include
	}
	if i.Default == "" {
		return types.IncludeAll
	}
	return i.Default
}

// Capabilities declares which optional relation fields an entity type
// supports. A false flag silently drops the matching relation field from the
// plan without affecting others.
type Capabilities struct {
	Owners       bool
	Domains      bool
	Followers    bool
	Reviewers    bool
	DataProducts bool
	Experts      bool
	Extension    bool
	Tags         bool
	Votes        bool
}

// AllCapabilities returns a descriptor with every flag enabled.
func AllCapabilities() Capabilities {
	return Capabilities{
		Owners: true, Domains: true, Followers: true, Reviewers: true,
		DataProducts: true, Experts: true, Extension: true, Tags: true, Votes: true,
	}
}

// Planner builds consolidated read plans for single-entity fetches.
// Plan construction is a pure function of its inputs: no I/O, no shared
// state, safe to call concurrently.
type Planner struct{}

// NewPlanner creates a planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// NewBuilderFor seeds a builder with the well-known relation fields present
// in the request and supported by the entity type's capabilities. Callers
// needing custom relation fields or prefetch keys extend the builder before
// Build.
//
// A nil entity, zero entity id, or nil field set yields a builder that
// produces the empty plan.
func (p *Planner) NewBuilderFor(entity *types.Entity, fields FieldSet, entityType string, includes Includes, caps Capabilities) *Builder {
	if entity == nil || entity.ID.IsZero() || fields == nil || entityType == "" {
		return NewBuilder("")
	}

	builder := NewBuilder(entity.ID)

	if fields.Contains(FieldOwners) && caps.Owners {
		builder.AddToRelationField(FieldOwners, includes.For(FieldOwners), types.RelationshipOwns, "")
	}
	if fields.Contains(FieldFollowers) && caps.Followers {
		builder.AddToRelationField(FieldFollowers, includes.For(FieldFollowers), types.RelationshipFollows, types.EntityTypeUser)
	}
	if fields.Contains(FieldDomains) && caps.Domains {
		builder.AddToRelationField(FieldDomains, includes.For(FieldDomains), types.RelationshipHas, types.EntityTypeDomain)
	}
	if fields.Contains(FieldDataProducts) && caps.DataProducts {
		builder.AddToRelationField(FieldDataProducts, includes.For(FieldDataProducts), types.RelationshipHas, types.EntityTypeDataProduct)
	}
	if fields.Contains(FieldReviewers) && caps.Reviewers {
		builder.AddToRelationField(FieldReviewers, includes.For(FieldReviewers), types.RelationshipReviews, "")
	}

	// children is self-referential containment and is not capability-gated.
	if fields.Contains(FieldChildren) {
		builder.AddFromRelationField(FieldChildren, includes.For(FieldChildren), types.RelationshipContains, entityType)
	}
	if fields.Contains(FieldExperts) && caps.Experts {
		builder.AddFromRelationField(FieldExperts, includes.For(FieldExperts), types.RelationshipExpert, types.EntityTypeUser)
	}

	if fields.Contains(FieldExtension) && caps.Extension {
		builder.RequestExtension()
	}
	if fields.Contains(FieldTags) && caps.Tags {
		builder.RequestTags()
	}
	if fields.Contains(FieldVotes) && caps.Votes {
		builder.RequestVotes()
	}

	return builder
}

// Build is the one-shot form of NewBuilderFor.
func (p *Planner) Build(entity *types.Entity, fields FieldSet, entityType string, includes Includes, caps Capabilities) *Plan {
	return p.NewBuilderFor(entity, fields, entityType, includes, caps).Build()
}
