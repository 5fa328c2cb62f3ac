package readplan

import (
	"context"
	"fmt"

	"github.com/datakite/searchsync/internal/database"
	"github.com/datakite/searchsync/internal/types"
)

// Executor runs a plan's relation specs against the relationship edge table.
// It issues exactly one query per (direction, include) bucket and fans the
// results back out to the requested fields via their relation specs.
//
// Direction convention: a TO-direction field reads edges where the planned
// entity is the edge's to-endpoint (owners, domains, followers, ...), so the
// bucket is served by FindFromByRelations. A FROM-direction field reads edges
// where the entity is the from-endpoint (children, experts), served by
// FindToByRelations.
type Executor struct {
	relationships database.RelationshipDAO
}

// NewExecutor creates an executor over the given relationship DAO.
func NewExecutor(relationships database.RelationshipDAO) *Executor {
	return &Executor{relationships: relationships}
}

// FieldResults maps a planned relation field name to the references it
// resolved to.
type FieldResults map[string][]types.EntityReference

// Fetch executes the plan's relation buckets for an entity of the given type.
// The soft-delete include policy of each bucket is applied by the caller when
// it hydrates the returned references; the edge table itself carries no
// deleted flag.
func (e *Executor) Fetch(ctx context.Context, plan *Plan, entityType string) (FieldResults, error) {
	if plan == nil || plan.IsEmpty() {
		return FieldResults{}, nil
	}

	results := make(FieldResults)

	for include, ordinals := range plan.ToRelationsByInclude() {
		records, err := e.relationships.FindFromByRelations(ctx, plan.EntityID(), entityType, ordinals)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch to-relations for include %s: %w", include, err)
		}
		e.distribute(plan, DirectionTo, include, records, results)
	}

	for include, ordinals := range plan.FromRelationsByInclude() {
		records, err := e.relationships.FindToByRelations(ctx, plan.EntityID(), entityType, ordinals)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch from-relations for include %s: %w", include, err)
		}
		e.distribute(plan, DirectionFrom, include, records, results)
	}

	return results, nil
}

// distribute assigns bucket records to the plan fields whose spec matches
// the record's relation ordinal and related-type filter.
func (e *Executor) distribute(plan *Plan, direction Direction, include types.Include, records []database.RelationshipRecord, results FieldResults) {
	for field := range plan.relationFields {
		spec := plan.relationSpecs[field]
		if spec.Direction != direction || spec.Include != include {
			continue
		}
		for _, rec := range records {
			if rec.Relation != spec.Relationship.Ordinal() {
				continue
			}
			if spec.RelatedEntityType != "" && rec.Type != spec.RelatedEntityType {
				continue
			}
			results[field] = append(results[field], types.EntityReference{
				ID:   rec.ID,
				Type: rec.Type,
			})
		}
	}
}
