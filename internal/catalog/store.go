package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/datakite/searchsync/internal/database"
	"github.com/datakite/searchsync/internal/types"
)

// Store resolves entities from the relational store. Lookups are fallible by
// design: not-found and unknown-type come back as errors the retry worker
// treats as "try the next candidate type", never as fatal.
type Store struct {
	registry      *Registry
	entities      database.EntityDAO
	relationships database.RelationshipDAO
}

// NewStore creates an entity store over the given DAOs.
func NewStore(registry *Registry, entities database.EntityDAO, relationships database.RelationshipDAO) *Store {
	return &Store{
		registry:      registry,
		entities:      entities,
		relationships: relationships,
	}
}

// Registry returns the type registry backing the store.
func (s *Store) Registry() *Registry {
	return s.registry
}

// GetEntityReferenceByID resolves a reference by (type, id).
func (s *Store) GetEntityReferenceByID(ctx context.Context, entityType string, id types.ID, include types.Include) (*types.EntityReference, error) {
	if !s.registry.IsRegistered(entityType) {
		return nil, types.NewError(types.ENTITY_TYPE_UNKNOWN,
			fmt.Sprintf("entity type %q is not registered", entityType))
	}

	row, err := s.entities.GetByID(ctx, entityType, id, include)
	if err != nil {
		return nil, wrapLookupError(entityType, id.String(), err)
	}
	ref := rowReference(row)
	return &ref, nil
}

// GetEntityReferenceByName resolves a reference by (type, fqn).
func (s *Store) GetEntityReferenceByName(ctx context.Context, entityType, fqn string, include types.Include) (*types.EntityReference, error) {
	if !s.registry.IsRegistered(entityType) {
		return nil, types.NewError(types.ENTITY_TYPE_UNKNOWN,
			fmt.Sprintf("entity type %q is not registered", entityType))
	}

	row, err := s.entities.GetByName(ctx, entityType, fqn, include)
	if err != nil {
		return nil, wrapLookupError(entityType, fqn, err)
	}
	ref := rowReference(row)
	return &ref, nil
}

// GetEntity fetches the full entity a reference points at.
func (s *Store) GetEntity(ctx context.Context, ref types.EntityReference, include types.Include) (*types.Entity, error) {
	if !ref.IsValid() {
		return nil, types.NewError(types.ENTITY_INVALID, "entity reference is missing id or type")
	}

	row, err := s.entities.GetByID(ctx, ref.Type, ref.ID, include)
	if err != nil {
		return nil, wrapLookupError(ref.Type, ref.ID.String(), err)
	}

	return &types.Entity{
		ID:                 row.ID,
		Type:               row.EntityType,
		Name:               row.Name,
		FullyQualifiedName: row.FQN,
		Deleted:            row.Deleted,
		Document:           []byte(row.JSON),
		UpdatedAt:          row.UpdatedAt,
	}, nil
}

// Create persists a new entity and its relationship edges in one pass.
// Edges attached to the entity are written wholesale.
func (s *Store) Create(ctx context.Context, entity *types.Entity, edges []database.RelationshipEdge) error {
	if entity == nil || entity.Type == "" {
		return types.NewError(types.ENTITY_INVALID, "entity is missing a type")
	}
	if !s.registry.IsRegistered(entity.Type) {
		return types.NewError(types.ENTITY_TYPE_UNKNOWN,
			fmt.Sprintf("entity type %q is not registered", entity.Type))
	}
	if entity.ID.IsZero() {
		entity.ID = types.NewID()
	}

	row := &database.EntityRow{
		ID:         entity.ID,
		EntityType: entity.Type,
		Name:       entity.Name,
		FQN:        entity.FullyQualifiedName,
		Deleted:    entity.Deleted,
		JSON:       string(entity.Document),
	}
	if err := s.entities.Insert(ctx, row); err != nil {
		return err
	}

	for _, edge := range edges {
		if err := s.relationships.Insert(ctx, edge); err != nil {
			return err
		}
	}
	return nil
}

// Update replaces an entity's document. Relationship edges for changed
// fields are deleted and re-inserted wholesale, never mutated in place.
func (s *Store) Update(ctx context.Context, entity *types.Entity, removed, added []database.RelationshipEdge) error {
	if entity == nil || entity.ID.IsZero() || entity.Type == "" {
		return types.NewError(types.ENTITY_INVALID, "entity is missing id or type")
	}

	row := &database.EntityRow{
		ID:         entity.ID,
		EntityType: entity.Type,
		Name:       entity.Name,
		FQN:        entity.FullyQualifiedName,
		Deleted:    entity.Deleted,
		JSON:       string(entity.Document),
	}
	if err := s.entities.Update(ctx, row); err != nil {
		return err
	}

	for _, edge := range removed {
		if err := s.relationships.Delete(ctx, edge.FromID, edge.ToID, edge.Relation); err != nil {
			return err
		}
	}
	for _, edge := range added {
		if err := s.relationships.Insert(ctx, edge); err != nil {
			return err
		}
	}
	return nil
}

// SoftDelete marks an entity deleted without touching its edges.
func (s *Store) SoftDelete(ctx context.Context, entityType string, id types.ID) error {
	return s.entities.SoftDelete(ctx, entityType, id)
}

// HardDelete removes an entity and every edge attached to it.
func (s *Store) HardDelete(ctx context.Context, entityType string, id types.ID) error {
	if err := s.entities.HardDelete(ctx, entityType, id); err != nil {
		return err
	}
	return s.relationships.DeleteAllFor(ctx, id)
}

// IsNotFound reports whether err is an entity-not-found lookup failure.
func IsNotFound(err error) bool {
	return errors.Is(err, database.ErrEntityNotFound) ||
		types.IsCode(err, types.ENTITY_NOT_FOUND)
}

func wrapLookupError(entityType, key string, err error) error {
	if errors.Is(err, database.ErrEntityNotFound) {
		return types.WrapError(types.ENTITY_NOT_FOUND,
			fmt.Sprintf("%s %q not found", entityType, key), err)
	}
	return err
}

func rowReference(row *database.EntityRow) types.EntityReference {
	return types.EntityReference{
		ID:                 row.ID,
		Type:               row.EntityType,
		Name:               row.Name,
		FullyQualifiedName: row.FQN,
		Deleted:            row.Deleted,
	}
}
