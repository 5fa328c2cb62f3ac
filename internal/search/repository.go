package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/datakite/searchsync/internal/types"
)

// DocumentBuilder derives the indexable document for one entity.
type DocumentBuilder interface {
	BuildSearchIndexDoc() ([]byte, error)
}

// DocumentBuilderFactory creates a builder for an (entityType, entity) pair.
// Registering a factory per type lets entity-specific denormalization live
// outside this package.
type DocumentBuilderFactory func(entityType string, entity *types.Entity) DocumentBuilder

// Repository resolves index names and document builders per entity type and
// is the engine-facing facade the retry worker writes through.
type Repository struct {
	client       Client
	clusterAlias string

	mu        sync.RWMutex
	mappings  map[string]IndexMapping
	factories map[string]DocumentBuilderFactory
}

// NewRepository creates a repository over the given client.
func NewRepository(client Client, clusterAlias string) *Repository {
	return &Repository{
		client:       client,
		clusterAlias: clusterAlias,
		mappings:     make(map[string]IndexMapping),
		factories:    make(map[string]DocumentBuilderFactory),
	}
}

// Client returns the underlying search client.
func (r *Repository) Client() Client {
	return r.client
}

// ClusterAlias returns the configured cluster alias, possibly empty.
func (r *Repository) ClusterAlias() string {
	return r.clusterAlias
}

// RegisterIndex maps an entity type onto an index, with an optional custom
// document builder factory (nil uses the default builder).
func (r *Repository) RegisterIndex(mapping IndexMapping, factory DocumentBuilderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[mapping.EntityType] = mapping
	if factory != nil {
		r.factories[mapping.EntityType] = factory
	}
}

// IsIndexingSupported reports whether the entity type has an index mapping.
func (r *Repository) IsIndexingSupported(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.mappings[entityType]
	return ok
}

// IndexedTypes returns every entity type with an index mapping, sorted.
func (r *Repository) IndexedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.mappings))
	for t := range r.mappings {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IndexNameFor resolves the concrete index name for an entity type.
func (r *Repository) IndexNameFor(entityType string) (string, error) {
	r.mu.RLock()
	mapping, ok := r.mappings[entityType]
	r.mu.RUnlock()
	if !ok {
		return "", types.NewError(types.INDEX_NOT_MAPPED,
			fmt.Sprintf("entity type %q has no index mapping", entityType))
	}
	return mapping.ResolveIndexName(r.clusterAlias), nil
}

// BuildDocument derives the index document for an entity via the type's
// registered builder, falling back to the default builder.
func (r *Repository) BuildDocument(entityType string, entity *types.Entity) ([]byte, error) {
	r.mu.RLock()
	factory := r.factories[entityType]
	r.mu.RUnlock()

	var builder DocumentBuilder
	if factory != nil {
		builder = factory(entityType, entity)
	} else {
		builder = &defaultDocumentBuilder{entityType: entityType, entity: entity}
	}
	return builder.BuildSearchIndexDoc()
}

// UpsertEntity writes one entity's document directly, bypassing the bulk path.
func (r *Repository) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil || entity.ID.IsZero() {
		return nil
	}
	indexName, err := r.IndexNameFor(entity.Type)
	if err != nil {
		return err
	}
	doc, err := r.BuildDocument(entity.Type, entity)
	if err != nil {
		return fmt.Errorf("failed to build document for %s/%s: %w", entity.Type, entity.ID, err)
	}
	if err := r.client.Upsert(ctx, indexName, entity.ID.String(), doc); err != nil {
		return types.WrapError(types.INDEX_WRITE_FAILED,
			fmt.Sprintf("upsert of %s/%s failed", entity.Type, entity.ID), err).WithRetryable(true)
	}
	return nil
}

// DeleteDocument removes one document from an entity type's index.
func (r *Repository) DeleteDocument(ctx context.Context, entityType, docID string) error {
	indexName, err := r.IndexNameFor(entityType)
	if err != nil {
		return err
	}
	return r.client.Delete(ctx, indexName, docID)
}

// defaultDocumentBuilder flattens the entity's stored document and overlays
// the extracted identity columns the search index always needs.
type defaultDocumentBuilder struct {
	entityType string
	entity     *types.Entity
}

func (b *defaultDocumentBuilder) BuildSearchIndexDoc() ([]byte, error) {
	doc := map[string]any{}
	if len(b.entity.Document) > 0 {
		if err := json.Unmarshal(b.entity.Document, &doc); err != nil {
			return nil, fmt.Errorf("entity document is not valid JSON: %w", err)
		}
	}
	doc["id"] = b.entity.ID.String()
	doc["entityType"] = b.entityType
	doc["name"] = b.entity.Name
	doc["fullyQualifiedName"] = b.entity.FullyQualifiedName
	doc["deleted"] = b.entity.Deleted
	return json.Marshal(doc)
}
