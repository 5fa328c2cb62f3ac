package search

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakite/searchsync/internal/types"
)

func newTestRepository(alias string) (*Repository, *MemoryClient) {
	client := NewMemoryClient()
	repo := NewRepository(client, alias)
	repo.RegisterIndex(IndexMapping{EntityType: types.EntityTypeTable, IndexName: "table_search_index"}, nil)
	repo.RegisterIndex(IndexMapping{EntityType: types.EntityTypeDomain, IndexName: "domain_search_index"}, nil)
	return repo, client
}

func TestIndexNameResolution(t *testing.T) {
	repo, _ := newTestRepository("")

	name, err := repo.IndexNameFor(types.EntityTypeTable)
	require.NoError(t, err)
	assert.Equal(t, "table_search_index", name)

	aliased, _ := newTestRepository("prod")
	name, err = aliased.IndexNameFor(types.EntityTypeTable)
	require.NoError(t, err)
	assert.Equal(t, "prod_table_search_index", name)

	_, err = repo.IndexNameFor("widget")
	assert.True(t, types.IsCode(err, types.INDEX_NOT_MAPPED))
}

func TestIndexedTypesSorted(t *testing.T) {
	repo, _ := newTestRepository("")
	assert.Equal(t, []string{types.EntityTypeDomain, types.EntityTypeTable}, repo.IndexedTypes())
	assert.True(t, repo.IsIndexingSupported(types.EntityTypeTable))
	assert.False(t, repo.IsIndexingSupported("widget"))
}

func TestDefaultDocumentBuilderOverlaysIdentity(t *testing.T) {
	repo, _ := newTestRepository("")
	entity := &types.Entity{
		ID:                 types.NewID(),
		Type:               types.EntityTypeTable,
		Name:               "orders",
		FullyQualifiedName: "svc.db.schema.orders",
		Document:           []byte(`{"description":"order facts","name":"stale"}`),
	}

	body, err := repo.BuildDocument(types.EntityTypeTable, entity)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, entity.ID.String(), doc["id"])
	assert.Equal(t, types.EntityTypeTable, doc["entityType"])
	// extracted columns win over stale document fields
	assert.Equal(t, "orders", doc["name"])
	assert.Equal(t, "svc.db.schema.orders", doc["fullyQualifiedName"])
	assert.Equal(t, false, doc["deleted"])
	assert.Equal(t, "order facts", doc["description"])
}

func TestBuildDocumentRejectsMalformedJSON(t *testing.T) {
	repo, _ := newTestRepository("")
	entity := &types.Entity{ID: types.NewID(), Type: types.EntityTypeTable, Document: []byte("{not json")}

	_, err := repo.BuildDocument(types.EntityTypeTable, entity)
	assert.Error(t, err)
}

func TestCustomDocumentBuilderFactory(t *testing.T) {
	client := NewMemoryClient()
	repo := NewRepository(client, "")
	repo.RegisterIndex(IndexMapping{EntityType: types.EntityTypeTable, IndexName: "table_search_index"},
		func(entityType string, entity *types.Entity) DocumentBuilder {
			return staticBuilder(`{"custom":true}`)
		})

	body, err := repo.BuildDocument(types.EntityTypeTable, &types.Entity{ID: types.NewID()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"custom":true}`, string(body))
}

type staticBuilder string

func (b staticBuilder) BuildSearchIndexDoc() ([]byte, error) {
	return []byte(b), nil
}

func TestUpsertEntity(t *testing.T) {
	repo, client := newTestRepository("")
	entity := &types.Entity{
		ID:                 types.NewID(),
		Type:               types.EntityTypeTable,
		Name:               "t",
		FullyQualifiedName: "svc.t",
		Document:           []byte("{}"),
	}

	require.NoError(t, repo.UpsertEntity(context.Background(), entity))
	_, ok := client.Document("table_search_index", entity.ID.String())
	assert.True(t, ok)

	// nil and zero-id entities are no-ops
	require.NoError(t, repo.UpsertEntity(context.Background(), nil))
	require.NoError(t, repo.UpsertEntity(context.Background(), &types.Entity{Type: types.EntityTypeTable}))
	assert.Equal(t, 1, client.UpsertCalls())
}

func TestUpsertEntityFailureIsRetryable(t *testing.T) {
	repo, client := newTestRepository("")
	entity := &types.Entity{ID: types.NewID(), Type: types.EntityTypeTable, Document: []byte("{}")}
	client.FailUpsert(entity.ID.String(), "shard unavailable")

	err := repo.UpsertEntity(context.Background(), entity)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.INDEX_WRITE_FAILED))
	assert.True(t, types.IsRetryable(err))
}

func TestDeleteDocument(t *testing.T) {
	repo, client := newTestRepository("")
	entity := &types.Entity{ID: types.NewID(), Type: types.EntityTypeTable, Document: []byte("{}")}
	require.NoError(t, repo.UpsertEntity(context.Background(), entity))

	require.NoError(t, repo.DeleteDocument(context.Background(), types.EntityTypeTable, entity.ID.String()))
	assert.Equal(t, 0, client.DocCount("table_search_index"))

	err := repo.DeleteDocument(context.Background(), types.EntityTypeTable, entity.ID.String())
	assert.ErrorIs(t, err, ErrDocNotFound)
}
