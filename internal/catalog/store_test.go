package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakite/searchsync/internal/database"
	"github.com/datakite/searchsync/internal/types"
)

func setupStore(t *testing.T) (*Store, database.RelationshipDAO) {
	t.Helper()

	dir, err := os.MkdirTemp("", "catalog-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := database.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db).Migrate(context.Background()))

	relationships := database.NewRelationshipDAO(db)
	store := NewStore(NewDefaultRegistry(), database.NewEntityDAO(db), relationships)
	return store, relationships
}

func TestStoreCreateAndResolve(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	entity := &types.Entity{
		Type:               types.EntityTypeTable,
		Name:               "orders",
		FullyQualifiedName: "svc.db.schema.orders",
		Document:           []byte(`{"description":"order facts"}`),
	}
	require.NoError(t, store.Create(ctx, entity, nil))
	require.False(t, entity.ID.IsZero())

	byID, err := store.GetEntityReferenceByID(ctx, types.EntityTypeTable, entity.ID, types.IncludeNonDeleted)
	require.NoError(t, err)
	assert.Equal(t, entity.FullyQualifiedName, byID.FullyQualifiedName)

	byName, err := store.GetEntityReferenceByName(ctx, types.EntityTypeTable, entity.FullyQualifiedName, types.IncludeAll)
	require.NoError(t, err)
	assert.Equal(t, entity.ID, byName.ID)

	full, err := store.GetEntity(ctx, *byName, types.IncludeAll)
	require.NoError(t, err)
	assert.Equal(t, entity.Name, full.Name)
	assert.JSONEq(t, `{"description":"order facts"}`, string(full.Document))
}

func TestStoreRejectsUnknownType(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	_, err := store.GetEntityReferenceByID(ctx, "widget", types.NewID(), types.IncludeAll)
	assert.True(t, types.IsCode(err, types.ENTITY_TYPE_UNKNOWN))

	err = store.Create(ctx, &types.Entity{Type: "widget", Name: "w"}, nil)
	assert.True(t, types.IsCode(err, types.ENTITY_TYPE_UNKNOWN))
}

func TestStoreNotFoundIsTyped(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	_, err := store.GetEntityReferenceByID(ctx, types.EntityTypeTable, types.NewID(), types.IncludeAll)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.True(t, types.IsCode(err, types.ENTITY_NOT_FOUND))

	_, err = store.GetEntityReferenceByName(ctx, types.EntityTypeTable, "no.such.fqn", types.IncludeAll)
	assert.True(t, IsNotFound(err))
}

func TestStoreSoftDeleteKeepsEdges(t *testing.T) {
	ctx := context.Background()
	store, relationships := setupStore(t)

	table := &types.Entity{Type: types.EntityTypeTable, Name: "t", FullyQualifiedName: "svc.t", Document: []byte("{}")}
	require.NoError(t, store.Create(ctx, table, nil))

	owner := types.NewID()
	require.NoError(t, relationships.Insert(ctx, database.RelationshipEdge{
		FromID: owner, FromType: types.EntityTypeUser,
		ToID: table.ID, ToType: types.EntityTypeTable,
		Relation: types.RelationshipOwns.Ordinal(),
	}))

	require.NoError(t, store.SoftDelete(ctx, types.EntityTypeTable, table.ID))

	ref, err := store.GetEntityReferenceByID(ctx, types.EntityTypeTable, table.ID, types.IncludeDeleted)
	require.NoError(t, err)
	assert.True(t, ref.Deleted)

	edges, err := relationships.FindFrom(ctx, table.ID, types.EntityTypeTable, types.RelationshipOwns.Ordinal())
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestStoreHardDeleteRemovesEdges(t *testing.T) {
	ctx := context.Background()
	store, relationships := setupStore(t)

	table := &types.Entity{ID: types.NewID(), Type: types.EntityTypeTable, Name: "t", FullyQualifiedName: "svc.t", Document: []byte("{}")}
	require.NoError(t, store.Create(ctx, table, []database.RelationshipEdge{{
		FromID: types.NewID(), FromType: types.EntityTypeUser,
		ToID: table.ID, ToType: types.EntityTypeTable,
		Relation: types.RelationshipOwns.Ordinal(),
	}}))

	edges, err := relationships.FindFrom(ctx, table.ID, types.EntityTypeTable, types.RelationshipOwns.Ordinal())
	require.NoError(t, err)
	require.Len(t, edges, 1)

	require.NoError(t, store.HardDelete(ctx, types.EntityTypeTable, table.ID))

	_, err = store.GetEntityReferenceByID(ctx, types.EntityTypeTable, table.ID, types.IncludeAll)
	assert.True(t, IsNotFound(err))

	edges, err = relationships.FindFrom(ctx, table.ID, types.EntityTypeTable, types.RelationshipOwns.Ordinal())
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestStoreUpdateReplacesEdges(t *testing.T) {
	ctx := context.Background()
	store, relationships := setupStore(t)

	oldOwner := types.NewID()
	newOwner := types.NewID()

	table := &types.Entity{Type: types.EntityTypeTable, Name: "t", FullyQualifiedName: "svc.t", Document: []byte("{}")}
	oldEdge := database.RelationshipEdge{
		FromID: oldOwner, FromType: types.EntityTypeUser,
		ToID: table.ID, ToType: types.EntityTypeTable,
		Relation: types.RelationshipOwns.Ordinal(),
	}
	require.NoError(t, store.Create(ctx, table, nil))
	oldEdge.ToID = table.ID
	require.NoError(t, relationships.Insert(ctx, oldEdge))

	table.Document = []byte(`{"v":2}`)
	newEdge := oldEdge
	newEdge.FromID = newOwner
	require.NoError(t, store.Update(ctx, table,
		[]database.RelationshipEdge{oldEdge},
		[]database.RelationshipEdge{newEdge}))

	owners, err := relationships.FindFrom(ctx, table.ID, types.EntityTypeTable, types.RelationshipOwns.Ordinal())
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, newOwner, owners[0].ID)
}

func TestRegistryDefaults(t *testing.T) {
	r := NewDefaultRegistry()

	assert.True(t, r.IsRegistered(types.EntityTypeTable))
	assert.True(t, r.IsRegistered(types.EntityTypeDomain))
	assert.False(t, r.IsRegistered("widget"))

	caps := r.Capabilities(types.EntityTypeTable)
	assert.True(t, caps.Owners)
	assert.True(t, caps.DataProducts)

	// user has no optional relation fields
	assert.Equal(t, r.Capabilities(types.EntityTypeUser), r.Capabilities("unknown"))

	names := r.Types()
	assert.Contains(t, names, types.EntityTypeGlossaryTerm)
	assert.IsNonDecreasing(t, names)
}
