package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncludeMatches(t *testing.T) {
	assert.True(t, IncludeAll.Matches(true))
	assert.True(t, IncludeAll.Matches(false))
	assert.True(t, IncludeDeleted.Matches(true))
	assert.False(t, IncludeDeleted.Matches(false))
	assert.False(t, IncludeNonDeleted.Matches(true))
	assert.True(t, IncludeNonDeleted.Matches(false))
	// an unknown filter behaves like all
	assert.True(t, Include("bogus").Matches(true))
}

func TestRelationshipOrdinals(t *testing.T) {
	// the edge table stores ordinals; their values are part of the schema
	// contract and must never shift
	assert.Equal(t, 0, RelationshipContains.Ordinal())
	assert.Equal(t, 8, RelationshipOwns.Ordinal())
	assert.Equal(t, 10, RelationshipHas.Ordinal())
	assert.Equal(t, 11, RelationshipFollows.Ordinal())
	assert.Equal(t, 13, RelationshipUpstream.Ordinal())
	assert.Equal(t, 16, RelationshipReviews.Ordinal())
	assert.Equal(t, 19, RelationshipExpert.Ordinal())
}

func TestRelationshipString(t *testing.T) {
	assert.Equal(t, "contains", RelationshipContains.String())
	assert.Equal(t, "owns", RelationshipOwns.String())
	assert.Equal(t, "expert", RelationshipExpert.String())
	assert.Equal(t, "unknown", Relationship(99).String())
}

func TestEntityReferenceIsValid(t *testing.T) {
	var nilRef *EntityReference
	assert.False(t, nilRef.IsValid())
	assert.False(t, (&EntityReference{}).IsValid())
	assert.False(t, (&EntityReference{ID: NewID()}).IsValid())
	assert.False(t, (&EntityReference{Type: EntityTypeTable}).IsValid())
	assert.True(t, (&EntityReference{ID: NewID(), Type: EntityTypeTable}).IsValid())
}

func TestEntityReference(t *testing.T) {
	var nilEntity *Entity
	assert.Equal(t, EntityReference{}, nilEntity.Reference())

	entity := &Entity{
		ID:                 NewID(),
		Type:               EntityTypeTable,
		Name:               "orders",
		FullyQualifiedName: "svc.db.schema.orders",
		Deleted:            true,
	}
	ref := entity.Reference()
	assert.Equal(t, entity.ID, ref.ID)
	assert.Equal(t, entity.Type, ref.Type)
	assert.Equal(t, entity.FullyQualifiedName, ref.FullyQualifiedName)
	assert.True(t, ref.Deleted)
}
