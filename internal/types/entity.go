package types

import (
	"encoding/json"
	"time"
)

// Include is the soft-delete visibility filter applied to entity and
// relationship reads.
type Include string

const (
	// IncludeAll returns both deleted and non-deleted rows.
	IncludeAll Include = "all"
	// IncludeNonDeleted returns only rows that are not soft-deleted.
	IncludeNonDeleted Include = "non-deleted"
	// IncludeDeleted returns only soft-deleted rows.
	IncludeDeleted Include = "deleted"
)

// Matches reports whether a row with the given deleted flag passes the filter.
func (i Include) Matches(deleted bool) bool {
	switch i {
	case IncludeDeleted:
		return deleted
	case IncludeNonDeleted:
		return !deleted
	default:
		return true
	}
}

// Relationship is a directed, typed edge kind between two entities.
// Edges are persisted by ordinal, so values are explicit and must never be
// reordered.
type Relationship int

const (
	RelationshipContains    Relationship = 0
	RelationshipCreated     Relationship = 1
	RelationshipRepliedTo   Relationship = 2
	RelationshipIsAbout     Relationship = 3
	RelationshipAddressedTo Relationship = 4
	RelationshipMentionedIn Relationship = 5
	RelationshipTestedBy    Relationship = 6
	RelationshipUses        Relationship = 7
	RelationshipOwns        Relationship = 8
	RelationshipParentOf    Relationship = 9
	RelationshipHas         Relationship = 10
	RelationshipFollows     Relationship = 11
	RelationshipJoinedWith  Relationship = 12
	RelationshipUpstream    Relationship = 13
	RelationshipAppliedTo   Relationship = 14
	RelationshipRelatedTo   Relationship = 15
	RelationshipReviews     Relationship = 16
	RelationshipReactedTo   Relationship = 17
	RelationshipVoted       Relationship = 18
	RelationshipExpert      Relationship = 19
)

// Ordinal returns the persisted integer value of the relationship.
func (r Relationship) Ordinal() int {
	return int(r)
}

func (r Relationship) String() string {
	switch r {
	case RelationshipContains:
		return "contains"
	case RelationshipCreated:
		return "created"
	case RelationshipUses:
		return "uses"
	case RelationshipOwns:
		return "owns"
	case RelationshipParentOf:
		return "parentOf"
	case RelationshipHas:
		return "has"
	case RelationshipFollows:
		return "follows"
	case RelationshipUpstream:
		return "upstream"
	case RelationshipReviews:
		return "reviews"
	case RelationshipExpert:
		return "expert"
	default:
		return "unknown"
	}
}

// EntityReference is a lightweight pointer to an entity: enough to resolve
// it from the catalog and to key index documents.
type EntityReference struct {
	ID                 ID     `json:"id"`
	Type               string `json:"type"`
	Name               string `json:"name,omitempty"`
	FullyQualifiedName string `json:"fullyQualifiedName,omitempty"`
	Deleted            bool   `json:"deleted,omitempty"`
}

// IsValid reports whether the reference carries both routing keys the
// consistency engine needs.
func (r *EntityReference) IsValid() bool {
	return r != nil && !r.ID.IsZero() && r.Type != ""
}

// Entity is a fully-fetched catalog entity. Document holds the raw JSON body
// as stored; the search document builder derives the indexable form from it.
type Entity struct {
	ID                 ID              `json:"id"`
	Type               string          `json:"type"`
	Name               string          `json:"name"`
	FullyQualifiedName string          `json:"fullyQualifiedName"`
	Deleted            bool            `json:"deleted"`
	Document           json.RawMessage `json:"document,omitempty"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Reference returns the entity's reference form.
func (e *Entity) Reference() EntityReference {
	if e == nil {
		return EntityReference{}
	}
	return EntityReference{
		ID:                 e.ID,
		Type:               e.Type,
		Name:               e.Name,
		FullyQualifiedName: e.FullyQualifiedName,
		Deleted:            e.Deleted,
	}
}

// Well-known entity type names. The catalog registry is the authoritative
// list; these constants exist for the types the engine special-cases.
const (
	EntityTypeTable          = "table"
	EntityTypeDatabase       = "database"
	EntityTypeDatabaseSchema = "databaseSchema"
	EntityTypeTopic          = "topic"
	EntityTypeDashboard      = "dashboard"
	EntityTypePipeline       = "pipeline"
	EntityTypeDomain         = "domain"
	EntityTypeDataProduct    = "dataProduct"
	EntityTypeGlossaryTerm   = "glossaryTerm"
	EntityTypeUser           = "user"
	EntityTypeTeam           = "team"
)
