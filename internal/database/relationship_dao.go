package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/datakite/searchsync/internal/types"
)

// RelationshipEdge is one directed typed edge between two entities.
type RelationshipEdge struct {
	FromID   types.ID
	FromType string
	ToID     types.ID
	ToType   string
	Relation int
}

// RelationshipRecord is the (id, type) pair returned by edge lookups,
// optionally carrying the relation ordinal when querying multiple kinds.
type RelationshipRecord struct {
	ID       types.ID
	Type     string
	Relation int
}

// RelationshipDAO provides database operations for the entity relationship
// edge table.
type RelationshipDAO interface {
	// Insert creates an edge; duplicate (from, to, relation) edges are ignored
	Insert(ctx context.Context, edge RelationshipEdge) error

	// Delete removes one edge
	Delete(ctx context.Context, fromID, toID types.ID, relation int) error

	// DeleteAllFor removes every edge attached to an entity, in either direction
	DeleteAllFor(ctx context.Context, id types.ID) error

	// FindTo returns entities pointed TO by edges going out of fromId
	FindTo(ctx context.Context, fromID types.ID, fromType string, relation int) ([]RelationshipRecord, error)

	// FindFrom returns entities pointing AT toId
	FindFrom(ctx context.Context, toID types.ID, toType string, relation int) ([]RelationshipRecord, error)

	// FindToByRelations is the grouped form of FindTo: one query for a set of
	// relation ordinals, used by the read-plan executor
	FindToByRelations(ctx context.Context, fromID types.ID, fromType string, relations []int) ([]RelationshipRecord, error)

	// FindFromByRelations is the grouped form of FindFrom
	FindFromByRelations(ctx context.Context, toID types.ID, toType string, relations []int) ([]RelationshipRecord, error)
}

// relationshipDAO implements RelationshipDAO
type relationshipDAO struct {
	db *DB
}

// NewRelationshipDAO creates a new relationship DAO
func NewRelationshipDAO(db *DB) RelationshipDAO {
	return &relationshipDAO{db: db}
}

func (d *relationshipDAO) Insert(ctx context.Context, edge RelationshipEdge) error {
	if edge.FromID.IsZero() || edge.ToID.IsZero() {
		return fmt.Errorf("relationship edge requires both endpoint ids")
	}

	query := `
		INSERT OR IGNORE INTO entity_relationship (from_id, from_type, to_id, to_type, relation)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := d.db.conn.ExecContext(ctx, query,
		edge.FromID, edge.FromType, edge.ToID, edge.ToType, edge.Relation)
	if err != nil {
		return fmt.Errorf("failed to insert relationship edge: %w", err)
	}
	return nil
}

func (d *relationshipDAO) Delete(ctx context.Context, fromID, toID types.ID, relation int) error {
	_, err := d.db.conn.ExecContext(ctx,
		`DELETE FROM entity_relationship WHERE from_id = ? AND to_id = ? AND relation = ?`,
		fromID, toID, relation)
	if err != nil {
		return fmt.Errorf("failed to delete relationship edge: %w", err)
	}
	return nil
}

func (d *relationshipDAO) DeleteAllFor(ctx context.Context, id types.ID) error {
	_, err := d.db.conn.ExecContext(ctx,
		`DELETE FROM entity_relationship WHERE from_id = ? OR to_id = ?`, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete relationship edges for %s: %w", id, err)
	}
	return nil
}

func (d *relationshipDAO) FindTo(ctx context.Context, fromID types.ID, fromType string, relation int) ([]RelationshipRecord, error) {
	query := `
		SELECT to_id, to_type, relation FROM entity_relationship
		WHERE from_id = ? AND from_type = ? AND relation = ?
	`
	return d.query(ctx, query, fromID, fromType, relation)
}

func (d *relationshipDAO) FindFrom(ctx context.Context, toID types.ID, toType string, relation int) ([]RelationshipRecord, error) {
	query := `
		SELECT from_id, from_type, relation FROM entity_relationship
		WHERE to_id = ? AND to_type = ? AND relation = ?
	`
	return d.query(ctx, query, toID, toType, relation)
}

func (d *relationshipDAO) FindToByRelations(ctx context.Context, fromID types.ID, fromType string, relations []int) ([]RelationshipRecord, error) {
	if len(relations) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT to_id, to_type, relation FROM entity_relationship
		WHERE from_id = ? AND from_type = ? AND relation IN (%s)
	`, placeholders(len(relations)))
	args := append([]any{fromID, fromType}, intArgs(relations)...)
	return d.query(ctx, query, args...)
}

func (d *relationshipDAO) FindFromByRelations(ctx context.Context, toID types.ID, toType string, relations []int) ([]RelationshipRecord, error) {
	if len(relations) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT from_id, from_type, relation FROM entity_relationship
		WHERE to_id = ? AND to_type = ? AND relation IN (%s)
	`, placeholders(len(relations)))
	args := append([]any{toID, toType}, intArgs(relations)...)
	return d.query(ctx, query, args...)
}

func (d *relationshipDAO) query(ctx context.Context, query string, args ...any) ([]RelationshipRecord, error) {
	rows, err := d.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationship edges: %w", err)
	}
	defer rows.Close()

	var records []RelationshipRecord
	for rows.Next() {
		var rec RelationshipRecord
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Relation); err != nil {
			return nil, fmt.Errorf("failed to scan relationship record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func intArgs(values []int) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
