package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/datakite/searchsync/internal/types"
)

// ErrEntityNotFound is returned when no entity row matches a lookup.
var ErrEntityNotFound = errors.New("entity not found")

// EntityRow is one persisted catalog entity.
type EntityRow struct {
	ID         types.ID
	EntityType string
	Name       string
	FQN        string
	Deleted    bool
	JSON       string
	UpdatedAt  time.Time
}

// EntityDAO provides database operations for catalog entities
type EntityDAO interface {
	// Insert creates a new entity row
	Insert(ctx context.Context, row *EntityRow) error

	// Update replaces an entity's document and extracted columns
	Update(ctx context.Context, row *EntityRow) error

	// GetByID retrieves an entity by (type, id) honoring the include filter
	GetByID(ctx context.Context, entityType string, id types.ID, include types.Include) (*EntityRow, error)

	// GetByName retrieves an entity by (type, fqn) honoring the include filter
	GetByName(ctx context.Context, entityType, fqn string, include types.Include) (*EntityRow, error)

	// SoftDelete marks an entity row deleted
	SoftDelete(ctx context.Context, entityType string, id types.ID) error

	// HardDelete removes an entity row
	HardDelete(ctx context.Context, entityType string, id types.ID) error

	// ListTypes returns the distinct entity types with at least one row
	ListTypes(ctx context.Context) ([]string, error)
}

// entityDAO implements EntityDAO
type entityDAO struct {
	db *DB
}

// NewEntityDAO creates a new entity DAO
func NewEntityDAO(db *DB) EntityDAO {
	return &entityDAO{db: db}
}

func (d *entityDAO) Insert(ctx context.Context, row *EntityRow) error {
	if row.ID.IsZero() {
		row.ID = types.NewID()
	}

	query := `
		INSERT INTO entities (id, entity_type, name, fqn, deleted, json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`
	_, err := d.db.conn.ExecContext(ctx, query,
		row.ID, row.EntityType, row.Name, row.FQN, row.Deleted, row.JSON)
	if err != nil {
		return fmt.Errorf("failed to insert entity %s/%s: %w", row.EntityType, row.ID, err)
	}
	return nil
}

func (d *entityDAO) Update(ctx context.Context, row *EntityRow) error {
	query := `
		UPDATE entities
		SET name = ?, fqn = ?, deleted = ?, json = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND entity_type = ?
	`
	result, err := d.db.conn.ExecContext(ctx, query,
		row.Name, row.FQN, row.Deleted, row.JSON, row.ID, row.EntityType)
	if err != nil {
		return fmt.Errorf("failed to update entity %s/%s: %w", row.EntityType, row.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (d *entityDAO) GetByID(ctx context.Context, entityType string, id types.ID, include types.Include) (*EntityRow, error) {
	query := `
		SELECT id, entity_type, name, fqn, deleted, json, updated_at
		FROM entities
		WHERE id = ? AND entity_type = ?
	` + includeClause(include)
	return d.getOne(ctx, query, id, entityType)
}

func (d *entityDAO) GetByName(ctx context.Context, entityType, fqn string, include types.Include) (*EntityRow, error) {
	query := `
		SELECT id, entity_type, name, fqn, deleted, json, updated_at
		FROM entities
		WHERE fqn = ? AND entity_type = ?
	` + includeClause(include)
	return d.getOne(ctx, query, fqn, entityType)
}

func (d *entityDAO) getOne(ctx context.Context, query string, args ...any) (*EntityRow, error) {
	var row EntityRow
	err := d.db.conn.QueryRowContext(ctx, query, args...).Scan(
		&row.ID, &row.EntityType, &row.Name, &row.FQN, &row.Deleted, &row.JSON, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entity: %w", err)
	}
	return &row, nil
}

func (d *entityDAO) SoftDelete(ctx context.Context, entityType string, id types.ID) error {
	result, err := d.db.conn.ExecContext(ctx, `
		UPDATE entities SET deleted = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND entity_type = ?`, id, entityType)
	if err != nil {
		return fmt.Errorf("failed to soft-delete entity %s/%s: %w", entityType, id, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (d *entityDAO) HardDelete(ctx context.Context, entityType string, id types.ID) error {
	_, err := d.db.conn.ExecContext(ctx,
		`DELETE FROM entities WHERE id = ? AND entity_type = ?`, id, entityType)
	if err != nil {
		return fmt.Errorf("failed to hard-delete entity %s/%s: %w", entityType, id, err)
	}
	return nil
}

func (d *entityDAO) ListTypes(ctx context.Context) ([]string, error) {
	rows, err := d.db.conn.QueryContext(ctx,
		`SELECT DISTINCT entity_type FROM entities ORDER BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity types: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan entity type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// includeClause translates the soft-delete visibility filter into SQL.
func includeClause(include types.Include) string {
	switch include {
	case types.IncludeDeleted:
		return " AND deleted = 1"
	case types.IncludeNonDeleted:
		return " AND deleted = 0"
	default:
		return ""
	}
}
