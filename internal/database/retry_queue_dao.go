package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RetryStatus is the state of one retry queue row. Statuses only advance
// forward; terminal success is row deletion, not a status.
type RetryStatus string

const (
	// RetryStatusPending indicates a freshly enqueued failed index write
	RetryStatusPending RetryStatus = "PENDING"
	// RetryStatusRetry1 indicates one unsuccessful repair attempt
	RetryStatusRetry1 RetryStatus = "PENDING_RETRY_1"
	// RetryStatusRetry2 indicates two unsuccessful repair attempts
	RetryStatusRetry2 RetryStatus = "PENDING_RETRY_2"
	// RetryStatusFailed indicates the automatic retry chain is exhausted;
	// the row stays queryable until an operator clears or requeues it
	RetryStatusFailed RetryStatus = "FAILED"
)

// NextRetryStatus returns the forward status chain
// PENDING -> RETRY_1 -> RETRY_2 -> FAILED; FAILED maps to itself.
func NextRetryStatus(current RetryStatus) RetryStatus {
	switch current {
	case RetryStatusPending:
		return RetryStatusRetry1
	case RetryStatusRetry1:
		return RetryStatusRetry2
	case RetryStatusRetry2:
		return RetryStatusFailed
	default:
		return RetryStatusFailed
	}
}

// ClaimableStatuses are the statuses the worker claims for automatic retry.
// FAILED rows require operator intervention and are not claimed.
var ClaimableStatuses = []RetryStatus{RetryStatusPending, RetryStatusRetry1, RetryStatusRetry2}

// PurgeableStatuses are the statuses purged when a full reindex supersedes
// queued incremental repairs.
var PurgeableStatuses = []RetryStatus{
	RetryStatusPending, RetryStatusRetry1, RetryStatusRetry2, RetryStatusFailed,
}

// claimLease bounds how long a claim excludes a row from other workers.
// A worker that dies mid-claim releases its rows after the lease expires.
const claimLease = 5 * time.Minute

// RetryRecord is one durable retry queue row.
type RetryRecord struct {
	EntityID          string
	EntityFQN         string
	Status            RetryStatus
	LastFailureReason string
	ClaimedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RetryQueueDAO provides database operations for the search index retry queue.
// ClaimPending is the sole cross-instance coordination primitive: it must
// atomically mark rows as owned by one worker.
type RetryQueueDAO interface {
	// Upsert enqueues a row, or refreshes the failure reason of an existing one
	Upsert(ctx context.Context, entityID, entityFQN, failureReason string, status RetryStatus) error

	// ClaimPending atomically claims up to limit claimable rows for this caller
	ClaimPending(ctx context.Context, limit int) ([]RetryRecord, error)

	// DeleteByEntity removes the row for one entity (terminal success)
	DeleteByEntity(ctx context.Context, entityID, entityFQN string) error

	// DeleteByStatuses bulk-deletes rows in the given statuses, returning the count
	DeleteByStatuses(ctx context.Context, statuses []RetryStatus) (int, error)

	// UpdateFailureAndStatus records a failure reason, advances the status,
	// and releases the claim
	UpdateFailureAndStatus(ctx context.Context, entityID, entityFQN, failureReason string, status RetryStatus) error

	// ResetFailed requeues FAILED rows as PENDING, returning the count
	ResetFailed(ctx context.Context) (int, error)

	// ListByStatus returns up to limit rows in the given status
	ListByStatus(ctx context.Context, status RetryStatus, limit int) ([]RetryRecord, error)

	// Count returns the total number of queued rows
	Count(ctx context.Context) (int, error)
}

// retryQueueDAO implements RetryQueueDAO
type retryQueueDAO struct {
	db *DB
}

// NewRetryQueueDAO creates a new retry queue DAO
func NewRetryQueueDAO(db *DB) RetryQueueDAO {
	return &retryQueueDAO{db: db}
}

func (d *retryQueueDAO) Upsert(ctx context.Context, entityID, entityFQN, failureReason string, status RetryStatus) error {
	query := `
		INSERT INTO search_index_retry_queue (entity_id, entity_fqn, status, last_failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (entity_id, entity_fqn) DO UPDATE SET
			last_failure_reason = excluded.last_failure_reason,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := d.db.conn.ExecContext(ctx, query, entityID, entityFQN, status, failureReason)
	if err != nil {
		return fmt.Errorf("failed to upsert retry queue row: %w", err)
	}
	return nil
}

// ClaimPending marks rows with a fresh claim token in a single UPDATE, then
// reads the claimed rows back by token. The UPDATE is atomic, so two workers
// (in the same or different processes) can never claim the same row while a
// lease is live.
func (d *retryQueueDAO) ClaimPending(ctx context.Context, limit int) ([]RetryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	token := uuid.New().String()
	leaseSeconds := int(claimLease.Seconds())

	claim := fmt.Sprintf(`
		UPDATE search_index_retry_queue
		SET claim_token = ?, claimed_at = CURRENT_TIMESTAMP
		WHERE rowid IN (
			SELECT rowid FROM search_index_retry_queue
			WHERE status IN (%s)
			  AND (claim_token IS NULL
			       OR claimed_at IS NULL
			       OR claimed_at < datetime('now', '-%d seconds'))
			ORDER BY updated_at ASC
			LIMIT ?
		)
	`, statusPlaceholders(len(ClaimableStatuses)), leaseSeconds)

	args := statusArgs(ClaimableStatuses)
	args = append([]any{token}, args...)
	args = append(args, limit)

	if _, err := d.db.conn.ExecContext(ctx, claim, args...); err != nil {
		return nil, fmt.Errorf("failed to claim retry queue rows: %w", err)
	}

	rows, err := d.db.conn.QueryContext(ctx, `
		SELECT entity_id, entity_fqn, status, COALESCE(last_failure_reason, ''), claimed_at, created_at, updated_at
		FROM search_index_retry_queue
		WHERE claim_token = ?
		ORDER BY updated_at ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed retry queue rows: %w", err)
	}
	defer rows.Close()

	var records []RetryRecord
	for rows.Next() {
		var rec RetryRecord
		if err := rows.Scan(&rec.EntityID, &rec.EntityFQN, &rec.Status,
			&rec.LastFailureReason, &rec.ClaimedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan retry queue row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (d *retryQueueDAO) DeleteByEntity(ctx context.Context, entityID, entityFQN string) error {
	_, err := d.db.conn.ExecContext(ctx,
		`DELETE FROM search_index_retry_queue WHERE entity_id = ? AND entity_fqn = ?`,
		entityID, entityFQN)
	if err != nil {
		return fmt.Errorf("failed to delete retry queue row: %w", err)
	}
	return nil
}

func (d *retryQueueDAO) DeleteByStatuses(ctx context.Context, statuses []RetryStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(
		`DELETE FROM search_index_retry_queue WHERE status IN (%s)`,
		statusPlaceholders(len(statuses)))
	result, err := d.db.conn.ExecContext(ctx, query, statusArgs(statuses)...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge retry queue rows: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}

func (d *retryQueueDAO) UpdateFailureAndStatus(ctx context.Context, entityID, entityFQN, failureReason string, status RetryStatus) error {
	_, err := d.db.conn.ExecContext(ctx, `
		UPDATE search_index_retry_queue
		SET status = ?, last_failure_reason = ?, claim_token = NULL, claimed_at = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE entity_id = ? AND entity_fqn = ?
	`, status, failureReason, entityID, entityFQN)
	if err != nil {
		return fmt.Errorf("failed to update retry queue row: %w", err)
	}
	return nil
}

func (d *retryQueueDAO) ResetFailed(ctx context.Context) (int, error) {
	result, err := d.db.conn.ExecContext(ctx, `
		UPDATE search_index_retry_queue
		SET status = ?, claim_token = NULL, claimed_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE status = ?
	`, RetryStatusPending, RetryStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue failed rows: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}

func (d *retryQueueDAO) ListByStatus(ctx context.Context, status RetryStatus, limit int) ([]RetryRecord, error) {
	rows, err := d.db.conn.QueryContext(ctx, `
		SELECT entity_id, entity_fqn, status, COALESCE(last_failure_reason, ''), claimed_at, created_at, updated_at
		FROM search_index_retry_queue
		WHERE status = ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry queue rows: %w", err)
	}
	defer rows.Close()

	var records []RetryRecord
	for rows.Next() {
		var rec RetryRecord
		if err := rows.Scan(&rec.EntityID, &rec.EntityFQN, &rec.Status,
			&rec.LastFailureReason, &rec.ClaimedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan retry queue row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (d *retryQueueDAO) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_index_retry_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count retry queue rows: %w", err)
	}
	return count, nil
}

func statusPlaceholders(n int) string {
	return placeholders(n)
}

func statusArgs(statuses []RetryStatus) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return args
}
