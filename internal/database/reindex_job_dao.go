package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/datakite/searchsync/internal/types"
)

// ReindexJobStatus is the lifecycle state of a full-reindex job.
type ReindexJobStatus string

const (
	ReindexJobStatusReady     ReindexJobStatus = "READY"
	ReindexJobStatusRunning   ReindexJobStatus = "RUNNING"
	ReindexJobStatusStopping  ReindexJobStatus = "STOPPING"
	ReindexJobStatusStopped   ReindexJobStatus = "STOPPED"
	ReindexJobStatusCompleted ReindexJobStatus = "COMPLETED"
	ReindexJobStatusFailed    ReindexJobStatus = "FAILED"
)

// ActiveReindexJobStatuses are the statuses under which a reindex job
// suspends live incremental index repair.
var ActiveReindexJobStatuses = []ReindexJobStatus{
	ReindexJobStatusRunning, ReindexJobStatusReady, ReindexJobStatusStopping,
}

// ReindexJobConfig is the serialized configuration a reindex job carries.
// Entities lists the target entity types; the "all" token expands to every
// indexed type.
type ReindexJobConfig struct {
	Entities  []string `json:"entities"`
	BatchSize int      `json:"batchSize,omitempty"`
}

// ReindexJobRecord is one persisted reindex job.
type ReindexJobRecord struct {
	ID        types.ID
	Status    ReindexJobStatus
	JobConfig string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Config deserializes the job configuration; a missing or malformed
// configuration yields nil and an error the caller may treat as empty scope.
func (r *ReindexJobRecord) Config() (*ReindexJobConfig, error) {
	if r.JobConfig == "" {
		return nil, nil
	}
	var cfg ReindexJobConfig
	if err := json.Unmarshal([]byte(r.JobConfig), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse reindex job config: %w", err)
	}
	return &cfg, nil
}

// ReindexJobDAO provides database operations for the reindex job registry
type ReindexJobDAO interface {
	// Create persists a new job
	Create(ctx context.Context, job *ReindexJobRecord) error

	// UpdateStatus transitions a job's status
	UpdateStatus(ctx context.Context, id types.ID, status ReindexJobStatus) error

	// FindByStatusesWithLimit returns up to limit jobs in the given statuses,
	// most recently updated first
	FindByStatusesWithLimit(ctx context.Context, statuses []ReindexJobStatus, limit int) ([]ReindexJobRecord, error)
}

// reindexJobDAO implements ReindexJobDAO
type reindexJobDAO struct {
	db *DB
}

// NewReindexJobDAO creates a new reindex job DAO
func NewReindexJobDAO(db *DB) ReindexJobDAO {
	return &reindexJobDAO{db: db}
}

func (d *reindexJobDAO) Create(ctx context.Context, job *ReindexJobRecord) error {
	if job.ID.IsZero() {
		job.ID = types.NewID()
	}
	if job.Status == "" {
		job.Status = ReindexJobStatusReady
	}

	_, err := d.db.conn.ExecContext(ctx, `
		INSERT INTO reindex_jobs (id, status, job_config, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, job.ID, job.Status, job.JobConfig)
	if err != nil {
		return fmt.Errorf("failed to insert reindex job: %w", err)
	}
	return nil
}

func (d *reindexJobDAO) UpdateStatus(ctx context.Context, id types.ID, status ReindexJobStatus) error {
	result, err := d.db.conn.ExecContext(ctx, `
		UPDATE reindex_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update reindex job status: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("reindex job %s not found", id)
	}
	return nil
}

func (d *reindexJobDAO) FindByStatusesWithLimit(ctx context.Context, statuses []ReindexJobStatus, limit int) ([]ReindexJobRecord, error) {
	if len(statuses) == 0 || limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, status, COALESCE(job_config, ''), created_at, updated_at
		FROM reindex_jobs
		WHERE status IN (%s)
		ORDER BY updated_at DESC
		LIMIT ?
	`, placeholders(len(statuses)))

	args := make([]any, 0, len(statuses)+1)
	for _, s := range statuses {
		args = append(args, s)
	}
	args = append(args, limit)

	rows, err := d.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reindex jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ReindexJobRecord
	for rows.Next() {
		var job ReindexJobRecord
		if err := rows.Scan(&job.ID, &job.Status, &job.JobConfig, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reindex job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
