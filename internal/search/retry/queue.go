// Package retry implements the asynchronous repair path for failed
// live-indexing writes: a durable queue of failed documents and a worker
// pool that re-derives and re-upserts them until the index converges with
// the relational store.
package retry

import (
	"context"
	"log/slog"
	"strings"

	"github.com/datakite/searchsync/internal/database"
	"github.com/datakite/searchsync/internal/types"
)

// maxReasonLength bounds persisted failure reasons.
const maxReasonLength = 8192

// Enqueuer records failed live-index writes in the retry queue. Enqueue is
// best-effort: a failure to enqueue is logged, never surfaced, because the
// caller is already on a failure path.
type Enqueuer struct {
	queue  database.RetryQueueDAO
	logger *slog.Logger
}

// NewEnqueuer creates an enqueuer over the retry queue DAO.
func NewEnqueuer(queue database.RetryQueueDAO, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{queue: queue, logger: logger}
}

// EnqueueEntity records a failed index write for an entity.
func (e *Enqueuer) EnqueueEntity(ctx context.Context, entity *types.Entity, operation string, failure error) {
	if entity == nil {
		return
	}
	e.Enqueue(ctx, entity.ID.String(), entity.FullyQualifiedName, FailureReason(operation, failure))
}

// Enqueue records a failed index write by routing keys. Rows require at
// least one routing key; a call with neither is dropped.
func (e *Enqueuer) Enqueue(ctx context.Context, entityID, entityFQN, failureReason string) {
	entityID = normalize(entityID)
	entityFQN = normalize(entityFQN)
	if entityID == "" && entityFQN == "" {
		return
	}

	err := e.queue.Upsert(ctx, entityID, entityFQN, truncateReason(failureReason), database.RetryStatusPending)
	if err != nil {
		e.logger.Warn("failed to record search retry queue row",
			"entityId", entityID, "entityFqn", entityFQN, "error", err)
	}
}

// FailureReason formats a persisted failure reason from an operation name
// and an error, bounded to the storable length.
func FailureReason(operation string, failure error) string {
	operation = normalize(operation)
	message := "Unknown failure"
	if failure != nil {
		message = failure.Error()
	}
	if operation == "" {
		return truncateReason(message)
	}
	return truncateReason(operation + ": " + message)
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func truncateReason(value string) string {
	if len(value) <= maxReasonLength {
		return value
	}
	return value[:maxReasonLength]
}
