package retry

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakite/searchsync/internal/database"
	"github.com/datakite/searchsync/internal/types"
)

func setupEnqueuer(t *testing.T) (*Enqueuer, database.RetryQueueDAO) {
	t.Helper()
	h := setupWorker(t, Config{})
	return NewEnqueuer(h.queue, nil), h.queue
}

func TestEnqueueRecordsPendingRow(t *testing.T) {
	ctx := context.Background()
	enq, queue := setupEnqueuer(t)

	id := types.NewID().String()
	enq.Enqueue(ctx, id, "svc.db.t", "index write rejected")

	rows, err := queue.ListByStatus(ctx, database.RetryStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].EntityID)
	assert.Equal(t, "svc.db.t", rows[0].EntityFQN)
	assert.Equal(t, "index write rejected", rows[0].LastFailureReason)
}

func TestEnqueueTrimsRoutingKeys(t *testing.T) {
	ctx := context.Background()
	enq, queue := setupEnqueuer(t)

	enq.Enqueue(ctx, "  ", "  svc.db.t  ", "boom")

	rows, err := queue.ListByStatus(ctx, database.RetryStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0].EntityID)
	assert.Equal(t, "svc.db.t", rows[0].EntityFQN)
}

func TestEnqueueDropsRowsWithoutRoutingKeys(t *testing.T) {
	ctx := context.Background()
	enq, queue := setupEnqueuer(t)

	enq.Enqueue(ctx, "", "   ", "boom")

	count, err := queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEnqueueEntity(t *testing.T) {
	ctx := context.Background()
	enq, queue := setupEnqueuer(t)

	entity := &types.Entity{
		ID:                 types.NewID(),
		Type:               types.EntityTypeTable,
		FullyQualifiedName: "svc.db.t",
	}
	enq.EnqueueEntity(ctx, entity, "updateEntity", fmt.Errorf("shard unavailable"))
	enq.EnqueueEntity(ctx, nil, "updateEntity", fmt.Errorf("ignored"))

	rows, err := queue.ListByStatus(ctx, database.RetryStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "updateEntity: shard unavailable", rows[0].LastFailureReason)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "updateEntity: boom", FailureReason("updateEntity", fmt.Errorf("boom")))
	assert.Equal(t, "boom", FailureReason("", fmt.Errorf("boom")))
	assert.Equal(t, "updateEntity: Unknown failure", FailureReason("updateEntity", nil))
	assert.Equal(t, "Unknown failure", FailureReason("  ", nil))
}

func TestFailureReasonTruncation(t *testing.T) {
	long := strings.Repeat("x", maxReasonLength*2)
	reason := FailureReason("op", fmt.Errorf("%s", long))
	assert.Len(t, reason, maxReasonLength)
	assert.True(t, strings.HasPrefix(reason, "op: "))
}
