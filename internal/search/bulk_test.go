package search

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakite/searchsync/internal/types"
)

func makeEntities(entityType string, n int) []*types.Entity {
	out := make([]*types.Entity, n)
	for i := range out {
		out[i] = &types.Entity{
			ID:                 types.NewID(),
			Type:               entityType,
			Name:               fmt.Sprintf("e%d", i),
			FullyQualifiedName: fmt.Sprintf("svc.%s.e%d", entityType, i),
			Document:           []byte("{}"),
		}
	}
	return out
}

func TestBulkSinkWritesAllDocuments(t *testing.T) {
	repo, client := newTestRepository("")
	sink := repo.NewBulkSink(10, 2, 0)
	defer sink.Close()

	ctx := context.Background()
	entities := makeEntities(types.EntityTypeTable, 25)
	require.NoError(t, sink.Write(ctx, types.EntityTypeTable, entities))

	ok, err := sink.FlushAndAwait(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, sink.Close())

	assert.Equal(t, 25, client.DocCount("table_search_index"))
	// 25 docs at batch size 10: two full batches plus the flushed remainder
	assert.Equal(t, 3, client.BulkCalls())
}

func TestBulkSinkGroupsByEntityType(t *testing.T) {
	repo, client := newTestRepository("")
	sink := repo.NewBulkSink(100, 2, 0)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, types.EntityTypeTable, makeEntities(types.EntityTypeTable, 3)))
	require.NoError(t, sink.Write(ctx, types.EntityTypeDomain, makeEntities(types.EntityTypeDomain, 2)))

	ok, err := sink.FlushAndAwait(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 3, client.DocCount("table_search_index"))
	assert.Equal(t, 2, client.DocCount("domain_search_index"))
}

func TestBulkSinkMemoryCapForcesFlush(t *testing.T) {
	repo, client := newTestRepository("")
	// tiny cap: every document overflows the budget and flushes immediately
	sink := repo.NewBulkSink(1000, 1, 1)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, types.EntityTypeTable, makeEntities(types.EntityTypeTable, 4)))

	ok, err := sink.FlushAndAwait(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, client.DocCount("table_search_index"))
}

func TestBulkSinkReportsPerDocumentFailures(t *testing.T) {
	repo, client := newTestRepository("")
	entities := makeEntities(types.EntityTypeTable, 5)
	client.FailBulkDoc(entities[2].ID.String(), "mapping conflict")

	sink := repo.NewBulkSink(10, 1, 0)
	defer sink.Close()

	var mu sync.Mutex
	var failed []string
	var reasons []string
	sink.OnFailure(func(entityType, entityID, entityFQN, reason string) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, entityID)
		reasons = append(reasons, reason)
	})

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, types.EntityTypeTable, entities))
	ok, err := sink.FlushAndAwait(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, sink.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failed, 1)
	assert.Equal(t, entities[2].ID.String(), failed[0])
	assert.Equal(t, "mapping conflict", reasons[0])
	// the other four documents landed
	assert.Equal(t, 4, client.DocCount("table_search_index"))
}

func TestBulkSinkWholeBatchErrorFailsEveryDocument(t *testing.T) {
	repo, client := newTestRepository("")
	client.SetBulkError(fmt.Errorf("cluster unreachable"))

	sink := repo.NewBulkSink(10, 1, 0)
	defer sink.Close()

	var mu sync.Mutex
	failures := 0
	sink.OnFailure(func(entityType, entityID, entityFQN, reason string) {
		mu.Lock()
		defer mu.Unlock()
		failures++
	})

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, types.EntityTypeTable, makeEntities(types.EntityTypeTable, 3)))
	ok, err := sink.FlushAndAwait(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, sink.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, failures)
}

func TestBulkSinkUnmappedTypeFailsDocuments(t *testing.T) {
	repo, _ := newTestRepository("")

	sink := repo.NewBulkSink(10, 1, 0)
	defer sink.Close()

	var mu sync.Mutex
	var reasons []string
	sink.OnFailure(func(entityType, entityID, entityFQN, reason string) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, reason)
	})

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, "widget", makeEntities("widget", 2)))
	ok, err := sink.FlushAndAwait(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, sink.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, reasons, 2)
}

func TestBulkSinkSkipsNilAndZeroIDEntities(t *testing.T) {
	repo, client := newTestRepository("")
	sink := repo.NewBulkSink(10, 1, 0)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, types.EntityTypeTable, []*types.Entity{
		nil,
		{Type: types.EntityTypeTable, Document: []byte("{}")},
	}))
	ok, err := sink.FlushAndAwait(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, client.DocCount("table_search_index"))
}

func TestBulkSinkCloseIsIdempotent(t *testing.T) {
	repo, _ := newTestRepository("")
	sink := repo.NewBulkSink(10, 2, 0)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
}

// stallingClient delays every bulk call so flush deadlines can expire.
type stallingClient struct {
	*MemoryClient
	delay time.Duration
}

func (c *stallingClient) Bulk(ctx context.Context, indexName string, items []BulkItem) ([]BulkFailure, error) {
	time.Sleep(c.delay)
	return c.MemoryClient.Bulk(ctx, indexName, items)
}

func TestBulkSinkFlushTimeoutReportsNotFlushed(t *testing.T) {
	client := &stallingClient{MemoryClient: NewMemoryClient(), delay: 300 * time.Millisecond}
	repo := NewRepository(client, "")
	repo.RegisterIndex(IndexMapping{EntityType: types.EntityTypeTable, IndexName: "table_search_index"}, nil)

	sink := repo.NewBulkSink(1, 1, 0)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, types.EntityTypeTable, makeEntities(types.EntityTypeTable, 2)))

	ok, err := sink.FlushAndAwait(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}
