package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDocNotFound is returned by Delete when the document does not exist.
var ErrDocNotFound = errors.New("document not found")

// MemoryClient is an in-memory Client used in tests and local development.
// It stores documents per index and supports failure injection by document
// id, plus call recording for verification.
type MemoryClient struct {
	mu      sync.RWMutex
	indexes map[string]map[string][]byte // index -> docID -> body

	// Configurable failures
	failUpsertIDs map[string]string // docID -> reason
	failBulkIDs   map[string]string
	upsertErr     error
	bulkErr       error

	// Call recording
	upsertCalls int
	bulkCalls   int
	deleteCalls []DeleteCall
}

// DeleteCall records one Delete invocation.
type DeleteCall struct {
	IndexName string
	DocID     string
}

// NewMemoryClient creates an empty in-memory search client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		indexes:       make(map[string]map[string][]byte),
		failUpsertIDs: make(map[string]string),
		failBulkIDs:   make(map[string]string),
	}
}

// FailUpsert makes Upsert fail for the given document id.
func (c *MemoryClient) FailUpsert(docID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failUpsertIDs[docID] = reason
}

// FailBulkDoc makes Bulk report a per-document failure for the given id.
func (c *MemoryClient) FailBulkDoc(docID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failBulkIDs[docID] = reason
}

// SetUpsertError makes every Upsert call fail outright.
func (c *MemoryClient) SetUpsertError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertErr = err
}

// SetBulkError makes every Bulk call fail outright.
func (c *MemoryClient) SetBulkError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bulkErr = err
}

// Upsert implements Client.
func (c *MemoryClient) Upsert(ctx context.Context, indexName, docID string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertCalls++

	if c.upsertErr != nil {
		return c.upsertErr
	}
	if reason, ok := c.failUpsertIDs[docID]; ok {
		return fmt.Errorf("upsert rejected: %s", reason)
	}

	idx, ok := c.indexes[indexName]
	if !ok {
		idx = make(map[string][]byte)
		c.indexes[indexName] = idx
	}
	idx[docID] = append([]byte(nil), body...)
	return nil
}

// Delete implements Client.
func (c *MemoryClient) Delete(ctx context.Context, indexName, docID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteCalls = append(c.deleteCalls, DeleteCall{IndexName: indexName, DocID: docID})

	idx, ok := c.indexes[indexName]
	if !ok {
		return ErrDocNotFound
	}
	if _, ok := idx[docID]; !ok {
		return ErrDocNotFound
	}
	delete(idx, docID)
	return nil
}

// Bulk implements Client.
func (c *MemoryClient) Bulk(ctx context.Context, indexName string, items []BulkItem) ([]BulkFailure, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bulkCalls++

	if c.bulkErr != nil {
		return nil, c.bulkErr
	}

	idx, ok := c.indexes[indexName]
	if !ok {
		idx = make(map[string][]byte)
		c.indexes[indexName] = idx
	}

	var failures []BulkFailure
	for _, item := range items {
		if reason, ok := c.failBulkIDs[item.DocID]; ok {
			failures = append(failures, BulkFailure{DocID: item.DocID, Reason: reason})
			continue
		}
		idx[item.DocID] = append([]byte(nil), item.Body...)
	}
	return failures, nil
}

// Document returns a stored document body, if present.
func (c *MemoryClient) Document(indexName, docID string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[indexName]
	if !ok {
		return nil, false
	}
	body, ok := idx[docID]
	return body, ok
}

// DocCount returns the number of documents in an index.
func (c *MemoryClient) DocCount(indexName string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.indexes[indexName])
}

// DeleteCalls returns every recorded Delete invocation.
func (c *MemoryClient) DeleteCalls() []DeleteCall {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DeleteCall, len(c.deleteCalls))
	copy(out, c.deleteCalls)
	return out
}

// UpsertCalls returns the number of Upsert invocations.
func (c *MemoryClient) UpsertCalls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.upsertCalls
}

// BulkCalls returns the number of Bulk invocations.
func (c *MemoryClient) BulkCalls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bulkCalls
}
