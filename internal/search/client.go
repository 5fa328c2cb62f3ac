// Package search defines the contract the consistency engine requires from
// a pluggable full-text index: upsert/delete by document id, bulk writes,
// and per-entity-type index resolution. The index's own storage engine is
// out of scope.
package search

import (
	"context"
)

// BulkItem is one document in a bulk write.
type BulkItem struct {
	DocID string
	Body  []byte
}

// BulkFailure reports one document a bulk write could not apply.
type BulkFailure struct {
	DocID  string
	Reason string
}

// Client is the minimal surface of a full-text search engine.
type Client interface {
	// Upsert writes one document by id, creating or replacing it.
	Upsert(ctx context.Context, indexName, docID string, body []byte) error

	// Delete removes one document by id. Implementations return
	// ErrDocNotFound when the document does not exist.
	Delete(ctx context.Context, indexName, docID string) error

	// Bulk writes a batch of documents to one index. Per-document failures
	// are returned without failing the whole batch; a non-nil error means
	// the batch as a whole could not be submitted.
	Bulk(ctx context.Context, indexName string, items []BulkItem) ([]BulkFailure, error)
}

// IndexMapping describes how one entity type maps onto the search engine.
type IndexMapping struct {
	EntityType string
	IndexName  string
}

// ResolveIndexName prefixes the index name with the cluster alias, when set.
func (m IndexMapping) ResolveIndexName(clusterAlias string) string {
	if clusterAlias == "" {
		return m.IndexName
	}
	return clusterAlias + "_" + m.IndexName
}
