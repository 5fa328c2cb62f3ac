package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/datakite/searchsync/internal/types"
)

// FailureCallback receives one failed document from a bulk write.
type FailureCallback func(entityType, entityID, entityFQN, reason string)

// BulkSink is a bounded bulk writer: documents are grouped into batches of
// batchSize, dispatched to a fixed pool of flush workers, and capped by an
// in-memory pending-bytes budget that forces an early flush.
//
// Usage: Write any number of groups, FlushAndAwait once, then Close. The
// sink is safe for concurrent Write calls.
type BulkSink struct {
	repo        *Repository
	batchSize   int
	memoryCap   int64
	jobs        chan bulkJob
	group       *errgroup.Group
	groupCtx    context.Context
	inflight    sync.WaitGroup
	closeOnce   sync.Once
	closeErr    error
	callbackMu  sync.RWMutex
	onFailure   FailureCallback
	pendingMu   sync.Mutex
	pending     map[string][]bulkDoc // keyed by entity type
	pendingSize int64
}

type bulkDoc struct {
	entityID  string
	entityFQN string
	body      []byte
}

type bulkJob struct {
	ctx        context.Context
	entityType string
	docs       []bulkDoc
}

// NewBulkSink creates a sink with the given batch size, worker concurrency,
// and pending-memory cap in bytes.
func (r *Repository) NewBulkSink(batchSize, concurrency int, memoryCap int64) *BulkSink {
	if batchSize <= 0 {
		batchSize = 200
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	s := &BulkSink{
		repo:      r,
		batchSize: batchSize,
		memoryCap: memoryCap,
		jobs:      make(chan bulkJob, concurrency*2),
		pending:   make(map[string][]bulkDoc),
	}

	g, ctx := errgroup.WithContext(context.Background())
	s.group = g
	s.groupCtx = ctx
	for i := 0; i < concurrency; i++ {
		g.Go(s.worker)
	}
	return s
}

// OnFailure registers the per-document failure callback. Must be set before
// the first Write to observe every failure.
func (s *BulkSink) OnFailure(cb FailureCallback) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onFailure = cb
}

// Write enqueues one entity type's documents. Full batches are dispatched
// immediately; the remainder stays pending until the next Write or flush.
func (s *BulkSink) Write(ctx context.Context, entityType string, entities []*types.Entity) error {
	for _, entity := range entities {
		if entity == nil || entity.ID.IsZero() {
			continue
		}
		body, err := s.repo.BuildDocument(entityType, entity)
		if err != nil {
			s.reportFailure(entityType, entity.ID.String(), entity.FullyQualifiedName,
				fmt.Sprintf("document build failed: %v", err))
			continue
		}

		s.pendingMu.Lock()
		s.pending[entityType] = append(s.pending[entityType], bulkDoc{
			entityID:  entity.ID.String(),
			entityFQN: entity.FullyQualifiedName,
			body:      body,
		})
		s.pendingSize += int64(len(body))
		full := len(s.pending[entityType]) >= s.batchSize
		overCap := s.memoryCap > 0 && s.pendingSize > s.memoryCap
		s.pendingMu.Unlock()

		if full || overCap {
			if err := s.flushPending(ctx, overCap); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushAndAwait dispatches any pending documents and waits until every
// in-flight batch has been written, or the timeout elapses. It returns false
// on timeout; the caller must treat that as a hard failure.
func (s *BulkSink) FlushAndAwait(ctx context.Context, timeout time.Duration) (bool, error) {
	if err := s.flushPending(ctx, true); err != nil {
		return false, err
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true, nil
	case <-time.After(timeout):
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close shuts the worker pool down and reports any hard batch-submit error.
// Safe to call more than once.
func (s *BulkSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.jobs)
		s.closeErr = s.group.Wait()
	})
	return s.closeErr
}

// flushPending dispatches full batches; when all is set, partial batches too.
func (s *BulkSink) flushPending(ctx context.Context, all bool) error {
	var jobs []bulkJob

	s.pendingMu.Lock()
	for entityType, docs := range s.pending {
		for len(docs) >= s.batchSize {
			jobs = append(jobs, bulkJob{ctx: ctx, entityType: entityType, docs: docs[:s.batchSize]})
			docs = docs[s.batchSize:]
		}
		if all && len(docs) > 0 {
			jobs = append(jobs, bulkJob{ctx: ctx, entityType: entityType, docs: docs})
			docs = nil
		}
		if len(docs) == 0 {
			delete(s.pending, entityType)
		} else {
			s.pending[entityType] = docs
		}
	}
	for _, job := range jobs {
		for _, doc := range job.docs {
			s.pendingSize -= int64(len(doc.body))
		}
	}
	if s.pendingSize < 0 {
		s.pendingSize = 0
	}
	s.pendingMu.Unlock()

	for _, job := range jobs {
		s.inflight.Add(1)
		select {
		case s.jobs <- job:
		case <-s.groupCtx.Done():
			s.inflight.Done()
			return fmt.Errorf("bulk sink workers stopped: %w", s.groupCtx.Err())
		case <-ctx.Done():
			s.inflight.Done()
			return ctx.Err()
		}
	}
	return nil
}

func (s *BulkSink) worker() error {
	for job := range s.jobs {
		err := s.writeBatch(job)
		s.inflight.Done()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *BulkSink) writeBatch(job bulkJob) error {
	indexName, err := s.repo.IndexNameFor(job.entityType)
	if err != nil {
		// No mapping: every document in the batch is a failure, not a
		// worker-stopping error.
		for _, doc := range job.docs {
			s.reportFailure(job.entityType, doc.entityID, doc.entityFQN, err.Error())
		}
		return nil
	}

	items := make([]BulkItem, 0, len(job.docs))
	byID := make(map[string]bulkDoc, len(job.docs))
	for _, doc := range job.docs {
		items = append(items, BulkItem{DocID: doc.entityID, Body: doc.body})
		byID[doc.entityID] = doc
	}

	failures, err := s.repo.Client().Bulk(job.ctx, indexName, items)
	if err != nil {
		for _, doc := range job.docs {
			s.reportFailure(job.entityType, doc.entityID, doc.entityFQN, err.Error())
		}
		return nil
	}
	for _, failure := range failures {
		doc := byID[failure.DocID]
		s.reportFailure(job.entityType, failure.DocID, doc.entityFQN, failure.Reason)
	}
	return nil
}

func (s *BulkSink) reportFailure(entityType, entityID, entityFQN, reason string) {
	s.callbackMu.RLock()
	cb := s.onFailure
	s.callbackMu.RUnlock()
	if cb != nil {
		cb(entityType, entityID, entityFQN, reason)
	}
}
