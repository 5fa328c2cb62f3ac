package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datakite/searchsync/internal/catalog"
	"github.com/datakite/searchsync/internal/database"
	"github.com/datakite/searchsync/internal/events"
	"github.com/datakite/searchsync/internal/observability"
	"github.com/datakite/searchsync/internal/search"
	"github.com/datakite/searchsync/internal/types"
)

// Worker defaults. All of them are overridable through Config.
const (
	DefaultConsumerThreads   = 4
	DefaultPollInterval      = 5 * time.Second
	DefaultClaimBatchSize    = 25
	DefaultMaxCascadeReindex = 5000

	DefaultSuspensionRefreshInterval     = 5 * time.Second
	DefaultCandidateTypesRefreshInterval = 60 * time.Second

	DefaultBulkBatchSize    = 200
	DefaultBulkConcurrency  = 5
	DefaultBulkMemoryCap    = 10 * 1024 * 1024
	DefaultBulkFlushTimeout = 60 * time.Second

	stopJoinTimeout = 10 * time.Second
)

// hasCascadeTypes is the fixed allow-list of entity types whose membership
// edges (HAS) cascade into member documents, in addition to the CONTAINS
// containment edges every type cascades through.
var hasCascadeTypes = map[string]struct{}{
	types.EntityTypeDomain:      {},
	types.EntityTypeDataProduct: {},
}

// Config tunes the retry worker pool.
type Config struct {
	ConsumerThreads   int
	PollInterval      time.Duration
	ClaimBatchSize    int
	MaxCascadeReindex int

	SuspensionRefreshInterval     time.Duration
	CandidateTypesRefreshInterval time.Duration

	BulkBatchSize    int
	BulkConcurrency  int
	BulkMemoryCap    int64
	BulkFlushTimeout time.Duration
}

// DefaultWorkerConfig returns the production defaults.
func DefaultWorkerConfig() Config {
	return Config{
		ConsumerThreads:               DefaultConsumerThreads,
		PollInterval:                  DefaultPollInterval,
		ClaimBatchSize:                DefaultClaimBatchSize,
		MaxCascadeReindex:             DefaultMaxCascadeReindex,
		SuspensionRefreshInterval:     DefaultSuspensionRefreshInterval,
		CandidateTypesRefreshInterval: DefaultCandidateTypesRefreshInterval,
		BulkBatchSize:                 DefaultBulkBatchSize,
		BulkConcurrency:               DefaultBulkConcurrency,
		BulkMemoryCap:                 DefaultBulkMemoryCap,
		BulkFlushTimeout:              DefaultBulkFlushTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultWorkerConfig()
	if c.ConsumerThreads <= 0 {
		c.ConsumerThreads = d.ConsumerThreads
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ClaimBatchSize <= 0 {
		c.ClaimBatchSize = d.ClaimBatchSize
	}
	if c.MaxCascadeReindex <= 0 {
		c.MaxCascadeReindex = d.MaxCascadeReindex
	}
	if c.SuspensionRefreshInterval <= 0 {
		c.SuspensionRefreshInterval = d.SuspensionRefreshInterval
	}
	if c.CandidateTypesRefreshInterval <= 0 {
		c.CandidateTypesRefreshInterval = d.CandidateTypesRefreshInterval
	}
	if c.BulkBatchSize <= 0 {
		c.BulkBatchSize = d.BulkBatchSize
	}
	if c.BulkConcurrency <= 0 {
		c.BulkConcurrency = d.BulkConcurrency
	}
	if c.BulkMemoryCap <= 0 {
		c.BulkMemoryCap = d.BulkMemoryCap
	}
	if c.BulkFlushTimeout <= 0 {
		c.BulkFlushTimeout = d.BulkFlushTimeout
	}
	return c
}

// Worker is a pool of background consumers that drains the retry queue:
// each claimed row is re-resolved against the catalog, re-derived through a
// cascading reindex, and re-upserted into the search index. The pool
// cooperates with full-reindex jobs by suspending (and purging) repairs the
// reindex will supersede.
type Worker struct {
	cfg           Config
	queue         database.RetryQueueDAO
	jobs          database.ReindexJobDAO
	relationships database.RelationshipDAO
	store         *catalog.Store
	repo          *search.Repository
	bus           *events.Bus
	metrics       observability.MetricsRecorder
	logger        *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	scope            *suspensionScope
	scopeRefreshMu   sync.Mutex
	lastScopeRefresh atomic.Int64 // unix millis

	candidateMu          sync.Mutex
	candidateTypes       atomic.Value // []string
	lastCandidateRefresh atomic.Int64 // unix millis
}

// NewWorker wires a retry worker pool. bus may be nil to disable audit
// events; metrics may be nil to disable metrics.
func NewWorker(
	cfg Config,
	queue database.RetryQueueDAO,
	jobs database.ReindexJobDAO,
	relationships database.RelationshipDAO,
	store *catalog.Store,
	repo *search.Repository,
	bus *events.Bus,
	metrics observability.MetricsRecorder,
	logger *slog.Logger,
) *Worker {
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:           cfg.withDefaults(),
		queue:         queue,
		jobs:          jobs,
		relationships: relationships,
		store:         store,
		repo:          repo,
		bus:           bus,
		metrics:       metrics,
		logger:        logger,
		scope:         newSuspensionScope(),
	}
}

// Start spawns the consumer goroutines. Idempotent: a second call while
// running is a no-op.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	for i := 0; i < w.cfg.ConsumerThreads; i++ {
		w.wg.Add(1)
		workerID := i
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}

	w.logger.Info("started search index retry worker", "consumers", w.cfg.ConsumerThreads)
}

// Stop cancels the consumers, joins them with a bounded timeout, and clears
// the transient suspension scope so a restart begins from a clean slate.
// Idempotent; best-effort, not a hard guarantee of goroutine termination.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		w.logger.Warn("timed out waiting for retry worker consumers to stop")
	}

	w.scope.clear()
	w.lastScopeRefresh.Store(0)
	w.metrics.SetSuspensionActive(false)
	w.logger.Info("stopped search index retry worker")
}

// IsRunning reports whether the pool is started.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	for w.running.Load() {
		if err := w.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("unexpected error in search index retry worker",
				"worker", workerID, "error", err)
			w.sleep(ctx)
		}
	}
}

// pollOnce performs one claim/process iteration. Errors returned here are
// loop-level: they are logged and followed by a poll-interval sleep, never
// allowed to terminate the goroutine.
func (w *Worker) pollOnce(ctx context.Context) error {
	w.refreshSuspensionScopeIfNeeded(ctx)

	claimed, err := w.queue.ClaimPending(ctx, w.cfg.ClaimBatchSize)
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	w.metrics.RecordClaimBatch(len(claimed))

	if len(claimed) == 0 {
		w.sleep(ctx)
		return nil
	}

	for _, record := range claimed {
		if ctx.Err() != nil {
			return nil
		}
		w.processRecord(ctx, record)
	}
	return nil
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-time.After(w.cfg.PollInterval):
	case <-ctx.Done():
	}
}

// refreshSuspensionScopeIfNeeded recomputes the suspension scope from the
// active reindex job, rate-limited to the refresh interval under a
// double-checked lock so concurrent consumers don't refresh redundantly.
func (w *Worker) refreshSuspensionScopeIfNeeded(ctx context.Context) {
	now := time.Now().UnixMilli()
	if now-w.lastScopeRefresh.Load() < w.cfg.SuspensionRefreshInterval.Milliseconds() {
		return
	}

	w.scopeRefreshMu.Lock()
	defer w.scopeRefreshMu.Unlock()

	now = time.Now().UnixMilli()
	if now-w.lastScopeRefresh.Load() < w.cfg.SuspensionRefreshInterval.Milliseconds() {
		return
	}
	w.lastScopeRefresh.Store(now)

	activeJobs, err := w.jobs.FindByStatusesWithLimit(ctx, database.ActiveReindexJobStatuses, 1)
	if err != nil {
		w.logger.Warn("failed to query active reindex jobs", "error", err)
		return
	}

	if len(activeJobs) == 0 {
		if w.scope.clear() {
			w.metrics.SetSuspensionActive(false)
			w.publish(events.Event{Type: events.EventSuspensionChanged, Detail: "cleared"})
			w.logger.Info("cleared live search indexing suspension - no active reindex jobs")
		}
		return
	}

	activeJob := activeJobs[0]
	var requested []string
	if cfg, err := activeJob.Config(); err != nil {
		w.logger.Warn("failed to parse job configuration for active reindex job",
			"job", activeJob.ID, "error", err)
	} else if cfg != nil {
		requested = cfg.Entities
	}

	indexedTypes := w.repo.IndexedTypes()
	indexed := make(map[string]struct{}, len(indexedTypes))
	for _, t := range indexedTypes {
		indexed[t] = struct{}{}
	}

	containsAllToken := false
	suspendedTypes := make(map[string]struct{})
	for _, raw := range requested {
		t := normalize(raw)
		if t == "" {
			continue
		}
		if t == "all" {
			containsAllToken = true
			continue
		}
		if _, ok := indexed[t]; ok {
			suspendedTypes[t] = struct{}{}
		}
	}
	if containsAllToken {
		suspendedTypes = indexed
	}

	suspendAll := len(indexed) > 0 && len(suspendedTypes) == len(indexed)
	newSignature := signatureFor(activeJob.ID.String(), suspendedTypes, suspendAll)
	if newSignature == w.scope.currentSignature() {
		return
	}

	w.scope.publish(newSignature, suspendedTypes, suspendAll)
	w.metrics.SetSuspensionActive(true)
	w.publish(events.Event{Type: events.EventSuspensionChanged, Detail: newSignature})

	if suspendAll {
		// A full reindex overwrites every document; queued incremental
		// repairs are redundant and safe to discard.
		purged, err := w.queue.DeleteByStatuses(ctx, database.PurgeableStatuses)
		if err != nil {
			w.logger.Warn("failed to purge retry queue for suspend-all", "error", err)
			return
		}
		w.metrics.RecordQueuePurged(purged)
		w.publish(events.Event{Type: events.EventQueuePurged, Count: purged})
		w.logger.Info("activated live search indexing suspension for all entity types",
			"job", activeJob.ID, "purged", purged)
	} else {
		w.logger.Info("activated live search indexing suspension",
			"job", activeJob.ID, "types", len(suspendedTypes))
	}
}

// processRecord repairs one claimed retry queue row. Every failure inside is
// absorbed: the row's status advances and siblings keep processing.
func (w *Worker) processRecord(ctx context.Context, record database.RetryRecord) {
	status := record.Status
	if status == "" {
		status = database.RetryStatusPending
	}
	nextStatus := database.NextRetryStatus(status)

	err := w.repairRecord(ctx, record)
	if err == nil {
		return
	}

	reason := FailureReason("retryFailed", err)
	if updErr := w.queue.UpdateFailureAndStatus(ctx, record.EntityID, record.EntityFQN, reason, nextStatus); updErr != nil {
		w.logger.Warn("failed to advance retry queue row status",
			"entityId", record.EntityID, "entityFqn", record.EntityFQN, "error", updErr)
	}
	w.metrics.RecordProcessed(observability.OutcomeFailed)
	w.publish(events.Event{
		Type:      events.EventRecordFailed,
		EntityID:  record.EntityID,
		EntityFQN: record.EntityFQN,
		Detail:    reason,
	})
	w.logger.Debug("retry failed",
		"entityId", record.EntityID, "entityFqn", record.EntityFQN,
		"nextStatus", nextStatus, "error", err)
}

var errNoRoutingKey = errors.New("unable to resolve entity for retry from entityId/entityFqn")

func (w *Worker) repairRecord(ctx context.Context, record database.RetryRecord) error {
	if w.scope.isSuspendAll() {
		// A full reindex supersedes this row.
		return w.resolveRow(ctx, record, events.EventRecordDiscarded, observability.OutcomeDiscarded)
	}

	root := w.resolveEntityReference(ctx, record)
	if root != nil {
		if w.scope.isTypeSuspended(root.Type) {
			return w.resolveRow(ctx, record, events.EventRecordDiscarded, observability.OutcomeDiscarded)
		}

		if err := w.reindexEntityCascade(ctx, *root); err != nil {
			return err
		}
		return w.resolveRow(ctx, record, events.EventRecordRepaired, observability.OutcomeRepaired)
	}

	// Hard-deleted entities are no longer resolvable; remove stale docs by id.
	if entityID := normalize(record.EntityID); entityID != "" {
		w.removeStaleEntityByID(ctx, entityID)
		return w.resolveRow(ctx, record, events.EventRecordDiscarded, observability.OutcomeDeleted)
	}

	return errNoRoutingKey
}

// resolveRow deletes a row as terminally handled and records the outcome.
func (w *Worker) resolveRow(ctx context.Context, record database.RetryRecord, event events.EventType, outcome string) error {
	if err := w.queue.DeleteByEntity(ctx, record.EntityID, record.EntityFQN); err != nil {
		return fmt.Errorf("failed to delete resolved retry row: %w", err)
	}
	w.metrics.RecordProcessed(outcome)
	w.publish(events.Event{Type: event, EntityID: record.EntityID, EntityFQN: record.EntityFQN})
	return nil
}

// resolveEntityReference resolves a retry row to a live entity, trying the
// id across candidate types first, then the fqn. Per-type lookup failures
// are swallowed; nil means the entity is gone.
func (w *Worker) resolveEntityReference(ctx context.Context, record database.RetryRecord) *types.EntityReference {
	if entityID := normalize(record.EntityID); entityID != "" {
		if id, err := types.ParseID(entityID); err != nil {
			w.logger.Debug("invalid entityId in retry queue", "entityId", entityID)
		} else if ref := w.resolveByID(ctx, id); ref != nil {
			return ref
		}
	}

	if entityFQN := normalize(record.EntityFQN); entityFQN != "" {
		if ref := w.resolveByFQN(ctx, entityFQN); ref != nil {
			return ref
		}
	}
	return nil
}

func (w *Worker) resolveByID(ctx context.Context, id types.ID) *types.EntityReference {
	for _, entityType := range w.candidateEntityTypes() {
		ref, err := w.store.GetEntityReferenceByID(ctx, entityType, id, types.IncludeAll)
		if err != nil {
			continue // try the next candidate type
		}
		if ref.IsValid() {
			return ref
		}
	}
	return nil
}

func (w *Worker) resolveByFQN(ctx context.Context, fqn string) *types.EntityReference {
	for _, entityType := range w.candidateEntityTypes() {
		ref, err := w.store.GetEntityReferenceByName(ctx, entityType, fqn, types.IncludeAll)
		if err != nil {
			continue
		}
		if ref.IsValid() {
			return ref
		}
	}
	return nil
}

// candidateEntityTypes caches the entity types that are both search-indexed
// and registered in the catalog, bounding the per-record lookup fan-out.
func (w *Worker) candidateEntityTypes() []string {
	now := time.Now().UnixMilli()
	if cached, ok := w.candidateTypes.Load().([]string); ok && len(cached) > 0 &&
		now-w.lastCandidateRefresh.Load() < w.cfg.CandidateTypesRefreshInterval.Milliseconds() {
		return cached
	}

	w.candidateMu.Lock()
	defer w.candidateMu.Unlock()

	now = time.Now().UnixMilli()
	if cached, ok := w.candidateTypes.Load().([]string); ok && len(cached) > 0 &&
		now-w.lastCandidateRefresh.Load() < w.cfg.CandidateTypesRefreshInterval.Milliseconds() {
		return cached
	}

	registry := w.store.Registry()
	var resolved []string
	for _, entityType := range w.repo.IndexedTypes() {
		if registry.IsRegistered(entityType) {
			resolved = append(resolved, entityType)
		}
	}

	w.candidateTypes.Store(resolved)
	w.lastCandidateRefresh.Store(now)
	return resolved
}

// reindexEntityCascade re-derives the root entity and every entity whose
// indexed document denormalizes data from it: breadth-first over CONTAINS
// edges (plus HAS edges for the membership allow-list), bounded by the
// cascade limit and a visited set so cyclic graphs terminate.
func (w *Worker) reindexEntityCascade(ctx context.Context, root types.EntityReference) error {
	queue := []types.EntityReference{root}
	visited := make(map[string]struct{})
	var entitiesToIndex []*types.Entity
	processed := 0

	for len(queue) > 0 && processed < w.cfg.MaxCascadeReindex {
		current := queue[0]
		queue = queue[1:]

		if !current.IsValid() {
			continue
		}
		visitKey := current.Type + ":" + current.ID.String()
		if _, seen := visited[visitKey]; seen {
			continue
		}
		visited[visitKey] = struct{}{}

		if !w.repo.IsIndexingSupported(current.Type) {
			continue
		}

		entity, err := w.store.GetEntity(ctx, current, types.IncludeAll)
		if err != nil || entity == nil {
			continue // a missing node must not fail the whole cascade
		}

		entitiesToIndex = append(entitiesToIndex, entity)
		processed++

		queue = w.appendChildren(ctx, queue, entity.ID, entity.Type, types.RelationshipContains)
		if _, ok := hasCascadeTypes[entity.Type]; ok {
			queue = w.appendChildren(ctx, queue, entity.ID, entity.Type, types.RelationshipHas)
		}
	}

	if len(queue) > 0 && processed >= w.cfg.MaxCascadeReindex {
		w.logger.Warn("stopped retry cascade early after reaching max cascade limit",
			"rootType", root.Type, "rootId", root.ID)
		w.publish(events.Event{
			Type:       events.EventCascadeTruncated,
			EntityID:   root.ID.String(),
			EntityType: root.Type,
			Count:      processed,
		})
	}

	w.metrics.RecordCascadeSize(len(entitiesToIndex))
	if len(entitiesToIndex) == 0 {
		return nil
	}
	return w.upsertEntitiesInBulk(ctx, entitiesToIndex)
}

func (w *Worker) appendChildren(ctx context.Context, queue []types.EntityReference, fromID types.ID, fromType string, rel types.Relationship) []types.EntityReference {
	children, err := w.relationships.FindTo(ctx, fromID, fromType, rel.Ordinal())
	if err != nil {
		w.logger.Debug("failed to load cascade children",
			"fromId", fromID, "fromType", fromType, "relation", rel.String(), "error", err)
		return queue
	}
	for _, child := range children {
		if child.ID.IsZero() || child.Type == "" {
			continue
		}
		if !w.repo.IsIndexingSupported(child.Type) {
			continue
		}
		queue = append(queue, types.EntityReference{ID: child.ID, Type: child.Type})
	}
	return queue
}

// upsertEntitiesInBulk writes the collected cascade: a single entity goes
// through the direct upsert path, multiple entities through a bounded bulk
// sink grouped by entity type. Partial bulk failures are an error even when
// the flush itself succeeds.
func (w *Worker) upsertEntitiesInBulk(ctx context.Context, entitiesToIndex []*types.Entity) error {
	if len(entitiesToIndex) == 1 {
		return w.repo.UpsertEntity(ctx, entitiesToIndex[0])
	}

	entitiesByType := make(map[string][]*types.Entity)
	for _, entity := range entitiesToIndex {
		if entity == nil || entity.ID.IsZero() || entity.Type == "" {
			continue
		}
		entitiesByType[entity.Type] = append(entitiesByType[entity.Type], entity)
	}
	if len(entitiesByType) == 0 {
		return nil
	}

	var failedMu sync.Mutex
	failedEntityIDs := make(map[string]struct{})

	sink := w.repo.NewBulkSink(w.cfg.BulkBatchSize, w.cfg.BulkConcurrency, w.cfg.BulkMemoryCap)
	sink.OnFailure(func(entityType, entityID, entityFQN, reason string) {
		if entityID == "" {
			return
		}
		failedMu.Lock()
		failedEntityIDs[entityID] = struct{}{}
		failedMu.Unlock()
	})
	defer func() {
		if err := sink.Close(); err != nil {
			w.logger.Warn("failed to close retry bulk sink cleanly", "error", err)
		}
	}()

	for entityType, group := range entitiesByType {
		if err := sink.Write(ctx, entityType, group); err != nil {
			return fmt.Errorf("bulk write for %s failed: %w", entityType, err)
		}
	}

	flushed, err := sink.FlushAndAwait(ctx, w.cfg.BulkFlushTimeout)
	if err != nil {
		return fmt.Errorf("bulk flush failed: %w", err)
	}
	if !flushed {
		return types.NewError(types.BULK_FLUSH_TIMEOUT, "retry bulk flush timed out").WithRetryable(true)
	}

	failedMu.Lock()
	failedCount := len(failedEntityIDs)
	failedMu.Unlock()
	if failedCount > 0 {
		return types.NewError(types.BULK_PARTIAL_FAILURE,
			fmt.Sprintf("retry bulk indexing failed for %d entities", failedCount)).WithRetryable(true)
	}
	return nil
}

// removeStaleEntityByID best-effort deletes the id's document from every
// indexed type's index; per-index not-found errors are ignored.
func (w *Worker) removeStaleEntityByID(ctx context.Context, entityID string) {
	for _, entityType := range w.repo.IndexedTypes() {
		if err := w.repo.DeleteDocument(ctx, entityType, entityID); err != nil &&
			!errors.Is(err, search.ErrDocNotFound) {
			w.logger.Debug("stale document cleanup failed",
				"entityType", entityType, "entityId", entityID, "error", err)
		}
	}
}

func (w *Worker) publish(event events.Event) {
	if w.bus == nil {
		return
	}
	_ = w.bus.Publish(event)
}
