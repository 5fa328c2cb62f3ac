package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/datakite/searchsync/internal/catalog"
	"github.com/datakite/searchsync/internal/database"
	"github.com/datakite/searchsync/internal/events"
	"github.com/datakite/searchsync/internal/observability"
	"github.com/datakite/searchsync/internal/search"
	"github.com/datakite/searchsync/internal/search/retry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the retry worker pool (blocks until interrupted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Logging)

		db, err := database.OpenWithConfig(database.Config{
			Path:            cfg.Database.Path,
			MaxOpenConns:    cfg.Database.MaxConnections,
			MaxIdleConns:    cfg.Database.MaxConnections / 2,
			ConnMaxLifetime: time.Hour,
			BusyTimeout:     cfg.Database.BusyTimeout.Std(),
		})
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.NewMigrator(db).Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		registry := catalog.NewDefaultRegistry()
		store := catalog.NewStore(registry, database.NewEntityDAO(db), database.NewRelationshipDAO(db))

		repo := search.NewRepository(search.NewMemoryClient(), cfg.Search.ClusterAlias)
		registerIndexes(repo, registry)

		bus := events.NewBus()
		defer bus.Close()
		auditDone := startAuditLogger(bus, logger)

		var metrics observability.MetricsRecorder = observability.NopMetrics{}
		if cfg.Metrics.Enabled {
			reg := prometheus.NewRegistry()
			metrics = observability.NewWorkerMetrics(reg)
			go serveMetrics(cfg.Metrics.Listen, reg, logger)
		}

		worker := retry.NewWorker(
			retry.Config{
				ConsumerThreads:               cfg.Worker.ConsumerThreads,
				PollInterval:                  cfg.Worker.PollInterval.Std(),
				ClaimBatchSize:                cfg.Worker.ClaimBatchSize,
				MaxCascadeReindex:             cfg.Worker.MaxCascadeReindex,
				SuspensionRefreshInterval:     cfg.Worker.SuspensionRefreshInterval.Std(),
				CandidateTypesRefreshInterval: cfg.Worker.CandidateTypesRefreshInterval.Std(),
				BulkBatchSize:                 cfg.Worker.BulkBatchSize,
				BulkConcurrency:               cfg.Worker.BulkConcurrency,
				BulkMemoryCap:                 cfg.Worker.BulkMemoryCap,
				BulkFlushTimeout:              cfg.Worker.BulkFlushTimeout.Std(),
			},
			database.NewRetryQueueDAO(db),
			database.NewReindexJobDAO(db),
			database.NewRelationshipDAO(db),
			store,
			repo,
			bus,
			metrics,
			logger,
		)

		worker.Start()
		<-cmd.Context().Done()
		worker.Stop()
		<-auditDone
		return nil
	},
}

// registerIndexes maps every registered entity type onto a search index.
func registerIndexes(repo *search.Repository, registry *catalog.Registry) {
	for _, entityType := range registry.Types() {
		repo.RegisterIndex(search.IndexMapping{
			EntityType: entityType,
			IndexName:  entityType + "_search_index",
		}, nil)
	}
}

// startAuditLogger subscribes to the worker's audit events and emits one log
// line per event until the bus closes.
func startAuditLogger(bus *events.Bus, logger *slog.Logger) <-chan struct{} {
	ch, cancel := bus.Subscribe(events.Filter{}, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		defer func() {
			if n := bus.Dropped(); n > 0 {
				logger.Warn("audit events were dropped by slow subscribers", "dropped", n)
			}
		}()
		for event := range ch {
			logger.Info("audit",
				"event", event.Type,
				"entityId", event.EntityID,
				"entityFqn", event.EntityFQN,
				"detail", event.Detail,
				"count", event.Count,
			)
		}
	}()
	return done
}

func serveMetrics(listen string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Error("metrics listener failed", "listen", listen, "error", err)
	}
}
