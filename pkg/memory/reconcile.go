package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arvid/mnemo/internal/observability"
	"github.com/arvid/mnemo/internal/tracing"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReconcileReport summarizes one reconciliation pass
type ReconcileReport struct {
	RecordCount     int `json:"record_count"`
	IndexCount      int `json:"index_count"`
	OrphansRemoved  int `json:"orphans_removed"`
	MissingRepaired int `json:"missing_repaired"`
	Failures        int `json:"failures"`
}

// Reconciler repairs drift between the record store and the vector/text
// store. Saves and deletes are not transactional across the two databases,
// so a crash can strand a row on either side.
type Reconciler struct {
	engine *Engine
	logger zerolog.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.Mutex
}

// NewReconciler builds a reconciler for the engine's stores
func NewReconciler(engine *Engine, log zerolog.Logger) *Reconciler {
	return &Reconciler{engine: engine, logger: log}
}

// Run performs a single reconciliation pass: index rows with no record are
// deleted, records with no index row are re-embedded and re-stored. Per-id
// repair failures are counted and logged, never fatal to the pass.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "memory.reconcile")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()
	defer func() { observability.RecordReconcile(time.Since(start)) }()

	recordIDs, err := r.engine.records.ListIDs(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	indexIDs, err := r.engine.index.ListIDs(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	recorded := make(map[string]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		recorded[id] = struct{}{}
	}
	indexed := make(map[string]struct{}, len(indexIDs))
	for _, id := range indexIDs {
		indexed[id] = struct{}{}
	}

	report := &ReconcileReport{
		RecordCount: len(recordIDs),
		IndexCount:  len(indexIDs),
	}

	// Orphans: indexed but no record. The record store is the source of
	// truth, so these rows are deleted.
	for _, id := range indexIDs {
		if _, ok := recorded[id]; ok {
			continue
		}
		if err := r.engine.index.Delete(ctx, id); err != nil {
			report.Failures++
			logger.Warn().Err(err).Str("memory_id", id).Msg("Failed to remove orphaned index row")
			continue
		}
		report.OrphansRemoved++
		observability.RecordReconcileRepair("orphan_removed")
	}

	// Missing: recorded but never indexed. Re-embed from the stored content.
	for _, id := range recordIDs {
		if _, ok := indexed[id]; ok {
			continue
		}
		m, err := r.engine.records.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			report.Failures++
			logger.Warn().Err(err).Str("memory_id", id).Msg("Failed to load record for repair")
			continue
		}
		embedding, err := r.engine.model.EmbedOne(ctx, m.Content)
		if err != nil {
			report.Failures++
			logger.Warn().Err(err).Str("memory_id", id).Msg("Failed to embed record for repair")
			continue
		}
		if err := r.engine.index.Store(ctx, m.ID, m.Content, embedding); err != nil {
			report.Failures++
			logger.Warn().Err(err).Str("memory_id", id).Msg("Failed to restore index row")
			continue
		}
		report.MissingRepaired++
		observability.RecordReconcileRepair("missing_restored")
	}

	span.SetAttributes(
		attribute.Int("orphans_removed", report.OrphansRemoved),
		attribute.Int("missing_repaired", report.MissingRepaired),
		attribute.Int("failures", report.Failures),
	)
	status := "success"
	if report.Failures > 0 {
		status = "failure"
	}
	observability.RecordMaintenanceAudit(ctx, "reconcile", status, map[string]interface{}{
		"orphans_removed":  report.OrphansRemoved,
		"missing_repaired": report.MissingRepaired,
		"failures":         report.Failures,
	})

	logger.Info().
		Int("records", report.RecordCount).
		Int("indexed", report.IndexCount).
		Int("orphans_removed", report.OrphansRemoved).
		Int("missing_repaired", report.MissingRepaired).
		Int("failures", report.Failures).
		Msg("Reconciliation pass complete")

	return report, nil
}

// Start schedules periodic reconciliation with a standard 5-field cron
// expression
func (r *Reconciler) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return errors.New("reconciler already started")
	}

	c := cron.New()
	entryID, err := c.AddFunc(schedule, func() {
		if _, err := r.Run(context.Background()); err != nil {
			r.logger.Error().Err(err).Msg("Scheduled reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	c.Start()
	r.cron = c
	r.entryID = entryID

	r.logger.Info().Str("schedule", schedule).Msg("Reconciler started")
	return nil
}

// Stop halts the schedule and waits for a running pass to finish
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil

	r.logger.Info().Msg("Reconciler stopped")
}
