package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arvid/mnemo/internal/observability"
	"github.com/arvid/mnemo/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultRecallLimit caps recall results when the caller does not supply one
const DefaultRecallLimit = 5

// NoMemoriesSentinel is rendered when a recall matches nothing
const NoMemoriesSentinel = "No relevant memories found."

// Save persists a new memory: metadata first, then associations, then the
// embedding row. The sequence is not transactional across the two stores; a
// crash mid-sequence leaves drift for the reconciler to repair.
func Save(ctx context.Context, e *Engine, input CreateMemoryInput) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "memory.save")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)
	start := time.Now()
	defer func() { observability.RecordSave(time.Since(start)) }()

	if strings.TrimSpace(input.Content) == "" {
		return "", errors.New("memory content is required")
	}
	memoryType := input.Type
	if memoryType == "" {
		memoryType = MemoryTypeFact
	}
	if !memoryType.Valid() {
		return "", fmt.Errorf("unknown memory type %q", memoryType)
	}
	if input.Importance != nil && (*input.Importance < 0 || *input.Importance > 1) {
		return "", fmt.Errorf("importance %v out of range [0,1]", *input.Importance)
	}

	m := NewMemory(input.Content, memoryType)
	if input.Importance != nil {
		m.Importance = *input.Importance
	}
	m.Source = input.Source
	m.ChannelID = input.ChannelID

	if err := e.records.Save(ctx, m); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	for _, assocInput := range input.Associations {
		relation := assocInput.Relation
		if relation == "" {
			relation = RelationRelatedTo
		}
		if !relation.Valid() {
			return "", fmt.Errorf("unknown relation type %q", relation)
		}
		assoc := NewAssociation(m.ID, assocInput.TargetID, relation)
		if assocInput.Weight > 0 {
			assoc.Weight = assocInput.Weight
		}
		if err := e.records.CreateAssociation(ctx, assoc); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	embedding := input.Embedding
	if embedding == nil {
		var err error
		embedding, err = e.model.EmbedOne(ctx, input.Content)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	if err := e.index.Store(ctx, m.ID, input.Content, embedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	logger.Debug().
		Str("memory_id", m.ID).
		Str("memory_type", string(memoryType)).
		Msg("Memory saved")

	return m.ID, nil
}

// Recall runs hybrid search for the query and returns the curated records,
// most relevant first. Each returned record has its access recorded
// best-effort: a failure there is logged and never surfaced.
func Recall(ctx context.Context, e *Engine, query string, maxResults int) ([]*Memory, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"mnemo.memory",
		"memory.recall",
		attribute.String("query", query),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)

	if maxResults <= 0 {
		maxResults = DefaultRecallLimit
	}

	cfg := DefaultSearchConfig()
	cfg.MaxResultsPerSource = maxResults * 2

	results, err := e.HybridSearch(ctx, query, &cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	curated, err := e.CurateResults(ctx, results, maxResults)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, m := range curated {
		if err := e.records.RecordAccess(ctx, m.ID); err != nil {
			observability.RecordAccessFailure()
			observability.RecordMemoryAudit(ctx, m.ID, "record_access", "failure")
			logger.Warn().Err(err).Str("memory_id", m.ID).Msg("Failed to record memory access")
			continue
		}
		observability.RecordMemoryAudit(ctx, m.ID, "record_access", "success")
	}

	span.SetAttributes(attribute.Int("results", len(curated)))
	return curated, nil
}

// Forget removes a memory from both stores, record store first. A failure
// on the index leg is logged and left for the reconciler; the memory is
// already gone from the source of truth.
func Forget(ctx context.Context, e *Engine, id string) error {
	ctx, span := tracing.StartSpan(
		ctx,
		"mnemo.memory",
		"memory.forget",
		attribute.String("memory_id", id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)

	if id == "" {
		return errors.New("memory id is required")
	}

	if err := e.records.Delete(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := e.index.Delete(ctx, id); err != nil {
		logger.Warn().Err(err).Str("memory_id", id).Msg("Index delete failed, reconciler will repair")
		span.RecordError(err)
		return nil
	}

	return nil
}

// Reindex rebuilds the ANN and FTS indexes. Blocking; treat as a
// maintenance-window operation.
func Reindex(ctx context.Context, e *Engine) error {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "memory.reindex")
	defer span.End()

	if err := e.index.CreateIndexes(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordMaintenanceAudit(ctx, "reindex", "failure", nil)
		return err
	}
	observability.RecordMaintenanceAudit(ctx, "reindex", "success", nil)
	return nil
}

// FormatMemories renders recalled memories for display to an agent
func FormatMemories(memories []*Memory) string {
	if len(memories) == 0 {
		return NoMemoriesSentinel
	}

	var b strings.Builder
	b.WriteString("## Relevant Memories\n\n")

	for i, m := range memories {
		firstLine := m.Content
		if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
			firstLine = firstLine[:idx]
		}
		fmt.Fprintf(&b, "%d. [%s] (importance: %.2f)\n   %s\n\n", i+1, m.Type, m.Importance, firstLine)
	}

	return b.String()
}
