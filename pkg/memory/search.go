package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/arvid/mnemo/internal/observability"
	"github.com/arvid/mnemo/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// importanceBoost is the fixed fraction of a memory's stored importance
// added to its combined score during curation, as a tie-break signal.
const importanceBoost = 0.05

// Engine is the hybrid search orchestrator: one shared embedding model, one
// vector/text store and one record store. The pipeline itself is stateless;
// all state lives in the stores.
type Engine struct {
	model   *Model
	index   *VectorTextStore
	records *RecordStore
	logger  zerolog.Logger
}

// EngineConfig holds the engine's collaborators
type EngineConfig struct {
	Model   *Model
	Index   *VectorTextStore
	Records *RecordStore
	Logger  zerolog.Logger
}

// NewEngine wires the retrieval pipeline. The model and index must agree on
// the embedding dimension.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Model == nil {
		return nil, errors.New("embedding model is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("vector/text store is required")
	}
	if cfg.Records == nil {
		return nil, errors.New("record store is required")
	}
	if cfg.Model.Dimension() != cfg.Index.Dimension() {
		return nil, &DimensionError{Expected: cfg.Index.Dimension(), Actual: cfg.Model.Dimension()}
	}

	return &Engine{
		model:   cfg.Model,
		index:   cfg.Index,
		records: cfg.Records,
		logger:  cfg.Logger,
	}, nil
}

// Model returns the shared embedding model
func (e *Engine) Model() *Model { return e.model }

// Index returns the vector/text store
func (e *Engine) Index() *VectorTextStore { return e.index }

// Records returns the record store
func (e *Engine) Records() *RecordStore { return e.records }

// HybridSearch embeds the query, runs vector and text search concurrently,
// normalizes both result sets onto [0,1] and merges them by id. Either
// source failing aborts the whole operation; there is no single-source
// degradation. The returned set is unsorted; curation orders and truncates.
func (e *Engine) HybridSearch(ctx context.Context, query string, cfg *SearchConfig) ([]SearchResult, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"mnemo.memory",
		"memory.hybrid_search",
		attribute.String("query", query),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)
	start := time.Now()
	defer func() { observability.RecordSearch(time.Since(start)) }()

	config := DefaultSearchConfig()
	if cfg != nil {
		if cfg.MaxResultsPerSource > 0 {
			config.MaxResultsPerSource = cfg.MaxResultsPerSource
		}
		if cfg.VectorWeight > 0 {
			config.VectorWeight = cfg.VectorWeight
		}
		if cfg.TextWeight > 0 {
			config.TextWeight = cfg.TextWeight
		}
	}

	queryEmbedding, err := e.model.EmbedOne(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var (
		wg         sync.WaitGroup
		vectorHits []VectorMatch
		textHits   []TextMatch
		vectorErr  error
		textErr    error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = e.index.VectorSearch(ctx, queryEmbedding, config.MaxResultsPerSource)
	}()
	go func() {
		defer wg.Done()
		textHits, textErr = e.index.TextSearch(ctx, query, config.MaxResultsPerSource)
	}()
	wg.Wait()

	// Fail fast: either source failing aborts the search
	if vectorErr != nil {
		span.RecordError(vectorErr)
		span.SetStatus(codes.Error, vectorErr.Error())
		return nil, vectorErr
	}
	if textErr != nil {
		span.RecordError(textErr)
		span.SetStatus(codes.Error, textErr.Error())
		return nil, textErr
	}

	merged := mergeHits(vectorHits, textHits, config)

	logger.Debug().
		Int("vector_hits", len(vectorHits)).
		Int("text_hits", len(textHits)).
		Int("merged", len(merged)).
		Msg("Hybrid search merged")

	return merged, nil
}

// mergeHits normalizes each source onto [0,1] and merges by id. Ids present
// in both sets get the weighted blend; single-source ids keep their
// normalized value unweighted.
func mergeHits(vectorHits []VectorMatch, textHits []TextMatch, cfg SearchConfig) []SearchResult {
	// Normalize vector distances: relevance = 1 - distance/max. A
	// single-element (or all-zero) set normalizes against the metric's
	// fixed cap instead of itself.
	vectorRel := make(map[string]float64, len(vectorHits))
	if len(vectorHits) > 0 {
		maxDistance := 0.0
		for _, hit := range vectorHits {
			if hit.Distance > maxDistance {
				maxDistance = hit.Distance
			}
		}
		denom := maxDistance
		if len(vectorHits) == 1 || maxDistance == 0 {
			denom = maxCosineDistance
		}
		for _, hit := range vectorHits {
			rel := 1.0 - hit.Distance/denom
			if rel < 0 {
				rel = 0
			}
			// Duplicate ids: results are ascending, keep the closest row
			if _, seen := vectorRel[hit.ID]; !seen {
				vectorRel[hit.ID] = rel
			}
		}
	}

	// Normalize text scores against the set maximum
	textRel := make(map[string]float64, len(textHits))
	if len(textHits) > 0 {
		maxScore := 0.0
		for _, hit := range textHits {
			if hit.Score > maxScore {
				maxScore = hit.Score
			}
		}
		if maxScore > 0 {
			for _, hit := range textHits {
				if _, seen := textRel[hit.ID]; !seen {
					textRel[hit.ID] = hit.Score / maxScore
				}
			}
		}
	}

	merged := make([]SearchResult, 0, len(vectorRel)+len(textRel))
	for id, v := range vectorRel {
		if t, ok := textRel[id]; ok {
			merged = append(merged, SearchResult{ID: id, Score: cfg.VectorWeight*v + cfg.TextWeight*t})
		} else {
			merged = append(merged, SearchResult{ID: id, Score: v})
		}
	}
	for id, t := range textRel {
		if _, ok := vectorRel[id]; !ok {
			merged = append(merged, SearchResult{ID: id, Score: t})
		}
	}
	return merged
}

// CurateResults deduplicates candidates, boosts by stored importance, sorts
// descending by adjusted score, truncates to maxResults and resolves each
// survivor to its full record. Ids whose record is missing (the cross-store
// drift window) are skipped with a warning, never an error.
func (e *Engine) CurateResults(ctx context.Context, results []SearchResult, maxResults int) ([]*Memory, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "memory.curate")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)

	if len(results) == 0 || maxResults <= 0 {
		return []*Memory{}, nil
	}

	// Dedupe by id, keeping the best score
	best := make(map[string]float64, len(results))
	for _, r := range results {
		if score, ok := best[r.ID]; !ok || r.Score > score {
			best[r.ID] = r.Score
		}
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	importances, err := e.records.Importances(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	type candidate struct {
		id       string
		adjusted float64
	}
	candidates := make([]candidate, 0, len(best))
	for id, score := range best {
		adjusted := score
		if importance, ok := importances[id]; ok {
			adjusted += importanceBoost * importance
		}
		candidates = append(candidates, candidate{id: id, adjusted: adjusted})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].adjusted != candidates[j].adjusted {
			return candidates[i].adjusted > candidates[j].adjusted
		}
		return candidates[i].id < candidates[j].id
	})

	curated := make([]*Memory, 0, maxResults)
	for _, c := range candidates {
		if len(curated) == maxResults {
			break
		}
		m, err := e.records.Get(ctx, c.id)
		if errors.Is(err, ErrNotFound) {
			logger.Warn().Str("memory_id", c.id).Msg("Curated id missing from record store, skipping")
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		curated = append(curated, m)
	}

	return curated, nil
}
