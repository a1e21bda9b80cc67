package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 8

type testEngine struct {
	*Engine
	provider *MockEmbeddingProvider
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	dir := t.TempDir()
	provider := NewMockEmbeddingProvider(testDimension)

	model, err := NewModel(ModelConfig{
		Provider:     provider,
		CacheEntries: -1,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(model.Close)

	index, err := OpenVectorTextStore(VectorTextStoreConfig{
		Path:      filepath.Join(dir, "index.db"),
		Dimension: testDimension,
		Logger:    zerolog.Nop(),
	})
	skipWithoutFTS5(t, err)
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	records, err := OpenRecordStore(context.Background(), filepath.Join(dir, "records.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	engine, err := NewEngine(EngineConfig{
		Model:   model,
		Index:   index,
		Records: records,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	return &testEngine{Engine: engine, provider: provider}
}

func TestNewEngine(t *testing.T) {
	t.Run("requires all collaborators", func(t *testing.T) {
		_, err := NewEngine(EngineConfig{})
		assert.Error(t, err)
	})

	t.Run("rejects dimension disagreement", func(t *testing.T) {
		dir := t.TempDir()

		model, err := NewModel(ModelConfig{Provider: NewMockEmbeddingProvider(4), Logger: zerolog.Nop()})
		require.NoError(t, err)
		defer model.Close()

		index, err := OpenVectorTextStore(VectorTextStoreConfig{
			Path:      filepath.Join(dir, "index.db"),
			Dimension: 8,
			Logger:    zerolog.Nop(),
		})
		skipWithoutFTS5(t, err)
		require.NoError(t, err)
		defer index.Close()

		records, err := OpenRecordStore(context.Background(), filepath.Join(dir, "records.db"), zerolog.Nop())
		require.NoError(t, err)
		defer records.Close()

		_, err = NewEngine(EngineConfig{Model: model, Index: index, Records: records, Logger: zerolog.Nop()})
		require.Error(t, err)
		assert.True(t, IsDimensionMismatch(err))
	})
}

func TestMergeHits(t *testing.T) {
	cfg := DefaultSearchConfig()

	scores := func(results []SearchResult) map[string]float64 {
		out := make(map[string]float64, len(results))
		for _, r := range results {
			out[r.ID] = r.Score
		}
		return out
	}

	t.Run("both sources blend weighted", func(t *testing.T) {
		merged := mergeHits(
			[]VectorMatch{{ID: "a", Distance: 0.2}, {ID: "b", Distance: 0.8}},
			[]TextMatch{{ID: "a", Score: 4}, {ID: "b", Score: 2}},
			cfg,
		)
		got := scores(merged)
		require.Len(t, got, 2)

		// a: vector 1-0.2/0.8=0.75, text 4/4=1.0 -> 0.5*0.75+0.5*1.0
		assert.InDelta(t, 0.875, got["a"], 1e-9)
		// b: vector 1-0.8/0.8=0, text 2/4=0.5 -> 0.25
		assert.InDelta(t, 0.25, got["b"], 1e-9)
	})

	t.Run("single source keeps unweighted value", func(t *testing.T) {
		merged := mergeHits(
			[]VectorMatch{{ID: "v", Distance: 0.5}, {ID: "shared", Distance: 1.0}},
			[]TextMatch{{ID: "t", Score: 3}, {ID: "shared", Score: 6}},
			cfg,
		)
		got := scores(merged)
		require.Len(t, got, 3)

		assert.InDelta(t, 0.5, got["v"], 1e-9)  // 1 - 0.5/1.0, no weight applied
		assert.InDelta(t, 0.5, got["t"], 1e-9)  // 3/6, no weight applied
		assert.InDelta(t, 0.5, got["shared"], 1e-9)
	})

	t.Run("single vector hit normalizes against the metric cap", func(t *testing.T) {
		merged := mergeHits([]VectorMatch{{ID: "only", Distance: 0.5}}, nil, cfg)
		got := scores(merged)
		assert.InDelta(t, 0.75, got["only"], 1e-9) // 1 - 0.5/2.0
	})

	t.Run("all zero distances normalize against the metric cap", func(t *testing.T) {
		merged := mergeHits(
			[]VectorMatch{{ID: "x", Distance: 0}, {ID: "y", Distance: 0}},
			nil, cfg,
		)
		got := scores(merged)
		assert.InDelta(t, 1.0, got["x"], 1e-9)
		assert.InDelta(t, 1.0, got["y"], 1e-9)
	})

	t.Run("duplicate vector ids keep the closest row", func(t *testing.T) {
		merged := mergeHits(
			[]VectorMatch{{ID: "dup", Distance: 0.1}, {ID: "dup", Distance: 0.9}, {ID: "far", Distance: 1.0}},
			nil, cfg,
		)
		got := scores(merged)
		require.Len(t, got, 2)
		assert.InDelta(t, 0.9, got["dup"], 1e-9) // 1 - 0.1/1.0
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.Empty(t, mergeHits(nil, nil, cfg))
	})
}

func TestHybridSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("finds stored content by query", func(t *testing.T) {
		te := newTestEngine(t)

		content := "the database failover happens automatically"
		embedding, err := te.Model().EmbedOne(ctx, content)
		require.NoError(t, err)
		require.NoError(t, te.Index().Store(ctx, "m1", content, embedding))

		other := "sourdough starter needs feeding daily"
		otherVec, err := te.Model().EmbedOne(ctx, other)
		require.NoError(t, err)
		require.NoError(t, te.Index().Store(ctx, "m2", other, otherVec))

		// Identical query text hits both sources for m1
		results, err := te.HybridSearch(ctx, content, nil)
		require.NoError(t, err)
		require.NotEmpty(t, results)

		best := results[0]
		for _, r := range results[1:] {
			if r.Score > best.Score {
				best = r
			}
		}
		assert.Equal(t, "m1", best.ID)
	})

	t.Run("embedding failure aborts", func(t *testing.T) {
		te := newTestEngine(t)
		te.provider.FailWith(errors.New("backend down"))

		_, err := te.HybridSearch(ctx, "anything", nil)
		require.Error(t, err)
		assert.True(t, IsEmbeddingError(err))
	})

	t.Run("empty store yields empty result", func(t *testing.T) {
		te := newTestEngine(t)
		results, err := te.HybridSearch(ctx, "anything", nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestCurateResults(t *testing.T) {
	ctx := context.Background()

	saveRecord := func(t *testing.T, te *testEngine, content string, importance float64) string {
		m := NewMemory(content, MemoryTypeFact)
		m.Importance = importance
		require.NoError(t, te.Records().Save(ctx, m))
		return m.ID
	}

	t.Run("orders by boosted score and truncates", func(t *testing.T) {
		te := newTestEngine(t)
		lowID := saveRecord(t, te, "low importance", 0.0)
		highID := saveRecord(t, te, "high importance", 1.0)
		thirdID := saveRecord(t, te, "third", 0.0)

		// Equal raw scores; the boost decides the order
		results := []SearchResult{
			{ID: lowID, Score: 0.5},
			{ID: highID, Score: 0.5},
			{ID: thirdID, Score: 0.1},
		}

		curated, err := te.CurateResults(ctx, results, 2)
		require.NoError(t, err)
		require.Len(t, curated, 2)
		assert.Equal(t, highID, curated[0].ID)
		assert.Equal(t, lowID, curated[1].ID)
	})

	t.Run("dedupes keeping the best score", func(t *testing.T) {
		te := newTestEngine(t)
		id := saveRecord(t, te, "repeated", 0.5)

		curated, err := te.CurateResults(ctx, []SearchResult{
			{ID: id, Score: 0.2},
			{ID: id, Score: 0.9},
		}, 10)
		require.NoError(t, err)
		require.Len(t, curated, 1)
		assert.Equal(t, id, curated[0].ID)
	})

	t.Run("skips ids missing from the record store", func(t *testing.T) {
		te := newTestEngine(t)
		knownID := saveRecord(t, te, "known", 0.5)

		curated, err := te.CurateResults(ctx, []SearchResult{
			{ID: "ghost", Score: 0.9},
			{ID: knownID, Score: 0.5},
		}, 10)
		require.NoError(t, err)
		require.Len(t, curated, 1)
		assert.Equal(t, knownID, curated[0].ID)
	})

	t.Run("empty input yields empty non-nil slice", func(t *testing.T) {
		te := newTestEngine(t)
		curated, err := te.CurateResults(ctx, nil, 5)
		require.NoError(t, err)
		require.NotNil(t, curated)
		assert.Empty(t, curated)
	})

	t.Run("non-positive limit yields empty result", func(t *testing.T) {
		te := newTestEngine(t)
		id := saveRecord(t, te, "anything", 0.5)

		curated, err := te.CurateResults(ctx, []SearchResult{{ID: id, Score: 1}}, 0)
		require.NoError(t, err)
		assert.Empty(t, curated)
	})
}
