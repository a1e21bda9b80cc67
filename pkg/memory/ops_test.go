package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave(t *testing.T) {
	ctx := context.Background()

	t.Run("persists to both stores", func(t *testing.T) {
		te := newTestEngine(t)

		id, err := Save(ctx, te.Engine, CreateMemoryInput{
			Content: "the api gateway lives in us-east-1",
			Type:    MemoryTypePreference,
			Source:  "test",
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		m, err := te.Records().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, MemoryTypePreference, m.Type)
		assert.Equal(t, DefaultImportance, m.Importance)

		ids, err := te.Index().ListIDs(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id)
	})

	t.Run("defaults the type to fact", func(t *testing.T) {
		te := newTestEngine(t)

		id, err := Save(ctx, te.Engine, CreateMemoryInput{Content: "untyped"})
		require.NoError(t, err)

		m, err := te.Records().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, MemoryTypeFact, m.Type)
	})

	t.Run("uses a caller-provided embedding", func(t *testing.T) {
		te := newTestEngine(t)
		before := te.provider.Calls()

		vec := make([]float32, testDimension)
		vec[0] = 1
		_, err := Save(ctx, te.Engine, CreateMemoryInput{Content: "precomputed", Embedding: vec})
		require.NoError(t, err)
		assert.Equal(t, before, te.provider.Calls())
	})

	t.Run("creates associations", func(t *testing.T) {
		te := newTestEngine(t)

		targetID, err := Save(ctx, te.Engine, CreateMemoryInput{Content: "target"})
		require.NoError(t, err)

		sourceID, err := Save(ctx, te.Engine, CreateMemoryInput{
			Content:      "source",
			Associations: []AssociationInput{{TargetID: targetID, Relation: RelationSupersedes, Weight: 0.8}},
		})
		require.NoError(t, err)

		edges, err := te.Records().Associations(ctx, sourceID)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, targetID, edges[0].TargetID)
		assert.Equal(t, RelationSupersedes, edges[0].Relation)
		assert.Equal(t, 0.8, edges[0].Weight)
	})

	t.Run("validation", func(t *testing.T) {
		te := newTestEngine(t)

		_, err := Save(ctx, te.Engine, CreateMemoryInput{Content: "   "})
		assert.Error(t, err)

		_, err = Save(ctx, te.Engine, CreateMemoryInput{Content: "x", Type: "opinion"})
		assert.Error(t, err)

		bad := 1.5
		_, err = Save(ctx, te.Engine, CreateMemoryInput{Content: "x", Importance: &bad})
		assert.Error(t, err)
	})

	t.Run("embedding failure surfaces", func(t *testing.T) {
		te := newTestEngine(t)
		te.provider.FailWith(fmt.Errorf("backend down"))

		_, err := Save(ctx, te.Engine, CreateMemoryInput{Content: "doomed"})
		require.Error(t, err)
		assert.True(t, IsEmbeddingError(err))
	})
}

func TestRecall(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the matching memory first", func(t *testing.T) {
		te := newTestEngine(t)

		wantID, err := Save(ctx, te.Engine, CreateMemoryInput{Content: "the standup starts at nine thirty"})
		require.NoError(t, err)
		_, err = Save(ctx, te.Engine, CreateMemoryInput{Content: "the coffee machine is broken again"})
		require.NoError(t, err)

		memories, err := Recall(ctx, te.Engine, "the standup starts at nine thirty", 5)
		require.NoError(t, err)
		require.NotEmpty(t, memories)
		assert.Equal(t, wantID, memories[0].ID)
	})

	t.Run("records access best effort", func(t *testing.T) {
		te := newTestEngine(t)

		id, err := Save(ctx, te.Engine, CreateMemoryInput{Content: "remember me"})
		require.NoError(t, err)

		_, err = Recall(ctx, te.Engine, "remember me", 5)
		require.NoError(t, err)

		m, err := te.Records().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), m.AccessCount)
		assert.NotNil(t, m.LastAccessedAt)
	})

	t.Run("empty store recalls nothing", func(t *testing.T) {
		te := newTestEngine(t)
		memories, err := Recall(ctx, te.Engine, "anything", 5)
		require.NoError(t, err)
		assert.Empty(t, memories)
	})

	t.Run("limit caps results", func(t *testing.T) {
		te := newTestEngine(t)

		for i := 0; i < 4; i++ {
			_, err := Save(ctx, te.Engine, CreateMemoryInput{
				Content: fmt.Sprintf("shared topic variant %d", i),
			})
			require.NoError(t, err)
		}

		memories, err := Recall(ctx, te.Engine, "shared topic", 2)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(memories), 2)
		assert.NotEmpty(t, memories)
	})
}

func TestForget(t *testing.T) {
	ctx := context.Background()

	t.Run("removes from both stores", func(t *testing.T) {
		te := newTestEngine(t)

		id, err := Save(ctx, te.Engine, CreateMemoryInput{Content: "ephemeral"})
		require.NoError(t, err)

		require.NoError(t, Forget(ctx, te.Engine, id))

		_, err = te.Records().Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)

		ids, err := te.Index().ListIDs(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, id)
	})

	t.Run("requires an id", func(t *testing.T) {
		te := newTestEngine(t)
		assert.Error(t, Forget(ctx, te.Engine, ""))
	})
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t)

	_, err := Save(ctx, te.Engine, CreateMemoryInput{Content: "index me"})
	require.NoError(t, err)

	require.False(t, te.Index().Indexed())
	require.NoError(t, Reindex(ctx, te.Engine))
	assert.True(t, te.Index().Indexed())

	memories, err := Recall(ctx, te.Engine, "index me", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, memories)
}

func TestFormatMemories(t *testing.T) {
	t.Run("empty yields the sentinel", func(t *testing.T) {
		assert.Equal(t, "No relevant memories found.", FormatMemories(nil))
		assert.Equal(t, "No relevant memories found.", FormatMemories([]*Memory{}))
	})

	t.Run("renders numbered entries", func(t *testing.T) {
		memories := []*Memory{
			{Content: "first fact", Type: MemoryTypeFact, Importance: 0.5},
			{Content: "second one\nwith a detail line", Type: MemoryTypeEvent, Importance: 0.25},
		}

		got := FormatMemories(memories)
		want := "## Relevant Memories\n\n" +
			"1. [fact] (importance: 0.50)\n   first fact\n\n" +
			"2. [event] (importance: 0.25)\n   second one\n\n"
		assert.Equal(t, want, got)
	})
}
