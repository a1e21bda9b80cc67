package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T, provider EmbeddingProvider, cacheEntries int64) *Model {
	t.Helper()

	model, err := NewModel(ModelConfig{
		Provider:     provider,
		Workers:      2,
		CacheEntries: cacheEntries,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(model.Close)
	return model
}

func TestNewModel(t *testing.T) {
	t.Run("requires a provider", func(t *testing.T) {
		_, err := NewModel(ModelConfig{})
		assert.Error(t, err)
	})

	t.Run("rejects invalid provider dimension", func(t *testing.T) {
		_, err := NewModel(ModelConfig{Provider: NewMockEmbeddingProvider(0)})
		assert.Error(t, err)
	})

	t.Run("reports provider dimension", func(t *testing.T) {
		model := newTestModel(t, NewMockEmbeddingProvider(8), -1)
		assert.Equal(t, 8, model.Dimension())
	})
}

func TestEmbedBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("deterministic per text", func(t *testing.T) {
		model := newTestModel(t, NewMockEmbeddingProvider(8), -1)

		first, err := model.EmbedOne(ctx, "the sky is blue")
		require.NoError(t, err)
		second, err := model.EmbedOne(ctx, "the sky is blue")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		other, err := model.EmbedOne(ctx, "the grass is green")
		require.NoError(t, err)
		assert.NotEqual(t, first, other)
	})

	t.Run("preserves input order", func(t *testing.T) {
		provider := NewMockEmbeddingProvider(8)
		model := newTestModel(t, provider, -1)

		texts := []string{"one", "two", "three"}
		vectors, err := model.EmbedBatch(ctx, texts)
		require.NoError(t, err)
		require.Len(t, vectors, 3)

		for i, text := range texts {
			want, err := provider.GenerateEmbedding(ctx, text)
			require.NoError(t, err)
			assert.Equal(t, want, vectors[i])
		}
	})

	t.Run("empty input", func(t *testing.T) {
		model := newTestModel(t, NewMockEmbeddingProvider(8), -1)
		vectors, err := model.EmbedBatch(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, vectors)
	})

	t.Run("wraps provider failures", func(t *testing.T) {
		provider := NewMockEmbeddingProvider(8)
		provider.FailWith(errors.New("backend down"))
		model := newTestModel(t, provider, -1)

		_, err := model.EmbedOne(ctx, "anything")
		require.Error(t, err)
		assert.True(t, IsEmbeddingError(err))
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		model := newTestModel(t, NewMockEmbeddingProvider(8), -1)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := model.EmbedOne(cancelled, "anything")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEmbeddingCache(t *testing.T) {
	ctx := context.Background()

	t.Run("repeat text skips the provider", func(t *testing.T) {
		provider := NewMockEmbeddingProvider(8)
		model := newTestModel(t, provider, 128)

		first, err := model.EmbedOne(ctx, "cached content")
		require.NoError(t, err)
		calls := provider.Calls()
		require.Equal(t, 1, calls)

		// Ristretto admits asynchronously
		require.Eventually(t, func() bool {
			_, ok := model.cacheGet("cached content")
			return ok
		}, time.Second, 10*time.Millisecond)

		second, err := model.EmbedOne(ctx, "cached content")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, calls, provider.Calls())
	})

	t.Run("disabled cache always calls the provider", func(t *testing.T) {
		provider := NewMockEmbeddingProvider(8)
		model := newTestModel(t, provider, -1)

		_, err := model.EmbedOne(ctx, "uncached")
		require.NoError(t, err)
		_, err = model.EmbedOne(ctx, "uncached")
		require.NoError(t, err)
		assert.Equal(t, 2, provider.Calls())
	})
}

func TestEmbedOneBlocking(t *testing.T) {
	ctx := context.Background()
	provider := NewMockEmbeddingProvider(8)
	model := newTestModel(t, provider, -1)

	pooled, err := model.EmbedOne(ctx, "same text")
	require.NoError(t, err)
	inline, err := model.EmbedOneBlocking(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, pooled, inline)
}

func TestModelClose(t *testing.T) {
	model, err := NewModel(ModelConfig{Provider: NewMockEmbeddingProvider(8), Logger: zerolog.Nop()})
	require.NoError(t, err)

	model.Close()
	model.Close() // second close is a no-op

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = model.EmbedOne(ctx, "after close")
	assert.Error(t, err)
}
