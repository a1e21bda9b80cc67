package memory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerRun(t *testing.T) {
	ctx := context.Background()

	t.Run("clean stores need no repairs", func(t *testing.T) {
		te := newTestEngine(t)
		_, err := Save(ctx, te.Engine, CreateMemoryInput{Content: "aligned"})
		require.NoError(t, err)

		report, err := NewReconciler(te.Engine, zerolog.Nop()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.RecordCount)
		assert.Equal(t, 1, report.IndexCount)
		assert.Zero(t, report.OrphansRemoved)
		assert.Zero(t, report.MissingRepaired)
		assert.Zero(t, report.Failures)
	})

	t.Run("removes orphaned index rows", func(t *testing.T) {
		te := newTestEngine(t)

		embedding, err := te.Model().EmbedOne(ctx, "no record behind this")
		require.NoError(t, err)
		require.NoError(t, te.Index().Store(ctx, "orphan", "no record behind this", embedding))

		report, err := NewReconciler(te.Engine, zerolog.Nop()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.OrphansRemoved)
		assert.Zero(t, report.Failures)

		ids, err := te.Index().ListIDs(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, "orphan")
	})

	t.Run("re-embeds records missing from the index", func(t *testing.T) {
		te := newTestEngine(t)

		m := NewMemory("never made it to the index", MemoryTypeFact)
		require.NoError(t, te.Records().Save(ctx, m))

		report, err := NewReconciler(te.Engine, zerolog.Nop()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.MissingRepaired)
		assert.Zero(t, report.Failures)

		ids, err := te.Index().ListIDs(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, m.ID)

		memories, err := Recall(ctx, te.Engine, "never made it to the index", 5)
		require.NoError(t, err)
		require.NotEmpty(t, memories)
		assert.Equal(t, m.ID, memories[0].ID)
	})

	t.Run("embedding failure counts but does not abort", func(t *testing.T) {
		te := newTestEngine(t)

		m := NewMemory("unrepairable", MemoryTypeFact)
		require.NoError(t, te.Records().Save(ctx, m))
		te.provider.FailWith(assert.AnError)

		report, err := NewReconciler(te.Engine, zerolog.Nop()).Run(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.MissingRepaired)
		assert.Equal(t, 1, report.Failures)
	})
}

func TestReconcilerStart(t *testing.T) {
	t.Run("rejects an invalid schedule", func(t *testing.T) {
		te := newTestEngine(t)
		r := NewReconciler(te.Engine, zerolog.Nop())
		assert.Error(t, r.Start("not a schedule"))
	})

	t.Run("rejects a second start", func(t *testing.T) {
		te := newTestEngine(t)
		r := NewReconciler(te.Engine, zerolog.Nop())

		require.NoError(t, r.Start("*/30 * * * *"))
		defer r.Stop()
		assert.Error(t, r.Start("*/30 * * * *"))
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		te := newTestEngine(t)
		r := NewReconciler(te.Engine, zerolog.Nop())

		require.NoError(t, r.Start("*/30 * * * *"))
		r.Stop()
		r.Stop()
	})
}
