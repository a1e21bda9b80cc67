package cli

import (
	"fmt"

	"github.com/arvid/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector and text indexes",
	Long: `Rebuild the KNN vector index and the full-text index from the stored
rows. Searches before the first build fall back to exact scans.`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := memory.Reindex(ctx, rt.engine); err != nil {
		return err
	}

	count, err := rt.index.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Indexes rebuilt over %d rows\n", count)
	return nil
}
