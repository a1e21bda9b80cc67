package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store statistics",
	Long:  `Show row counts and index state for the configured stores.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	recordCount, err := rt.records.Count(ctx)
	if err != nil {
		return err
	}
	indexCount, err := rt.index.Count(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Records: %d\n", recordCount)
	fmt.Printf("Indexed rows: %d\n", indexCount)
	fmt.Printf("Dimension: %d\n", rt.index.Dimension())
	if rt.index.Indexed() {
		fmt.Println("KNN index: built")
	} else {
		fmt.Println("KNN index: not built (searches scan exhaustively)")
	}
	return nil
}
