package cli

import (
	"fmt"
	"strings"

	"github.com/arvid/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var recallLimit int

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Recall memories relevant to a query",
	Long:  `Run hybrid vector plus full-text search and print the curated results.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecall,
}

func init() {
	recallCmd.Flags().IntVar(&recallLimit, "limit", memory.DefaultRecallLimit, "maximum memories to return")
	rootCmd.AddCommand(recallCmd)
}

func runRecall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	memories, err := memory.Recall(ctx, rt.engine, strings.Join(args, " "), recallLimit)
	if err != nil {
		return err
	}

	fmt.Print(memory.FormatMemories(memories))
	if len(memories) > 0 {
		fmt.Println()
		for _, m := range memories {
			fmt.Printf("  id=%s accessed=%d\n", m.ID, m.AccessCount)
		}
	}
	return nil
}
