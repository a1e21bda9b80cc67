package cli

import (
	"fmt"
	"strings"

	"github.com/arvid/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var (
	saveType       string
	saveImportance float64
	saveSource     string
	saveChannel    string
)

var saveCmd = &cobra.Command{
	Use:   "save [content]",
	Short: "Save a new memory",
	Long:  `Save a new memory into the record store and the search index.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSave,
}

func init() {
	saveCmd.Flags().StringVar(&saveType, "type", "fact", "memory type (fact, observation, preference, event)")
	saveCmd.Flags().Float64Var(&saveImportance, "importance", memory.DefaultImportance, "importance in [0,1]")
	saveCmd.Flags().StringVar(&saveSource, "source", "cli", "where the memory came from")
	saveCmd.Flags().StringVar(&saveChannel, "channel", "", "originating channel id")
	rootCmd.AddCommand(saveCmd)
}

func runSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	importance := saveImportance
	id, err := memory.Save(ctx, rt.engine, memory.CreateMemoryInput{
		Content:    strings.Join(args, " "),
		Type:       memory.MemoryType(saveType),
		Importance: &importance,
		Source:     saveSource,
		ChannelID:  saveChannel,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Saved memory %s\n", id)
	return nil
}
