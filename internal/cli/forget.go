package cli

import (
	"fmt"

	"github.com/arvid/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var forgetCmd = &cobra.Command{
	Use:   "forget [memory-id]",
	Short: "Delete a memory by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := memory.Forget(ctx, rt.engine, args[0]); err != nil {
		return err
	}

	fmt.Printf("Forgot memory %s\n", args[0])
	return nil
}
