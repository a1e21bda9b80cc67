package cli

import (
	"fmt"

	"github.com/arvid/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair drift between the record store and the search index",
	Long: `Run one reconciliation pass: index rows without a record are removed,
records without an index row are re-embedded and restored.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := memory.NewReconciler(rt.engine, rt.log.GetZerolog()).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Records: %d\n", report.RecordCount)
	fmt.Printf("Indexed: %d\n", report.IndexCount)
	fmt.Printf("Orphans removed: %d\n", report.OrphansRemoved)
	fmt.Printf("Missing repaired: %d\n", report.MissingRepaired)
	if report.Failures > 0 {
		fmt.Printf("Failures: %d\n", report.Failures)
	}
	return nil
}
