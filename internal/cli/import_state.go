package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var importStateCmd = &cobra.Command{
	Use:   "import-state <state.json>",
	Short: "Import previously created groups into the dedup store",
	Long: "Reads a {\"createdGroups\": {owner: {group: id}}} document and records every group\n" +
		"so later batches skip it. Groups already known are left unchanged.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		led, err := openLedger()
		if err != nil {
			return err
		}
		defer led.Close()

		added, err := led.ImportState(f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d groups\n", added)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importStateCmd)
}
