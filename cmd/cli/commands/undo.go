package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var undoCheckOnly bool

var undoCmd = &cobra.Command{
	Use:   "undo <record-id>",
	Short: "Undo a completed action",
	Long: `Undo a completed action record while its undo window is open.
With --check, only report whether the record can still be undone.

Examples:
  caseloop undo 6d1f0b3a-...
  caseloop undo 6d1f0b3a-... --check`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newAPIClient()
		recordID := args[0]

		if undoCheckOnly {
			state, err := client.UndoState(recordID)
			if err != nil {
				fmt.Printf("Failed to get undo state: %v\n", err)
				os.Exit(1)
			}

			if outputJSON {
				printJSON(state)
				return
			}

			if state.Undoable {
				fmt.Printf("Record can be undone until %s\n", state.ExpiresAt.Format("2006-01-02 15:04:05"))
			} else {
				fmt.Printf("Record cannot be undone: %s\n", state.Reason)
			}
			return
		}

		if err := client.Undo(recordID); err != nil {
			fmt.Printf("Undo failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Action undone: %s\n", recordID)
	},
}

func init() {
	rootCmd.AddCommand(undoCmd)
	undoCmd.Flags().BoolVar(&undoCheckOnly, "check", false, "Only report whether the record can be undone")
}
