package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/caseloop/caseloop/internal/cli"
)

var actionsEntityType string

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List available actions",
	Long: `List the actions the caller may run, optionally narrowed to an
entity type.

Examples:
  caseloop actions
  caseloop actions --entity-type case
  caseloop actions --json`,
	Run: func(cmd *cobra.Command, args []string) {
		client := newAPIClient()

		actions, err := client.ListActions(actionsEntityType)
		if err != nil {
			fmt.Printf("Failed to list actions: %v\n", err)
			os.Exit(1)
		}

		if outputJSON {
			data, err := json.MarshalIndent(actions, "", "  ")
			if err != nil {
				fmt.Printf("Error encoding JSON: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
			return
		}

		if len(actions) == 0 {
			fmt.Println("No actions available")
			return
		}

		fmt.Printf("\nFound %d action(s):\n\n", len(actions))
		for _, a := range actions {
			undo := "not undoable"
			if a.Undoable {
				undo = fmt.Sprintf("undoable for %ds", a.UndoWindowSecs)
			}
			preview := ""
			if a.RequiresPreview {
				preview = ", requires preview"
			}
			fmt.Printf("  %-24s %s [%s%s, %s]\n", a.ID, a.Name, a.Category, preview, undo)
			if a.Description != "" {
				fmt.Printf("  %-24s %s\n", "", a.Description)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(actionsCmd)
	actionsCmd.Flags().StringVar(&actionsEntityType, "entity-type", "", "Only actions applicable to this entity type")
}

// newAPIClient builds a client from the resolved configuration
func newAPIClient() *cli.Client {
	return cli.NewClient(viper.GetString("api.url"), viper.GetString("api.token"))
}
