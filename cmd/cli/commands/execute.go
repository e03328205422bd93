package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caseloop/caseloop/internal/cli"
)

var (
	execEntityType  string
	execEntityID    string
	execInput       string
	execSkipPreview bool
)

var previewCmd = &cobra.Command{
	Use:   "preview <action-id>",
	Short: "Preview what an action would do",
	Long: `Ask the server what an action would change without running it.

Examples:
  caseloop preview update-status --entity-type case --entity-id <id> --input '{"status":"IN_REVIEW"}'`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newAPIClient()
		payload := buildExecutePayload()

		preview, err := client.Preview(args[0], payload)
		if err != nil {
			fmt.Printf("Preview failed: %v\n", err)
			os.Exit(1)
		}

		if outputJSON {
			printJSON(preview)
			return
		}

		fmt.Printf("\n%s\n", preview.Summary)
		for _, change := range preview.Changes {
			fmt.Printf("  %s: %v -> %v\n", change.Field, change.OldValue, change.NewValue)
		}
		for _, warning := range preview.Warnings {
			fmt.Printf("  ! %s\n", warning)
		}
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute <action-id>",
	Short: "Execute an action",
	Long: `Execute an action against an entity. Actions whose category requires a
preview must be run with --skip-preview after you have previewed them.

Examples:
  caseloop execute update-status --entity-type case --entity-id <id> --input '{"status":"IN_REVIEW"}' --skip-preview`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newAPIClient()
		payload := buildExecutePayload()
		payload.SkipPreview = execSkipPreview

		result, err := client.Execute(args[0], payload)
		if err != nil {
			fmt.Printf("Execute failed: %v\n", err)
			os.Exit(1)
		}

		if outputJSON {
			printJSON(result)
			return
		}

		if !result.Success {
			fmt.Printf("Action failed: %s\n", result.Error)
			fmt.Printf("Record: %s\n", result.RecordID)
			os.Exit(1)
		}

		fmt.Printf("%s\n", result.Result.Summary)
		fmt.Printf("Record: %s\n", result.RecordID)
		if result.UndoAvailable && result.UndoExpiresAt != nil {
			fmt.Printf("Undoable until %s:\n  caseloop undo %s\n",
				result.UndoExpiresAt.Format("15:04:05"), result.RecordID)
		}
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(executeCmd)

	for _, cmd := range []*cobra.Command{previewCmd, executeCmd} {
		cmd.Flags().StringVar(&execEntityType, "entity-type", "", "Entity type the action targets (required)")
		cmd.Flags().StringVar(&execEntityID, "entity-id", "", "Entity ID the action targets (required)")
		cmd.Flags().StringVar(&execInput, "input", "{}", "Action input as a JSON object")
		cmd.MarkFlagRequired("entity-type")
		cmd.MarkFlagRequired("entity-id")
	}
	executeCmd.Flags().BoolVar(&execSkipPreview, "skip-preview", false, "Acknowledge the preview and execute directly")
}

func buildExecutePayload() *cli.ExecutePayload {
	var input map[string]any
	if err := json.Unmarshal([]byte(execInput), &input); err != nil {
		fmt.Printf("Invalid --input JSON: %v\n", err)
		os.Exit(1)
	}

	return &cli.ExecutePayload{
		EntityType: execEntityType,
		EntityID:   execEntityID,
		Input:      input,
	}
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
