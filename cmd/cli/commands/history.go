package commands

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/caseloop/caseloop/internal/models"
)

var (
	historyEntityType string
	historyEntityID   string
	historyActionID   string
	historyStatus     string
	historyLimit      int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List action execution history",
	Long: `List action records for your organization, newest first.

Examples:
  caseloop history
  caseloop history --entity-id <id>
  caseloop history --action-id update-status --status COMPLETED`,
	Run: func(cmd *cobra.Command, args []string) {
		client := newAPIClient()

		query := url.Values{}
		if historyEntityType != "" {
			query.Set("entity_type", historyEntityType)
		}
		if historyEntityID != "" {
			query.Set("entity_id", historyEntityID)
		}
		if historyActionID != "" {
			query.Set("action_id", historyActionID)
		}
		if historyStatus != "" {
			query.Set("status", historyStatus)
		}
		if historyLimit > 0 {
			query.Set("limit", strconv.Itoa(historyLimit))
		}

		records, err := client.History(query)
		if err != nil {
			fmt.Printf("Failed to get history: %v\n", err)
			os.Exit(1)
		}

		if outputJSON {
			printJSON(records)
			return
		}

		if len(records) == 0 {
			fmt.Println("No action records found")
			return
		}

		fmt.Printf("\nFound %d record(s):\n\n", len(records))
		for _, r := range records {
			fmt.Printf("  %s  %-20s %-10s %s/%s  by %s\n",
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.ActionID,
				statusBadge(r.Status),
				r.EntityType,
				r.EntityID,
				r.ActorType,
			)
			fmt.Printf("    record: %s\n", r.ID)
		}
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyEntityType, "entity-type", "", "Filter by entity type")
	historyCmd.Flags().StringVar(&historyEntityID, "entity-id", "", "Filter by entity ID")
	historyCmd.Flags().StringVar(&historyActionID, "action-id", "", "Filter by action ID")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by record status")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Maximum number of records")
}

func statusBadge(status models.RecordStatus) string {
	switch status {
	case models.RecordStatusCompleted:
		return "completed"
	case models.RecordStatusFailed:
		return "FAILED"
	case models.RecordStatusUndone:
		return "undone"
	default:
		return string(status)
	}
}
