package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caseloop/caseloop/internal/agent"
	"github.com/caseloop/caseloop/internal/cli"
)

var (
	chatEntityType     string
	chatEntityID       string
	chatConversationID string
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Chat with the case assistant",
	Long: `Send one message to the case assistant and stream its reply.
Pass --conversation to continue an earlier conversation.

Examples:
  caseloop chat --entity-type case --entity-id <id> "Summarize this case"
  caseloop chat --entity-type case --entity-id <id> --conversation <id> "Now move it to review"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newAPIClient()

		payload := &cli.ChatPayload{
			ConversationID: chatConversationID,
			Message:        strings.Join(args, " "),
			EntityType:     chatEntityType,
			EntityID:       chatEntityID,
		}

		var conversationID string
		err := client.Chat(payload, func(event *agent.StreamEvent) error {
			switch event.Type {
			case agent.EventTypeTextDelta:
				fmt.Print(event.Delta)
			case agent.EventTypeToolUse:
				fmt.Fprintf(os.Stderr, "\n[tool: %s]\n", event.ToolUse.Name)
			case agent.EventTypeActionExecuted:
				if event.ActionExecuted.Success {
					fmt.Fprintf(os.Stderr, "[action %s: %s]\n", event.ActionExecuted.ActionID, event.ActionExecuted.Summary)
				} else {
					fmt.Fprintf(os.Stderr, "[action %s failed: %s]\n", event.ActionExecuted.ActionID, event.ActionExecuted.Error)
				}
			case agent.EventTypeError:
				return fmt.Errorf("%s: %s", event.Error.Code, event.Error.Message)
			case agent.EventTypeDone:
				conversationID = event.ConversationID
			}
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nChat failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Println()
		if conversationID != "" {
			fmt.Fprintf(os.Stderr, "\nConversation: %s\n", conversationID)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatEntityType, "entity-type", "", "Entity type the conversation is about (required)")
	chatCmd.Flags().StringVar(&chatEntityID, "entity-id", "", "Entity ID the conversation is about (required)")
	chatCmd.Flags().StringVar(&chatConversationID, "conversation", "", "Continue an existing conversation")
	chatCmd.MarkFlagRequired("entity-type")
	chatCmd.MarkFlagRequired("entity-id")
}
