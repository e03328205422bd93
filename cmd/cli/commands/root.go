package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	apiURL     string
	apiToken   string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "caseloop",
	Short: "Caseloop CLI - Run and undo compliance case actions",
	Long: `The Caseloop CLI talks to the case management API: browse the action
catalog, preview and execute actions, inspect the execution history,
undo recent actions, and chat with the case assistant.

Examples:
  caseloop actions --entity-type case
  caseloop execute update-status --entity-type case --entity-id <id> --input '{"status":"IN_REVIEW"}'
  caseloop history --entity-id <id>
  caseloop undo <record-id>
  caseloop chat --entity-type case --entity-id <id> "Summarize this case"`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initConfig()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.caseloop.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Caseloop API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "api-token", "", "API authentication token")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results in JSON format")

	viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("api.token", rootCmd.PersistentFlags().Lookup("api-token"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".caseloop")
	}

	viper.SetEnvPrefix("CASELOOP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if !outputJSON {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	// Override with flags if provided
	if apiURL != "" && apiURL != "http://localhost:8080" {
		viper.Set("api.url", apiURL)
	}
	if apiToken != "" {
		viper.Set("api.token", apiToken)
	}
}
