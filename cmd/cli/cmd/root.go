package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "agentwatch",
	Short: "agentwatch CLI - monitor agent spend, errors and alerts",
	Long: `agentwatch is a monitoring backend for fleets of AI agents behind
a shared gateway.

This CLI tool allows you to:
- View rolling cost windows, budget alerts and the month-end forecast
- Inspect, retry and resolve tracked errors
- List and acknowledge alerts
- Follow live updates from the server`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("AGENTWATCH_URL", "http://localhost:8080"), "agentwatch server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
