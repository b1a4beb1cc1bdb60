package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View CLI configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	fmt.Println("agentwatch CLI Configuration")
	fmt.Println("============================")
	fmt.Println()
	fmt.Printf("Server URL:     %s\n", serverURL)
	fmt.Printf("Output Format:  %s\n", outputFormat)
	fmt.Println()

	fmt.Println("Environment Variables:")
	if url := os.Getenv("AGENTWATCH_URL"); url != "" {
		fmt.Printf("  AGENTWATCH_URL=%s\n", url)
	} else {
		fmt.Println("  AGENTWATCH_URL (not set, using default)")
	}

	return nil
}
