package cmd

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agentwatch/agentwatch/pkg/models"
)

var (
	errorsHours      int
	errorsEntityID   string
	errorsType       string
	errorsUnresolved bool
	errorsLimit      int
	resolveNotes     string
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Inspect tracked errors",
	Long:  `List, summarize, retry and resolve errors reported by agents.`,
	RunE:  runErrorsList,
}

var errorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent errors",
	RunE:  runErrorsList,
}

var errorsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent errors",
	RunE:  runErrorsStats,
}

var errorsRetryCmd = &cobra.Command{
	Use:   "retry [error-id]",
	Short: "Record a retry of a failed request",
	Args:  cobra.ExactArgs(1),
	RunE:  runErrorsRetry,
}

var errorsResolveCmd = &cobra.Command{
	Use:   "resolve [error-id]",
	Short: "Mark an error as resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runErrorsResolve,
}

func init() {
	rootCmd.AddCommand(errorsCmd)
	errorsCmd.AddCommand(errorsListCmd)
	errorsCmd.AddCommand(errorsStatsCmd)
	errorsCmd.AddCommand(errorsRetryCmd)
	errorsCmd.AddCommand(errorsResolveCmd)

	for _, c := range []*cobra.Command{errorsCmd, errorsListCmd} {
		c.Flags().IntVar(&errorsHours, "hours", 24, "Look-back window in hours")
		c.Flags().StringVarP(&errorsEntityID, "entity", "e", "", "Filter by agent ID")
		c.Flags().StringVarP(&errorsType, "type", "t", "", "Filter by error type (e.g. rate_limit)")
		c.Flags().BoolVarP(&errorsUnresolved, "unresolved", "u", false, "Only show unresolved errors")
		c.Flags().IntVarP(&errorsLimit, "limit", "n", 50, "Maximum number of errors to show")
	}
	errorsStatsCmd.Flags().IntVar(&errorsHours, "hours", 24, "Look-back window in hours")
	errorsResolveCmd.Flags().StringVar(&resolveNotes, "notes", "", "Resolution notes")
}

func runErrorsList(cmd *cobra.Command, args []string) error {
	params := url.Values{}
	params.Set("hours", strconv.Itoa(errorsHours))
	params.Set("limit", strconv.Itoa(errorsLimit))
	if errorsEntityID != "" {
		params.Set("entity_id", errorsEntityID)
	}
	if errorsType != "" {
		params.Set("error_type", errorsType)
	}
	if errorsUnresolved {
		params.Set("unresolved", "true")
	}

	var list ErrorList
	if err := getJSON("/api/v1/errors?"+params.Encode(), &list); err != nil {
		return err
	}

	if done, err := printStructured(list); done {
		return err
	}

	if len(list.Errors) == 0 {
		fmt.Println("No errors found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tTYPE\tCODE\tRETRIES\tSTATUS\tSEEN\tMESSAGE")
	for _, rec := range list.Errors {
		status := "open"
		if rec.Resolved {
			status = "resolved"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateString(rec.ID, 12),
			rec.EntityID,
			rec.ErrorType,
			rec.ErrorCode,
			rec.RetryCount,
			status,
			formatAgo(rec.Timestamp),
			truncateString(rec.Message, 48))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d errors\n", list.Count)
	return nil
}

func runErrorsStats(cmd *cobra.Command, args []string) error {
	var stats ErrorStats
	if err := getJSON("/api/v1/errors/stats?hours="+strconv.Itoa(errorsHours), &stats); err != nil {
		return err
	}

	if done, err := printStructured(stats); done {
		return err
	}

	fmt.Printf("Error Stats (last %d hours)\n", errorsHours)
	fmt.Println("===========================")
	fmt.Println()
	fmt.Printf("Total:            %s\n", humanize.Comma(int64(stats.TotalErrors)))
	fmt.Printf("Resolved:         %s (%.2f%%)\n", humanize.Comma(int64(stats.Resolved)), stats.ResolutionRatePercent)
	fmt.Printf("Unresolved:       %s\n", humanize.Comma(int64(stats.Unresolved)))
	fmt.Printf("Avg retries:      %.2f\n", stats.AvgRetries)
	if stats.AvgResolutionTimeMs > 0 {
		avg := time.Duration(stats.AvgResolutionTimeMs) * time.Millisecond
		fmt.Printf("Avg resolution:   %s\n", avg.Round(time.Second))
	}

	if len(stats.ErrorTypes) > 0 {
		types := make([]models.ErrorType, 0, len(stats.ErrorTypes))
		for t := range stats.ErrorTypes {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

		fmt.Println("\nBy Type:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, t := range types {
			fmt.Fprintf(w, "  %s\t%d\n", t, stats.ErrorTypes[t])
		}
		w.Flush()
	}
	return nil
}

func runErrorsRetry(cmd *cobra.Command, args []string) error {
	var rec ErrorRecord
	if err := postJSON("/api/v1/errors/"+url.PathEscape(args[0])+"/retry", nil, &rec); err != nil {
		return err
	}

	if done, err := printStructured(rec); done {
		return err
	}

	fmt.Printf("Error %s retried (%d retries)\n", rec.ID, rec.RetryCount)
	return nil
}

func runErrorsResolve(cmd *cobra.Command, args []string) error {
	body := map[string]string{"notes": resolveNotes}

	var rec ErrorRecord
	if err := postJSON("/api/v1/errors/"+url.PathEscape(args[0])+"/resolve", body, &rec); err != nil {
		return err
	}

	if done, err := printStructured(rec); done {
		return err
	}

	fmt.Printf("Error %s resolved\n", rec.ID)
	return nil
}
