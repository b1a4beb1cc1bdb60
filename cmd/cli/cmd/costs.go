package cmd

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var costsPeriod string

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "View cost information",
	Long:  `View rolling cost windows, budget alerts and the month-end forecast.`,
}

var costsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "View spend over a rolling window",
	RunE:  runCostsSummary,
}

var costsBudgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "View budget threshold alerts",
	RunE:  runCostsBudget,
}

var costsForecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "View spend velocity and month-end projection",
	RunE:  runCostsForecast,
}

func init() {
	rootCmd.AddCommand(costsCmd)
	costsCmd.AddCommand(costsSummaryCmd)
	costsCmd.AddCommand(costsBudgetCmd)
	costsCmd.AddCommand(costsForecastCmd)

	costsSummaryCmd.Flags().StringVarP(&costsPeriod, "period", "p", "daily", "Time period (daily, weekly, monthly)")
}

func runCostsSummary(cmd *cobra.Command, args []string) error {
	params := url.Values{}
	if costsPeriod != "" {
		params.Set("period", costsPeriod)
	}

	var window CostWindow
	if err := getJSON("/api/v1/costs/summary?"+params.Encode(), &window); err != nil {
		return err
	}

	if done, err := printStructured(window); done {
		return err
	}

	printCostWindow(window)
	return nil
}

func printCostWindow(window CostWindow) {
	fmt.Printf("Cost Summary (%s)\n", window.Period)
	fmt.Println("====================")
	fmt.Println()

	fmt.Printf("Total Cost:    %s\n", formatUSD(window.TotalCostUSD))
	fmt.Printf("Samples:       %s\n", humanize.Comma(int64(window.SampleCount)))
	if !window.StartTime.IsZero() {
		fmt.Printf("Window:        %s to %s\n",
			window.StartTime.Format("2006-01-02 15:04"),
			window.EndTime.Format("2006-01-02 15:04"))
	}

	if len(window.PerEntityCost) > 0 {
		ids := make([]string, 0, len(window.PerEntityCost))
		for id := range window.PerEntityCost {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return window.PerEntityCost[ids[i]].GreaterThan(window.PerEntityCost[ids[j]])
		})

		fmt.Println("\nBy Agent:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, id := range ids {
			fmt.Fprintf(w, "  %s\t%s\n", id, formatUSD(window.PerEntityCost[id]))
		}
		w.Flush()
	}
}

func runCostsBudget(cmd *cobra.Command, args []string) error {
	var report BudgetAlertsReport
	if err := getJSON("/api/v1/costs/budget-alerts", &report); err != nil {
		return err
	}

	if done, err := printStructured(report); done {
		return err
	}

	if len(report.Alerts) == 0 {
		fmt.Println("No budget thresholds crossed.")
		return nil
	}

	fmt.Printf("Budget alerts: %d critical, %d warning\n\n", report.CriticalCount, report.WarningCount)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEVERITY\tSCOPE\tPERIOD\tSPEND\tLIMIT\tTHRESHOLD")
	for _, a := range report.Alerts {
		scope := string(a.Scope)
		if a.EntityID != "" {
			scope += ":" + a.EntityID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d%%\n",
			a.Severity, scope, a.Period, formatUSD(a.CurrentSpend), formatUSD(a.BudgetLimit), a.ThresholdPercent)
	}
	w.Flush()
	return nil
}

func runCostsForecast(cmd *cobra.Command, args []string) error {
	var report ForecastReport
	if err := getJSON("/api/v1/costs/forecast", &report); err != nil {
		return err
	}

	if done, err := printStructured(report); done {
		return err
	}

	fmt.Println("Spend Forecast")
	fmt.Println("==============")
	fmt.Println()
	if report.Stale {
		fmt.Println("(stale: showing the last computed forecast)")
		fmt.Println()
	}
	fmt.Printf("Month to date:     %s (day %d, %d left)\n",
		formatUSD(report.Current.Spend), report.Current.DaysIntoMonth, report.Current.DaysLeftInMonth)
	fmt.Printf("Velocity:          %s/day, trend %s\n", formatUSD(report.VelocityPerDay), report.Trend)
	fmt.Printf("Next 7 days:       %s\n", formatUSD(report.Forecast7d))
	fmt.Printf("Next 30 days:      %s\n", formatUSD(report.Forecast30d))
	fmt.Printf("Projected month:   %s\n", formatUSD(report.ProjectedMonthEnd))
	fmt.Printf("Confidence:        %s%%\n", report.ConfidenceLevel.Mul(hundredPercent).StringFixed(0))

	if report.Budget.Monthly.IsPositive() {
		fmt.Printf("Budget:            %s, %s remaining [%s]\n",
			formatUSD(report.Budget.Monthly), formatUSD(report.Budget.Remaining), report.Budget.StatusColor)
	} else {
		fmt.Println("Budget:            not configured")
	}
	return nil
}
