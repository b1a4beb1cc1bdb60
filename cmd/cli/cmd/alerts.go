package cmd

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	alertsAll bool
	ackBy     string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and acknowledge alerts",
	RunE:  runAlertsList,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE:  runAlertsList,
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack [alert-id]",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsAck,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAckCmd)

	alertsCmd.Flags().BoolVarP(&alertsAll, "all", "a", false, "Include acknowledged alerts")
	alertsListCmd.Flags().BoolVarP(&alertsAll, "all", "a", false, "Include acknowledged alerts")
	alertsAckCmd.Flags().StringVar(&ackBy, "by", getEnvOrDefault("USER", ""), "Who is acknowledging the alert")
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	path := "/api/v1/alerts"
	if alertsAll {
		path += "?all=true"
	}

	var list AlertList
	if err := getJSON(path, &list); err != nil {
		return err
	}

	if done, err := printStructured(list); done {
		return err
	}

	if len(list.Alerts) == 0 {
		fmt.Println("No active alerts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEVERITY\tTYPE\tAGENT\tCREATED\tACK\tMESSAGE")
	for _, a := range list.Alerts {
		ack := "-"
		if a.Acknowledged {
			ack = a.AcknowledgedBy
		}
		agent := a.EntityID
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateString(a.ID, 12),
			a.Severity,
			a.Type,
			agent,
			formatAgo(a.CreatedAt),
			ack,
			truncateString(a.Message, 60))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d alerts\n", list.Count)
	return nil
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	if ackBy == "" {
		return fmt.Errorf("--by is required")
	}

	var a Alert
	body := map[string]string{"acknowledgedBy": ackBy}
	if err := postJSON("/api/v1/alerts/"+url.PathEscape(args[0])+"/acknowledge", body, &a); err != nil {
		return err
	}

	if done, err := printStructured(a); done {
		return err
	}

	fmt.Printf("Alert %s acknowledged by %s\n", a.ID, a.AcknowledgedBy)
	return nil
}
