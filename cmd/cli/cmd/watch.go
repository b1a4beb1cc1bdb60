package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/agentwatch/agentwatch/internal/service/dashboard"
	"github.com/agentwatch/agentwatch/pkg/models"
)

const (
	watchBaseDelay = 1 * time.Second
	watchMaxDelay  = 30 * time.Second
)

var (
	watchChannels    []string
	watchMaxAttempts int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live updates",
	Long: `Stream live cost, resource and alert updates from the server.

The connection is re-established with exponential backoff when it drops.
Every new connection starts with a full snapshot.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringSliceVar(&watchChannels, "channels", nil, "Channels to subscribe to (costs, resources, alerts)")
	watchCmd.Flags().IntVar(&watchMaxAttempts, "max-attempts", 10, "Consecutive failed connection attempts before giving up (0 = forever)")
}

// wireEvent is the envelope of every live-update message
type wireEvent struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	target, err := wsURL(serverURL)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", target)

	return watchStream(ctx, target, watchOptions{
		channels:    watchChannels,
		maxAttempts: watchMaxAttempts,
		baseDelay:   watchBaseDelay,
		maxDelay:    watchMaxDelay,
	}, func(raw []byte) {
		if outputFormat == "json" {
			fmt.Println(string(raw))
			return
		}
		fmt.Println(formatEvent(raw))
	})
}

// wsURL turns the server URL into the live-update endpoint
func wsURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path += "/api/v1/ws"
	return u.String(), nil
}

// backoffDelay doubles base for every failed attempt, capped at limit
func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

type watchOptions struct {
	channels    []string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// watchStream delivers every received message to handle until ctx is done.
// A session that opened successfully resets the failure count.
func watchStream(ctx context.Context, target string, opts watchOptions, handle func([]byte)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	failures := 0

	for {
		opened, err := watchSession(ctx, dialer, target, opts.channels, handle)
		if ctx.Err() != nil {
			return nil
		}
		if opened {
			failures = 0
		} else {
			failures++
		}
		if opts.maxAttempts > 0 && failures >= opts.maxAttempts {
			return fmt.Errorf("giving up after %d failed attempts: %w", failures, err)
		}

		delay := backoffDelay(failures-1, opts.baseDelay, opts.maxDelay)
		fmt.Fprintf(os.Stderr, "connection lost (%v), reconnecting in %s\n", err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// watchSession runs one connection and reports whether it was established
func watchSession(ctx context.Context, dialer websocket.Dialer, target string, channels []string, handle func([]byte)) (bool, error) {
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// unblock ReadMessage on cancellation
	stopClose := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stopClose()

	if len(channels) > 0 {
		if err := conn.WriteJSON(map[string]any{"type": "subscribe", "channels": channels}); err != nil {
			return true, err
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, errors.New("server closed the connection")
			}
			return true, err
		}
		handle(raw)
	}
}

// formatEvent renders a live-update message as a single line
func formatEvent(raw []byte) string {
	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Sprintf("unreadable message: %s", truncateString(string(raw), 80))
	}

	ts := ev.Timestamp.Local().Format("15:04:05")
	if ev.Timestamp.IsZero() {
		ts = "--:--:--"
	}

	switch ev.Type {
	case "init":
		var snap dashboard.Snapshot
		if err := json.Unmarshal(ev.Data, &snap); err == nil {
			return fmt.Sprintf("%s snapshot: %d agents, gateway %s, daily %s, %d active alerts",
				ts, len(snap.Agents), snap.Gateway.Status, formatUSD(snap.Costs.Daily.TotalCostUSD), len(snap.Alerts))
		}
	case "costs-update":
		var report dashboard.CostReport
		if err := json.Unmarshal(ev.Data, &report); err == nil {
			return fmt.Sprintf("%s costs: daily %s over %d samples, budget alerts %d critical / %d warning",
				ts, formatUSD(report.Daily.TotalCostUSD), report.Daily.SampleCount,
				report.Budget.CriticalCount, report.Budget.WarningCount)
		}
	case "resource-update":
		var report dashboard.ResourceReport
		if err := json.Unmarshal(ev.Data, &report); err == nil {
			return fmt.Sprintf("%s resources: gateway %s (%dms), %d agents, %d snapshots",
				ts, report.Gateway.Status, report.Gateway.LatencyMs, len(report.Agents), len(report.Resources))
		}
	case "alert":
		var a models.Alert
		if err := json.Unmarshal(ev.Data, &a); err == nil {
			line := fmt.Sprintf("%s ALERT [%s] %s: %s", ts, a.Severity, a.Type, a.Message)
			if a.EntityID != "" {
				line += " (agent " + a.EntityID + ")"
			}
			return line
		}
	case "subscribed":
		var data struct {
			Channels []string `json:"channels"`
		}
		if err := json.Unmarshal(ev.Data, &data); err == nil {
			return fmt.Sprintf("%s subscribed: %s", ts, strings.Join(data.Channels, ", "))
		}
	case "pong":
		return ts + " pong"
	}

	return fmt.Sprintf("%s %s", ts, ev.Type)
}
