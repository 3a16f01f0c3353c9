package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display worker and execution metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include task outcomes per activity with average duration and failure
rate, failures by error code, and executions started, stopped and finished
by status.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (event log may be disabled)")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		// Table format.
		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Fprintf(out, "  %-26s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-26s %d\n", "Tasks started:", metrics.TasksStarted)
		fmt.Fprintf(out, "  %-26s %d\n", "Tasks succeeded:", metrics.TasksSucceeded)
		fmt.Fprintf(out, "  %-26s %d\n", "Tasks failed:", metrics.TasksFailed)
		fmt.Fprintf(out, "  %-26s %d\n", "Tasks cancelled:", metrics.TasksCancelled)
		fmt.Fprintf(out, "  %-26s %d\n", "Activities registered:", metrics.ActivitiesRegistered)
		fmt.Fprintf(out, "  %-26s %d\n", "State machines registered:", metrics.StateMachinesRegistered)
		fmt.Fprintf(out, "  %-26s %d\n", "Executions started:", metrics.ExecutionsStarted)
		fmt.Fprintf(out, "  %-26s %d\n", "Executions stopped:", metrics.ExecutionsStopped)

		if len(metrics.Activities) > 0 {
			fmt.Fprintln(out, "\n  Activities:")
			for _, name := range sortedKeys(metrics.Activities) {
				a := metrics.Activities[name]
				fmt.Fprintf(out, "    %s\n", name)
				fmt.Fprintf(out, "      started %d, succeeded %d, failed %d, cancelled %d\n",
					a.Started, a.Succeeded, a.Failed, a.Cancelled)
				fmt.Fprintf(out, "      failure rate %.0f%%, avg duration %.0fms\n", a.FailureRate()*100, a.AvgDurationMs)
			}
		}

		printCounts(out, "Failures by error code:", metrics.FailuresByCode)
		printCounts(out, "Executions by status:", metrics.ExecutionsByStatus)

		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-26s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-26s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

func printCounts(out io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(out, "\n  %s\n", title)
	for _, k := range sortedKeys(counts) {
		fmt.Fprintf(out, "    %-24s %d\n", k+":", counts[k])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// "24h" or "15m" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 24h, 15m)", s)
	}
	return now.Add(-d), nil
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 24h, 15m)")
	rootCmd.AddCommand(metricsCmd)
}
