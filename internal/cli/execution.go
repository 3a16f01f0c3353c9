package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/sfini/internal/observability"
	"github.com/valter-silva-au/sfini/pkg/execution"
	"github.com/valter-silva-au/sfini/pkg/statemachine"
)

var (
	executionMachine   string
	executionName      string
	executionInput     string
	executionInputFile string
	executionWait      bool
	executionStatus    string
	executionARN       string
	executionError     string
	executionCause     string
	executionNoColor   bool
	executionInterval  time.Duration
)

var executionCmd = &cobra.Command{
	Use:   "execution",
	Short: "Start, inspect and stop state machine executions",
}

var executionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an execution",
	Long: `Start an execution of the state machine named by --machine. The input is
the JSON given by --input or read from --input-file, or {} when neither is
set. Without --name a unique name "<machine>_<uuid>" is generated. With
--wait the command blocks until the execution finishes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if executionMachine == "" {
			return fmt.Errorf("--machine is required")
		}
		input, err := executionInputJSON()
		if err != nil {
			return err
		}
		name := executionName
		if name == "" {
			name = statemachine.DefaultExecutionName(executionMachine)
		}

		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		exec := execution.New(name, sess.StateMachineARN(executionMachine), input, sess, execution.WithLogger(logger()))
		if err := exec.Start(ctx); err != nil {
			return err
		}
		emit(observability.EventExecutionStarted, "execution started", map[string]any{
			"execution":     exec.ARN,
			"state_machine": executionMachine,
		})
		fmt.Fprintln(cmd.OutOrStdout(), exec.ARN)

		if !executionWait {
			return nil
		}
		return waitExecution(cmd, exec)
	},
}

var executionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions of a state machine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if executionMachine == "" {
			return fmt.Errorf("--machine is required")
		}
		status, err := parseExecutionStatus(executionStatus)
		if err != nil {
			return err
		}

		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		execs, err := execution.List(ctx, sess, sess.StateMachineARN(executionMachine), status)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(execs) == 0 {
			fmt.Fprintln(out, "No executions found.")
			return nil
		}
		fmt.Fprintf(out, "%-10s %-20s %s\n", "STATUS", "STARTED", "NAME")
		for _, e := range execs {
			fmt.Fprintf(out, "%s %-20s %s\n",
				statusColor(e.Status).Sprintf("%-10s", e.Status),
				e.StartDate.UTC().Format(time.RFC3339),
				e.Name)
		}
		return nil
	},
}

var executionDescribeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Show an execution's status, input and output",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if executionARN == "" {
			return fmt.Errorf("--arn is required")
		}
		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		exec := execution.Attach(executionARN, sess, execution.WithLogger(logger()))
		if err := exec.Describe(ctx); err != nil {
			return err
		}
		printExecution(cmd, exec)
		if exec.Status == types.ExecutionStatusSucceeded {
			output, err := exec.Output(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %s\n", "Output:", output)
		}
		return nil
	},
}

var executionHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Print an execution's event history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if executionARN == "" {
			return fmt.Errorf("--arn is required")
		}
		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		events, err := execution.Attach(executionARN, sess).History(ctx)
		if err != nil {
			return err
		}
		return execution.FormatHistory(cmd.OutOrStdout(), events, !executionNoColor && !color.NoColor)
	},
}

var executionStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running execution",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if executionARN == "" {
			return fmt.Errorf("--arn is required")
		}
		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		exec := execution.Attach(executionARN, sess, execution.WithLogger(logger()))
		if err := exec.Stop(ctx, executionError, executionCause); err != nil {
			return err
		}
		emit(observability.EventExecutionStopped, "execution stopped", map[string]any{
			"execution": exec.ARN,
			"error":     executionError,
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", exec.ARN)
		return nil
	},
}

var executionWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until an execution finishes",
	Long: `Poll the execution every --interval (default execution.poll_interval_seconds)
until it finishes. The command fails unless the execution succeeded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if executionARN == "" {
			return fmt.Errorf("--arn is required")
		}
		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		return waitExecution(cmd, execution.Attach(executionARN, sess, execution.WithLogger(logger())))
	},
}

// waitExecution waits for exec to finish, records the outcome and prints
// the output of a successful run.
func waitExecution(cmd *cobra.Command, exec *execution.Execution) error {
	interval := executionInterval
	if interval <= 0 {
		interval = time.Duration(currentConfig().Execution.PollIntervalSeconds) * time.Second
	}
	ctx := commandContext(cmd)
	err := exec.Wait(ctx, interval)
	if err != nil && !errors.Is(err, execution.ErrExecutionFailed) {
		return err
	}

	emit(observability.EventExecutionFinished, "execution finished", map[string]any{
		"execution": exec.ARN,
		"status":    string(exec.Status),
	})
	printExecution(cmd, exec)
	if err != nil {
		return err
	}
	output, err := exec.Output(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %s\n", "Output:", output)
	return nil
}

func printExecution(cmd *cobra.Command, exec *execution.Execution) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", exec.ARN)
	fmt.Fprintf(out, "  %-12s %s\n", "Status:", statusColor(exec.Status).Sprint(exec.Status))
	fmt.Fprintf(out, "  %-12s %s\n", "Started:", exec.StartDate.UTC().Format(time.RFC3339))
	if !exec.StopDate.IsZero() {
		fmt.Fprintf(out, "  %-12s %s\n", "Stopped:", exec.StopDate.UTC().Format(time.RFC3339))
	}
	if exec.Error != "" || exec.Cause != "" {
		fmt.Fprintf(out, "  %-12s %s: %s\n", "Error:", exec.Error, exec.Cause)
	}
}

func statusColor(status types.ExecutionStatus) *color.Color {
	c := color.New()
	switch status {
	case types.ExecutionStatusSucceeded:
		c = color.New(color.FgGreen)
	case types.ExecutionStatusFailed, types.ExecutionStatusTimedOut:
		c = color.New(color.FgRed)
	case types.ExecutionStatusAborted:
		c = color.New(color.FgYellow)
	case types.ExecutionStatusRunning:
		c = color.New(color.FgCyan)
	}
	if executionNoColor {
		c.DisableColor()
	}
	return c
}

// parseExecutionStatus accepts a status name in any case. Empty means all.
func parseExecutionStatus(s string) (types.ExecutionStatus, error) {
	if s == "" {
		return "", nil
	}
	want := types.ExecutionStatus(strings.ToUpper(s))
	for _, v := range want.Values() {
		if v == want {
			return want, nil
		}
	}
	return "", fmt.Errorf("unknown execution status %q", s)
}

// executionInputJSON returns the start input from --input or --input-file,
// or nil when neither holds any.
func executionInputJSON() (any, error) {
	if executionInput != "" && executionInputFile != "" {
		return nil, fmt.Errorf("--input and --input-file are mutually exclusive")
	}
	raw := []byte(executionInput)
	if executionInputFile != "" {
		data, err := os.ReadFile(executionInputFile)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
		raw = data
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("execution input is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func init() {
	executionStartCmd.Flags().StringVarP(&executionMachine, "machine", "m", "", "State machine name (required)")
	executionStartCmd.Flags().StringVar(&executionName, "name", "", "Execution name (default <machine>_<uuid>)")
	executionStartCmd.Flags().StringVarP(&executionInput, "input", "i", "", "Execution input as JSON")
	executionStartCmd.Flags().StringVar(&executionInputFile, "input-file", "", "Read execution input from a JSON file")
	executionStartCmd.Flags().BoolVarP(&executionWait, "wait", "w", false, "Wait for the execution to finish")
	executionStartCmd.Flags().DurationVar(&executionInterval, "interval", 0, "Poll interval while waiting")

	executionListCmd.Flags().StringVarP(&executionMachine, "machine", "m", "", "State machine name (required)")
	executionListCmd.Flags().StringVar(&executionStatus, "status", "", "Only executions with this status (e.g. RUNNING, FAILED)")

	for _, c := range []*cobra.Command{executionDescribeCmd, executionHistoryCmd, executionStopCmd, executionWaitCmd} {
		c.Flags().StringVar(&executionARN, "arn", "", "Execution ARN (required)")
	}
	executionStopCmd.Flags().StringVar(&executionError, "error", "", "Error code recorded on the stopped execution")
	executionStopCmd.Flags().StringVar(&executionCause, "cause", "", "Cause recorded on the stopped execution")
	executionWaitCmd.Flags().DurationVar(&executionInterval, "interval", 0, "Poll interval (overrides execution.poll_interval_seconds)")
	executionCmd.PersistentFlags().BoolVar(&executionNoColor, "no-color", false, "Disable coloured output")

	executionCmd.AddCommand(executionStartCmd)
	executionCmd.AddCommand(executionListCmd)
	executionCmd.AddCommand(executionDescribeCmd)
	executionCmd.AddCommand(executionHistoryCmd)
	executionCmd.AddCommand(executionStopCmd)
	executionCmd.AddCommand(executionWaitCmd)
	rootCmd.AddCommand(executionCmd)
}
