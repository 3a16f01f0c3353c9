package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/sfini/internal/observability"
	"github.com/valter-silva-au/sfini/pkg/worker"
)

var (
	workerActivity string
	workerName     string
	workerPollers  int
	workerRegister bool
)

// shutdownSignals stop a running worker.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

var workerCmd = &cobra.Command{
	Use:   "worker --activity <name> -- <command> [args...]",
	Short: "Run an activity worker backed by an external command",
	Long: `Poll Step Functions for tasks of one activity in the group and run the
given command for each. The task input is written to the command's stdin and
its stdout, which must be empty or JSON, becomes the task output. A non-zero
exit fails the task with error CommandFailed and the command's stderr as the
cause.

The command sees SFINI_ACTIVITY, SFINI_WORKER and SFINI_TASK_TOKEN in its
environment. Interrupt or SIGTERM stops the worker; a task still running is
failed with WorkerCancel.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if workerActivity == "" {
			return fmt.Errorf("--activity is required")
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), shutdownSignals...)
		defer stop()

		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		reg, err := newRegistration(sess)
		if err != nil {
			return err
		}

		handler := worker.NewCommandHandler(args[0], args[1:]...)
		handler.Stderr = cmd.ErrOrStderr()
		act, err := reg.Activity(workerActivity, handler, heartbeatOption())
		if err != nil {
			return err
		}
		if workerRegister {
			if err := act.Register(ctx); err != nil {
				return err
			}
			emit(observability.EventActivityRegistered, "activity registered", map[string]any{
				"activity": act.Name,
				"arn":      act.ARN(),
			})
		}

		w := worker.New(act, workerOptions()...)
		fmt.Fprintf(cmd.OutOrStdout(), "%s polling %s\n", w, act.ARN())
		if err := w.Run(ctx); err != nil {
			return fmt.Errorf("running %s: %w", w, err)
		}
		return nil
	},
}

func workerOptions() []worker.Option {
	cfg := currentConfig()
	pollers := cfg.Worker.Pollers
	if workerPollers > 0 {
		pollers = workerPollers
	}
	opts := []worker.Option{
		worker.WithLogger(logger()),
		worker.WithPollers(pollers),
		worker.WithPollErrorBackoff(time.Duration(cfg.Worker.PollErrorBackoffSeconds) * time.Second),
	}
	if workerName != "" {
		opts = append(opts, worker.WithName(workerName))
	}
	if EventLog != nil {
		opts = append(opts, worker.WithRecorder(observability.NewTaskRecorder(EventLog, logger())))
	}
	return opts
}

func init() {
	workerCmd.Flags().StringVarP(&workerActivity, "activity", "a", "", "Activity name within the group (required)")
	workerCmd.Flags().StringVar(&workerName, "name", "", "Worker name reported to Step Functions (default <hostname>-<id>)")
	workerCmd.Flags().IntVar(&workerPollers, "pollers", 0, "Concurrent poll loops (overrides worker.pollers)")
	workerCmd.Flags().BoolVar(&workerRegister, "register", false, "Create the activity before polling")
	workerCmd.Flags().StringVar(&activitiesGroup, "group", "", "Activity group (overrides activities.group)")
	workerCmd.Flags().StringVar(&activitiesVersion, "version", "", "Group version (overrides activities.version)")
	rootCmd.AddCommand(workerCmd)
}
