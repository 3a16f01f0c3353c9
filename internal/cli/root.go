package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var (
	verbose     bool
	regionFlag  string
	profileFlag string
)

var rootCmd = &cobra.Command{
	Use:   "sfini",
	Short: "sfini - AWS Step Functions activities, state machines and executions",
	Long: `sfini manages AWS Step Functions from the command line.

It registers activity groups, runs activity workers that hand each task to
an external command, validates and publishes state machine definitions, and
starts, watches and stops executions. Worker and execution events are kept
in a local event log for metrics and alerts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			LogLevel.SetLevel(zapcore.DebugLevel)
		}
		cfg := currentConfig()
		if regionFlag != "" {
			cfg.AWS.Region = regionFlag
		}
		if profileFlag != "" {
			cfg.AWS.Profile = profileFlag
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sfini %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&regionFlag, "region", "", "AWS region (overrides aws.region)")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "AWS shared config profile (overrides aws.profile)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which commands use for AWS
// calls and cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// commandContext returns the command's context, or a background context
// when the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
