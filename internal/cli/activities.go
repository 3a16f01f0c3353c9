package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/sfini/internal/observability"
	"github.com/valter-silva-au/sfini/pkg/activity"
	"github.com/valter-silva-au/sfini/pkg/session"
)

var (
	activitiesGroup   string
	activitiesVersion string
	activitiesAll     bool
)

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "Manage the activity group in Step Functions",
	Long: `Manage the activities of a group. Activities are named
<group>!<version>!<name>; the group and version come from activities.group
and activities.version unless --group or --version is given.`,
}

var activitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the group's activities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		reg, err := newRegistration(sess)
		if err != nil {
			return err
		}
		items, err := reg.List(ctx)
		if err != nil {
			return err
		}
		if !activitiesAll {
			items = reg.FilterVersions(items, reg.Version)
		}

		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintf(out, "No activities found for %s.\n", reg)
			return nil
		}
		fmt.Fprintf(out, "%-12s %-32s %s\n", "VERSION", "NAME", "CREATED")
		for _, it := range items {
			fmt.Fprintf(out, "%-12s %-32s %s\n", it.Version, it.Name, it.Created.UTC().Format(time.RFC3339))
		}
		return nil
	},
}

var activitiesRegisterCmd = &cobra.Command{
	Use:   "register <name>...",
	Short: "Create activities in the group",
	Long: `Create one activity per name in the group. Creating an activity that
already exists is a no-op in Step Functions.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		reg, err := newRegistration(sess)
		if err != nil {
			return err
		}
		for _, name := range args {
			a, err := reg.ExternalActivity(name, heartbeatOption())
			if err != nil {
				return err
			}
			if err := a.Register(ctx); err != nil {
				return err
			}
			emit(observability.EventActivityRegistered, "activity registered", map[string]any{
				"activity": a.Name,
				"arn":      a.ARN(),
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", a.ARN())
		}
		return nil
	},
}

var activitiesDeregisterCmd = &cobra.Command{
	Use:   "deregister",
	Short: "Delete the group's activities of a version",
	Long: `Delete the group's activities of the version given by --version. Without
--version, every version except the configured one is deleted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		reg, err := newRegistration(sess)
		if err != nil {
			return err
		}

		removed, err := reg.Deregister(ctx, activitiesVersion)
		for _, it := range removed {
			emit(observability.EventActivityDeregistered, "activity deregistered", map[string]any{
				"activity": reg.Name + activity.Separator + it.Version + activity.Separator + it.Name,
				"arn":      it.ARN,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Deregistered %s\n", it.ARN)
		}
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to deregister.")
		}
		return nil
	},
}

// activitiesSettings resolves the group and version from flags and config.
func activitiesSettings() (group, version string) {
	cfg := currentConfig()
	group, version = cfg.Activities.Group, cfg.Activities.Version
	if activitiesGroup != "" {
		group = activitiesGroup
	}
	if activitiesVersion != "" {
		version = activitiesVersion
	}
	return group, version
}

func newRegistration(sess *session.Session) (*activity.Registration, error) {
	group, version := activitiesSettings()
	if err := session.ValidateName(group); err != nil {
		return nil, fmt.Errorf("activities group: %w", err)
	}
	return activity.NewRegistration(group, version, sess, logger()), nil
}

func heartbeatOption() activity.Option {
	return activity.WithHeartbeat(time.Duration(currentConfig().Activities.HeartbeatSeconds) * time.Second)
}

func init() {
	activitiesCmd.PersistentFlags().StringVar(&activitiesGroup, "group", "", "Activity group (overrides activities.group)")
	activitiesCmd.PersistentFlags().StringVar(&activitiesVersion, "version", "", "Group version (overrides activities.version)")
	activitiesListCmd.Flags().BoolVar(&activitiesAll, "all", false, "List every version of the group")

	activitiesCmd.AddCommand(activitiesListCmd)
	activitiesCmd.AddCommand(activitiesRegisterCmd)
	activitiesCmd.AddCommand(activitiesDeregisterCmd)
	rootCmd.AddCommand(activitiesCmd)
}
