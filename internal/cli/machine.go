package cli

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/sfini/internal/observability"
	"github.com/valter-silva-au/sfini/pkg/session"
	"github.com/valter-silva-au/sfini/pkg/statemachine"
)

var (
	machineName   string
	machineRole   string
	machineFile   string
	machineUpdate bool
)

var machineCmd = &cobra.Command{
	Use:   "machine",
	Short: "Register and remove state machines",
}

var machineRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a state machine from a definition file",
	Long: `Validate the definition file and create the state machine. With --update
an existing state machine of the same name gets the new definition and role.
The role defaults to state_machine.role_arn.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireMachineName(); err != nil {
			return err
		}
		role := machineRole
		if role == "" {
			role = currentConfig().StateMachine.RoleARN
		}
		if role == "" {
			return fmt.Errorf("no role ARN: pass --role or set state_machine.role_arn")
		}
		doc, err := loadDefinition(machineFile)
		if err != nil {
			return err
		}
		def, err := statemachine.EncodeDocument(doc, false)
		if err != nil {
			return err
		}

		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		if err := statemachine.Publish(ctx, sess, logger(), machineName, def, role, machineUpdate); err != nil {
			return err
		}
		arn := sess.StateMachineARN(machineName)
		emit(observability.EventStateMachineRegistered, "state machine registered", map[string]any{
			"state_machine": machineName,
			"arn":           arn,
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", arn)
		return nil
	},
}

var machineDeregisterCmd = &cobra.Command{
	Use:   "deregister",
	Short: "Delete a state machine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireMachineName(); err != nil {
			return err
		}
		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		if err := statemachine.Delete(ctx, sess, logger(), machineName); err != nil {
			return err
		}
		emit(observability.EventStateMachineDeleted, "state machine deleted", map[string]any{
			"state_machine": machineName,
		})
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", sess.StateMachineARN(machineName))
		return nil
	},
}

var machineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List state machines in the account and region",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		sess, err := awsSession(ctx)
		if err != nil {
			return err
		}
		items, err := statemachine.List(ctx, sess)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "No state machines found.")
			return nil
		}
		fmt.Fprintf(out, "%-40s %s\n", "NAME", "CREATED")
		for _, it := range items {
			fmt.Fprintf(out, "%-40s %s\n", aws.ToString(it.Name), aws.ToTime(it.CreationDate).UTC().Format(time.RFC3339))
		}
		return nil
	},
}

func requireMachineName() error {
	if machineName == "" {
		return fmt.Errorf("--name is required")
	}
	return session.ValidateName(machineName)
}

func init() {
	machineRegisterCmd.Flags().StringVar(&machineName, "name", "", "State machine name (required)")
	machineRegisterCmd.Flags().StringVar(&machineRole, "role", "", "IAM role ARN (overrides state_machine.role_arn)")
	machineRegisterCmd.Flags().StringVarP(&machineFile, "file", "f", "", "Definition file (JSON or YAML)")
	machineRegisterCmd.Flags().BoolVar(&machineUpdate, "update", false, "Update the state machine if it exists")
	machineDeregisterCmd.Flags().StringVar(&machineName, "name", "", "State machine name (required)")

	machineCmd.AddCommand(machineRegisterCmd)
	machineCmd.AddCommand(machineDeregisterCmd)
	machineCmd.AddCommand(machineListCmd)
	rootCmd.AddCommand(machineCmd)
}
