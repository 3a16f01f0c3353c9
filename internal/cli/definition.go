package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/sfini/pkg/statemachine"
)

var (
	definitionFile string
	definitionYAML bool
)

var definitionCmd = &cobra.Command{
	Use:   "definition",
	Short: "Check and convert state machine definitions",
	Long: `Work with Amazon States Language documents stored as JSON or YAML.
Files ending in .yaml or .yml are read as YAML, everything else as JSON.`,
}

var definitionValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a definition file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadDefinition(definitionFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", definitionFile)
		return nil
	},
}

var definitionRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print a definition file as JSON, or YAML with --yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDefinition(definitionFile)
		if err != nil {
			return err
		}
		text, err := statemachine.EncodeDocument(doc, definitionYAML)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(text, "\n"))
		return nil
	},
}

// loadDefinition reads and validates an ASL document.
func loadDefinition(path string) (map[string]any, error) {
	if path == "" {
		return nil, fmt.Errorf("--file is required")
	}
	doc, err := statemachine.LoadDocument(path)
	if err != nil {
		return nil, err
	}
	if err := statemachine.ValidateDefinition(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func init() {
	definitionCmd.PersistentFlags().StringVarP(&definitionFile, "file", "f", "", "Definition file (JSON or YAML)")
	definitionRenderCmd.Flags().BoolVar(&definitionYAML, "yaml", false, "Render as YAML")

	definitionCmd.AddCommand(definitionValidateCmd)
	definitionCmd.AddCommand(definitionRenderCmd)
	rootCmd.AddCommand(definitionCmd)
}
