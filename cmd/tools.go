// -- cmd/tools.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/webpilot-cli/internal/observability"
	"github.com/xkilldash9x/webpilot-cli/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the oracle can invoke",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := tools.NewRegistry(observability.GetLogger())
		for _, line := range registry.Catalog() {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
