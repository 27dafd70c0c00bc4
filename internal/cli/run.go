package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

// runCmd is declared but unimplemented. An interactive single-model chat
// session is not part of the router/lifecycle-manager surface this daemon
// exposes; reserved for a future standalone client.
var runCmd = &cobra.Command{
	Use:    "run MODEL",
	Short:  "Reserved (not implemented)",
	Hidden: true,
	Args:   cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("run: not implemented, use 'lemonade serve' and talk to the API directly")
	},
}
