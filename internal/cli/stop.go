package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siavashhub/lemonade/internal/daemon"
)

func init() {
	rootCmd.AddCommand(stopCmd)
}

var stopCmd = &cobra.Command{
	Use:   "stop MODEL",
	Short: "Unload a model from memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Manager.Unload(cmd.Context(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Stopped %s\n", args[0])
	return nil
}
