package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siavashhub/lemonade/internal/daemon"
)

func init() {
	rootCmd.AddCommand(deleteCmd)
}

var deleteCmd = &cobra.Command{
	Use:     "delete MODEL...",
	Aliases: []string{"rm"},
	Short:   "Remove one or more models from local storage",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	for _, name := range args {
		_ = d.Manager.Unload(cmd.Context(), name)
		if err := d.Models.Remove(name); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
		fmt.Printf("Removed %s\n", name)
	}
	return nil
}
