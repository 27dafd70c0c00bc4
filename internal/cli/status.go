package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/siavashhub/lemonade/internal/daemon"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List models currently loaded in memory",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	loaded := d.Manager.ListLoaded()
	if len(loaded) == 0 {
		fmt.Println("No models currently loaded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCLASS\tRECIPE")
	for _, id := range loaded {
		model, err := d.Models.Get(cmd.Context(), id)
		if err != nil {
			fmt.Fprintf(w, "%s\t?\t?\n", id)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", model.ID, model.Class, model.Recipe)
	}
	return w.Flush()
}
