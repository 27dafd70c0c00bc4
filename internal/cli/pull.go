package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/siavashhub/lemonade/internal/daemon"
)

func init() {
	rootCmd.AddCommand(pullCmd)
}

var pullCmd = &cobra.Command{
	Use:   "pull MODEL...",
	Short: "Download one or more models into local storage",
	Long: `Pull a model to run locally. Downloads the model artifact and
records its sha256 digest. Supports resume — if a download is interrupted, run
pull again to continue.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPull,
}

func runPull(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	for _, name := range args {
		fmt.Fprintf(os.Stderr, "pulling %s...\n", name)
		pb := newProgressBar()
		if err := d.Models.Pull(name, pb.callback); err != nil {
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("pull %s: %w", name, err)
		}
		fmt.Fprintln(os.Stderr)
	}
	return nil
}
