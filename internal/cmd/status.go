package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"ticketflow/internal/errors"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted run's progress",
	Long: `Display the current run: phase, per-task state from the task document,
the checkpoint audit trail, and a diffstat against the baseline the run
started from.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}

	state, err := e.store.Load()
	if err != nil {
		if errors.Is(err, errors.ErrStateNotFound) {
			fmt.Println("No run in progress")
			return nil
		}
		return err
	}

	fmt.Println(renderStatus(state, e))
	return nil
}
