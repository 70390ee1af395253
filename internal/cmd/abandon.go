package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"ticketflow/internal/errors"
)

var abandonCmd = &cobra.Command{
	Use:   "abandon",
	Short: "Archive the persisted run without finishing it",
	Long: `Move the persisted run state into the archive. The run branch and any
checkpointed work stay in version control; only the workflow state is
retired. Start a new run afterwards with: ticketflow run.`,
	Args: cobra.NoArgs,
	RunE: runAbandon,
}

func init() {
	rootCmd.AddCommand(abandonCmd)
}

func runAbandon(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}

	m := e.machine(nil)
	if err := m.Abandon(); err != nil {
		if errors.Is(err, errors.ErrStateNotFound) {
			fmt.Println("No run in progress")
			return nil
		}
		return err
	}

	fmt.Println("Run abandoned and archived")
	return nil
}
