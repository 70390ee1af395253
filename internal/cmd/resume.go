package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the persisted run at its recorded phase",
	Long: `Resume a run from its persisted state, skipping every phase already
completed. A run persisted at the execute phase starts executing directly
from the previously approved task document.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	m := e.machine(nil)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		<-interrupts
		fmt.Fprintln(os.Stderr, "\ninterrupt: finishing in-flight tasks, no new dispatch")
		m.Cancel()
	}()

	err = m.Resume(context.Background())
	printRunReport(m, e)
	return finishRun(err)
}
