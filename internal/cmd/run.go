package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ticketflow/internal/errors"
	"ticketflow/internal/ticket"
)

var runCmd = &cobra.Command{
	Use:   "run <ticket-ref>",
	Short: "Start a workflow run from a ticket reference",
	Long: `Start a fresh run: fetch the ticket, create the run branch, produce the
plan and task documents, wait for task-document approval, then execute the
tasks and sync documentation.

The ticket reference may be an issue URL, owner/repo#N, or any free-form
identifier (used offline as-is).

A first interrupt (Ctrl-C) stops new task dispatch and lets in-flight tasks
finish; the run can be resumed later.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("fail-fast", false, "abort the whole run on the first fundamental task failure")
	runCmd.Flags().Int("max-parallel", 0, "worker cap for independent tasks (0 uses the configured value)")
	_ = viper.BindPFlag("execution.fail_fast", runCmd.Flags().Lookup("fail-fast"))
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	if maxParallel, _ := cmd.Flags().GetInt("max-parallel"); maxParallel > 0 {
		e.cfg.Execution.MaxParallel = maxParallel
	}

	ref := args[0]
	m := e.machine(ticket.ForReference(ref, e.logger))

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		<-interrupts
		fmt.Fprintln(os.Stderr, "\ninterrupt: finishing in-flight tasks, no new dispatch")
		m.Cancel()
	}()

	err = m.Start(context.Background(), ref)
	printRunReport(m, e)
	return finishRun(err)
}

// finishRun maps soft stops to messages instead of command failures.
func finishRun(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrRunCanceled):
		fmt.Println(warnStyle.Render("Run canceled. Resume with: ticketflow resume"))
		return nil
	case errors.Is(err, errors.ErrRunDone):
		fmt.Println("Run already complete; state archived")
		return nil
	case errors.Is(err, errors.ErrFailFast):
		fmt.Println(errorStyle.Render("Run aborted by fail-fast policy. Fix the failed task and resume."))
		return err
	default:
		return err
	}
}
