package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ticketflow/internal/taskdoc"
	"ticketflow/internal/util"
	"ticketflow/internal/workflow"
)

// taskNameWidth caps task names in tables so checkpoint columns line up.
const taskNameWidth = 60

// Report styles
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// printRunReport renders the end-of-invocation summary for run and resume.
func printRunReport(m *workflow.Machine, e *env) {
	state := m.State()
	if state == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintln(&b, titleStyle.Render(fmt.Sprintf("ticket %s: %s", state.TicketID, state.TicketTitle)))
	fmt.Fprintf(&b, "phase: %s  branch: %s\n", state.CurrentPhase, state.BranchName)

	if result := m.LastResult(); result != nil {
		for _, name := range result.Completed {
			fmt.Fprintf(&b, "  %s %s\n", okStyle.Render("✓"), name)
		}
		for _, name := range result.Failed {
			fmt.Fprintf(&b, "  %s %s\n", errorStyle.Render("✗"), name)
		}
		for _, name := range result.NotAttempted {
			fmt.Fprintf(&b, "  %s %s %s\n", mutedStyle.Render("·"), name, mutedStyle.Render("(not attempted)"))
		}
	}

	if len(state.Checkpoints) > 0 {
		fmt.Fprintf(&b, "checkpoints: %d\n", len(state.Checkpoints))
	}

	if stat := diffAgainstBaseline(state, e); stat != "" {
		fmt.Fprintln(&b, mutedStyle.Render(stat))
	}

	fmt.Print(b.String())
}

// renderStatus renders the status command output for a persisted run.
func renderStatus(state *workflow.State, e *env) string {
	var b strings.Builder

	fmt.Fprintln(&b, titleStyle.Render(fmt.Sprintf("ticket %s: %s", state.TicketID, state.TicketTitle)))
	fmt.Fprintf(&b, "phase: %s\n", state.CurrentPhase)
	fmt.Fprintf(&b, "branch: %s\n", state.BranchName)
	if state.BaselineReference != "" {
		fmt.Fprintf(&b, "baseline: %s\n", state.BaselineReference)
	}

	renderTaskTable(&b, state, e)
	renderCheckpoints(&b, state)

	if len(state.FailedTasks) > 0 {
		fmt.Fprintln(&b, errorStyle.Render(fmt.Sprintf("failed tasks: %s", strings.Join(state.FailedTasks, ", "))))
	}

	if stat := diffAgainstBaseline(state, e); stat != "" {
		fmt.Fprintln(&b, "")
		fmt.Fprintln(&b, mutedStyle.Render(stat))
	}

	return b.String()
}

func renderTaskTable(b *strings.Builder, state *workflow.State, e *env) {
	docPath := state.TaskDocument
	if !filepath.IsAbs(docPath) {
		docPath = filepath.Join(e.repoRoot, docPath)
	}

	set, err := taskdoc.ParseFile(docPath)
	if err != nil || set.Len() == 0 {
		return
	}

	fmt.Fprintf(b, "\ntasks (%d):\n", set.Len())
	for _, task := range set.Tasks {
		marker := taskMarker(task.Status)
		line := fmt.Sprintf("  %s %s", marker, util.Truncate(task.Name, taskNameWidth))
		if task.GroupID != "" {
			line += mutedStyle.Render(" [" + task.GroupID + "]")
		}
		fmt.Fprintln(b, line)
	}
}

func renderCheckpoints(b *strings.Builder, state *workflow.State) {
	if len(state.Checkpoints) == 0 {
		return
	}
	fmt.Fprintf(b, "\ncheckpoints (%d):\n", len(state.Checkpoints))
	for _, cp := range state.Checkpoints {
		snapshot := cp.SnapshotID
		if snapshot == "" {
			snapshot = "no changes"
		} else if len(snapshot) > 10 {
			snapshot = snapshot[:10]
		}
		fmt.Fprintf(b, "  %s  %-9s %s  %s\n",
			cp.Timestamp.Format("15:04:05"), cp.Outcome, mutedStyle.Render(snapshot),
			util.Truncate(cp.TaskName, taskNameWidth))
	}
}

func taskMarker(status taskdoc.Status) string {
	switch status {
	case taskdoc.StatusComplete:
		return okStyle.Render("✓")
	case taskdoc.StatusFailed:
		return errorStyle.Render("✗")
	case taskdoc.StatusRunning:
		return warnStyle.Render("~")
	default:
		return mutedStyle.Render("·")
	}
}

// diffAgainstBaseline returns a diffstat of everything the run changed so
// far, empty when unavailable.
func diffAgainstBaseline(state *workflow.State, e *env) string {
	if state.BaselineReference == "" {
		return ""
	}
	stat, err := e.git.DiffStat(state.BaselineReference)
	if err != nil {
		return ""
	}
	return stat
}
