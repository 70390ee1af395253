// Package util holds small string helpers shared by the CLI renderers.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Truncate shortens s to at most width visual columns, appending "..." when
// anything was cut. ANSI escape sequences and wide runes are measured by
// display width, so styled terminal output stays aligned.
func Truncate(s string, width int) string {
	if width <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}
