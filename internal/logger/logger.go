// Package logger provides the styled stderr logger used across a session.
package logger

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// New returns the session logger. Verbose enables debug output with caller
// and timestamp reporting.
func New(verbose bool) *log.Logger {
	prefix := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#7aa2f7")).
		Bold(true).
		Padding(0, 1).
		MarginRight(1).
		Render("relive")

	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    verbose,
		ReportTimestamp: verbose,
		TimeFormat:      "15:04:05",
		Prefix:          prefix,
	})
	if verbose {
		l.SetLevel(log.DebugLevel)
	}
	return l
}
