package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	stepStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	boldStyle = lipgloss.NewStyle().Bold(true)
)

// messages go to stderr so list --json stays clean on stdout.
var msgOut io.Writer = os.Stderr

func colorize(style lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return style.Render(text)
}

func printLine(style lipgloss.Style, mark, format string, args ...any) {
	fmt.Fprintln(msgOut, colorize(style, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { printLine(okStyle, "✓", format, args...) }

func printError(format string, args ...any) { printLine(failStyle, "✗", format, args...) }

func printWarning(format string, args ...any) { printLine(warnStyle, "⚠", format, args...) }

func printStep(format string, args ...any) { printLine(stepStyle, "→", format, args...) }

// printStatus writes an indented "label: value" line.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(msgOut, "  %s %s\n", colorize(boldStyle, label+":"), fmt.Sprintf(format, args...))
}
