package selftest

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	summaryStyle = lipgloss.NewStyle().Bold(true)
)

// Render renders a pass/fail tree, one line per probe plus a final
// summary row. Colors degrade to plain text when stdout is not a TTY
// (§4.12 expansion), matching lipgloss's own terminal-capability guard.
func Render(report Report) string {
	var sb strings.Builder

	for _, res := range report.Results {
		mark := passStyle.Render("PASS")
		if !res.Passed {
			mark = failStyle.Render("FAIL")
		}
		line := fmt.Sprintf("%s  %-28s %s", mark, res.Name, dimStyle.Render(res.Elapsed.Round(1e6).String()))
		if res.Detail != "" && !res.Passed {
			line += "\n       " + dimStyle.Render(res.Detail)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	passed, failed := 0, 0
	for _, res := range report.Results {
		if res.Passed {
			passed++
		} else {
			failed++
		}
	}

	exitLine := fmt.Sprintf("process exit code: %d", report.ExitCode)
	if report.ExitErr != nil {
		exitLine = fmt.Sprintf("process exit error: %v", report.ExitErr)
	}
	sb.WriteString(dimStyle.Render(exitLine))
	sb.WriteString("\n")

	summary := fmt.Sprintf("%d passed, %d failed", passed, failed)
	if report.Passed() {
		sb.WriteString(summaryStyle.Foreground(lipgloss.Color("10")).Render(summary))
	} else {
		sb.WriteString(summaryStyle.Foreground(lipgloss.Color("9")).Render(summary))
	}
	sb.WriteString("\n")

	return sb.String()
}

// PrintReport writes the rendered report to stderr, the self-test
// command's diagnostic stream.
func PrintReport(report Report) {
	fmt.Fprint(os.Stderr, Render(report))
}
