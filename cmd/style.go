package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#B794F4"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#48BB78")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F56565")).Bold(true)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6B46C1")).
			Padding(0, 1)
)

type row struct {
	label string
	value string
}

// renderSummary draws a titled box of label/value rows
func renderSummary(w io.Writer, title string, ok bool, rows []row) {
	status := okStyle.Render("✓ " + title)
	if !ok {
		status = failStyle.Render("✗ " + title)
	}

	lines := []string{status}
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r.label)+r.value)
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func heading(w io.Writer, text string) {
	fmt.Fprintln(w, titleStyle.Render(text))
}
