package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

var (
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

func muted(s string) string { return mutedStyle.Render(s) }

func successMsg(format string, a ...any) string {
	return successStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func warnMsg(format string, a ...any) string {
	return warnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

func errorMsg(format string, a ...any) string {
	return errorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

func infoMsg(format string, a ...any) string {
	return accentStyle.Render("●") + " " + fmt.Sprintf(format, a...)
}

// keyValues renders aligned "key:  value" lines.
func keyValues(pairs ...[2]string) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", width+1, p[0]+":")
		sb.WriteString(mutedStyle.Render(label) + " " + p[1] + "\n")
	}
	return sb.String()
}

func renderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	return t.Render()
}

func writeYAML(w io.Writer, value any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
