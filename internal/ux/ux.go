// Package ux holds the terminal styles shared by the scan engine's progress
// reporting and the chart/metadata output commands.
package ux

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	Error   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	Bold    = lipgloss.NewStyle().Bold(true)

	// Diff line styles: removed red, added green, hints bright white.
	Removed = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	Added   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	Hint    = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	Prompt  = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)
)

// Successf writes a success line to w.
func Successf(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, Success.Render(fmt.Sprintf(format, args...)))
}

// Warnf writes a warning line to w.
func Warnf(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, Warning.Render(fmt.Sprintf(format, args...)))
}

// Headf writes a bold "Name: value" line to w.
func Headf(w io.Writer, name, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", Bold.Render(name+":"), fmt.Sprintf(format, args...))
}
