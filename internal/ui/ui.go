// Package ui holds the terminal styles shared by the CLI commands.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

// Title renders a bold heading.
func Title(s string) string { return titleStyle.Render(s) }

// Success renders s in green.
func Success(s string) string { return successStyle.Render(s) }

// Warn renders s in orange.
func Warn(s string) string { return warnStyle.Render(s) }

// Error renders s in red.
func Error(s string) string { return errorStyle.Render(s) }

// Faint renders s dimmed.
func Faint(s string) string { return faintStyle.Render(s) }
