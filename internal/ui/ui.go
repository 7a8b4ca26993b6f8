// Package ui provides terminal styling for CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")) // green

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // orange

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	accentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // blue

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // gray
)

// RenderPass styles success output.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles warning output.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderErr styles error output.
func RenderErr(s string) string { return errStyle.Render(s) }

// RenderAccent styles emphasized output.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted styles de-emphasized output.
func RenderMuted(s string) string { return mutedStyle.Render(s) }
