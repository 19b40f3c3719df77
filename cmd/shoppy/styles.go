package main

import "github.com/charmbracelet/lipgloss"

// Style definitions for one-shot task output.
var (
	// Start-of-run banner.
	bannerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("2")). // green
			Padding(0, 2)
	bannerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	bannerMetaStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Faint(true) // dim

	// Agent answer.
	answerPrefixStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")) // cyan

	// Tool activity lines.
	toolLineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("5")) // magenta
	toolArgsStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // dim gray
	toolErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red

	// Failed run block.
	errorBlockStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("1"))
)
