package main

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title     lipgloss.Style
	live      lipgloss.Style
	offline   lipgloss.Style
	cursor    lipgloss.Style
	row       lipgloss.Style
	selected  lipgloss.Style
	playing   lipgloss.Style
	meta      lipgloss.Style
	notice    lipgloss.Style
	help      lipgloss.Style
	empty     lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true),
		live:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		offline:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		cursor:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		row:      lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		selected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")),
		playing:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		meta:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		notice:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		help:     lipgloss.NewStyle().Faint(true),
		empty:    lipgloss.NewStyle().Faint(true),
	}
}
