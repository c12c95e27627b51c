// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the docqa CLI.
package ux

import "github.com/charmbracelet/lipgloss"

// Teal palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title       lipgloss.Style
	Subtitle    lipgloss.Style
	Muted       lipgloss.Style
	Success     lipgloss.Style
	Warning     lipgloss.Style
	Error       lipgloss.Style
	Highlight   lipgloss.Style
	Placeholder lipgloss.Style

	Box     lipgloss.Style
	InfoBox lipgloss.Style
}{
	Title:       lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:    lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:       lipgloss.NewStyle().Foreground(ColorSlate),
	Success:     lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:     lipgloss.NewStyle().Foreground(ColorWarning),
	Error:       lipgloss.NewStyle().Foreground(ColorError),
	Highlight:   lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Placeholder: lipgloss.NewStyle().Foreground(ColorWarning).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	InfoBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealPrimary).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}
