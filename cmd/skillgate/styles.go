package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"skillgate/internal/config"
)

// Semantic colors for human-facing output.
var (
	colorSuccess = lipgloss.Color("#8BC34A") // Lime Green
	colorError   = lipgloss.Color("#e53935") // Red
	colorWarning = lipgloss.Color("#FFC107") // Yellow
	colorInfo    = lipgloss.Color("#2196F3") // Blue
	colorMuted   = lipgloss.Color("#6b7684") // Gray
)

// styles holds the render styles for status and next output. When
// stdout is not a terminal every style degrades to bare text, so hook
// consumers and pipes never see ANSI escapes.
type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	alert   lipgloss.Style
	info    lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(tty bool) styles {
	if !tty {
		plain := lipgloss.NewStyle()
		return styles{
			title:   plain,
			label:   plain,
			success: plain,
			warn:    plain,
			alert:   plain,
			info:    plain,
			muted:   plain,
		}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(colorSuccess),
		label:   lipgloss.NewStyle().Foreground(colorMuted),
		success: lipgloss.NewStyle().Foreground(colorSuccess).Bold(true),
		warn:    lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
		alert:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
		info:    lipgloss.NewStyle().Foreground(colorInfo),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// strictness picks the style matching how hard a profile's gate bites.
func (s styles) strictness(level config.Strictness) lipgloss.Style {
	switch level {
	case config.StrictnessStrict:
		return s.alert
	case config.StrictnessAdvisory:
		return s.warn
	default:
		return s.success
	}
}

// isTerminal checks if the file descriptor is a terminal
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
