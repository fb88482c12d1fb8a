package tui

import "github.com/charmbracelet/lipgloss"

// Palette.
var (
	PrimaryColor = lipgloss.Color("39")
	SuccessColor = lipgloss.Color("42")
	WarningColor = lipgloss.Color("214")
	ErrorColor   = lipgloss.Color("196")
	TextColor    = lipgloss.Color("252")
	MutedColor   = lipgloss.Color("242")
	BarColor     = lipgloss.Color("236")
)

var (
	DividerStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(TextColor).
			Background(BarColor).
			Padding(0, 1)

	commandStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	storyStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	noticeStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	statusBarStyle = lipgloss.NewStyle().
			Background(BarColor).
			Foreground(TextColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(MutedColor)
)
