package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// LeaveOption represents an option in the leave dialog.
type LeaveOption int

const (
	LeaveOptionKeepPlaying LeaveOption = iota
	LeaveOptionQuitKeepSave
	LeaveOptionAbandon
)

var leaveOptions = []struct {
	label string
	desc  string
}{
	{label: "Keep playing"},
	{label: "Quit", desc: "(progress is kept)"},
	{label: "Abandon game", desc: "(deletes the save)"},
}

// LeaveConfirm manages the leave dialog state.
type LeaveConfirm struct {
	width         int
	height        int
	game          string
	selectedIndex int
}

// NewLeaveConfirm creates a new leave dialog.
func NewLeaveConfirm() *LeaveConfirm {
	return &LeaveConfirm{}
}

// SetSize sets the dialog dimensions.
func (l *LeaveConfirm) SetSize(width, height int) {
	l.width = width
	l.height = height
}

// SetGame sets the game the dialog is about.
func (l *LeaveConfirm) SetGame(game string) {
	l.game = game
}

// MoveUp moves selection up.
func (l *LeaveConfirm) MoveUp() {
	if l.selectedIndex > 0 {
		l.selectedIndex--
	}
}

// MoveDown moves selection down.
func (l *LeaveConfirm) MoveDown() {
	if l.selectedIndex < len(leaveOptions)-1 {
		l.selectedIndex++
	}
}

// SelectedOption returns the currently selected option.
func (l *LeaveConfirm) SelectedOption() LeaveOption {
	return LeaveOption(l.selectedIndex)
}

// Reset resets the dialog state.
func (l *LeaveConfirm) Reset() {
	l.selectedIndex = 0
}

// Render renders the leave dialog.
func (l *LeaveConfirm) Render() string {
	modalWidth := min(60, l.width-10)
	if modalWidth < 40 {
		modalWidth = 40
	}

	var content strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(WarningColor)
	content.WriteString(titleStyle.Render(fmt.Sprintf("Leave %s?", l.game)))
	content.WriteString("\n")
	content.WriteString(DividerStyle.Render(strings.Repeat("─", modalWidth-4)))
	content.WriteString("\n\n")

	optionStyle := lipgloss.NewStyle().Foreground(TextColor)
	selectedStyle := lipgloss.NewStyle().
		Foreground(PrimaryColor).
		Bold(true)

	for i, opt := range leaveOptions {
		var line string
		if i == l.selectedIndex {
			line = selectedStyle.Render(fmt.Sprintf("▶ %s", opt.label))
		} else {
			line = optionStyle.Render(fmt.Sprintf("  %s", opt.label))
		}
		if opt.desc != "" {
			line += " " + lipgloss.NewStyle().Foreground(MutedColor).Render(opt.desc)
		}
		content.WriteString(line)
		content.WriteString("\n")
	}

	content.WriteString("\n")
	content.WriteString(DividerStyle.Render(strings.Repeat("─", modalWidth-4)))
	content.WriteString("\n")
	content.WriteString(helpStyle.Render("↑/↓: Navigate  Enter: Select  Esc: Cancel"))

	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(WarningColor).
		Padding(1, 2).
		Width(modalWidth)

	return centerModal(modalStyle.Render(content.String()), l.width, l.height)
}
