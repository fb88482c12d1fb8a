package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// GameOverScreen is the modal shown once the story has ended.
type GameOverScreen struct {
	width  int
	height int

	game  string
	moves int
	last  string
}

// NewGameOverScreen creates a new game over screen.
func NewGameOverScreen() *GameOverScreen {
	return &GameOverScreen{}
}

// Configure sets the finished game, the number of commands played and the
// story's final words.
func (g *GameOverScreen) Configure(game string, moves int, last string) {
	g.game = game
	g.moves = moves
	g.last = last
}

// SetSize sets the screen dimensions.
func (g *GameOverScreen) SetSize(width, height int) {
	g.width = width
	g.height = height
}

// Game returns the finished game's name.
func (g *GameOverScreen) Game() string {
	return g.game
}

// Render renders the game over screen.
func (g *GameOverScreen) Render() string {
	modalWidth := min(60, g.width-10)
	if modalWidth < 30 {
		modalWidth = 30
	}

	var content strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(WarningColor).
		Padding(0, 1)
	content.WriteString(headerStyle.Render("GAME OVER  " + g.game))
	content.WriteString("\n")
	content.WriteString(DividerStyle.Render(strings.Repeat("─", modalWidth-4)))
	content.WriteString("\n\n")

	infoStyle := lipgloss.NewStyle().
		Foreground(TextColor).
		Width(modalWidth-6).
		Padding(0, 1)
	if g.last != "" {
		content.WriteString(infoStyle.Render(g.last))
		content.WriteString("\n\n")
	}

	moveLabel := "move"
	if g.moves != 1 {
		moveLabel = "moves"
	}
	content.WriteString(infoStyle.Render(fmt.Sprintf("%d %s played. The save has been removed.", g.moves, moveLabel)))
	content.WriteString("\n\n")

	content.WriteString(DividerStyle.Render(strings.Repeat("─", modalWidth-4)))
	content.WriteString("\n")
	footerStyle := lipgloss.NewStyle().
		Foreground(MutedColor).
		Padding(0, 1)
	content.WriteString(footerStyle.Render("q: quit"))

	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(WarningColor).
		Padding(1, 2).
		Width(modalWidth)

	return centerModal(modalStyle.Render(content.String()), g.width, g.height)
}

// centerModal centers a modal string on the screen.
func centerModal(modal string, screenWidth, screenHeight int) string {
	lines := strings.Split(modal, "\n")
	modalHeight := len(lines)
	modalWidth := 0
	for _, line := range lines {
		if lipgloss.Width(line) > modalWidth {
			modalWidth = lipgloss.Width(line)
		}
	}

	topPadding := (screenHeight - modalHeight) / 2
	leftPadding := (screenWidth - modalWidth) / 2

	if topPadding < 0 {
		topPadding = 0
	}
	if leftPadding < 0 {
		leftPadding = 0
	}

	var result strings.Builder

	for i := 0; i < topPadding; i++ {
		result.WriteString("\n")
	}

	leftPad := strings.Repeat(" ", leftPadding)
	for _, line := range lines {
		result.WriteString(leftPad)
		result.WriteString(line)
		result.WriteString("\n")
	}

	return result.String()
}
