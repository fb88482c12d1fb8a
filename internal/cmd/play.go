package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/user"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	"github.com/minicodemonkey/frotzchat/internal/catalog"
	"github.com/minicodemonkey/frotzchat/internal/tui"
)

// PlayOptions contains configuration for the play command.
type PlayOptions struct {
	Dir    string // Project directory holding .frotzchat/config.yaml
	Game   string // Listing number or name
	Player string // Player name (default: current user)
}

// RunPlay plays a game in the terminal.
func RunPlay(opts PlayOptions) error {
	if !term.IsTerminal(os.Stdin.Fd()) {
		return fmt.Errorf("play needs an interactive terminal; use 'frotzchat serve' for remote play")
	}

	s, err := loadSetup(opts.Dir)
	if err != nil {
		return err
	}

	scanner := s.scanner(nil)
	if len(scanner.Games()) == 0 {
		return s.noGamesError()
	}
	g, err := scanner.Resolve(opts.Game)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownGame) {
			return fmt.Errorf("❌ Invalid game number: %s", opts.Game)
		}
		return err
	}

	player := opts.Player
	if player == "" {
		player = defaultPlayer()
	}

	eng := s.engine()
	defer eng.Shutdown()

	p := tea.NewProgram(tui.NewModel(eng, g, player), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("running play screen: %w", err)
	}
	if m, ok := final.(tui.Model); ok && m.Err() != nil {
		return m.Err()
	}
	return nil
}

// defaultPlayer names the local player after the current user.
func defaultPlayer() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "player"
}
