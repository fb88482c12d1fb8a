package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/minicodemonkey/frotzchat/internal/actionlog"
	"github.com/minicodemonkey/frotzchat/internal/catalog"
)

// ResetOptions contains configuration for the reset command.
type ResetOptions struct {
	Dir    string    // Project directory holding .frotzchat/config.yaml
	Game   string    // Listing number or name
	Player string    // Player whose save is deleted (default: current user)
	Out    io.Writer // Output (default: stdout)
}

// RunReset deletes a player's save so the next play starts from the intro.
func RunReset(opts ResetOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	s, err := loadSetup(opts.Dir)
	if err != nil {
		return err
	}

	g, err := s.scanner(nil).Resolve(opts.Game)
	if err != nil {
		return fmt.Errorf("❌ Invalid game number: %s", opts.Game)
	}

	player := opts.Player
	if player == "" {
		player = defaultPlayer()
	}

	l := actionlog.Open(catalog.SaveFile(s.savesDir, g.Name, player))
	if !l.Exists() {
		fmt.Fprintf(out, "No save for %s in %s.\n", player, g.Name)
		return nil
	}
	if err := l.Reset(); err != nil {
		return fmt.Errorf("deleting save: %w", err)
	}
	fmt.Fprintf(out, "Deleted the save for %s in %s.\n", player, g.Name)
	return nil
}
