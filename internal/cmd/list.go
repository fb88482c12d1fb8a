package cmd

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minicodemonkey/frotzchat/internal/catalog"
)

// ListOptions contains configuration for the list command.
type ListOptions struct {
	Dir string    // Project directory holding .frotzchat/config.yaml
	Out io.Writer // Output (default: stdout)
}

// RunList prints the numbered game listing with the players holding a save
// for each game.
func RunList(opts ListOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	s, err := loadSetup(opts.Dir)
	if err != nil {
		return err
	}

	games := s.scanner(nil).Games()
	if len(games) == 0 {
		fmt.Fprintln(out, s.noGamesError().Error())
		return nil
	}

	fmt.Fprintln(out, "Games:")
	for _, g := range games {
		line := fmt.Sprintf("  %d. %s", g.Number, g.Name)
		if g.Artwork != "" {
			line += " [art]"
		}
		if players := savedPlayers(s.savesDir, g); len(players) > 0 {
			line += fmt.Sprintf("  (saved: %s)", strings.Join(players, ", "))
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// savedPlayers lists the players with a save for g.
func savedPlayers(savesDir string, g catalog.Game) []string {
	matches, err := filepath.Glob(filepath.Join(savesDir, g.Name, "*"+catalog.SaveExt))
	if err != nil {
		return nil
	}

	var players []string
	for _, m := range matches {
		escaped := strings.TrimSuffix(filepath.Base(m), catalog.SaveExt)
		name, err := url.PathUnescape(escaped)
		if err != nil {
			name = escaped
		}
		players = append(players, name)
	}
	sort.Strings(players)
	return players
}
