// Package catalog discovers the story files available to play and tracks
// changes to the games directory.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ScanInterval is how often the scanner re-scans the games directory.
const ScanInterval = 60 * time.Second

// SaveExt is the extension of action log files.
const SaveExt = ".qzl"

// ErrUnknownGame is returned when a game number or name does not resolve.
var ErrUnknownGame = errors.New("unknown game")

// artworkExts are image extensions. Image files are never listed as games;
// an image sharing a story's base name is its artwork.
var artworkExts = []string{".jpg", ".jpeg", ".png"}

// Game is one playable story file.
type Game struct {
	// Number is the 1-based position in the listing.
	Number int `json:"number"`
	// Name is the story file name without its extension. It keys the
	// game's save directory.
	Name string `json:"name"`
	// File is the story file name.
	File string `json:"file"`
	// Path is the story file path.
	Path string `json:"path"`
	// Artwork is the path of the cover image, if any.
	Artwork string `json:"artwork,omitempty"`
}

// Scanner discovers and tracks story files in a games directory.
type Scanner struct {
	dir      string
	interval time.Duration
	onChange func([]Game)

	mu    sync.RWMutex
	games []Game
}

// New creates a new Scanner for the given games directory. onChange, if not
// nil, is called with the new listing whenever it changes.
func New(dir string, onChange func([]Game)) *Scanner {
	return &Scanner{
		dir:      dir,
		interval: ScanInterval,
		onChange: onChange,
	}
}

// Dir returns the games directory.
func (s *Scanner) Dir() string {
	return s.dir
}

// Games returns the current listing.
func (s *Scanner) Games() []Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Game, len(s.games))
	copy(result, s.games)
	return result
}

// Scan performs a single scan of the games directory. Files are listed in
// name order; hidden files, directories and images are skipped.
func (s *Scanner) Scan() []Game {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("Warning: failed to read games directory: %v", err)
		return nil
	}

	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		names[entry.Name()] = true
	}

	var games []Game
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || isArtwork(name) {
			continue
		}
		game := Game{
			Name: strings.TrimSuffix(name, filepath.Ext(name)),
			File: name,
			Path: filepath.Join(s.dir, name),
		}
		if art := artworkFor(name, names); art != "" {
			game.Artwork = filepath.Join(s.dir, art)
		}
		games = append(games, game)
	}

	sort.Slice(games, func(i, j int) bool { return games[i].File < games[j].File })
	for i := range games {
		games[i].Number = i + 1
	}
	return games
}

// ScanAndUpdate performs a scan and updates the stored listing.
// Returns true if the listing changed.
func (s *Scanner) ScanAndUpdate() bool {
	newGames := s.Scan()

	s.mu.Lock()
	if gamesEqual(s.games, newGames) {
		s.mu.Unlock()
		return false
	}
	s.games = newGames
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(newGames)
	}
	return true
}

// Run starts the periodic scanning loop. It performs an initial scan
// immediately, then re-scans at the configured interval.
func (s *Scanner) Run(ctx context.Context) {
	s.ScanAndUpdate()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.ScanAndUpdate() {
				log.Println("Game list changed")
			}
		}
	}
}

// ByNumber returns the game at the 1-based position n.
func (s *Scanner) ByNumber(n int) (Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 1 || n > len(s.games) {
		return Game{}, fmt.Errorf("%w: number %d", ErrUnknownGame, n)
	}
	return s.games[n-1], nil
}

// ByName returns the game with the given name or file name.
func (s *Scanner) ByName(name string) (Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.games {
		if g.Name == name || g.File == name {
			return g, nil
		}
	}
	return Game{}, fmt.Errorf("%w: %q", ErrUnknownGame, name)
}

// Resolve accepts either a listing number or a file name.
func (s *Scanner) Resolve(ref string) (Game, error) {
	var n int
	if _, err := fmt.Sscanf(ref, "%d", &n); err == nil && fmt.Sprint(n) == strings.TrimSpace(ref) {
		return s.ByNumber(n)
	}
	return s.ByName(strings.TrimSpace(ref))
}

// SaveFile returns the action log path for a player of a game:
// savesDir/<game>/<escaped player>.qzl. See EscapePlayer.
func SaveFile(savesDir, game, player string) string {
	return filepath.Join(savesDir, game, EscapePlayer(player)+SaveExt)
}

// EscapePlayer percent-encodes every byte of player except ASCII letters,
// digits and "_.-~". A space becomes %20 and a slash %2F, so the result is
// always one file name. url.PathUnescape reverses it.
func EscapePlayer(player string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(player); i++ {
		c := player[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '_' || c == '.' || c == '-' || c == '~'
}

func isArtwork(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range artworkExts {
		if ext == a {
			return true
		}
	}
	return false
}

// artworkFor returns the name of an image sharing the story's base name.
func artworkFor(story string, names map[string]bool) string {
	base := strings.TrimSuffix(story, filepath.Ext(story))
	for _, ext := range artworkExts {
		for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
			if names[candidate] {
				return candidate
			}
		}
	}
	return ""
}

// gamesEqual compares two listings for equality.
func gamesEqual(a, b []Game) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
