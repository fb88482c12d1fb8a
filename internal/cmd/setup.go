package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/minicodemonkey/frotzchat/internal/catalog"
	"github.com/minicodemonkey/frotzchat/internal/config"
	"github.com/minicodemonkey/frotzchat/internal/engine"
	"github.com/minicodemonkey/frotzchat/internal/game"
	"github.com/minicodemonkey/frotzchat/internal/ws"
)

// setup is the configuration shared by every command, resolved against the
// project directory.
type setup struct {
	dir      string
	cfg      *config.Config
	gamesDir string
	savesDir string
	mode     engine.Mode
	opts     game.Options
}

// loadSetup reads .frotzchat/config.yaml under dir and resolves relative
// paths against dir.
func loadSetup(dir string) (*setup, error) {
	if dir == "" {
		dir = "."
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving directory: %w", err)
	}

	cfg, err := config.Load(absDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	mode, err := cfg.EffectiveMode()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.SessionOptions()
	if err != nil {
		return nil, err
	}
	if opts.RestrictDir != "" {
		opts.RestrictDir = resolve(absDir, opts.RestrictDir)
	}

	return &setup{
		dir:      absDir,
		cfg:      cfg,
		gamesDir: resolve(absDir, cfg.EffectiveGamesDir()),
		savesDir: resolve(absDir, cfg.EffectiveSavesDir()),
		mode:     engine.Mode(mode),
		opts:     opts,
	}, nil
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// scanner returns a scanner over the games directory with an initial scan done.
func (s *setup) scanner(onChange func([]catalog.Game)) *catalog.Scanner {
	sc := catalog.New(s.gamesDir, onChange)
	sc.ScanAndUpdate()
	return sc
}

// engine returns a registry using the configured mode and session options.
func (s *setup) engine() *engine.Engine {
	return engine.New(s.mode, s.savesDir, s.opts)
}

// noGamesError reports an empty games directory.
func (s *setup) noGamesError() error {
	return fmt.Errorf("❌ No game available, put games files in: %s", s.gamesDir)
}

// limits returns the chat rate limits for the configured mode, with any
// values the config overrides.
func (s *setup) limits() ws.Limits {
	l := ws.DefaultLimits(s.mode)
	rl := s.cfg.RateLimit
	if rl.Burst > 0 {
		l.Burst = rl.Burst
	}
	if rl.PerSecond > 0 {
		l.PerSecond = rl.PerSecond
	}
	if rl.BootsPerMinute > 0 {
		l.Boots = rl.BootsPerMinute
		l.BootWindow = time.Minute
	}
	return l
}
