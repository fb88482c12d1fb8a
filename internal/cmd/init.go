package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minicodemonkey/frotzchat/internal/config"
)

// InitOptions contains configuration for the init command.
type InitOptions struct {
	Dir         string    // Project directory to initialize
	Mode        string    // Session mode written to the config (default: resident)
	Interpreter string    // Interpreter path written to the config (default: dfrotz on PATH)
	Out         io.Writer // Output (default: stdout)
}

// RunInit writes a starter .frotzchat/config.yaml and creates the games and
// saves directories. An existing config is left alone.
func RunInit(opts InitOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving directory: %w", err)
	}

	if config.Exists(absDir) {
		fmt.Fprintf(out, "Already initialized: %s\n", filepath.Join(absDir, ".frotzchat", "config.yaml"))
		return nil
	}

	cfg := config.Default()
	cfg.Mode = opts.Mode
	mode, err := cfg.EffectiveMode()
	if err != nil {
		return err
	}
	cfg.Mode = mode
	cfg.Interpreter.Path = opts.Interpreter
	cfg.GamesDir = config.DefaultGamesDir
	cfg.SavesDir = config.DefaultSavesDir
	cfg.Listen = config.DefaultListen

	for _, sub := range []string{cfg.GamesDir, cfg.SavesDir} {
		if err := os.MkdirAll(filepath.Join(absDir, sub), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
	}
	if err := config.Save(absDir, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(out, "Initialized %s (mode: %s).\n", absDir, mode)
	fmt.Fprintf(out, "Put story files in %s/ and run: frotzchat serve\n", cfg.GamesDir)
	return nil
}
