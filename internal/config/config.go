package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/minicodemonkey/frotzchat/internal/demux"
	"github.com/minicodemonkey/frotzchat/internal/game"
	"github.com/minicodemonkey/frotzchat/internal/interp"
	"github.com/minicodemonkey/frotzchat/internal/reformat"
	"gopkg.in/yaml.v3"
)

const configFile = ".frotzchat/config.yaml"

// Config holds settings for frotzchat.
type Config struct {
	Interpreter     InterpreterConfig `yaml:"interpreter"`
	ScreenWidth     int               `yaml:"screenWidth,omitempty"`
	IdleTimeout     string            `yaml:"idleTimeout,omitempty"`
	ExitGrace       string            `yaml:"exitGrace,omitempty"`
	Pagination      PaginationConfig  `yaml:"pagination"`
	Banner          BannerConfig      `yaml:"banner"`
	Prompt          *string           `yaml:"prompt,omitempty"`
	BlockedCommands []string          `yaml:"blockedCommands,omitempty"`
	GamesDir        string            `yaml:"gamesDir,omitempty"`
	SavesDir        string            `yaml:"savesDir,omitempty"`
	Mode            string            `yaml:"mode,omitempty"`
	Listen          string            `yaml:"listen,omitempty"`
	RateLimit       RateLimitConfig   `yaml:"rateLimit"`
}

// InterpreterConfig holds interpreter launch settings.
type InterpreterConfig struct {
	Path        string `yaml:"path,omitempty"`
	RestrictDir string `yaml:"restrictDir,omitempty"`
	PTY         bool   `yaml:"pty,omitempty"`
	Encoding    string `yaml:"encoding,omitempty"`
}

// PaginationConfig holds the "more" markers. Markers are literal strings,
// Patterns are regular expressions.
type PaginationConfig struct {
	Markers  []string `yaml:"markers,omitempty"`
	Patterns []string `yaml:"patterns,omitempty"`
}

// BannerConfig describes the interpreter lines preceding the intro.
type BannerConfig struct {
	HeaderLines  *int     `yaml:"headerLines,omitempty"`
	ChunkNotices []string `yaml:"chunkNotices,omitempty"`
}

// RateLimitConfig holds per-connection rate limits for the chat server.
type RateLimitConfig struct {
	Burst     int     `yaml:"burst,omitempty"`
	PerSecond float64 `yaml:"perSecond,omitempty"`

	// BootsPerMinute caps interpreter starts per connection. In on-demand
	// mode every command starts one.
	BootsPerMinute int `yaml:"bootsPerMinute,omitempty"`
}

const (
	// DefaultGamesDir is where story files are looked up.
	DefaultGamesDir = "games"
	// DefaultSavesDir is where action logs are stored.
	DefaultSavesDir = "saves"
	// DefaultListen is the chat server address.
	DefaultListen = "127.0.0.1:8420"

	// ModeResident keeps one interpreter per player running between commands.
	ModeResident = "resident"
	// ModeOnDemand spawns and replays for every command.
	ModeOnDemand = "on-demand"
)

// Default returns a Config with zero-value defaults.
func Default() *Config {
	return &Config{}
}

// EffectiveInterpreter returns the interpreter path, honouring the
// FROTZCHAT_INTERPRETER environment override.
func (c *Config) EffectiveInterpreter() string {
	return interp.ResolvePath(c.Interpreter.Path)
}

// EffectiveTransport returns the interpreter transport.
func (c *Config) EffectiveTransport() interp.Transport {
	if c.Interpreter.PTY {
		return interp.TransportPTY
	}
	return interp.TransportPipe
}

// EffectiveScreenWidth returns ScreenWidth or the default if not set.
func (c *Config) EffectiveScreenWidth() int {
	if c.ScreenWidth > 0 {
		return c.ScreenWidth
	}
	return reformat.DefaultWidth
}

// EffectiveIdleTimeout returns the idle window or the default if not set.
func (c *Config) EffectiveIdleTimeout() (time.Duration, error) {
	return parseDuration("idleTimeout", c.IdleTimeout, demux.DefaultIdleTimeout)
}

// EffectiveExitGrace returns the exit grace period or the default if not set.
func (c *Config) EffectiveExitGrace() (time.Duration, error) {
	return parseDuration("exitGrace", c.ExitGrace, game.DefaultExitGrace)
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", field, value)
	}
	return d, nil
}

// EffectiveMarkers builds the pagination markers. With nothing configured
// the default markers are used.
func (c *Config) EffectiveMarkers() ([]demux.Marker, error) {
	if len(c.Pagination.Markers) == 0 && len(c.Pagination.Patterns) == 0 {
		return demux.DefaultMarkers(), nil
	}

	var markers []demux.Marker
	for _, m := range c.Pagination.Markers {
		markers = append(markers, demux.Literal(m))
	}
	for _, expr := range c.Pagination.Patterns {
		p, err := demux.NewPattern(expr)
		if err != nil {
			return nil, err
		}
		markers = append(markers, p)
	}
	return markers, nil
}

// EffectiveFormatter returns the reformatter for the configured width,
// banner, prompt and encoding.
func (c *Config) EffectiveFormatter() (reformat.Formatter, error) {
	f := reformat.New(c.EffectiveScreenWidth())
	if c.Banner.HeaderLines != nil {
		f.HeaderLines = *c.Banner.HeaderLines
	}
	if len(c.Banner.ChunkNotices) > 0 {
		f.ChunkNotices = c.Banner.ChunkNotices
	}
	if c.Prompt != nil {
		f.Prompt = *c.Prompt
	}
	switch enc := reformat.Encoding(c.Interpreter.Encoding); enc {
	case "":
	case reformat.EncodingUTF8, reformat.EncodingLatin1:
		f.Encoding = enc
	default:
		return f, fmt.Errorf("unsupported interpreter encoding %q", enc)
	}
	return f, nil
}

// EffectiveGamesDir returns GamesDir or the default if not set.
func (c *Config) EffectiveGamesDir() string {
	if c.GamesDir != "" {
		return c.GamesDir
	}
	return DefaultGamesDir
}

// EffectiveSavesDir returns SavesDir or the default if not set.
func (c *Config) EffectiveSavesDir() string {
	if c.SavesDir != "" {
		return c.SavesDir
	}
	return DefaultSavesDir
}

// EffectiveMode returns Mode or resident if not set.
func (c *Config) EffectiveMode() (string, error) {
	switch c.Mode {
	case "":
		return ModeResident, nil
	case ModeResident, ModeOnDemand:
		return c.Mode, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %q or %q)", c.Mode, ModeResident, ModeOnDemand)
	}
}

// EffectiveListen returns Listen or the default if not set.
func (c *Config) EffectiveListen() string {
	if c.Listen != "" {
		return c.Listen
	}
	return DefaultListen
}

// SessionOptions assembles session options from the config.
func (c *Config) SessionOptions() (game.Options, error) {
	idle, err := c.EffectiveIdleTimeout()
	if err != nil {
		return game.Options{}, err
	}
	grace, err := c.EffectiveExitGrace()
	if err != nil {
		return game.Options{}, err
	}
	markers, err := c.EffectiveMarkers()
	if err != nil {
		return game.Options{}, err
	}
	f, err := c.EffectiveFormatter()
	if err != nil {
		return game.Options{}, err
	}

	return game.Options{
		Interpreter: c.EffectiveInterpreter(),
		Transport:   c.EffectiveTransport(),
		RestrictDir: c.Interpreter.RestrictDir,
		Width:       c.EffectiveScreenWidth(),
		IdleTimeout: idle,
		Markers:     markers,
		Formatter:   &f,
		Blocked:     c.BlockedCommands,
		ExitGrace:   grace,
	}, nil
}

// configPath returns the full path to the config file.
func configPath(baseDir string) string {
	return filepath.Join(baseDir, configFile)
}

// Exists checks if the config file exists.
func Exists(baseDir string) bool {
	_, err := os.Stat(configPath(baseDir))
	return err == nil
}

// Load reads the config from .frotzchat/config.yaml.
// Returns Default() when the file doesn't exist (no error).
func Load(baseDir string) (*Config, error) {
	path := configPath(baseDir)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the config to .frotzchat/config.yaml.
func Save(baseDir string, cfg *Config) error {
	path := configPath(baseDir)

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
