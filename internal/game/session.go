// Package game drives one interactive-fiction session: it boots the
// interpreter, captures the intro, rebuilds prior state from the action log,
// and turns each player command into one formatted response.
package game

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/minicodemonkey/frotzchat/internal/actionlog"
	"github.com/minicodemonkey/frotzchat/internal/demux"
	"github.com/minicodemonkey/frotzchat/internal/interp"
	"github.com/minicodemonkey/frotzchat/internal/reformat"
)

var (
	// ErrInvalidGame means the story produced no usable intro.
	ErrInvalidGame = errors.New("invalid game")
	// ErrInvalidCommand means the command yielded no response while the
	// interpreter stayed alive, or was refused before reaching it.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrSessionClosed means the session has ended or was stopped.
	ErrSessionClosed = errors.New("session closed")
)

// DefaultExitGrace is how long to wait for the interpreter to be reaped
// after its output closes.
const DefaultExitGrace = 2 * time.Second

// DefaultBlocked are interpreter-native commands refused by the driver. The
// action log replaces native save files.
var DefaultBlocked = []string{"save", "restore", "load"}

// lookCommand is issued once when the boot banner is empty.
const lookCommand = "look"

// State is the lifecycle state of a Session.
type State int

const (
	StateBooting State = iota
	StateReady
	StatePlaying
	StateEnded
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateBooting:
		return "Booting"
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	case StateEnded:
		return "Ended"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Options configures a Session.
type Options struct {
	// Interpreter is the interpreter executable.
	Interpreter string
	// Transport selects pipes or a PTY.
	Transport interp.Transport
	// RestrictDir is passed to the interpreter's -R flag.
	RestrictDir string
	// Width is the virtual screen width, used for both -w and reformatting.
	Width int
	// IdleTimeout is the silence that ends a response.
	IdleTimeout time.Duration
	// Markers are the pagination markers; nil uses the defaults.
	Markers []demux.Marker
	// Formatter overrides the default formatter for Width.
	Formatter *reformat.Formatter
	// Blocked lists refused commands; nil uses DefaultBlocked.
	Blocked []string
	// ExitGrace bounds the wait for the interpreter to be reaped once its
	// output has closed.
	ExitGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = reformat.DefaultWidth
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = demux.DefaultIdleTimeout
	}
	if o.Markers == nil {
		o.Markers = demux.DefaultMarkers()
	}
	if o.Formatter == nil {
		f := reformat.New(o.Width)
		o.Formatter = &f
	}
	if o.Blocked == nil {
		o.Blocked = DefaultBlocked
	}
	if o.ExitGrace <= 0 {
		o.ExitGrace = DefaultExitGrace
	}
	return o
}

// Session is a stateful game bound to one (story file, save file) pair.
// Commands are serialized; Stop may be called concurrently with Submit.
type Session struct {
	storyFile string
	saveFile  string
	opts      Options
	intro     string
	replayed  int

	proc   *interp.Process
	reader *demux.Reader
	log    *actionlog.Log

	cmdMu   sync.Mutex // serializes commands
	stateMu sync.Mutex
	state   State
}

// Start spawns the interpreter, captures the intro, and replays the action
// log at saveFile if one exists. On any failure the interpreter is killed.
func Start(storyFile, saveFile string, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	s := &Session{
		storyFile: storyFile,
		saveFile:  saveFile,
		opts:      opts,
		log:       actionlog.Open(saveFile),
		state:     StateBooting,
	}

	proc, err := interp.Spawn(interp.Invocation{
		Path:        opts.Interpreter,
		StoryFile:   storyFile,
		Width:       opts.Width,
		RestrictDir: opts.RestrictDir,
		Transport:   opts.Transport,
	})
	if err != nil {
		s.setState(StateStopped)
		return nil, err
	}
	s.proc = proc
	s.reader = demux.NewReader(proc,
		demux.WithIdleTimeout(opts.IdleTimeout),
		demux.WithMarkers(opts.Markers...),
	)

	started := false
	defer func() {
		if !started {
			proc.Kill()
			s.setState(StateStopped)
		}
	}()

	if err := s.boot(); err != nil {
		return nil, err
	}

	if s.log.Exists() {
		n, err := s.log.Replay(s.replay)
		if err != nil {
			return nil, err
		}
		s.replayed = n
		log.Printf("[debug] game: replayed %d commands into %s (pid=%d)", n, storyFile, proc.Pid())
	}

	started = true
	return s, nil
}

// boot drains the banner into the intro, falling back to a single look.
func (s *Session) boot() error {
	resp, err := s.reader.ReadResponse()
	if err != nil {
		return fmt.Errorf("reading boot banner: %w", err)
	}
	intro := s.opts.Formatter.Banner(s.opts.Formatter.Decode(resp.Raw))

	if intro == "" && s.proc.IsAlive() {
		log.Printf("[debug] game: empty banner for %s, trying %q", s.storyFile, lookCommand)
		intro, _, err = s.exchange(lookCommand)
		if err != nil {
			log.Printf("[debug] game: %s: %v", s.storyFile, err)
		}
	}
	if intro == "" {
		if stderr := strings.TrimSpace(s.proc.Stderr()); stderr != "" {
			log.Printf("[debug] game: %s: %s", s.storyFile, stderr)
		}
		return fmt.Errorf("%w: %q produced no intro", ErrInvalidGame, s.storyFile)
	}

	s.intro = intro
	if s.proc.IsAlive() {
		s.setState(StateReady)
	} else {
		s.setState(StateEnded)
	}
	return nil
}

// replay submits a logged command and discards its response.
func (s *Session) replay(command string) error {
	if !s.proc.IsAlive() {
		return ErrSessionClosed
	}
	_, closed, err := s.exchange(command)
	if err != nil {
		return err
	}
	if closed && s.proc.WaitExit(s.opts.ExitGrace) {
		s.setState(StateEnded)
		return ErrSessionClosed
	}
	return nil
}

// exchange writes one command and reads its formatted response.
func (s *Session) exchange(command string) (string, bool, error) {
	if err := s.proc.Write([]byte(command + "\n")); err != nil {
		return "", false, err
	}
	resp, err := s.reader.ReadResponse()
	if err != nil {
		return "", false, err
	}
	text := s.opts.Formatter.Response(s.opts.Formatter.Decode(resp.Raw))
	return text, resp.Closed, nil
}

// Submit sends a player command and returns the formatted response and
// whether the game has ended. Accepted commands are appended to the action
// log. If the log cannot be written the response is still returned together
// with the error.
func (s *Session) Submit(text string) (string, bool, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	switch s.State() {
	case StateEnded, StateStopped:
		return "", true, ErrSessionClosed
	}
	if !s.proc.IsAlive() {
		s.end()
		return "", true, ErrSessionClosed
	}

	command := NormalizeCommand(text)
	if s.refused(command) {
		return "", false, ErrInvalidCommand
	}

	if !s.transition(StateReady, StatePlaying) {
		return "", true, ErrSessionClosed
	}
	out, closed, err := s.exchange(command)
	if s.State() == StateStopped {
		return "", true, ErrSessionClosed
	}
	if err != nil {
		if errors.Is(err, interp.ErrBrokenPipe) {
			s.end()
			return "", true, fmt.Errorf("%w: %w", ErrSessionClosed, err)
		}
		s.transition(StatePlaying, StateReady)
		return "", false, err
	}

	if closed {
		s.proc.WaitExit(s.opts.ExitGrace)
	}
	if !s.proc.IsAlive() {
		s.end()
		return out, true, nil
	}

	if !s.transition(StatePlaying, StateReady) {
		return "", true, ErrSessionClosed
	}
	if out == "" {
		return "", false, ErrInvalidCommand
	}
	if err := s.log.Append(command); err != nil {
		return out, false, fmt.Errorf("recording command: %w", err)
	}
	return out, false, nil
}

// refused reports whether command must not reach the interpreter.
func (s *Session) refused(command string) bool {
	if command == "" || strings.HasPrefix(command, "\\") {
		return true
	}
	lower := strings.ToLower(command)
	for _, b := range s.opts.Blocked {
		if lower == strings.ToLower(b) {
			return true
		}
	}
	return false
}

// end marks the session Ended and releases the process.
func (s *Session) end() {
	s.proc.Kill()
	s.stateMu.Lock()
	if s.state != StateStopped {
		s.state = StateEnded
	}
	s.stateMu.Unlock()
}

// Ended reports whether the game is over. It polls interpreter liveness.
func (s *Session) Ended() bool {
	switch s.State() {
	case StateEnded, StateStopped:
		return true
	}
	if !s.proc.IsAlive() {
		if err := s.proc.ExitErr(); err != nil {
			log.Printf("[debug] game: %s (pid=%d) exited: %v", s.storyFile, s.proc.Pid(), err)
		}
		s.stateMu.Lock()
		if s.state != StateStopped {
			s.state = StateEnded
		}
		s.stateMu.Unlock()
		return true
	}
	return false
}

// Stop kills the interpreter. The session cannot be used afterwards. Stop
// does not wait for an in-flight Submit; the kill makes its read return and
// the Submit reports ErrSessionClosed. The state is set before the kill so
// the closed stream is not mistaken for a game over.
func (s *Session) Stop() {
	s.setState(StateStopped)
	s.proc.Kill()
}

// Intro returns the text captured at boot.
func (s *Session) Intro() string {
	return s.intro
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// transition moves the session from one state to another and reports
// whether it was in the expected state.
func (s *Session) transition(from, to State) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

// StoryFile returns the story file path.
func (s *Session) StoryFile() string { return s.storyFile }

// SaveFile returns the action log path.
func (s *Session) SaveFile() string { return s.saveFile }

// Replayed returns how many logged commands were replayed at start.
func (s *Session) Replayed() int { return s.replayed }

// Pid returns the interpreter process id.
func (s *Session) Pid() int { return s.proc.Pid() }

// NormalizeCommand collapses whitespace runs in a player command.
func NormalizeCommand(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
