// Package engine provides a shared registry of game sessions that both the
// TUI and the serve command (WebSocket handler) can consume. Sessions are
// keyed by (game, player). It supports multiple concurrent event consumers
// via fan-out subscription.
package engine

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minicodemonkey/frotzchat/internal/actionlog"
	"github.com/minicodemonkey/frotzchat/internal/catalog"
	"github.com/minicodemonkey/frotzchat/internal/game"
)

var (
	// ErrAlreadyPlaying is returned by Play when the player already has a
	// session for the game.
	ErrAlreadyPlaying = errors.New("already playing")
	// ErrNotPlaying is returned when the player has no session for the game.
	ErrNotPlaying = errors.New("not playing")
	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("engine shut down")
)

// Mode selects how interpreters are kept between commands.
type Mode string

const (
	// ModeResident keeps one interpreter running per player between commands.
	ModeResident Mode = "resident"
	// ModeOnDemand spawns an interpreter per command and rebuilds state by
	// replaying the action log.
	ModeOnDemand Mode = "on-demand"
)

// Key identifies a session.
type Key struct {
	Game   string
	Player string
}

// EventType identifies the kind of Event.
type EventType string

const (
	EventStarted  EventType = "started"
	EventResponse EventType = "response"
	EventEnded    EventType = "ended"
	EventLeft     EventType = "left"
)

// Event is published to subscribers whenever a session changes.
type Event struct {
	Type   EventType
	Key    Key
	Text   string
	Time   time.Time
	Replay int
}

// Started is the result of Play.
type Started struct {
	Game  catalog.Game
	Intro string
	// Replayed is the number of logged commands replayed to resume an
	// earlier game.
	Replayed int
	// Ended is set when the game was over before the first command.
	Ended bool
}

// Reply is the result of Submit.
type Reply struct {
	Text  string
	Ended bool
}

// entry is one registered session. Its mutex serializes commands for the key.
type entry struct {
	mu       sync.Mutex
	game     catalog.Game
	saveFile string
	session  atomic.Pointer[game.Session] // nil between commands in on-demand mode
	gone     bool                         // guarded by mu
	left     bool                         // guarded by Engine.mu
}

// Engine is the session registry. The global lock only guards the map; all
// interpreter work happens under the per-key lock.
type Engine struct {
	mode     Mode
	savesDir string
	opts     game.Options
	start    func(storyFile, saveFile string, opts game.Options) (*game.Session, error)

	mu      sync.Mutex
	entries map[Key]*entry
	closed  bool

	// Fan-out event distribution
	subscribers map[int]chan Event
	nextID      int
	subMu       sync.RWMutex
}

// New creates a new Engine storing action logs under savesDir.
func New(mode Mode, savesDir string, opts game.Options) *Engine {
	if mode == "" {
		mode = ModeResident
	}
	return &Engine{
		mode:        mode,
		savesDir:    savesDir,
		opts:        opts,
		start:       game.Start,
		entries:     make(map[Key]*entry),
		subscribers: make(map[int]chan Event),
	}
}

// Mode returns the engine mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// Subscribe creates a new event subscription and returns a channel and an
// unsubscribe function. The channel is buffered (100 events). The caller must
// call the returned function when done to avoid resource leaks.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 100)

	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subscribers[id] = ch
	e.subMu.Unlock()

	unsub := func() {
		e.subMu.Lock()
		delete(e.subscribers, id)
		e.subMu.Unlock()
	}

	return ch, unsub
}

func (e *Engine) publish(event Event) {
	event.Time = time.Now()

	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, ch := range e.subscribers {
		// Non-blocking send: drop events for slow consumers
		select {
		case ch <- event:
		default:
		}
	}
}

// SaveFile returns the action log path for a key.
func (e *Engine) SaveFile(key Key) string {
	return catalog.SaveFile(e.savesDir, key.Game, key.Player)
}

// Play starts a game for a player and returns its intro. A player with an
// action log but no registered session (after a restart) resumes by replay.
func (e *Engine) Play(g catalog.Game, player string) (Started, error) {
	key := Key{Game: g.Name, Player: player}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Started{}, ErrShutdown
	}
	if _, ok := e.entries[key]; ok {
		e.mu.Unlock()
		return Started{}, fmt.Errorf("%w: %q", ErrAlreadyPlaying, g.Name)
	}
	ent := &entry{game: g, saveFile: e.SaveFile(key)}
	ent.mu.Lock()
	e.entries[key] = ent
	e.mu.Unlock()
	defer ent.mu.Unlock()

	s, err := e.start(g.Path, ent.saveFile, e.opts)
	if err != nil {
		e.drop(key, ent)
		return Started{}, err
	}
	if err := e.attach(ent, s, e.mode == ModeResident && !s.Ended()); err != nil {
		e.drop(key, ent)
		return Started{}, fmt.Errorf("%w: %q", err, g.Name)
	}
	if err := actionlog.Open(ent.saveFile).Create(); err != nil {
		log.Printf("Warning: failed to create save for %s/%s: %v", g.Name, player, err)
	}

	result := Started{Game: g, Intro: s.Intro(), Replayed: s.Replayed()}
	log.Printf("[debug] engine: %s started %q (pid=%d, replayed=%d, mode=%s)", player, g.Name, s.Pid(), result.Replayed, e.mode)
	e.publish(Event{Type: EventStarted, Key: key, Text: result.Intro, Replay: result.Replayed})

	if s.Ended() {
		s.Stop()
		e.finish(key, ent)
		result.Ended = true
		return result, nil
	}

	if e.mode == ModeOnDemand {
		s.Stop()
	}
	return result, nil
}

// attach checks that ent is still registered and the engine still running
// once a session has booted, storing s when keep is set. Leave and Shutdown
// may run while an interpreter boots; if either did, s is stopped.
func (e *Engine) attach(ent *entry, s *game.Session, keep bool) error {
	e.mu.Lock()
	var err error
	switch {
	case e.closed:
		err = ErrShutdown
	case ent.left:
		err = ErrNotPlaying
	case keep:
		ent.session.Store(s)
	}
	e.mu.Unlock()

	if err != nil {
		s.Stop()
	}
	return err
}

// Submit sends a command to the player's session. When the game ends the
// session is dropped and its action log removed.
func (e *Engine) Submit(g catalog.Game, player, text string) (Reply, error) {
	key := Key{Game: g.Name, Player: player}

	ent, err := e.lookup(key, g)
	if err != nil {
		return Reply{}, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.gone {
		return Reply{}, fmt.Errorf("%w: %q", ErrNotPlaying, g.Name)
	}

	s := ent.session.Load()
	if s == nil {
		s, err = e.start(ent.game.Path, ent.saveFile, e.opts)
		if err != nil {
			return Reply{}, err
		}
		if err := e.attach(ent, s, e.mode == ModeResident); err != nil {
			return Reply{}, fmt.Errorf("%w: %q", err, g.Name)
		}
		if e.mode == ModeOnDemand {
			defer s.Stop()
		}
	}

	out, ended, err := s.Submit(text)
	if s.State() == game.StateStopped {
		// Stopped by Leave or Shutdown, not a game over.
		ent.session.CompareAndSwap(s, nil)
		return Reply{}, game.ErrSessionClosed
	}
	if ended {
		s.Stop()
		e.finish(key, ent)
		return Reply{Text: out, Ended: true}, nil
	}
	if err != nil {
		// A response with an error means the move was played but not
		// recorded; the player still gets the text.
		if out != "" {
			e.publish(Event{Type: EventResponse, Key: key, Text: out})
		}
		return Reply{Text: out}, err
	}

	e.publish(Event{Type: EventResponse, Key: key, Text: out})
	return Reply{Text: out}, nil
}

// lookup returns the entry for key. A player without a registered session
// but with an action log on disk is registered so the game resumes.
func (e *Engine) lookup(key Key, g catalog.Game) (*entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrShutdown
	}
	if ent, ok := e.entries[key]; ok {
		return ent, nil
	}

	saveFile := e.SaveFile(key)
	if !actionlog.Open(saveFile).Exists() {
		return nil, fmt.Errorf("%w: %q", ErrNotPlaying, g.Name)
	}
	ent := &entry{game: g, saveFile: saveFile}
	e.entries[key] = ent
	return ent, nil
}

// Leave stops the player's session and deletes its action log.
func (e *Engine) Leave(g catalog.Game, player string) error {
	key := Key{Game: g.Name, Player: player}

	e.mu.Lock()
	ent, ok := e.entries[key]
	if ok {
		ent.left = true
		delete(e.entries, key)
	}
	e.mu.Unlock()

	if ok {
		// Stop first so an in-flight command returns promptly. A boot in
		// progress sees ent.left in attach and stops its own interpreter.
		if s := ent.session.Swap(nil); s != nil {
			s.Stop()
		}
		ent.mu.Lock()
		ent.gone = true
		ent.mu.Unlock()
	}

	if err := actionlog.Open(e.SaveFile(key)).Reset(); err != nil {
		return err
	}
	log.Printf("[debug] engine: %s left %q", player, g.Name)
	e.publish(Event{Type: EventLeft, Key: key})
	return nil
}

// finish removes a game that is over. Called with ent.mu held.
func (e *Engine) finish(key Key, ent *entry) {
	ent.session.Store(nil)
	e.drop(key, ent)
	if err := actionlog.Open(ent.saveFile).Reset(); err != nil {
		log.Printf("Warning: failed to remove save for %s/%s: %v", key.Game, key.Player, err)
	}
	log.Printf("[debug] engine: game %q over for %s", key.Game, key.Player)
	e.publish(Event{Type: EventEnded, Key: key})
}

// drop unregisters ent if it is still the entry for key.
func (e *Engine) drop(key Key, ent *entry) {
	ent.gone = true
	e.mu.Lock()
	if e.entries[key] == ent {
		delete(e.entries, key)
	}
	e.mu.Unlock()
}

// Playing reports whether the player has a registered session for the game.
func (e *Engine) Playing(gameName, player string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[Key{Game: gameName, Player: player}]
	return ok
}

// Active returns the keys of all registered sessions, sorted.
func (e *Engine) Active() []Key {
	e.mu.Lock()
	keys := make([]Key, 0, len(e.entries))
	for k := range e.entries {
		keys = append(keys, k)
	}
	e.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Game != keys[j].Game {
			return keys[i].Game < keys[j].Game
		}
		return keys[i].Player < keys[j].Player
	})
	return keys
}

// Shutdown stops every running interpreter. Action logs are kept so games
// resume on the next start.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.closed = true
	entries := make([]*entry, 0, len(e.entries))
	for _, ent := range e.entries {
		entries = append(entries, ent)
	}
	e.entries = make(map[Key]*entry)
	e.mu.Unlock()

	for _, ent := range entries {
		if s := ent.session.Swap(nil); s != nil {
			s.Stop()
		}
	}
}
