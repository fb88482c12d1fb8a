package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/minicodemonkey/frotzchat/internal/catalog"
	"github.com/minicodemonkey/frotzchat/internal/engine"
	"github.com/minicodemonkey/frotzchat/internal/game"
	"github.com/minicodemonkey/frotzchat/internal/interp"
)

const (
	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second

	// maxMessageSize bounds an incoming frame.
	maxMessageSize = 64 * 1024
)

// Games is the game listing the server exposes.
type Games interface {
	Games() []catalog.Game
	Resolve(ref string) (catalog.Game, error)
}

// Sessions runs games for players.
type Sessions interface {
	Play(g catalog.Game, player string) (engine.Started, error)
	Submit(g catalog.Game, player, text string) (engine.Reply, error)
	Leave(g catalog.Game, player string) error
}

// Server accepts chat connections over WebSocket. Each connection belongs to
// one player, named by the "player" query parameter.
type Server struct {
	games      Games
	sessions   Sessions
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	mode       engine.Mode
	limits     *Limits

	mu    sync.Mutex
	conns map[string]*Conn
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMode tells the server how the engine keeps interpreters. In on-demand
// mode every command is charged as a boot.
func WithMode(mode engine.Mode) ServerOption {
	return func(s *Server) {
		s.mode = mode
	}
}

// WithLimits sets per-connection rate limits. Without it the server uses
// DefaultLimits for its mode.
func WithLimits(l Limits) ServerOption {
	return func(s *Server) {
		s.limits = &l
	}
}

// NewServer creates a server and registers the protocol handlers.
func NewServer(games Games, sessions Sessions, opts ...ServerOption) *Server {
	s := &Server{
		games:      games,
		sessions:   sessions,
		dispatcher: NewDispatcher(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mode:  engine.ModeResident,
		conns: make(map[string]*Conn),
	}
	for _, o := range opts {
		o(s)
	}
	if s.limits == nil {
		l := DefaultLimits(s.mode)
		s.limits = &l
	}

	commandCost := CostMessage
	if s.mode == engine.ModeOnDemand {
		commandCost = CostBoot
	}
	s.dispatcher.Register(TypeListGames, CostMessage, s.handleListGames)
	s.dispatcher.Register(TypePlay, CostBoot, s.handlePlay)
	s.dispatcher.Register(TypeCommand, commandCost, s.handleCommand)
	s.dispatcher.Register(TypeLeave, CostMessage, s.handleLeave)
	s.dispatcher.Register(TypePing, CostFree, s.handlePing)
	return s
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	player := r.URL.Query().Get("player")
	if player == "" {
		http.Error(w, "missing player", http.StatusBadRequest)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &Conn{
		id:      uuid.NewString(),
		player:  player,
		ws:      wsConn,
		limiter: NewRateLimiter(*s.limits),
	}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		wsConn.Close()
	}()

	log.Printf("[debug] ws: %s connected (conn=%s)", player, c.id)
	msg := NewMessage(TypeHello)
	if err := c.Send(HelloMessage{
		Type:            msg.Type,
		ID:              msg.ID,
		Timestamp:       msg.Timestamp,
		ProtocolVersion: ProtocolVersion,
		ConnectionID:    c.id,
		Player:          player,
	}); err != nil {
		log.Printf("ws: sending hello: %v", err)
		return
	}

	c.readLoop(s.dispatcher)
	log.Printf("[debug] ws: %s disconnected (conn=%s)", player, c.id)
}

// Broadcast sends msg to every open connection.
func (s *Server) Broadcast(msg interface{}) {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			log.Printf("ws: broadcast to %s failed: %v", c.id, err)
		}
	}
}

// BroadcastGames sends the game listing to every open connection.
func (s *Server) BroadcastGames(games []catalog.Game) {
	s.Broadcast(gamesMessage(games))
}

// Close closes every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.close()
	}
}

func gamesMessage(games []catalog.Game) GamesMessage {
	if games == nil {
		games = []catalog.Game{}
	}
	public := make([]catalog.Game, len(games))
	for i, g := range games {
		// Never expose server paths.
		public[i] = catalog.Game{Number: g.Number, Name: g.Name, File: g.File}
		if g.Artwork != "" {
			public[i].Artwork = filepath.Base(g.Artwork)
		}
	}
	msg := NewMessage(TypeGames)
	return GamesMessage{Type: msg.Type, ID: msg.ID, Timestamp: msg.Timestamp, Games: public}
}

func (s *Server) handleListGames(c *Conn, _ Message) {
	c.Send(gamesMessage(s.games.Games()))
}

func (s *Server) handlePing(c *Conn, _ Message) {
	msg := NewMessage(TypePong)
	c.Send(PongMessage{Type: msg.Type, ID: msg.ID, Timestamp: msg.Timestamp})
}

func (s *Server) handlePlay(c *Conn, m Message) {
	var req PlayMessage
	if err := json.Unmarshal(m.Raw, &req); err != nil {
		c.Send(newError(ErrCodeInvalidMessage, err.Error(), m.ID))
		return
	}

	g, err := s.games.Resolve(req.Game)
	if err != nil {
		c.Send(newError(ErrCodeInvalidGame, TextInvalidGame, m.ID))
		return
	}

	started, err := s.sessions.Play(g, c.player)
	if err != nil && req.Resume && errors.Is(err, engine.ErrAlreadyPlaying) {
		// A reconnecting client takes the running game over.
		c.setGame(g.Name)
		msg := NewMessage(TypeIntro)
		c.Send(IntroMessage{Type: msg.Type, ID: msg.ID, Timestamp: msg.Timestamp, Game: g.Name, Resumed: true})
		return
	}
	if err != nil {
		c.Send(s.errorFor(err, g, m.ID))
		return
	}
	c.setGame(g.Name)

	msg := NewMessage(TypeIntro)
	intro := IntroMessage{
		Type:      msg.Type,
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
		Game:      g.Name,
		Text:      started.Intro,
		Replayed:  started.Replayed,
	}
	if g.Artwork != "" {
		intro.Artwork = filepath.Base(g.Artwork)
	}
	c.Send(intro)

	if started.Ended {
		c.Send(gameOver(g.Name, ""))
	}
}

func (s *Server) handleCommand(c *Conn, m Message) {
	var req CommandMessage
	if err := json.Unmarshal(m.Raw, &req); err != nil {
		c.Send(newError(ErrCodeInvalidMessage, err.Error(), m.ID))
		return
	}
	if req.Game == "" {
		req.Game = c.currentGame()
	}

	g, err := s.games.Resolve(req.Game)
	if err != nil {
		c.Send(newError(ErrCodeInvalidGame, TextInvalidGame, m.ID))
		return
	}

	reply, err := s.sessions.Submit(g, c.player, req.Text)
	if err != nil && reply.Text == "" {
		c.Send(s.errorFor(err, g, m.ID))
		return
	}
	if reply.Ended {
		c.Send(gameOver(g.Name, reply.Text))
		return
	}

	msg := NewMessage(TypeResponse)
	c.Send(ResponseMessage{
		Type:      msg.Type,
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
		Game:      g.Name,
		Text:      reply.Text,
	})
	if err != nil {
		log.Printf("ws: %s: %s: %v", g.Name, c.player, err)
		c.Send(newError(ErrCodeNotRecorded, TextNotRecorded, m.ID))
	}
}

func (s *Server) handleLeave(c *Conn, m Message) {
	var req LeaveMessage
	if err := json.Unmarshal(m.Raw, &req); err != nil {
		c.Send(newError(ErrCodeInvalidMessage, err.Error(), m.ID))
		return
	}
	if req.Game == "" {
		req.Game = c.currentGame()
	}

	g, err := s.games.Resolve(req.Game)
	if err != nil {
		c.Send(newError(ErrCodeInvalidGame, TextInvalidGame, m.ID))
		return
	}
	if err := s.sessions.Leave(g, c.player); err != nil {
		c.Send(s.errorFor(err, g, m.ID))
		return
	}

	msg := NewMessage(TypeLeft)
	c.Send(LeftMessage{Type: msg.Type, ID: msg.ID, Timestamp: msg.Timestamp, Game: g.Name})
}

// errorFor maps a session error to a protocol error.
func (s *Server) errorFor(err error, g catalog.Game, requestID string) ErrorMessage {
	switch {
	case errors.Is(err, engine.ErrAlreadyPlaying):
		return newError(ErrCodeAlreadyPlaying, fmt.Sprintf("❌ You are playing '%s' already.", g.Name), requestID)
	case errors.Is(err, engine.ErrNotPlaying):
		return newError(ErrCodeNotPlaying, fmt.Sprintf("❌ You are not playing '%s'.", g.Name), requestID)
	case errors.Is(err, game.ErrInvalidCommand):
		return newError(ErrCodeInvalidCommand, TextInvalidCommand, requestID)
	case errors.Is(err, game.ErrInvalidGame):
		return newError(ErrCodeInvalidGame, fmt.Sprintf("❌ Invalid game: '%s'.", g.Name), requestID)
	}

	if spawnErr, ok := interp.AsSpawnError(err); ok {
		log.Printf("ws: %v", spawnErr)
		return newError(ErrCodeInterpreterError, spawnErr.Remediation, requestID)
	}
	log.Printf("ws: %s: %v", g.Name, err)
	return newError(ErrCodeInterpreterError, err.Error(), requestID)
}

func gameOver(gameName, text string) GameOverMessage {
	msg := NewMessage(TypeGameOver)
	body := TextGameOver
	if text != "" {
		body = text + "\n\n" + TextGameOver
	}
	return GameOverMessage{Type: msg.Type, ID: msg.ID, Timestamp: msg.Timestamp, Game: gameName, Text: body}
}

// Conn is one player's WebSocket connection.
type Conn struct {
	id      string
	player  string
	ws      *websocket.Conn
	limiter *RateLimiter

	writeMu sync.Mutex

	gameMu sync.Mutex
	game   string // last game started on this connection
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Player returns the player the connection belongs to.
func (c *Conn) Player() string { return c.player }

// Send writes msg as a JSON text frame.
func (c *Conn) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) setGame(name string) {
	c.gameMu.Lock()
	c.game = name
	c.gameMu.Unlock()
}

func (c *Conn) currentGame() string {
	c.gameMu.Lock()
	defer c.gameMu.Unlock()
	return c.game
}

func (c *Conn) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	c.ws.Close()
}

// readLoop reads frames until the connection closes, rate limiting and
// dispatching each message in order.
func (c *Conn) readLoop(d *Dispatcher) {
	c.ws.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws: read error from %s: %v", c.id, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(newError(ErrCodeInvalidMessage, "unparseable message", ""))
			continue
		}
		msg.Raw = data

		cost := d.Cost(msg.Type)
		if v := c.limiter.Allow(cost); !v.Allowed {
			log.Printf("[debug] ws: %s limited on %s (%s cost), retry in %s", c.player, msg.Type, cost, v.RetryAfter.Round(time.Second))
			c.Send(newError(ErrCodeRateLimited, v.Text(), msg.ID))
			continue
		}

		if err := d.Dispatch(c, msg); err != nil {
			c.Send(newError(ErrCodeInvalidMessage, err.Error(), msg.ID))
		}
	}
}
