package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultURL is the default chat server endpoint.
	DefaultURL = "ws://127.0.0.1:8420/ws"

	// maxBackoff is the maximum reconnection delay.
	maxBackoff = 60 * time.Second

	// initialBackoff is the starting reconnection delay.
	initialBackoff = 1 * time.Second

	// receiveBufSize is the buffer size for the receive channel.
	receiveBufSize = 256
)

// Client keeps one player connected to a chat server. Every connection is
// opened by a checked hello. When the connection drops the client redials
// with backoff and takes the player's current game back over, so commands
// keep going to it.
type Client struct {
	url          string
	player       string
	helloTimeout time.Duration
	recvCh       chan Message
	done         chan struct{}
	onRecon      func(HelloMessage)

	mu      sync.Mutex
	conn    *websocket.Conn
	hello   HelloMessage
	game    string // game the server last started or resumed for us
	cancel  context.CancelFunc
	stopped bool
}

// Option configures a Client.
type Option func(*Client)

// WithOnReconnect sets a callback run after each reconnection, once the
// resume request for the current game has been sent.
func WithOnReconnect(fn func(HelloMessage)) Option {
	return func(c *Client) {
		c.onRecon = fn
	}
}

// New creates a client for player. It does not connect until Connect.
func New(serverURL, player string, opts ...Option) *Client {
	c := &Client{
		url:          endpoint(serverURL, player),
		player:       player,
		helloTimeout: handshakeTimeout,
		recvCh:       make(chan Message, receiveBufSize),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// endpoint adds the player query parameter to serverURL.
func endpoint(serverURL, player string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL
	}
	q := u.Query()
	q.Set("player", player)
	u.RawQuery = q.Encode()
	return u.String()
}

// Player returns the player name the client connects as.
func (c *Client) Player() string {
	return c.player
}

// Hello returns the hello of the current connection.
func (c *Client) Hello() HelloMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello
}

// Game returns the game the player is in, or "" when none is running.
func (c *Client) Game() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game
}

// Connect dials the server and checks its hello. It retries the dial until
// it succeeds or ctx is done. A bad hello is not retried.
func (c *Client) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	conn, err := c.dial(ctx)
	if err != nil {
		c.stop()
		return err
	}
	hello, err := greet(conn, c.player, c.helloTimeout)
	if err != nil {
		conn.Close()
		c.stop()
		return err
	}
	c.attach(conn, hello)

	go c.readLoop(ctx)
	return nil
}

// stop releases a client whose first connection failed.
func (c *Client) stop() {
	c.cancel()
	close(c.recvCh)
	close(c.done)
}

// attach makes conn the live connection. It reports false, closing conn,
// when the client was closed meanwhile.
func (c *Client) attach(conn *websocket.Conn, hello HelloMessage) bool {
	conn.SetPingHandler(func(appData string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		conn.Close()
		return false
	}
	c.conn = conn
	c.hello = hello
	return true
}

// Send writes msg as a JSON text frame.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive returns the channel of server messages. It is closed when the
// client stops.
func (c *Client) Receive() <-chan Message {
	return c.recvCh
}

// Close sends a close frame and stops the client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	var err error
	if conn != nil {
		deadline := time.Now().Add(5 * time.Second)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
		err = conn.Close()
	}

	if c.cancel != nil {
		<-c.done
	}
	return err
}

// dial connects to the server, retrying with exponential backoff.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	attempt := 0
	for {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		attempt++
		delay := backoff(attempt)
		if resp != nil {
			log.Printf("Connecting as %s failed (attempt %d): %v (HTTP %d), retrying in %s",
				c.player, attempt, err, resp.StatusCode, delay.Round(time.Millisecond))
		} else {
			log.Printf("Connecting as %s failed (attempt %d): %v, retrying in %s",
				c.player, attempt, err, delay.Round(time.Millisecond))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// reconnect replaces a dropped connection and resumes the current game.
// It reports false when the client should stop.
func (c *Client) reconnect(ctx context.Context) bool {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return false
		}
		hello, err := greet(conn, c.player, c.helloTimeout)
		if err != nil {
			conn.Close()
			var incompatible *ErrIncompatible
			if errors.As(err, &incompatible) || errors.Is(err, ErrPlayerMismatch) {
				log.Printf("Reconnect refused: %v", err)
				return false
			}
			log.Printf("Reconnect failed: %v", err)
			continue
		}
		if !c.attach(conn, hello) {
			return false
		}
		log.Printf("Reconnected to %s as %s", c.url, c.player)

		if game := c.Game(); game != "" {
			base := NewMessage(TypePlay)
			resume := PlayMessage{Type: base.Type, ID: base.ID, Timestamp: base.Timestamp, Game: game, Resume: true}
			if err := c.Send(resume); err != nil {
				log.Printf("Resuming %s failed: %v", game, err)
			}
		}
		if c.onRecon != nil {
			c.onRecon(hello)
		}
		return true
	}
}

// readLoop delivers server messages until the client stops, reconnecting
// when the connection drops.
func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.recvCh)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Connection lost: %v, reconnecting", err)
			conn.Close()
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Ignoring unparseable message: %v", err)
			continue
		}
		msg.Raw = data
		c.track(msg)

		select {
		case c.recvCh <- msg:
		default:
			log.Printf("Receive buffer full, dropping %s message", msg.Type)
		}
	}
}

// track follows which game the server is running for the player.
func (c *Client) track(msg Message) {
	switch msg.Type {
	case TypeIntro, TypeLeft, TypeGameOver:
	default:
		return
	}
	var body struct {
		Game string `json:"game"`
	}
	if json.Unmarshal(msg.Raw, &body) != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case msg.Type == TypeIntro:
		c.game = body.Game
	case body.Game == c.game:
		c.game = ""
	}
}

// backoff returns a duration for the given attempt using exponential backoff + jitter.
func backoff(attempt int) time.Duration {
	base := float64(initialBackoff) * math.Pow(2, float64(attempt-1))
	if base > float64(maxBackoff) {
		base = float64(maxBackoff)
	}
	// Add jitter: 0.5x to 1.5x
	jitter := 0.5 + rand.Float64()
	return time.Duration(base * jitter)
}
