package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/minicodemonkey/frotzchat/internal/catalog"
)

// ProtocolVersion is the current protocol version.
const ProtocolVersion = 1

// Message represents a protocol message envelope.
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// NewMessage creates a new message envelope with type, UUID, and ISO8601 timestamp.
func NewMessage(msgType string) Message {
	return Message{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Error codes for protocol error messages.
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeInvalidGame      = "INVALID_GAME"
	ErrCodeInvalidCommand   = "INVALID_COMMAND"
	ErrCodeAlreadyPlaying   = "ALREADY_PLAYING"
	ErrCodeNotPlaying       = "NOT_PLAYING"
	ErrCodeInterpreterError = "INTERPRETER_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeNotRecorded      = "NOT_RECORDED"
)

// User-facing texts.
const (
	TextInvalidCommand = "❌ Invalid command."
	TextInvalidGame    = "❌ Invalid game number."
	TextNoGames        = "❌ No game available."
	TextGameOver       = "**GAME OVER**"
	TextNotRecorded    = "⚠️ The move was played but could not be saved."
)

// Message type constants for the protocol catalog.
const (
	// Server → client message types.
	TypeHello    = "hello"
	TypeGames    = "games"
	TypeIntro    = "intro"
	TypeResponse = "response"
	TypeGameOver = "game_over"
	TypeLeft     = "left"
	TypeError    = "error"

	// Client → server message types.
	TypeListGames = "list_games"
	TypePlay      = "play"
	TypeCommand   = "command"
	TypeLeave     = "leave"
	TypePing      = "ping"

	// Bidirectional.
	TypePong = "pong"
)

// --- Server → client messages ---

// HelloMessage is sent by the server immediately after the connection opens.
type HelloMessage struct {
	Type            string `json:"type"`
	ID              string `json:"id"`
	Timestamp       string `json:"timestamp"`
	ProtocolVersion int    `json:"protocol_version"`
	ConnectionID    string `json:"connection_id"`
	Player          string `json:"player"`
}

// GamesMessage lists the playable games.
type GamesMessage struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Games     []catalog.Game `json:"games"`
}

// IntroMessage carries the intro of a newly started game.
type IntroMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Game      string `json:"game"`
	Text      string `json:"text"`
	Artwork   string `json:"artwork,omitempty"`
	Replayed  int    `json:"replayed,omitempty"`
	// Resumed is set when a reconnecting client took over a running game;
	// Text is empty then.
	Resumed   bool   `json:"resumed,omitempty"`
}

// ResponseMessage carries the response to a command.
type ResponseMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Game      string `json:"game"`
	Text      string `json:"text"`
}

// GameOverMessage carries the final response of a game.
type GameOverMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Game      string `json:"game"`
	Text      string `json:"text"`
}

// LeftMessage confirms that a game was left and its save deleted.
type LeftMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Game      string `json:"game"`
}

// ErrorMessage reports a failed request.
type ErrorMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// --- Client → server messages ---

// PlayMessage starts a game by listing number or name.
type PlayMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Game      string `json:"game"`
	// Resume asks to take over the game if it is already running.
	Resume    bool   `json:"resume,omitempty"`
}

// CommandMessage sends a command to a running game.
type CommandMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Game      string `json:"game"`
	Text      string `json:"text"`
}

// LeaveMessage abandons a game and deletes its save.
type LeaveMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Game      string `json:"game"`
}

// PingMessage is a keep-alive request.
type PingMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// PongMessage answers a ping.
type PongMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// newError builds an error message answering the request with ID requestID.
func newError(code, text, requestID string) ErrorMessage {
	msg := NewMessage(TypeError)
	return ErrorMessage{
		Type:      msg.Type,
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
		Code:      code,
		Message:   text,
		RequestID: requestID,
	}
}
