package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// handshakeTimeout is how long to wait for the server hello.
const handshakeTimeout = 10 * time.Second

// ErrIncompatible is returned when the server speaks another protocol version.
type ErrIncompatible struct {
	Server int
}

func (e *ErrIncompatible) Error() string {
	return fmt.Sprintf("incompatible protocol version: server %d, client %d", e.Server, ProtocolVersion)
}

// ErrHandshakeTimeout is returned when the server doesn't send its hello.
var ErrHandshakeTimeout = errors.New("handshake timeout: no hello from server")

// ErrPlayerMismatch is returned when the server assigned another player name.
var ErrPlayerMismatch = errors.New("server assigned a different player")

// greet reads the hello that opens every connection and checks that it is
// for player and speaks our protocol version.
func greet(conn *websocket.Conn, player string, timeout time.Duration) (HelloMessage, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return HelloMessage{}, ErrHandshakeTimeout
		}
		return HelloMessage{}, fmt.Errorf("reading hello: %w", err)
	}

	var hello HelloMessage
	if err := json.Unmarshal(data, &hello); err != nil {
		return HelloMessage{}, fmt.Errorf("parsing hello: %w", err)
	}
	if hello.Type != TypeHello {
		return HelloMessage{}, fmt.Errorf("expected hello, got %q", hello.Type)
	}
	if hello.ProtocolVersion != ProtocolVersion {
		return hello, &ErrIncompatible{Server: hello.ProtocolVersion}
	}
	if hello.Player != player {
		return hello, fmt.Errorf("%w: %q", ErrPlayerMismatch, hello.Player)
	}
	return hello, nil
}
