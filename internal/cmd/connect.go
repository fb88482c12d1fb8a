package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/minicodemonkey/frotzchat/internal/ws"
)

// ConnectOptions contains configuration for the connect command.
type ConnectOptions struct {
	URL    string          // Server endpoint (default: ws.DefaultURL)
	Player string          // Player name (default: current user)
	In     io.Reader       // Input (default: stdin)
	Out    io.Writer       // Output (default: stdout)
	Ctx    context.Context // Optional context for cancellation (for testing)
}

const connectHelp = `Commands:
  /games         list the games
  /play <game>   start or resume a game (number or name)
  /leave         abandon the current game and delete its save
  /quit          disconnect
Anything else is sent to the current game.`

// RunConnect chats with a frotzchat server line by line.
func RunConnect(opts ConnectOptions) error {
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	url := opts.URL
	if url == "" {
		url = ws.DefaultURL
	}
	player := opts.Player
	if player == "" {
		player = defaultPlayer()
	}

	ctx := opts.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var outMu sync.Mutex
	printf := func(format string, args ...interface{}) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	client := ws.New(url, player, ws.WithOnReconnect(func(hello ws.HelloMessage) {
		log.Printf("Reconnected (conn=%s)", hello.ConnectionID)
		printf("Reconnected.\n")
	}))
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer client.Close()
	printf("Connected as %s.\n%s\n", client.Hello().Player, connectHelp)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range client.Receive() {
			renderMessage(printf, msg)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			msg, quit := requestFor(strings.TrimSpace(line), client.Game())
			if quit {
				return nil
			}
			if msg == nil {
				continue
			}
			if err := client.Send(msg); err != nil {
				printf("Error: %v\n", err)
			}
		}
	}
}

// requestFor turns an input line into a protocol request. It returns nil for
// lines that send nothing.
func requestFor(line, current string) (msg interface{}, quit bool) {
	if line == "" {
		return nil, false
	}

	base := ws.NewMessage("")
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return nil, true
	case "/games":
		base.Type = ws.TypeListGames
		return base, false
	case "/play":
		return ws.PlayMessage{
			Type:      ws.TypePlay,
			ID:        base.ID,
			Timestamp: base.Timestamp,
			Game:      strings.TrimSpace(strings.TrimPrefix(line, "/play")),
		}, false
	case "/leave":
		return ws.LeaveMessage{Type: ws.TypeLeave, ID: base.ID, Timestamp: base.Timestamp, Game: current}, false
	}
	return ws.CommandMessage{Type: ws.TypeCommand, ID: base.ID, Timestamp: base.Timestamp, Game: current, Text: line}, false
}

// renderMessage prints a server message.
func renderMessage(printf func(string, ...interface{}), msg ws.Message) {
	switch msg.Type {
	case ws.TypeGames:
		var m ws.GamesMessage
		if json.Unmarshal(msg.Raw, &m) != nil {
			return
		}
		if len(m.Games) == 0 {
			printf("%s\n", ws.TextNoGames)
			return
		}
		for _, g := range m.Games {
			printf("%d. %s\n", g.Number, g.Name)
		}
	case ws.TypeIntro:
		var m ws.IntroMessage
		if json.Unmarshal(msg.Raw, &m) != nil {
			return
		}
		if m.Resumed {
			printf("(back in %s)\n", m.Game)
			return
		}
		if m.Replayed > 0 {
			printf("(restored %d moves)\n", m.Replayed)
		}
		printf("%s\n", m.Text)
	case ws.TypeResponse:
		var m ws.ResponseMessage
		if json.Unmarshal(msg.Raw, &m) == nil {
			printf("%s\n", m.Text)
		}
	case ws.TypeGameOver:
		var m ws.GameOverMessage
		if json.Unmarshal(msg.Raw, &m) == nil {
			printf("%s\n", m.Text)
		}
	case ws.TypeLeft:
		var m ws.LeftMessage
		if json.Unmarshal(msg.Raw, &m) == nil {
			printf("Left %s.\n", m.Game)
		}
	case ws.TypeError:
		var m ws.ErrorMessage
		if json.Unmarshal(msg.Raw, &m) == nil {
			printf("%s\n", m.Message)
		}
	}
}
