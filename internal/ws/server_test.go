package ws

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/minicodemonkey/frotzchat/internal/catalog"
	"github.com/minicodemonkey/frotzchat/internal/engine"
	"github.com/minicodemonkey/frotzchat/internal/game"
)

// fakeSessions records calls and answers from canned results.
type fakeSessions struct {
	mu      sync.Mutex
	playing map[string]bool
	replies map[string]engine.Reply
	errs    map[string]error
	calls   []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		playing: make(map[string]bool),
		replies: make(map[string]engine.Reply),
		errs:    make(map[string]error),
	}
}

func (f *fakeSessions) Play(g catalog.Game, player string) (engine.Started, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "play "+g.Name+" "+player)
	key := g.Name + "/" + player
	if f.playing[key] {
		return engine.Started{}, engine.ErrAlreadyPlaying
	}
	f.playing[key] = true
	return engine.Started{Game: g, Intro: "West of House"}, nil
}

func (f *fakeSessions) Submit(g catalog.Game, player, text string) (engine.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "submit "+g.Name+" "+player+" "+text)
	if !f.playing[g.Name+"/"+player] {
		return engine.Reply{}, engine.ErrNotPlaying
	}
	if err, ok := f.errs[text]; ok {
		return f.replies[text], err
	}
	if r, ok := f.replies[text]; ok {
		return r, nil
	}
	return engine.Reply{Text: "ok: " + text}, nil
}

func (f *fakeSessions) Leave(g catalog.Game, player string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "leave "+g.Name+" "+player)
	delete(f.playing, g.Name+"/"+player)
	return nil
}

func testServer(t *testing.T, opts ...ServerOption) (*Server, *fakeSessions, *catalog.Scanner, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"zork1.z5", "zork1.png", "hhgg.z3"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("story"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	scanner := catalog.New(dir, nil)
	scanner.ScanAndUpdate()

	sessions := newFakeSessions()
	srv := NewServer(scanner, sessions, opts...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, sessions, scanner, ts
}

// dial connects as player and consumes the hello.
func dial(t *testing.T, ts *httptest.Server, player string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?player="+player, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var hello HelloMessage
	readJSON(t, conn, &hello)
	if hello.Type != TypeHello {
		t.Fatalf("first message type = %q, want hello", hello.Type)
	}
	if hello.Player != player || hello.ProtocolVersion != ProtocolVersion || hello.ConnectionID == "" {
		t.Fatalf("unexpected hello: %+v", hello)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expectError(t *testing.T, conn *websocket.Conn, code, text string) {
	t.Helper()
	var e ErrorMessage
	readJSON(t, conn, &e)
	if e.Type != TypeError || e.Code != code {
		t.Fatalf("got %+v, want error %s", e, code)
	}
	if text != "" && e.Message != text {
		t.Errorf("message = %q, want %q", e.Message, text)
	}
}

func TestServer_RequiresPlayer(t *testing.T) {
	_, _, _, ts := testServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err == nil {
		t.Fatal("expected dial without player to fail")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("expected HTTP 400, got %v", resp)
	}
}

func TestServer_ListGames(t *testing.T) {
	_, _, _, ts := testServer(t)
	conn := dial(t, ts, "alice")

	send(t, conn, NewMessage(TypeListGames))
	var games GamesMessage
	readJSON(t, conn, &games)

	if len(games.Games) != 2 {
		t.Fatalf("got %d games, want 2", len(games.Games))
	}
	if games.Games[0].Name != "hhgg" || games.Games[1].Name != "zork1" {
		t.Errorf("unexpected games: %+v", games.Games)
	}
	if games.Games[1].Artwork != "zork1.png" || games.Games[1].Path != "" {
		t.Errorf("unexpected listing entry: %+v", games.Games[1])
	}
}

func TestServer_PlayAndCommand(t *testing.T) {
	_, sessions, _, ts := testServer(t)
	conn := dial(t, ts, "alice")

	send(t, conn, PlayMessage{Type: TypePlay, ID: "p1", Game: "2"})
	var intro IntroMessage
	readJSON(t, conn, &intro)
	if intro.Type != TypeIntro || intro.Game != "zork1" || intro.Text != "West of House" {
		t.Fatalf("unexpected intro: %+v", intro)
	}
	if intro.Artwork != "zork1.png" {
		t.Errorf("artwork = %q, want zork1.png", intro.Artwork)
	}

	// Without a game the command goes to the last one played.
	send(t, conn, CommandMessage{Type: TypeCommand, ID: "c1", Text: "open mailbox"})
	var resp ResponseMessage
	readJSON(t, conn, &resp)
	if resp.Type != TypeResponse || resp.Game != "zork1" || resp.Text != "ok: open mailbox" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	if sessions.calls[1] != "submit zork1 alice open mailbox" {
		t.Errorf("calls = %v", sessions.calls)
	}
}

func TestServer_PlayErrors(t *testing.T) {
	_, _, _, ts := testServer(t)
	conn := dial(t, ts, "alice")

	send(t, conn, PlayMessage{Type: TypePlay, ID: "p1", Game: "9"})
	expectError(t, conn, ErrCodeInvalidGame, TextInvalidGame)

	send(t, conn, PlayMessage{Type: TypePlay, ID: "p2", Game: "zork1"})
	var intro IntroMessage
	readJSON(t, conn, &intro)

	send(t, conn, PlayMessage{Type: TypePlay, ID: "p3", Game: "zork1"})
	expectError(t, conn, ErrCodeAlreadyPlaying, "❌ You are playing 'zork1' already.")
}

func TestServer_CommandErrors(t *testing.T) {
	_, sessions, _, ts := testServer(t)
	sessions.errs["save"] = game.ErrInvalidCommand
	sessions.errs["boom"] = errors.New("interpreter exploded")
	conn := dial(t, ts, "alice")

	send(t, conn, CommandMessage{Type: TypeCommand, ID: "c1", Game: "zork1", Text: "look"})
	expectError(t, conn, ErrCodeNotPlaying, "")

	send(t, conn, PlayMessage{Type: TypePlay, ID: "p1", Game: "zork1"})
	var intro IntroMessage
	readJSON(t, conn, &intro)

	send(t, conn, CommandMessage{Type: TypeCommand, ID: "c2", Game: "zork1", Text: "save"})
	expectError(t, conn, ErrCodeInvalidCommand, TextInvalidCommand)

	send(t, conn, CommandMessage{Type: TypeCommand, ID: "c3", Game: "zork1", Text: "boom"})
	expectError(t, conn, ErrCodeInterpreterError, "interpreter exploded")
}

func TestServer_GameOver(t *testing.T) {
	_, sessions, _, ts := testServer(t)
	sessions.replies["jump"] = engine.Reply{Text: "You have died.", Ended: true}
	conn := dial(t, ts, "alice")

	send(t, conn, PlayMessage{Type: TypePlay, ID: "p1", Game: "zork1"})
	var intro IntroMessage
	readJSON(t, conn, &intro)

	send(t, conn, CommandMessage{Type: TypeCommand, ID: "c1", Game: "zork1", Text: "jump"})
	var over GameOverMessage
	readJSON(t, conn, &over)
	if over.Type != TypeGameOver || over.Text != "You have died.\n\n**GAME OVER**" {
		t.Errorf("unexpected game over: %+v", over)
	}
}

func TestServer_CommandNotRecorded(t *testing.T) {
	_, sessions, _, ts := testServer(t)
	sessions.replies["north"] = engine.Reply{Text: "North of House."}
	sessions.errs["north"] = errors.New("recording command: disk full")
	conn := dial(t, ts, "alice")

	send(t, conn, PlayMessage{Type: TypePlay, ID: "p1", Game: "zork1"})
	var intro IntroMessage
	readJSON(t, conn, &intro)

	send(t, conn, CommandMessage{Type: TypeCommand, ID: "c1", Text: "north"})
	var resp ResponseMessage
	readJSON(t, conn, &resp)
	if resp.Type != TypeResponse || resp.Text != "North of House." {
		t.Fatalf("unexpected response: %+v", resp)
	}
	expectError(t, conn, ErrCodeNotRecorded, TextNotRecorded)
}

func TestServer_Leave(t *testing.T) {
	_, sessions, _, ts := testServer(t)
	conn := dial(t, ts, "alice")

	send(t, conn, PlayMessage{Type: TypePlay, ID: "p1", Game: "zork1"})
	var intro IntroMessage
	readJSON(t, conn, &intro)

	send(t, conn, LeaveMessage{Type: TypeLeave, ID: "l1"})
	var left LeftMessage
	readJSON(t, conn, &left)
	if left.Type != TypeLeft || left.Game != "zork1" {
		t.Fatalf("unexpected left: %+v", left)
	}

	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	if sessions.playing["zork1/alice"] {
		t.Error("expected game to be left")
	}
}

func TestServer_PingPong(t *testing.T) {
	_, _, _, ts := testServer(t)
	conn := dial(t, ts, "alice")

	send(t, conn, NewMessage(TypePing))
	var pong PongMessage
	readJSON(t, conn, &pong)
	if pong.Type != TypePong {
		t.Errorf("type = %q, want pong", pong.Type)
	}
}

func TestServer_UnknownAndMalformed(t *testing.T) {
	_, _, _, ts := testServer(t)
	conn := dial(t, ts, "alice")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	expectError(t, conn, ErrCodeInvalidMessage, "")

	send(t, conn, NewMessage("teleport"))
	expectError(t, conn, ErrCodeInvalidMessage, "")
}

func TestServer_RateLimited(t *testing.T) {
	_, _, _, ts := testServer(t, WithLimits(Limits{Burst: 2, PerSecond: 0.01}))
	conn := dial(t, ts, "alice")

	for i := 0; i < 2; i++ {
		send(t, conn, NewMessage(TypeListGames))
		var games GamesMessage
		readJSON(t, conn, &games)
	}

	send(t, conn, NewMessage(TypeListGames))
	expectError(t, conn, ErrCodeRateLimited, "")

	// Pings are never limited.
	send(t, conn, NewMessage(TypePing))
	var pong PongMessage
	readJSON(t, conn, &pong)
	if pong.Type != TypePong {
		t.Errorf("type = %q, want pong", pong.Type)
	}
}

func TestServer_BroadcastGames(t *testing.T) {
	srv, _, _, ts := testServer(t)
	a := dial(t, ts, "alice")
	b := dial(t, ts, "bob")

	srv.BroadcastGames([]catalog.Game{{Number: 1, Name: "anchor", File: "anchor.z8"}})

	for _, conn := range []*websocket.Conn{a, b} {
		var games GamesMessage
		readJSON(t, conn, &games)
		if len(games.Games) != 1 || games.Games[0].Name != "anchor" {
			t.Errorf("unexpected broadcast: %+v", games)
		}
	}
}

func TestServer_OnDemandCommandsBoot(t *testing.T) {
	limits := Limits{Burst: 100, PerSecond: 100, Boots: 2, BootWindow: time.Minute}

	tests := []struct {
		mode    engine.Mode
		limited bool
	}{
		{engine.ModeResident, false},
		{engine.ModeOnDemand, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			_, _, _, ts := testServer(t, WithMode(tt.mode), WithLimits(limits))
			conn := dial(t, ts, "alice")

			send(t, conn, PlayMessage{Type: TypePlay, ID: "p1", Game: "zork1"})
			var intro IntroMessage
			readJSON(t, conn, &intro)

			send(t, conn, CommandMessage{Type: TypeCommand, ID: "c1", Text: "north"})
			var resp ResponseMessage
			readJSON(t, conn, &resp)

			send(t, conn, CommandMessage{Type: TypeCommand, ID: "c2", Text: "look"})
			if tt.limited {
				expectError(t, conn, ErrCodeRateLimited, "")
				return
			}
			readJSON(t, conn, &resp)
			if resp.Type != TypeResponse || resp.Text != "ok: look" {
				t.Errorf("unexpected response: %+v", resp)
			}
		})
	}
}

func TestServer_PlayResume(t *testing.T) {
	_, _, _, ts := testServer(t)
	first := dial(t, ts, "alice")
	send(t, first, PlayMessage{Type: TypePlay, ID: "p1", Game: "zork1"})
	var intro IntroMessage
	readJSON(t, first, &intro)

	// Without the resume flag a second play is refused.
	second := dial(t, ts, "alice")
	send(t, second, PlayMessage{Type: TypePlay, ID: "p2", Game: "zork1"})
	expectError(t, second, ErrCodeAlreadyPlaying, "")

	send(t, second, PlayMessage{Type: TypePlay, ID: "p3", Game: "zork1", Resume: true})
	var resumed IntroMessage
	readJSON(t, second, &resumed)
	if !resumed.Resumed || resumed.Game != "zork1" || resumed.Text != "" {
		t.Fatalf("unexpected resume: %+v", resumed)
	}

	// The connection now sends commands to the resumed game.
	send(t, second, CommandMessage{Type: TypeCommand, ID: "c1", Text: "north"})
	var resp ResponseMessage
	readJSON(t, second, &resp)
	if resp.Game != "zork1" || resp.Text != "ok: north" {
		t.Errorf("unexpected response: %+v", resp)
	}
}
