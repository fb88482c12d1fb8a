package cmd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/minicodemonkey/frotzchat/internal/actionlog"
	"github.com/minicodemonkey/frotzchat/internal/catalog"
	"github.com/minicodemonkey/frotzchat/internal/ws"
)

// startServe runs the server in the background and returns its address.
func startServe(t *testing.T, dir string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		errCh <- RunServe(ServeOptions{
			Dir:     dir,
			Listen:  "127.0.0.1:0",
			LogFile: filepath.Join(dir, "serve.log"),
			Ctx:     ctx,
			Ready:   ready,
		})
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("RunServe returned error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("RunServe did not stop")
		}
	})

	select {
	case addr := <-ready:
		return addr
	case err := <-errCh:
		t.Fatalf("RunServe failed: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for server")
	}
	return ""
}

// dialPlayer connects as player and consumes the hello.
func dialPlayer(t *testing.T, addr, player string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?player="+player, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var hello ws.HelloMessage
	readMessage(t, conn, &hello)
	if hello.Type != ws.TypeHello {
		t.Fatalf("expected hello, got %q", hello.Type)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
}

func TestRunServe_GamesDirMissing(t *testing.T) {
	dir := setupProject(t)
	if err := os.RemoveAll(filepath.Join(dir, "games")); err != nil {
		t.Fatal(err)
	}

	err := RunServe(ServeOptions{Dir: dir, Listen: "127.0.0.1:0"})
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("expected missing games directory error, got %v", err)
	}
}

func TestRunServe_LogFileError(t *testing.T) {
	dir := setupProject(t, "zork1.z5")

	err := RunServe(ServeOptions{Dir: dir, LogFile: filepath.Join(dir, "missing", "serve.log")})
	if err == nil || !strings.Contains(err.Error(), "opening log file") {
		t.Errorf("expected log file error, got %v", err)
	}
}

func TestRunServe_Healthz(t *testing.T) {
	dir := setupProject(t, "zork1.z5")
	addr := startServe(t, dir)

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "ok" {
		t.Errorf("status = %d body = %q", resp.StatusCode, body)
	}
}

func TestRunServe_PlaySession(t *testing.T) {
	dir := setupProject(t, "zork1.z5")
	addr := startServe(t, dir)
	conn := dialPlayer(t, addr, "alice")

	conn.WriteJSON(ws.PlayMessage{Type: ws.TypePlay, ID: "p1", Game: "1"})
	var intro ws.IntroMessage
	readMessage(t, conn, &intro)
	if intro.Type != ws.TypeIntro || intro.Text != "West of House." {
		t.Fatalf("unexpected intro: %+v", intro)
	}

	conn.WriteJSON(ws.CommandMessage{Type: ws.TypeCommand, ID: "c1", Text: "north"})
	var resp ws.ResponseMessage
	readMessage(t, conn, &resp)
	if resp.Text != "You go north." {
		t.Fatalf("unexpected response: %+v", resp)
	}

	entries, err := actionlog.Open(catalog.SaveFile(filepath.Join(dir, "saves"), "zork1", "alice")).Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0] != "north" {
		t.Errorf("save entries = %q, want [north]", entries)
	}

	conn.WriteJSON(ws.CommandMessage{Type: ws.TypeCommand, ID: "c2", Text: "restore"})
	var e ws.ErrorMessage
	readMessage(t, conn, &e)
	if e.Code != ws.ErrCodeInvalidCommand || e.Message != ws.TextInvalidCommand {
		t.Errorf("unexpected error: %+v", e)
	}

	conn.WriteJSON(ws.CommandMessage{Type: ws.TypeCommand, ID: "c3", Text: "jump"})
	var over ws.GameOverMessage
	readMessage(t, conn, &over)
	if over.Type != ws.TypeGameOver || over.Text != "You have died.\n\n**GAME OVER**" {
		t.Errorf("unexpected game over: %+v", over)
	}
	if _, err := os.Stat(catalog.SaveFile(filepath.Join(dir, "saves"), "zork1", "alice")); !os.IsNotExist(err) {
		t.Error("expected save to be removed after game over")
	}
}

func TestRunServe_BroadcastsNewGames(t *testing.T) {
	dir := setupProject(t, "zork1.z5")
	addr := startServe(t, dir)
	conn := dialPlayer(t, addr, "alice")

	if err := os.WriteFile(filepath.Join(dir, "games", "anchor.z8"), []byte("zcode"), 0o644); err != nil {
		t.Fatal(err)
	}

	var games ws.GamesMessage
	readMessage(t, conn, &games)
	if games.Type != ws.TypeGames || len(games.Games) != 2 {
		t.Fatalf("unexpected broadcast: %+v", games)
	}
	if games.Games[0].Name != "anchor" {
		t.Errorf("first game = %q, want anchor", games.Games[0].Name)
	}
}
