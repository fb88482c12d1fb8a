package game

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/minicodemonkey/frotzchat/internal/actionlog"
	"github.com/minicodemonkey/frotzchat/internal/interp"
)

// fakeInterpreter is a bash stand-in for dfrotz. It keeps a little world
// state so replayed sessions can be compared with live ones.
const fakeInterpreter = `
story="${@: -1}"
echo "Using normal formatting."
echo "Loading $story."
if [ ! -s "$story" ]; then
  exit 1
fi
if [ "$(cat "$story")" = "silent" ]; then
  while IFS= read -r line; do :; done
  exit 0
fi
echo ""
echo "West of House"
echo "You are standing in an open field west of a white house."
printf "\n>"
room="West of House"
items=""
while IFS= read -r line; do
  case "$line" in
    north) room="North of House"; echo "$room";;
    "take lamp") items="$items lamp"; echo "Taken.";;
    look) echo "$room"; if [ -n "$items" ]; then echo "You are carrying:$items."; fi;;
    wait) for i in 1 2 3 4 5 6 7 8; do echo "Time passes ($i)."; sleep 0.15; done;;
    "read book") echo "Page one."; echo "***MORE***"; read -r _; echo "Page two."; echo "[MORE]"; read -r _; echo "The end.";;
    quit) echo "Goodbye."; exit 0;;
    xyzzy) ;;
    *) echo "I don't know that word.";;
  esac
  printf "\n>"
done
`

// setup writes the fake interpreter and a story file and returns options
// pointing at them.
func setup(t *testing.T, story string) (string, string, Options) {
	t.Helper()
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("requires /bin/bash")
	}

	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-dfrotz")
	if err := os.WriteFile(bin, []byte("#!/bin/bash\n"+fakeInterpreter), 0755); err != nil {
		t.Fatalf("Failed to create fake interpreter: %v", err)
	}
	storyFile := filepath.Join(dir, "zork1.z5")
	if err := os.WriteFile(storyFile, []byte(story), 0644); err != nil {
		t.Fatalf("Failed to create story: %v", err)
	}
	saveFile := filepath.Join(dir, "saves", "zork1.z5", "alice.qzl")

	return storyFile, saveFile, Options{
		Interpreter: bin,
		IdleTimeout: 300 * time.Millisecond,
		ExitGrace:   time.Second,
	}
}

func start(t *testing.T, story string) (*Session, Options) {
	t.Helper()
	storyFile, saveFile, opts := setup(t, story)
	s, err := Start(storyFile, saveFile, opts)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, opts
}

func TestStart_CapturesIntro(t *testing.T) {
	s, _ := start(t, "zcode")

	want := "West of House You are standing in an open field west of a white house."
	if got := s.Intro(); got != want {
		t.Errorf("Intro =\n%q\nwant\n%q", got, want)
	}
	if s.State() != StateReady {
		t.Errorf("State = %v, want Ready", s.State())
	}
	if s.Ended() {
		t.Error("expected running session")
	}
}

func TestStart_EmptyStoryIsInvalidGame(t *testing.T) {
	storyFile, saveFile, opts := setup(t, "")
	_, err := Start(storyFile, saveFile, opts)
	if !errors.Is(err, ErrInvalidGame) {
		t.Fatalf("Start err = %v, want ErrInvalidGame", err)
	}
}

func TestStart_SilentStoryIsInvalidGame(t *testing.T) {
	storyFile, saveFile, opts := setup(t, "silent")
	_, err := Start(storyFile, saveFile, opts)
	if !errors.Is(err, ErrInvalidGame) {
		t.Fatalf("Start err = %v, want ErrInvalidGame", err)
	}
}

func TestSubmit_SlowResponseIsComplete(t *testing.T) {
	s, _ := start(t, "zcode")

	out, ended, err := s.Submit("wait")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if ended {
		t.Error("game should not have ended")
	}
	for i := 1; i <= 8; i++ {
		if !strings.Contains(out, "Time passes ("+string(rune('0'+i))+").") {
			t.Errorf("response missing chunk %d: %q", i, out)
		}
	}
}

func TestSubmit_Pagination(t *testing.T) {
	s, _ := start(t, "zcode")

	out, _, err := s.Submit("read book")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	want := "Page one.\nPage two.\nThe end."
	if out != want {
		t.Errorf("response = %q, want %q", out, want)
	}
	if strings.Contains(out, "MORE") {
		t.Errorf("marker left in response: %q", out)
	}

	// The interpreter must be back at its prompt after the last page.
	out, _, err = s.Submit("look")
	if err != nil || out != "West of House" {
		t.Errorf("look = (%q, %v)", out, err)
	}
}

func TestSession_Transports(t *testing.T) {
	for _, transport := range []interp.Transport{interp.TransportPipe, interp.TransportPTY} {
		t.Run(string(transport), func(t *testing.T) {
			if transport == interp.TransportPTY {
				ptm, pts, err := pty.Open()
				if err != nil {
					t.Skipf("no PTY available: %v", err)
				}
				ptm.Close()
				pts.Close()
			}

			storyFile, saveFile, opts := setup(t, "zcode")
			opts.Transport = transport
			s, err := Start(storyFile, saveFile, opts)
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer s.Stop()

			if s.Pid() <= 0 {
				t.Errorf("Pid = %d, want a running process", s.Pid())
			}
			if !strings.HasPrefix(s.Intro(), "West of House") {
				t.Errorf("Intro = %q", s.Intro())
			}

			out, _, err := s.Submit("read book")
			if err != nil || out != "Page one.\nPage two.\nThe end." {
				t.Errorf("read book = (%q, %v)", out, err)
			}

			out, ended, err := s.Submit("quit")
			if err != nil || !ended || out != "Goodbye." {
				t.Errorf("quit = (%q, %v, %v)", out, ended, err)
			}
		})
	}
}

func TestSubmit_NormalizesWhitespace(t *testing.T) {
	s, _ := start(t, "zcode")

	out, _, err := s.Submit("  take \t  lamp ")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if out != "Taken." {
		t.Errorf("response = %q", out)
	}

	entries, _ := actionlog.Open(s.SaveFile()).Entries()
	if len(entries) != 1 || entries[0] != "take lamp" {
		t.Errorf("logged entries = %v", entries)
	}
}

func TestSubmit_RefusedCommands(t *testing.T) {
	s, _ := start(t, "zcode")

	for _, cmd := range []string{"", "   ", "save", "RESTORE", " load ", `\x`} {
		if _, _, err := s.Submit(cmd); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("Submit(%q) err = %v, want ErrInvalidCommand", cmd, err)
		}
	}
	if actionlog.Open(s.SaveFile()).Exists() {
		t.Error("refused commands must not be logged")
	}
	if s.State() != StateReady {
		t.Errorf("State = %v, want Ready", s.State())
	}
}

func TestSubmit_EmptyResponseIsInvalidCommand(t *testing.T) {
	s, _ := start(t, "zcode")

	if _, _, err := s.Submit("xyzzy"); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("err = %v, want ErrInvalidCommand", err)
	}
	if s.Ended() {
		t.Error("session should still be running")
	}
	if actionlog.Open(s.SaveFile()).Exists() {
		t.Error("invalid command must not be logged")
	}

	if out, _, err := s.Submit("north"); err != nil || out != "North of House" {
		t.Errorf("north = (%q, %v)", out, err)
	}
}

func TestSubmit_QuitEndsSession(t *testing.T) {
	s, _ := start(t, "zcode")

	out, ended, err := s.Submit("quit")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !ended {
		t.Error("expected ended")
	}
	if out != "Goodbye." {
		t.Errorf("response = %q", out)
	}
	if !s.Ended() || s.State() != StateEnded {
		t.Errorf("State = %v, want Ended", s.State())
	}

	if _, ended, err := s.Submit("look"); !errors.Is(err, ErrSessionClosed) || !ended {
		t.Errorf("Submit after end = (%v, %v), want ErrSessionClosed", ended, err)
	}
}

func TestStart_ReplayRestoresState(t *testing.T) {
	storyFile, saveFile, opts := setup(t, "zcode")

	first, err := Start(storyFile, saveFile, opts)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for _, cmd := range []string{"north", "take lamp"} {
		if _, _, err := first.Submit(cmd); err != nil {
			t.Fatalf("Submit(%q) failed: %v", cmd, err)
		}
	}
	live, _, err := first.Submit("look")
	if err != nil {
		t.Fatal(err)
	}
	first.Stop()

	second, err := Start(storyFile, saveFile, opts)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer second.Stop()

	if second.Replayed() != 3 {
		t.Errorf("Replayed = %d, want 3", second.Replayed())
	}
	if second.Intro() != first.Intro() {
		t.Errorf("intro changed across restart: %q vs %q", second.Intro(), first.Intro())
	}
	replayed, _, err := second.Submit("look")
	if err != nil {
		t.Fatal(err)
	}
	if replayed != live {
		t.Errorf("replayed state = %q, live state = %q", replayed, live)
	}
	if !strings.Contains(replayed, "lamp") {
		t.Errorf("expected lamp in inventory, got %q", replayed)
	}
}

func TestStop_InterruptsSubmit(t *testing.T) {
	s, _ := start(t, "zcode")

	done := make(chan error, 1)
	go func() {
		_, _, err := s.Submit("wait")
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionClosed) {
			t.Errorf("err = %v, want ErrSessionClosed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Submit did not return after Stop")
	}
	if s.State() != StateStopped {
		t.Errorf("State = %v, want Stopped", s.State())
	}
	if _, _, err := s.Submit("look"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Submit after Stop err = %v", err)
	}
}

func TestNormalizeCommand(t *testing.T) {
	tests := map[string]string{
		"north":            "north",
		"  take   lamp  ":  "take lamp",
		"put\tsword\nhere": "put sword here",
		"":                 "",
	}
	for in, want := range tests {
		if got := NormalizeCommand(in); got != want {
			t.Errorf("NormalizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StatePlaying.String() != "Playing" || State(99).String() != "Unknown" {
		t.Error("unexpected State strings")
	}
}
