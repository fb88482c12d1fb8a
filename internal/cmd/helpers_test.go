package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/minicodemonkey/frotzchat/internal/config"
)

// fakeInterpreter is a bash stand-in for dfrotz.
const fakeInterpreter = `
echo "Using normal formatting."
echo "Loading story."
echo ""
echo "West of House."
printf "\n>"
room="West of House"
while IFS= read -r line; do
  case "$line" in
    north) room="North of House"; echo "You go north.";;
    look) echo "$room.";;
    jump) echo "You have died."; exit 0;;
    *) echo "I don't know that word.";;
  esac
  printf "\n>"
done
`

// setupProject creates a project directory with a config pointing at the
// fake interpreter and a games directory holding the given story files.
func setupProject(t *testing.T, stories ...string) string {
	t.Helper()
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("requires /bin/bash")
	}
	t.Setenv("FROTZCHAT_INTERPRETER", "")

	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-dfrotz")
	if err := os.WriteFile(bin, []byte("#!/bin/bash\n"+fakeInterpreter), 0o755); err != nil {
		t.Fatalf("Failed to create fake interpreter: %v", err)
	}

	games := filepath.Join(dir, config.DefaultGamesDir)
	if err := os.MkdirAll(games, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range stories {
		if err := os.WriteFile(filepath.Join(games, name), []byte("zcode"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.Interpreter.Path = bin
	cfg.IdleTimeout = "250ms"
	cfg.ExitGrace = "1s"
	if err := config.Save(dir, cfg); err != nil {
		t.Fatalf("saving config: %v", err)
	}
	return dir
}
