package interp

import (
	"fmt"
	"os"
)

// DefaultPath is the interpreter used when nothing else is configured.
const DefaultPath = "dfrotz"

// Transport selects how the interpreter's standard streams are connected.
type Transport string

const (
	// TransportPipe connects stdin/stdout with plain pipes.
	TransportPipe Transport = "pipe"
	// TransportPTY connects the interpreter to a raw-mode pseudo terminal.
	// Some builds block-buffer stdout when it is not a terminal and would
	// otherwise never go idle at the end of a response.
	TransportPTY Transport = "pty"
)

// Invocation describes one interpreter launch.
type Invocation struct {
	// Path is the interpreter executable.
	Path string
	// StoryFile is passed as the final positional argument.
	StoryFile string
	// Width is the virtual screen width (-w).
	Width int
	// RestrictDir is passed to -R. Empty means /dev/null, which keeps the
	// interpreter's own save/restore away from the filesystem.
	RestrictDir string
	// Transport defaults to TransportPipe.
	Transport Transport
	// Env is appended to the current environment.
	Env []string
}

// Args returns the command-line arguments for the interpreter.
func (inv Invocation) Args() []string {
	args := []string{"-m", "-Z0"}
	if inv.Width > 0 {
		args = append(args, fmt.Sprintf("-w%d", inv.Width))
	}
	restrict := inv.RestrictDir
	if restrict == "" {
		restrict = os.DevNull
	}
	args = append(args, "-R", restrict)
	return append(args, inv.StoryFile)
}

// ResolvePath returns the interpreter path, checking the FROTZCHAT_INTERPRETER
// environment variable before falling back to configured and default values.
func ResolvePath(configured string) string {
	if bin := os.Getenv("FROTZCHAT_INTERPRETER"); bin != "" {
		return bin
	}
	if configured != "" {
		return configured
	}
	return DefaultPath
}
