package interp

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"syscall"
)

// ErrBrokenPipe is returned by Write once the interpreter has exited.
var ErrBrokenPipe = errors.New("interpreter input closed")

// SpawnErrorKind categorizes interpreter start failures.
type SpawnErrorKind string

const (
	SpawnErrorKindMissingBinary SpawnErrorKind = "missing_binary"
	SpawnErrorKindNotExecutable SpawnErrorKind = "not_executable"
	SpawnErrorKindProcessFailed SpawnErrorKind = "process_failure"
)

// SpawnError describes a failure to start the interpreter with remediation guidance.
type SpawnError struct {
	Path        string
	Kind        SpawnErrorKind
	Remediation string
	Cause       error
}

func (e *SpawnError) Error() string {
	var detail string
	switch e.Kind {
	case SpawnErrorKindMissingBinary:
		detail = fmt.Sprintf("interpreter binary %q was not found", e.Path)
	case SpawnErrorKindNotExecutable:
		detail = fmt.Sprintf("interpreter binary %q is not executable", e.Path)
	default:
		detail = "interpreter failed to start"
	}

	msg := fmt.Sprintf("spawn failed (%s): %s", e.Kind, detail)
	if e.Remediation != "" {
		msg += "; remediation: " + e.Remediation
	}
	if e.Cause != nil && e.Kind == SpawnErrorKindProcessFailed {
		msg += "; cause: " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying start error.
func (e *SpawnError) Unwrap() error {
	return e.Cause
}

func newSpawnError(path string, err error) *SpawnError {
	e := &SpawnError{
		Path:  path,
		Cause: err,
	}

	switch {
	case isMissingBinaryError(err):
		e.Kind = SpawnErrorKindMissingBinary
		e.Remediation = "Build dfrotz and set `interpreter.path` in `.frotzchat/config.yaml` (or FROTZCHAT_INTERPRETER)."
	case isPermissionError(err):
		e.Kind = SpawnErrorKindNotExecutable
		e.Remediation = "Make the interpreter executable (chmod +x) or point `interpreter.path` at a working build."
	default:
		e.Kind = SpawnErrorKindProcessFailed
		e.Remediation = "Check the interpreter installation and rerun after resolving the underlying process error."
	}
	return e
}

// AsSpawnError reports whether err is a *SpawnError and returns it.
func AsSpawnError(err error) (*SpawnError, bool) {
	var spawnErr *SpawnError
	if errors.As(err, &spawnErr) {
		return spawnErr, true
	}
	return nil, false
}

func isMissingBinaryError(err error) bool {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return true
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "executable file not found") ||
		strings.Contains(lower, "no such file or directory")
}

func isPermissionError(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EACCES)
}

// compactStderr squeezes interpreter stderr into a single loggable line.
func compactStderr(stderr string) string {
	text := strings.TrimSpace(stderr)
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}

	const maxLines = 4
	truncated := false
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		truncated = true
	}

	joined := strings.Join(lines, " | ")
	const maxLen = 320
	if len(joined) > maxLen {
		joined = joined[:maxLen-3] + "..."
		truncated = true
	}

	if truncated {
		return joined + " | ..."
	}
	return joined
}
