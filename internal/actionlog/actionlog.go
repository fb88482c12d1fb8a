// Package actionlog persists the commands a player has issued so a session
// can be rebuilt by replaying them into a fresh interpreter.
//
// The file is plain text, one command per line, in issuance order. Entries
// are only ever appended; Reset removes the whole file.
package actionlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidEntry is returned when a command cannot be stored as one line.
var ErrInvalidEntry = errors.New("action log entries must be a single non-empty line")

// Log is the action log stored at a single save-file path.
// It uses open-write-sync-close semantics: the file is only held open for the
// duration of each append.
type Log struct {
	path string
}

// Open returns the log stored at path. The file is not created until Create
// or the first Append.
func Open(path string) *Log {
	return &Log{path: path}
}

// Path returns the save-file path.
func (l *Log) Path() string {
	return l.path
}

// Exists reports whether the save file exists.
func (l *Log) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Append writes command as a newline-terminated entry and syncs it to disk
// before returning.
func (l *Log) Append(command string) error {
	if command == "" || strings.ContainsAny(command, "\r\n") {
		return ErrInvalidEntry
	}

	f, err := l.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(command + "\n"); err != nil {
		return fmt.Errorf("writing action log entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing action log: %w", err)
	}
	return nil
}

// Create makes an empty save file unless one already exists, so a game that
// was started but never played can still be resumed.
func (l *Log) Create() error {
	f, err := l.open()
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func (l *Log) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating save dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening action log %q: %w", l.path, err)
	}
	return f, nil
}

// Entries returns every recorded command in order. A missing file yields no
// entries.
func (l *Log) Entries() ([]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening action log %q: %w", l.path, err)
	}
	defer f.Close()

	return ReadEntries(f)
}

// ReadEntries parses an action log stream. Blank lines are skipped; a final
// line without a newline (a torn append) is ignored.
func ReadEntries(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)

	var entries []string
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading action log: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}
}

// Replay feeds every recorded command, in order, to submit. It returns the
// number of commands submitted. A missing log replays nothing.
func (l *Log) Replay(submit func(command string) error) (int, error) {
	entries, err := l.Entries()
	if err != nil {
		return 0, err
	}

	for i, cmd := range entries {
		if err := submit(cmd); err != nil {
			return i, fmt.Errorf("replaying entry %d (%q): %w", i+1, cmd, err)
		}
	}
	return len(entries), nil
}

// Reset deletes the save file. Deleting a missing log is not an error.
func (l *Log) Reset() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing action log %q: %w", l.path, err)
	}
	return nil
}
