// Package interp owns the external interactive-fiction interpreter process:
// spawning it, writing player input, reading raw output with a bounded wait,
// and killing it.
package interp

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/creack/pty"
)

const (
	// readBufSize is the size of a single read from the interpreter output.
	readBufSize = 4096

	// chunkBacklog bounds how many unread output chunks are queued.
	chunkBacklog = 64

	// stderrLimit bounds how much interpreter stderr is retained.
	stderrLimit = 8 * 1024

	// ptyRows is large enough that the interpreter never paginates on its own.
	ptyRows = 255
)

// Process is a running interpreter. It is the sole owner of the OS process
// and its pipes; Kill is the only way to release them.
type Process struct {
	inv Invocation
	cmd *exec.Cmd

	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *tailBuffer
	writeMu sync.Mutex

	chunks   chan []byte
	exited   chan struct{} // closed when the process has been reaped
	killed   chan struct{} // closed by Kill
	killOnce sync.Once
	exitErr  error
}

// Spawn starts the interpreter described by inv. A missing or unexecutable
// binary yields a *SpawnError.
func Spawn(inv Invocation) (*Process, error) {
	if inv.Path == "" {
		inv.Path = DefaultPath
	}
	if inv.Transport == "" {
		inv.Transport = TransportPipe
	}

	cmd := exec.Command(inv.Path, inv.Args()...)
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.WaitDelay = time.Second

	p := &Process{
		inv:    inv,
		cmd:    cmd,
		stderr: &tailBuffer{limit: stderrLimit},
		chunks: make(chan []byte, chunkBacklog),
		exited: make(chan struct{}),
		killed: make(chan struct{}),
	}

	var err error
	switch inv.Transport {
	case TransportPTY:
		err = p.startPTY()
	case TransportPipe:
		err = p.startPipe()
	default:
		return nil, fmt.Errorf("unknown interpreter transport %q", inv.Transport)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[debug] interp: started %s %s (pid=%d, transport=%s)",
		inv.Path, strings.Join(inv.Args(), " "), cmd.Process.Pid, inv.Transport)

	go p.readLoop()
	go p.wait()

	return p, nil
}

func (p *Process) startPipe() error {
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	p.cmd.Stdout = outW
	p.cmd.Stderr = p.stderr

	if err := p.cmd.Start(); err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		return newSpawnError(p.inv.Path, err)
	}
	// The child holds its own copy; ours must go so EOF arrives on exit.
	outW.Close()

	p.stdin = stdin
	p.stdout = outR
	return nil
}

func (p *Process) startPTY() error {
	ptm, pts, err := pty.Open()
	if err != nil {
		return fmt.Errorf("failed to open PTY: %w", err)
	}

	// Raw mode: no echo of what we write, no CRLF translation of output.
	if _, err := term.MakeRaw(pts.Fd()); err != nil {
		ptm.Close()
		pts.Close()
		return fmt.Errorf("failed to set PTY raw mode: %w", err)
	}
	if p.inv.Width > 0 {
		if err := pty.Setsize(pts, &pty.Winsize{Cols: uint16(p.inv.Width), Rows: ptyRows}); err != nil {
			log.Printf("[debug] interp: could not size PTY: %v", err)
		}
	}

	p.cmd.Stdin = pts
	p.cmd.Stdout = pts
	p.cmd.Stderr = pts

	if err := p.cmd.Start(); err != nil {
		ptm.Close()
		pts.Close()
		return newSpawnError(p.inv.Path, err)
	}
	// Close the slave in the parent after the child has inherited it.
	pts.Close()

	p.stdin = ptm
	p.stdout = ptm
	return nil
}

// readLoop forwards interpreter output to the chunk queue until the output
// closes. A PTY master reports EIO once the child is gone; any read error is
// treated as end of output.
func (p *Process) readLoop() {
	defer close(p.chunks)

	buf := make([]byte, readBufSize)
	for {
		n, err := p.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case p.chunks <- chunk:
			case <-p.killed:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.exitErr = err
	if err != nil {
		log.Printf("[debug] interp: pid=%d exited with error: %v", p.cmd.Process.Pid, err)
	} else {
		log.Printf("[debug] interp: pid=%d exited normally", p.cmd.Process.Pid)
	}
	if stderr := compactStderr(p.stderr.String()); stderr != "" {
		log.Printf("[debug] interp: pid=%d stderr: %s", p.cmd.Process.Pid, stderr)
	}
	close(p.exited)
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Write sends raw bytes to the interpreter input. After the process has
// exited it fails with ErrBrokenPipe and writes nothing.
func (p *Process) Write(b []byte) error {
	if !p.IsAlive() {
		return ErrBrokenPipe
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.stdin.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokenPipe, err)
	}
	return nil
}

// ReadAvailable returns the output that arrives within maxWait. It returns as
// soon as some output is available, together with anything else already
// queued, and returns an empty slice when the deadline passes in silence.
// io.EOF is returned once the output stream is closed and fully drained.
func (p *Process) ReadAvailable(maxWait time.Duration) ([]byte, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	var out []byte
	select {
	case chunk, ok := <-p.chunks:
		if !ok {
			return nil, io.EOF
		}
		out = chunk
	case <-timer.C:
		return nil, nil
	case <-p.killed:
		return nil, io.EOF
	}

	for {
		select {
		case chunk, ok := <-p.chunks:
			if !ok {
				return out, nil
			}
			out = append(out, chunk...)
		default:
			return out, nil
		}
	}
}

// IsAlive reports whether the process is still running. Once false it stays
// false.
func (p *Process) IsAlive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// WaitExit waits up to d for the process to exit and reports whether it did.
func (p *Process) WaitExit(d time.Duration) bool {
	select {
	case <-p.exited:
		return true
	case <-time.After(d):
		return false
	}
}

// ExitErr returns the error from reaping the process, if it has exited.
func (p *Process) ExitErr() error {
	select {
	case <-p.exited:
		return p.exitErr
	default:
		return nil
	}
}

// Stderr returns the retained tail of interpreter stderr (pipe transport only).
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// Kill terminates the process unconditionally and releases its pipes. It is
// safe to call more than once and on a process that already exited.
func (p *Process) Kill() {
	p.killOnce.Do(func() {
		close(p.killed)
		if err := p.cmd.Process.Kill(); err != nil && p.IsAlive() {
			log.Printf("[debug] interp: kill pid=%d: %v", p.cmd.Process.Pid, err)
		}
		<-p.exited

		p.writeMu.Lock()
		p.stdin.Close()
		p.writeMu.Unlock()
		if p.stdout != p.stdin {
			p.stdout.Close()
		}
	})
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf.Write(b)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
