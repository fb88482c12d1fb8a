// Package demux turns the interpreter's unframed output stream into discrete
// responses. The interpreter has no end-of-message byte: a response is complete
// when the stream has been silent for an idle window, unless the buffer ends in
// a pagination marker, in which case the marker is acknowledged and reading
// continues.
package demux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"time"
)

// DefaultIdleTimeout is the silence after which a response is considered complete.
const DefaultIdleTimeout = time.Second

// DefaultAck is the keystroke sent to acknowledge a pagination marker.
var DefaultAck = []byte("\n")

// Stream is the subset of the interpreter process the demultiplexer drives.
type Stream interface {
	ReadAvailable(maxWait time.Duration) ([]byte, error)
	Write(b []byte) error
	IsAlive() bool
}

// Marker recognizes a "press a key to continue" prompt at the end of buffered
// output. Match returns the offset at which the marker starts.
type Marker interface {
	Match(buf []byte) (start int, ok bool)
}

// Literal is a marker matched as a literal substring at the end of the
// buffer, ignoring trailing whitespace.
type Literal string

// Match implements Marker.
func (l Literal) Match(buf []byte) (int, bool) {
	if l == "" {
		return 0, false
	}
	trimmed := bytes.TrimRight(buf, " \t\r\n")
	if !bytes.HasSuffix(trimmed, []byte(l)) {
		return 0, false
	}
	return len(trimmed) - len(l), true
}

// Pattern is a marker matched by a regular expression. The expression should
// be anchored at the end of input (`$` or `\z`); the last match wins.
type Pattern struct {
	re *regexp.Regexp
}

// NewPattern compiles expr into a Pattern marker.
func NewPattern(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compiling pagination pattern %q: %w", expr, err)
	}
	return Pattern{re: re}, nil
}

// Match implements Marker.
func (p Pattern) Match(buf []byte) (int, bool) {
	if p.re == nil {
		return 0, false
	}
	locs := p.re.FindAllIndex(buf, -1)
	if len(locs) == 0 {
		return 0, false
	}
	loc := locs[len(locs)-1]
	if len(bytes.TrimSpace(buf[loc[1]:])) != 0 {
		return 0, false
	}
	return loc[0], true
}

// DefaultMarkers returns the markers used when none are configured.
func DefaultMarkers() []Marker {
	return []Marker{Literal("***MORE***"), Literal("[MORE]")}
}

// Response is the result of one read cycle.
type Response struct {
	// Raw is the accumulated output with pagination markers removed.
	Raw []byte
	// Pages is the number of acknowledgements sent while reading.
	Pages int
	// Closed is set when the output stream ended (the interpreter is exiting).
	Closed bool
}

// Reader reads one response at a time from a Stream.
type Reader struct {
	stream  Stream
	idle    time.Duration
	markers []Marker
	ack     []byte
}

// Option configures a Reader.
type Option func(*Reader)

// WithIdleTimeout sets the silence window that ends a response.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.idle = d
		}
	}
}

// WithMarkers replaces the pagination markers.
func WithMarkers(markers ...Marker) Option {
	return func(r *Reader) {
		r.markers = markers
	}
}

// WithAck sets the acknowledgement keystroke.
func WithAck(ack []byte) Option {
	return func(r *Reader) {
		if len(ack) > 0 {
			r.ack = ack
		}
	}
}

// NewReader creates a Reader over stream.
func NewReader(stream Stream, opts ...Option) *Reader {
	r := &Reader{
		stream:  stream,
		idle:    DefaultIdleTimeout,
		markers: DefaultMarkers(),
		ack:     DefaultAck,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// IdleTimeout returns the configured idle window.
func (r *Reader) IdleTimeout() time.Duration {
	return r.idle
}

// ReadResponse reads until the interpreter goes idle without a pending
// pagination marker, or until the output ends. Every wait is bounded by the
// idle window. An error is returned only when acknowledging a marker fails
// for a reason other than the interpreter having gone away.
func (r *Reader) ReadResponse() (Response, error) {
	var resp Response
	var buf []byte

	for {
		chunk, err := r.stream.ReadAvailable(r.idle)
		if len(chunk) > 0 {
			buf = append(buf, chunk...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return resp, fmt.Errorf("reading interpreter output: %w", err)
			}
			r.stripMarker(&buf)
			resp.Raw = buf
			resp.Closed = true
			if len(buf) == 0 {
				log.Printf("[debug] demux: unexpected end of output")
			}
			return resp, nil
		}
		if len(chunk) > 0 {
			continue
		}

		// Silence for a whole idle window.
		if len(buf) == 0 && !r.stream.IsAlive() {
			log.Printf("[debug] demux: interpreter gone before producing output")
			resp.Closed = true
			return resp, nil
		}
		if !r.stripMarker(&buf) {
			resp.Raw = buf
			return resp, nil
		}

		log.Printf("[debug] demux: pagination marker after %d bytes, acknowledging", len(buf))
		if err := r.stream.Write(r.ack); err != nil {
			resp.Raw = buf
			resp.Closed = !r.stream.IsAlive()
			if resp.Closed {
				return resp, nil
			}
			return resp, fmt.Errorf("acknowledging pagination: %w", err)
		}
		resp.Pages++
	}
}

// stripMarker removes a trailing pagination marker from buf and reports
// whether one was found.
func (r *Reader) stripMarker(buf *[]byte) bool {
	for _, m := range r.markers {
		if start, ok := m.Match(*buf); ok {
			*buf = (*buf)[:start]
			return true
		}
	}
	return false
}
