// Package reformat turns raw fixed-width interpreter output into flowing
// paragraphs for a chat bubble.
package reformat

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding names the byte encoding of interpreter output.
type Encoding string

const (
	// EncodingUTF8 decodes UTF-8, replacing invalid sequences with U+FFFD.
	EncodingUTF8 Encoding = "utf-8"
	// EncodingLatin1 decodes ISO-8859-1, as emitted by interpreters built
	// without UTF-8 output.
	EncodingLatin1 Encoding = "latin1"
)

// DefaultWidth is used when no screen width is configured.
const DefaultWidth = 80

// DefaultHeaderLines is the number of interpreter banner lines preceding the
// story's own text.
const DefaultHeaderLines = 2

// DefaultChunkNotices are one-line notices printed when a story is loaded from
// a Blorb container.
var DefaultChunkNotices = []string{"found zcode chunk in blorb file."}

// Formatter holds the reformatting parameters. Its methods are pure: the same
// input always yields the same output.
type Formatter struct {
	// Width is the maximum line length in runes; zero disables width wrapping.
	Width int
	// Prompt is the interpreter's input prompt, removed from the end of output.
	Prompt string
	// HeaderLines is the number of leading lines Banner drops.
	HeaderLines int
	// ChunkNotices are optional lines (compared case-insensitively) dropped
	// after the header.
	ChunkNotices []string
	// Encoding of the raw bytes.
	Encoding Encoding
}

// New returns a Formatter with the default banner handling and prompt.
func New(width int) Formatter {
	return Formatter{
		Width:        width,
		Prompt:       ">",
		HeaderLines:  DefaultHeaderLines,
		ChunkNotices: DefaultChunkNotices,
		Encoding:     EncodingUTF8,
	}
}

// Decode converts raw interpreter bytes to text. Undecodable bytes never fail
// the conversion.
func (f Formatter) Decode(b []byte) string {
	if f.Encoding == EncodingLatin1 {
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
		if err == nil {
			return string(out)
		}
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// Banner formats the boot output: the interpreter's header lines and an
// optional chunk notice are dropped before the text is reformatted.
func (f Formatter) Banner(raw string) string {
	lines := strings.Split(normalizeNewlines(raw), "\n")
	if f.HeaderLines >= len(lines) {
		return ""
	}
	lines = lines[max(f.HeaderLines, 0):]

	if len(lines) > 0 {
		first := strings.ToLower(strings.TrimSpace(lines[0]))
		for _, notice := range f.ChunkNotices {
			if first == strings.ToLower(strings.TrimSpace(notice)) {
				lines = lines[1:]
				break
			}
		}
	}
	return f.Response(strings.Join(lines, "\n"))
}

// Response formats the output of a single command.
func (f Formatter) Response(raw string) string {
	text := f.trimPrompt(normalizeNewlines(raw))

	var paragraphs []string
	var para []string
	flush := func() {
		if len(para) > 0 {
			paragraphs = append(paragraphs, f.wrap(para))
			para = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			flush()
			continue
		}
		para = append(para, strings.Join(fields, " "))
	}
	flush()

	return strings.Join(paragraphs, "\n\n")
}

// wrap joins the hard-wrapped lines of one paragraph. Words are packed
// greedily up to Width; a source line that ends a sentence always ends an
// output line.
func (f Formatter) wrap(lines []string) string {
	var out []string
	var cur strings.Builder
	curLen := 0

	emit := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range lines {
		for _, word := range strings.Split(line, " ") {
			n := utf8.RuneCountInString(word)
			if curLen > 0 && f.Width > 0 && curLen+1+n > f.Width {
				emit()
			}
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(word)
			curLen += n
		}
		if endsSentence(line) {
			emit()
		}
	}
	emit()

	return strings.Join(out, "\n")
}

func (f Formatter) trimPrompt(text string) string {
	trimmed := strings.TrimRight(text, " \t\n")
	if f.Prompt != "" && strings.HasSuffix(trimmed, f.Prompt) {
		return trimmed[:len(trimmed)-len(f.Prompt)]
	}
	return trimmed
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

// endsSentence reports whether line ends with terminal punctuation, possibly
// followed by closing quotes or brackets.
func endsSentence(line string) bool {
	line = strings.TrimRight(line, "\"'’”)]")
	if line == "" {
		return false
	}
	switch line[len(line)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
