package solver

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// TailLines is how many trailing output lines an ExecutionError carries.
const TailLines = 20

// maxLineBytes caps a single line so a solver that never emits a newline
// cannot grow memory without bound.
const maxLineBytes = 64 * 1024

var progressPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*%`)

// parseProgress extracts the last percentage in line, or -1.
func parseProgress(line string) int {
	m := progressPattern.FindAllStringSubmatch(line, -1)
	if len(m) == 0 {
		return -1
	}
	f, err := strconv.ParseFloat(m[len(m)-1][1], 64)
	if err != nil || f > 100 {
		return -1
	}
	return int(f)
}

// collector receives both solver streams, splits them into lines and keeps
// the last TailLines of them. Writes from the two streams are serialised.
type collector struct {
	mu       sync.Mutex
	onOutput func(core.OutputLine)
	tail     []string
	next     int
	full     bool
}

func newCollector(onOutput func(core.OutputLine)) *collector {
	return &collector{onOutput: onOutput, tail: make([]string, TailLines)}
}

func (c *collector) emit(stream core.Stream, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tail[c.next] = text
	c.next = (c.next + 1) % len(c.tail)
	if c.next == 0 {
		c.full = true
	}

	if c.onOutput == nil {
		return
	}
	line := core.OutputLine{Stream: stream, Text: text, Progress: -1}
	if stream == core.Stdout {
		line.Progress = parseProgress(text)
	}
	c.onOutput(line)
}

// Tail returns the collected trailing lines, oldest first.
func (c *collector) Tail() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.full {
		return append([]string(nil), c.tail[:c.next]...)
	}
	out := make([]string, 0, len(c.tail))
	out = append(out, c.tail[c.next:]...)
	return append(out, c.tail[:c.next]...)
}

// lineWriter is an io.Writer that forwards complete CR or LF terminated
// lines to a collector.
type lineWriter struct {
	stream core.Stream
	c      *collector
	buf    strings.Builder
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		switch b {
		case '\n', '\r':
			w.flushLine()
		default:
			if w.buf.Len() >= maxLineBytes {
				w.flushLine()
			}
			w.buf.WriteByte(b)
		}
	}
	return len(p), nil
}

// flushLine emits the buffered text. Empty lines, including the gap of a
// CRLF pair, are dropped.
func (w *lineWriter) flushLine() {
	if w.buf.Len() == 0 {
		return
	}
	text := w.buf.String()
	w.buf.Reset()
	if strings.TrimSpace(text) == "" {
		return
	}
	w.c.emit(w.stream, text)
}

// Close flushes a final unterminated line.
func (w *lineWriter) Close() error {
	w.flushLine()
	return nil
}
