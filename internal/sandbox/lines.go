package sandbox

import (
	"bytes"
	"strings"
	"sync"
)

// maxLineLen caps a single forwarded log line. Longer output is split.
const maxLineLen = 64 * 1024

// lineWriter splits a byte stream into lines, forwards each to emit and keeps
// the last limit bytes of complete lines as a trace.
type lineWriter struct {
	emit  func(string)
	limit int

	mu   sync.Mutex
	buf  []byte
	tail []string
	size int
	last string
}

func newLineWriter(emit func(string), limit int) *lineWriter {
	return &lineWriter{emit: emit, limit: limit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.line(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= maxLineLen {
		w.line(string(w.buf[:maxLineLen]))
		w.buf = w.buf[maxLineLen:]
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.line(string(w.buf))
		w.buf = nil
	}
}

// line records one line. Callers hold mu.
func (w *lineWriter) line(s string) {
	if w.emit != nil {
		w.emit(s)
	}
	if strings.TrimSpace(s) != "" {
		w.last = s
	}
	if w.limit <= 0 {
		return
	}
	w.tail = append(w.tail, s)
	w.size += len(s) + 1
	for w.size > w.limit && len(w.tail) > 1 {
		w.size -= len(w.tail[0]) + 1
		w.tail = w.tail[1:]
	}
}

// Trace returns the retained lines joined by newlines.
func (w *lineWriter) Trace() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.tail, "\n")
}

// Last returns the most recent non-blank line.
func (w *lineWriter) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
