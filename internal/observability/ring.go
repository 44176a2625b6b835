package observability

import (
	"bytes"
	"sync"
)

// RingWriter retains the most recent log lines in memory so the server can
// hand them back over the logs_tail tool without touching files. Writes are
// line-oriented; a partial line is buffered until its newline arrives.
type RingWriter struct {
	mu      sync.Mutex
	lines   []string
	next    int
	full    bool
	partial bytes.Buffer
}

// NewRingWriter creates a ring holding up to capacity lines.
func NewRingWriter(capacity int) *RingWriter {
	if capacity <= 0 {
		capacity = 256
	}
	return &RingWriter{lines: make([]string, capacity)}
}

// Write implements io.Writer. It never returns an error.
func (w *RingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial.Write(p)
	for {
		raw := w.partial.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		w.push(string(raw[:idx]))
		w.partial.Next(idx + 1)
	}
	return len(p), nil
}

func (w *RingWriter) push(line string) {
	w.lines[w.next] = line
	w.next++
	if w.next == len(w.lines) {
		w.next = 0
		w.full = true
	}
}

// Tail returns up to n most recent lines, oldest first.
func (w *RingWriter) Tail(n int) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	size := w.next
	if w.full {
		size = len(w.lines)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]string, 0, n)
	start := w.next - n
	if start < 0 {
		start += len(w.lines)
	}
	for i := 0; i < n; i++ {
		out = append(out, w.lines[(start+i)%len(w.lines)])
	}
	return out
}

// Len reports how many lines the ring currently holds.
func (w *RingWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.lines)
	}
	return w.next
}
