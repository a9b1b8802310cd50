package adapter

import (
	"sync"
	"time"
)

// logBufferCapacity is the number of console lines retained per server.
const logBufferCapacity = 1000

// LogLine is a single timestamped console line.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// logBuffer is a bounded ring of console lines. When full, appending
// evicts the oldest line.
type logBuffer struct {
	mu    sync.Mutex
	lines []LogLine
	start int
	count int
}

func newLogBuffer() *logBuffer {
	return &logBuffer{lines: make([]LogLine, logBufferCapacity)}
}

// Append adds a line, evicting the oldest when the ring is full.
func (b *logBuffer) Append(line LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < logBufferCapacity {
		b.lines[(b.start+b.count)%logBufferCapacity] = line
		b.count++
		return
	}

	b.lines[b.start] = line
	b.start = (b.start + 1) % logBufferCapacity
}

// Snapshot returns a copy of the buffered lines, oldest first.
func (b *logBuffer) Snapshot() []LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]LogLine, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.lines[(b.start+i)%logBufferCapacity]
	}
	return out
}

// Len returns the number of buffered lines.
func (b *logBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
