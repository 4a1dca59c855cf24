package microscope

import (
	"strings"
	"sync"
	"time"
)

// LogBook keeps the most recent log lines for the log panel.
type LogBook struct {
	mu    sync.Mutex
	lines []string
	limit int
	now   func() time.Time
	subs  map[chan string]struct{}
}

// NewLogBook creates a log book holding at most limit lines.
func NewLogBook(limit int) *LogBook {
	if limit <= 0 {
		limit = 100
	}
	return &LogBook{limit: limit, now: time.Now, subs: make(map[chan string]struct{})}
}

// Add appends a timestamped line, dropping the oldest past the limit.
func (b *LogBook) Add(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := "[" + b.now().Format("15:04:05") + "] " + msg
	b.lines = append(b.lines, line)
	if len(b.lines) > b.limit {
		b.lines = b.lines[len(b.lines)-b.limit:]
	}
	for ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Lines returns a copy of the stored lines, oldest first.
func (b *LogBook) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// String joins the lines for saving.
func (b *LogBook) String() string {
	lines := b.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Subscribe returns a channel receiving new lines and a cancel func.
// Slow subscribers miss lines rather than block Add.
func (b *LogBook) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}
