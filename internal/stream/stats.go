package stream

import "time"

// Stats tracks an empirical frame rate. Frames are counted per window and
// the rate is the count of the window that just closed, so a late rollover
// does not dilute it.
type Stats struct {
	frames      int
	windowStart time.Time
	fps         float64
	total       uint64
}

// Reset clears the counters and opens a new window at now.
func (s *Stats) Reset(now time.Time) {
	*s = Stats{windowStart: now}
}

// Observe records one published frame at now.
func (s *Stats) Observe(now time.Time) {
	if elapsed := now.Sub(s.windowStart); elapsed >= time.Second {
		s.fps = float64(s.frames)
		s.frames = 0
		s.windowStart = now
	}
	s.frames++
	s.total++
}

// Snapshot is a read-only copy of the scheduler's counters.
type Snapshot struct {
	Running bool    `json:"running"`
	FPS     float64 `json:"fps"`
	Frames  uint64  `json:"frames"`
	Skipped uint64  `json:"skipped"`
	Errors  uint64  `json:"errors"`
}
